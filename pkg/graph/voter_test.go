package graph

import (
	"testing"

	"github.com/volgapavel/parsAZ/pkg/common"
)

func span(text string, typ common.EntityType, start int, conf float64, source string) common.Span {
	return common.Span{
		Text:       text,
		Type:       typ,
		Start:      start,
		End:        start + len(text),
		Confidence: conf,
		Source:     source,
	}
}

func TestVoteConsensusConfidenceBeatsSingleSource(t *testing.T) {
	v := NewVoter(DefaultParams())
	pool := []string{"gazetteer", "pattern", "neural"}

	agreed, _ := v.Vote([]common.Span{
		span("Baxışov", common.EntityPerson, 10, 0.9, "gazetteer"),
		span("Baxışov", common.EntityPerson, 10, 0.8, "pattern"),
	}, pool)
	if len(agreed) != 1 {
		t.Fatalf("expected 1 consensus entity, got %d", len(agreed))
	}

	for _, single := range []common.Span{
		span("Baxışov", common.EntityPerson, 10, 0.9, "gazetteer"),
		span("Baxışov", common.EntityPerson, 10, 0.8, "pattern"),
	} {
		alone, _ := v.Vote([]common.Span{single}, pool)
		if len(alone) != 1 {
			t.Fatalf("expected single-source span to survive the vote")
		}
		if agreed[0].Confidence <= alone[0].Confidence {
			t.Errorf("two-source confidence %v must exceed single-source confidence %v (source %s)",
				agreed[0].Confidence, alone[0].Confidence, single.Source)
		}
	}
}

func TestVoteGroupsOverlappingSpans(t *testing.T) {
	v := NewVoter(DefaultParams())
	pool := []string{"a", "b"}
	out, stats := v.Vote([]common.Span{
		span("İlqar Baxışov", common.EntityPerson, 0, 0.9, "a"),
		{Text: "Baxışov", Type: common.EntityPerson, Start: 8, End: 16, Confidence: 0.8, Source: "b"},
	}, pool)
	if len(out) != 1 {
		t.Fatalf("expected overlapping spans to fuse into 1 entity, got %d", len(out))
	}
	e := out[0]
	if e.Text != "İlqar Baxışov" {
		t.Errorf("expected the longer surface form, got %q", e.Text)
	}
	if e.Start != 0 || e.End != 16 {
		t.Errorf("expected union boundaries [0,16), got [%d,%d)", e.Start, e.End)
	}
	if len(e.Sources) != 2 {
		t.Errorf("expected both sources recorded, got %v", e.Sources)
	}
	if stats.Fused != 1 {
		t.Errorf("stats.Fused = %d, want 1", stats.Fused)
	}
}

func TestVoteTypeConflictResolvedByVote(t *testing.T) {
	v := NewVoter(DefaultParams())
	pool := []string{"a", "b", "c"}
	out, stats := v.Vote([]common.Span{
		span("Azərbaycan", common.EntityLocation, 0, 0.9, "a"),
		span("Azərbaycan", common.EntityLocation, 0, 0.8, "b"),
		span("Azərbaycan", common.EntityOrganization, 0, 0.9, "c"),
	}, pool)
	if len(out) != 1 {
		t.Fatalf("expected conflict to resolve to 1 entity, got %d", len(out))
	}
	if out[0].Type != common.EntityLocation {
		t.Errorf("expected majority type location, got %s", out[0].Type)
	}
	if stats.TypeConflicts != 1 {
		t.Errorf("expected 1 recorded type conflict, got %d", stats.TypeConflicts)
	}
}

func TestVoteDropsLowVoteMinority(t *testing.T) {
	v := NewVoter(DefaultParams())
	pool := []string{"a", "b", "c"}
	out, stats := v.Vote([]common.Span{
		span("Qeyri", common.EntityPerson, 0, 0.3, "a"),
	}, pool)
	if len(out) != 0 {
		t.Fatalf("expected low-vote minority span to be dropped, got %v", out)
	}
	if stats.BelowThreshold != 1 {
		t.Errorf("expected BelowThreshold = 1, got %d", stats.BelowThreshold)
	}
}

func TestVoteMajorityCountsDistinctSources(t *testing.T) {
	v := NewVoter(DefaultParams())
	pool := []string{"a", "b", "c"}

	// one extractor emitting the same mention twice is still a single voter
	out, stats := v.Vote([]common.Span{
		span("Qeyri Rəsmi", common.EntityPerson, 0, 0.3, "a"),
		span("Qeyri Rəsmi", common.EntityPerson, 0, 0.35, "a"),
	}, pool)
	if len(out) != 0 {
		t.Fatalf("duplicate spans from one source must not form a majority, got %v", out)
	}
	if stats.BelowThreshold != 1 {
		t.Errorf("expected BelowThreshold = 1, got %d", stats.BelowThreshold)
	}

	// the same low votes from two distinct sources are a 2-of-3 majority
	out, _ = v.Vote([]common.Span{
		span("Qeyri Rəsmi", common.EntityPerson, 0, 0.3, "a"),
		span("Qeyri Rəsmi", common.EntityPerson, 0, 0.35, "b"),
	}, pool)
	if len(out) != 1 {
		t.Fatalf("two agreeing sources of three must be accepted, got %v", out)
	}
}

func TestVoteDropsTooShortMentions(t *testing.T) {
	v := NewVoter(DefaultParams())
	out, stats := v.Vote([]common.Span{
		span("AB", common.EntityOrganization, 0, 0.95, "a"),
	}, []string{"a"})
	if len(out) != 0 {
		t.Fatalf("expected 2-rune mention to be dropped, got %v", out)
	}
	if stats.TooShort != 1 {
		t.Errorf("expected TooShort = 1, got %d", stats.TooShort)
	}
}

func TestVoteSourceWeights(t *testing.T) {
	params := DefaultParams()
	params.SourceWeights = map[string]float64{"trusted": 2}
	v := NewVoter(params)
	pool := []string{"trusted", "other"}
	out, _ := v.Vote([]common.Span{
		span("Bakı Şəhəri", common.EntityLocation, 0, 0.5, "trusted"),
	}, pool)
	if len(out) != 1 {
		t.Fatalf("expected weighted vote 1.0 to clear the threshold")
	}
	// vote 2*0.5 over total weight 3
	want := 1.0 / 3.0
	if diff := out[0].Confidence - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("confidence = %v, want %v", out[0].Confidence, want)
	}
}
