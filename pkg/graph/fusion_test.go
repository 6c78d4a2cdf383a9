package graph

import (
	"testing"

	"github.com/volgapavel/parsAZ/pkg/common"
)

func relCand(src, dst string, typ common.RelationType, conf float64, method, sentence string) common.RelationCandidate {
	return common.RelationCandidate{
		SourceKey:        src,
		TargetKey:        dst,
		Type:             typ,
		Confidence:       conf,
		EvidenceSentence: sentence,
		Methods:          []string{method},
	}
}

func TestFuseMergesAgreeingMethods(t *testing.T) {
	f := NewFusion(DefaultParams())
	out, stats := f.Fuse([]common.RelationCandidate{
		relCand("a", "b", common.RelationMetWith, 0.8, "pattern", "first sentence"),
		relCand("a", "b", common.RelationMetWith, 0.6, "cooccurrence", "second sentence"),
	})
	if len(out) != 1 {
		t.Fatalf("expected 1 fused candidate, got %d", len(out))
	}
	fused := out[0]
	// mean 0.7 boosted by one agreeing extra method
	want := 0.7 * 1.1
	if diff := fused.Confidence - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("fused confidence = %v, want %v", fused.Confidence, want)
	}
	if fused.EvidenceSentence != "first sentence" {
		t.Errorf("evidence must come from the highest-confidence candidate, got %q", fused.EvidenceSentence)
	}
	if len(fused.Methods) != 2 {
		t.Errorf("method attribution must keep both methods, got %v", fused.Methods)
	}
	if stats.Fused != 1 {
		t.Errorf("stats.Fused = %d, want 1", stats.Fused)
	}
}

func TestFuseSymmetricOrderIndependent(t *testing.T) {
	f := NewFusion(DefaultParams())
	out, _ := f.Fuse([]common.RelationCandidate{
		relCand("b", "a", common.RelationMetWith, 0.8, "pattern", "s1"),
		relCand("a", "b", common.RelationMetWith, 0.8, "syntax", "s2"),
	})
	if len(out) != 1 {
		t.Fatalf("symmetric candidates in both orders must fuse, got %d", len(out))
	}
	if out[0].SourceKey != "a" || out[0].TargetKey != "b" {
		t.Errorf("symmetric pair must be key-ordered, got %q -> %q", out[0].SourceKey, out[0].TargetKey)
	}
}

func TestFuseDirectedKeepsDirection(t *testing.T) {
	f := NewFusion(DefaultParams())
	out, _ := f.Fuse([]common.RelationCandidate{
		relCand("b", "a", common.RelationWorksFor, 0.9, "pattern", "s1"),
		relCand("a", "b", common.RelationWorksFor, 0.9, "pattern", "s2"),
	})
	if len(out) != 2 {
		t.Fatalf("directed candidates in opposite directions are distinct edges, got %d", len(out))
	}
}

func TestFuseDropsBelowThreshold(t *testing.T) {
	f := NewFusion(DefaultParams())
	out, stats := f.Fuse([]common.RelationCandidate{
		relCand("a", "b", common.RelationRelatedTo, 0.5, "cooccurrence", "s1"),
	})
	if len(out) != 0 {
		t.Fatalf("candidate below the acceptance threshold must be dropped, got %v", out)
	}
	if stats.BelowThreshold != 1 {
		t.Errorf("stats.BelowThreshold = %d, want 1", stats.BelowThreshold)
	}
}

func TestFuseCountsUnknownTypes(t *testing.T) {
	f := NewFusion(DefaultParams())
	out, stats := f.Fuse([]common.RelationCandidate{
		relCand("a", "b", common.RelationType("befriended"), 0.9, "pattern", "s1"),
		relCand("a", "b", common.RelationMetWith, 0.9, "pattern", "s2"),
	})
	if stats.UnknownType != 1 {
		t.Errorf("stats.UnknownType = %d, want 1", stats.UnknownType)
	}
	if len(out) != 1 {
		t.Errorf("known-typed candidate must survive, got %d", len(out))
	}
}

func TestFuseConfidenceCapped(t *testing.T) {
	params := DefaultParams()
	f := NewFusion(params)
	out, _ := f.Fuse([]common.RelationCandidate{
		relCand("a", "b", common.RelationMetWith, 1.0, "pattern", "s1"),
		relCand("a", "b", common.RelationMetWith, 1.0, "syntax", "s2"),
		relCand("a", "b", common.RelationMetWith, 1.0, "neural", "s3"),
	})
	if len(out) != 1 {
		t.Fatal("expected fusion into one candidate")
	}
	if out[0].Confidence > 1 {
		t.Errorf("confidence must be capped at 1, got %v", out[0].Confidence)
	}
}
