package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/volgapavel/parsAZ/pkg/common"
	"github.com/volgapavel/parsAZ/pkg/store"
)

func person(key, name string) common.CanonicalEntity {
	return common.CanonicalEntity{
		Key:          key,
		DisplayName:  name,
		Type:         common.EntityPerson,
		MentionCount: 1,
	}
}

func metWith(src, dst, articleID, sentence string, conf float64, date time.Time) (common.RelationCandidate, common.Evidence) {
	rel := common.RelationCandidate{
		SourceKey:  src,
		TargetKey:  dst,
		Type:       common.RelationMetWith,
		Confidence: conf,
		Methods:    []string{"pattern"},
	}
	ev := common.Evidence{
		ArticleID:  articleID,
		Sentence:   sentence,
		Confidence: conf,
		Date:       date,
	}
	return rel, ev
}

func TestSaveAndFindEntity(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	e := person("ceyhun bayramov", "Ceyhun Bayramov")
	e.Aliases = []string{"c bayramov"}
	if err := s.SaveEntity(ctx, e); err != nil {
		t.Fatalf("SaveEntity failed: %v", err)
	}

	got, err := s.GetEntity(ctx, "ceyhun bayramov")
	if err != nil {
		t.Fatalf("GetEntity failed: %v", err)
	}
	if got.DisplayName != "Ceyhun Bayramov" {
		t.Errorf("unexpected display name %q", got.DisplayName)
	}

	byAlias, err := s.FindEntity(ctx, "c bayramov")
	if err != nil {
		t.Fatalf("FindEntity by alias failed: %v", err)
	}
	if byAlias.Key != "ceyhun bayramov" {
		t.Errorf("alias lookup resolved to %q", byAlias.Key)
	}

	if _, err := s.GetEntity(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestApplyRelationIdempotent(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	date := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	rel, ev := metWith("a", "b", "art1", "A met B.", 0.8, date)
	for i := 0; i < 3; i++ {
		if err := s.ApplyRelation(ctx, rel, ev, 3); err != nil {
			t.Fatalf("ApplyRelation failed: %v", err)
		}
	}

	edges, err := s.EdgesForEntity(ctx, "a")
	if err != nil {
		t.Fatalf("EdgesForEntity failed: %v", err)
	}
	if len(edges) != 1 {
		t.Fatalf("expected 1 edge, got %d", len(edges))
	}
	e := edges[0]
	if e.SupportArticleCount != 1 {
		t.Errorf("replayed article must not double-count: support = %d", e.SupportArticleCount)
	}
	if len(e.Evidence) != 1 {
		t.Errorf("replayed evidence must not duplicate: %d entries", len(e.Evidence))
	}
}

func TestApplyRelationSymmetricPairKey(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	date := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	relAB, evAB := metWith("ceyhun bayramov", "hakan fidan", "art1", "They met.", 0.8, date)
	relBA, evBA := metWith("hakan fidan", "ceyhun bayramov", "art2", "They met again.", 0.9, date.AddDate(0, 0, 1))
	if err := s.ApplyRelation(ctx, relAB, evAB, 3); err != nil {
		t.Fatalf("ApplyRelation failed: %v", err)
	}
	if err := s.ApplyRelation(ctx, relBA, evBA, 3); err != nil {
		t.Fatalf("ApplyRelation failed: %v", err)
	}

	edges, err := s.EdgesForEntity(ctx, "hakan fidan")
	if err != nil {
		t.Fatalf("EdgesForEntity failed: %v", err)
	}
	if len(edges) != 1 {
		t.Fatalf("symmetric relation must land on one edge, got %d", len(edges))
	}
	e := edges[0]
	if e.SupportArticleCount != 2 {
		t.Errorf("expected support from 2 articles, got %d", e.SupportArticleCount)
	}
	if len(e.Evidence) != 2 {
		t.Errorf("expected 2 evidence entries, got %d", len(e.Evidence))
	}
	if e.SourceKey != "ceyhun bayramov" || e.TargetKey != "hakan fidan" {
		t.Errorf("symmetric keys must be ordered: %q -> %q", e.SourceKey, e.TargetKey)
	}
}

func TestEvidenceCapEvictsLowestRanked(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		rel, ev := metWith("a", "b", articleID(i), "Sentence.", 0.8, base.AddDate(0, 0, i))
		ev.Sentence = ev.Sentence + articleID(i)
		if err := s.ApplyRelation(ctx, rel, ev, 3); err != nil {
			t.Fatalf("ApplyRelation failed: %v", err)
		}
	}

	edges, _ := s.EdgesForEntity(ctx, "a")
	e := edges[0]
	if e.SupportArticleCount != 5 {
		t.Errorf("support must count all articles, got %d", e.SupportArticleCount)
	}
	if len(e.Evidence) != 3 {
		t.Fatalf("evidence must be capped at 3, got %d", len(e.Evidence))
	}
	if e.Evidence[0].ArticleID != articleID(4) {
		t.Errorf("expected the most recent evidence first, got %q", e.Evidence[0].ArticleID)
	}
}

func articleID(i int) string {
	return string(rune('a'+i)) + "rt"
}

func TestSaveEntityRewiresEdgesOnMerge(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	date := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	if err := s.SaveEntity(ctx, person("bayramov", "Bayramov")); err != nil {
		t.Fatal(err)
	}
	rel, ev := metWith("bayramov", "hakan fidan", "art1", "They met.", 0.8, date)
	if err := s.ApplyRelation(ctx, rel, ev, 3); err != nil {
		t.Fatal(err)
	}

	merged := person("ceyhun bayramov", "Ceyhun Bayramov")
	merged.Aliases = []string{"bayramov"}
	merged.MentionCount = 2
	if err := s.SaveEntity(ctx, merged, "bayramov"); err != nil {
		t.Fatalf("SaveEntity with absorbed key failed: %v", err)
	}

	if _, err := s.GetEntity(ctx, "bayramov"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("absorbed key must no longer resolve directly, got %v", err)
	}
	found, err := s.FindEntity(ctx, "bayramov")
	if err != nil || found.Key != "ceyhun bayramov" {
		t.Errorf("absorbed key must resolve via alias, got %v / %v", found.Key, err)
	}

	edges, err := s.EdgesForEntity(ctx, "ceyhun bayramov")
	if err != nil {
		t.Fatal(err)
	}
	if len(edges) != 1 {
		t.Fatalf("expected the old edge rewired onto the new key, got %d edges", len(edges))
	}
	if edges[0].SourceKey != "ceyhun bayramov" {
		t.Errorf("edge source not rewired: %q", edges[0].SourceKey)
	}
	if old, _ := s.EdgesForEntity(ctx, "bayramov"); len(old) != 0 {
		t.Errorf("old key must have no edges left, got %d", len(old))
	}
}

func TestMarkEntityArticle(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	fresh, err := s.MarkEntityArticle(ctx, "ceyhun bayramov", "art1")
	if err != nil {
		t.Fatalf("MarkEntityArticle failed: %v", err)
	}
	if !fresh {
		t.Error("first pairing must report new")
	}
	for i := 0; i < 2; i++ {
		again, err := s.MarkEntityArticle(ctx, "ceyhun bayramov", "art1")
		if err != nil {
			t.Fatalf("MarkEntityArticle replay failed: %v", err)
		}
		if again {
			t.Error("replayed pairing must not report new")
		}
	}
	other, _ := s.MarkEntityArticle(ctx, "ceyhun bayramov", "art2")
	if !other {
		t.Error("a different article is a new pairing")
	}
	if noID, _ := s.MarkEntityArticle(ctx, "ceyhun bayramov", ""); noID {
		t.Error("empty article id must never count")
	}
}

func TestMarkEntityArticleFollowsMerge(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	if err := s.SaveEntity(ctx, person("bayramov", "Bayramov")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.MarkEntityArticle(ctx, "bayramov", "art1"); err != nil {
		t.Fatal(err)
	}

	merged := person("ceyhun bayramov", "Ceyhun Bayramov")
	merged.Aliases = []string{"bayramov"}
	if err := s.SaveEntity(ctx, merged, "bayramov"); err != nil {
		t.Fatalf("SaveEntity with absorbed key failed: %v", err)
	}

	// the absorbed key's article history moves with the merge
	if fresh, _ := s.MarkEntityArticle(ctx, "ceyhun bayramov", "art1"); fresh {
		t.Error("article seen under the absorbed key must not count again")
	}
	if fresh, _ := s.MarkEntityArticle(ctx, "ceyhun bayramov", "art2"); !fresh {
		t.Error("an unseen article must still count after the merge")
	}
}

func TestStatsAndSnapshot(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	p := person("ceyhun bayramov", "Ceyhun Bayramov")
	p.Risk = &common.EntityRisk{OverallScore: 0.4, Level: common.RiskLevelMedium}
	if err := s.SaveEntity(ctx, p); err != nil {
		t.Fatal(err)
	}
	org := common.CanonicalEntity{Key: "xin", DisplayName: "XİN", Type: common.EntityOrganization}
	if err := s.SaveEntity(ctx, org); err != nil {
		t.Fatal(err)
	}
	rel, ev := metWith("ceyhun bayramov", "hakan fidan", "art1", "Met.", 0.8, time.Now())
	if err := s.ApplyRelation(ctx, rel, ev, 3); err != nil {
		t.Fatal(err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalEntities != 2 || stats.TotalPersons != 1 || stats.TotalEdges != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.RiskLevelCounts[common.RiskLevelMedium] != 1 {
		t.Errorf("expected 1 MEDIUM entity, got %d", stats.RiskLevelCounts[common.RiskLevelMedium])
	}

	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Version != SnapshotVersion {
		t.Errorf("snapshot version = %d, want %d", snap.Version, SnapshotVersion)
	}
	if len(snap.Nodes) != 2 || len(snap.Edges) != 1 {
		t.Errorf("unexpected snapshot sizes: %d nodes, %d edges", len(snap.Nodes), len(snap.Edges))
	}

	// snapshot must be detached from the live store
	snap.Nodes[0].DisplayName = "mutated"
	fresh, _ := s.Snapshot(ctx)
	for _, n := range fresh.Nodes {
		if n.DisplayName == "mutated" {
			t.Error("snapshot mutation leaked into the store")
		}
	}
}
