package graph

import (
	"context"
	"testing"
	"time"

	"github.com/volgapavel/parsAZ/pkg/common"
	"github.com/volgapavel/parsAZ/pkg/store/memory"
)

func seedSearchGraph(t *testing.T) *memory.Store {
	t.Helper()
	storage := memory.NewStore()
	ctx := context.Background()

	persons := []common.CanonicalEntity{
		{Key: "ceyhun bayramov", DisplayName: "Ceyhun Bayramov", Type: common.EntityPerson, MentionCount: 10},
		{Key: "elman bayramli", DisplayName: "Elman Bayramlı", Type: common.EntityPerson, MentionCount: 4},
		{Key: "hakan fidan", DisplayName: "Hakan Fidan", Type: common.EntityPerson, MentionCount: 8},
		{Key: "ilham əliyev", DisplayName: "İlham Əliyev", Type: common.EntityPerson, MentionCount: 50},
	}
	for _, p := range persons {
		if err := storage.SaveEntity(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	date := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	addEdge := func(src, dst string, articles ...string) {
		for _, id := range articles {
			rel := common.RelationCandidate{
				SourceKey: src, TargetKey: dst,
				Type: common.RelationMetWith, Confidence: 0.8,
				Methods: []string{"pattern"},
			}
			ev := common.Evidence{ArticleID: id, Sentence: "met " + id, Confidence: 0.8, Date: date}
			if err := storage.ApplyRelation(context.Background(), rel, ev, 3); err != nil {
				t.Fatal(err)
			}
		}
	}
	addEdge("ceyhun bayramov", "hakan fidan", "a1", "a2", "a3")
	addEdge("ceyhun bayramov", "ilham əliyev", "a1", "a2")
	addEdge("ceyhun bayramov", "elman bayramli", "a4")
	return storage
}

func TestFindPersonsShortFormQuery(t *testing.T) {
	s := NewSearcher(seedSearchGraph(t), DefaultParams())
	matches, err := s.FindPersons(context.Background(), "Bayramov", 5)
	if err != nil {
		t.Fatalf("FindPersons failed: %v", err)
	}
	if len(matches) == 0 {
		t.Fatal("expected matches for short-form surname query")
	}
	top := matches[0]
	if top.Key != "ceyhun bayramov" {
		t.Errorf("top match = %q, want ceyhun bayramov", top.Key)
	}
	if top.MatchScore < 0.7 {
		t.Errorf("match_score = %v, want >= 0.7", top.MatchScore)
	}
}

func TestFindPersonsExactBeatsFuzzy(t *testing.T) {
	s := NewSearcher(seedSearchGraph(t), DefaultParams())
	matches, err := s.FindPersons(context.Background(), "Ceyhun Bayramov", 5)
	if err != nil {
		t.Fatal(err)
	}
	if matches[0].Key != "ceyhun bayramov" || matches[0].MatchScore != 1.0 {
		t.Errorf("exact query must score 1.0 on top, got %+v", matches[0])
	}
}

func TestFindPersonsAliasHit(t *testing.T) {
	storage := memory.NewStore()
	ctx := context.Background()
	p := common.CanonicalEntity{
		Key:         "ceyhun bayramov",
		DisplayName: "Ceyhun Bayramov",
		Type:        common.EntityPerson,
		Aliases:     []string{"c bayramov"},
	}
	if err := storage.SaveEntity(ctx, p); err != nil {
		t.Fatal(err)
	}
	s := NewSearcher(storage, DefaultParams())
	matches, err := s.FindPersons(ctx, "C. Bayramov", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].MatchScore != 1.0 {
		t.Errorf("alias query must score 1.0, got %+v", matches)
	}
}

func TestFindPersonsLimitAndOrder(t *testing.T) {
	s := NewSearcher(seedSearchGraph(t), DefaultParams())
	matches, err := s.FindPersons(context.Background(), "Bayramov", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Errorf("limit must cap results, got %d", len(matches))
	}
}

func TestFindPersonsEmptyQuery(t *testing.T) {
	s := NewSearcher(seedSearchGraph(t), DefaultParams())
	if _, err := s.FindPersons(context.Background(), "  ...  ", 5); err == nil {
		t.Error("expected an error for a query that normalizes to nothing")
	}
}

func TestNeighborsFilterSortPaginate(t *testing.T) {
	s := NewSearcher(seedSearchGraph(t), DefaultParams())
	ctx := context.Background()

	res, err := s.Neighbors(ctx, "ceyhun bayramov", 0, 10)
	if err != nil {
		t.Fatalf("Neighbors failed: %v", err)
	}
	if res.Person.Key != "ceyhun bayramov" {
		t.Errorf("resolved person = %q", res.Person.Key)
	}
	// the single-article edge to elman bayramli is below min support
	if len(res.Neighbors) != 2 {
		t.Fatalf("expected 2 neighbors above min support, got %d: %+v", len(res.Neighbors), res.Neighbors)
	}
	for _, n := range res.Neighbors {
		if n.TargetKey == "elman bayramli" {
			t.Error("neighbor below min support must be hidden")
		}
		if n.SupportArticleCount < 2 {
			t.Errorf("neighbor %q support %d below min", n.TargetKey, n.SupportArticleCount)
		}
	}
	if res.Neighbors[0].Weight < res.Neighbors[1].Weight {
		t.Error("neighbors must be sorted by weight descending")
	}

	page, err := s.Neighbors(ctx, "ceyhun bayramov", 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Neighbors) != 1 {
		t.Errorf("offset pagination broken, got %d neighbors", len(page.Neighbors))
	}
	if page.Neighbors[0].TargetKey != res.Neighbors[1].TargetKey {
		t.Errorf("second page must continue the ranking")
	}
}

func TestNeighborsDampsOverexposedTargets(t *testing.T) {
	storage := seedSearchGraph(t)
	ctx := context.Background()

	// İlham Əliyev holds 50 of 72 mentions, far above the share cap
	params := DefaultParams()
	s := NewSearcher(storage, params)
	res, err := s.Neighbors(ctx, "ceyhun bayramov", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	var damped, plain *Neighbor
	for i := range res.Neighbors {
		switch res.Neighbors[i].TargetKey {
		case "ilham əliyev":
			damped = &res.Neighbors[i]
		case "hakan fidan":
			plain = &res.Neighbors[i]
		}
	}
	if damped == nil || plain == nil {
		t.Fatalf("expected both neighbors present: %+v", res.Neighbors)
	}
	edges, _ := storage.EdgesForEntity(ctx, "ilham əliyev")
	if len(edges) != 1 {
		t.Fatal("expected one edge for the damped target")
	}
	if damped.Weight >= edges[0].Weight {
		t.Errorf("over-exposed neighbor weight %v must be damped below raw %v", damped.Weight, edges[0].Weight)
	}
}

func TestNeighborsHidesStopListed(t *testing.T) {
	params := DefaultParams()
	params.StopNeighbors = []string{"İlham Əliyev"}
	s := NewSearcher(seedSearchGraph(t), params)
	res, err := s.Neighbors(context.Background(), "ceyhun bayramov", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range res.Neighbors {
		if n.TargetKey == "ilham əliyev" {
			t.Error("stop-listed neighbor must be hidden")
		}
	}
	if len(res.Neighbors) != 1 {
		t.Errorf("expected only the remaining neighbor, got %d", len(res.Neighbors))
	}
}

func TestNeighborsUnknownPerson(t *testing.T) {
	s := NewSearcher(seedSearchGraph(t), DefaultParams())
	if _, err := s.Neighbors(context.Background(), "nobody", 0, 10); err == nil {
		t.Error("expected an error for an unknown key")
	}
}
