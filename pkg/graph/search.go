package graph

import (
	"context"
	"fmt"
	"sort"

	"github.com/volgapavel/parsAZ/pkg/common"
	"github.com/volgapavel/parsAZ/pkg/store"
	"github.com/volgapavel/parsAZ/pkg/text"
)

// match score tiers for person search
const (
	exactMatchScore       = 1.0
	containmentMatchScore = 0.95
)

// PersonMatch is one ranked person search result.
type PersonMatch struct {
	Key         string  `json:"key"`
	DisplayName string  `json:"display_name"`
	MatchScore  float64 `json:"match_score"`
}

// Neighbor is one ranked connection of a person.
type Neighbor struct {
	TargetKey           string              `json:"target_key"`
	TargetName          string              `json:"target_name"`
	TargetType          common.EntityType   `json:"target_type"`
	RelationType        common.RelationType `json:"relation_type"`
	Weight              float64             `json:"weight"`
	SupportArticleCount int                 `json:"support_article_count"`
	Evidence            []common.Evidence   `json:"evidence"`
}

// NeighborResult is the neighbor ranking response for one person.
type NeighborResult struct {
	Person    common.CanonicalEntity `json:"person"`
	Risk      *common.EntityRisk     `json:"risk,omitempty"`
	Neighbors []Neighbor             `json:"neighbors"`
}

// Searcher answers read-only person search and neighbor ranking queries
// against a storage backend. It may run concurrently with writers.
type Searcher struct {
	storage       store.GraphStorage
	params        Params
	stopNeighbors map[string]bool
}

func NewSearcher(storage store.GraphStorage, params Params) *Searcher {
	params = params.Normalize()
	stop := make(map[string]bool, len(params.StopNeighbors))
	for _, s := range params.StopNeighbors {
		if key := text.NormalizeKey(s); key != "" {
			stop[key] = true
		}
	}
	return &Searcher{storage: storage, params: params, stopNeighbors: stop}
}

// FindPersons ranks person entities against a free-text name query. Exact
// key or alias matches score 1, token containment (a query that is a
// subset of the full name, or vice versa) scores 0.95, and everything else
// falls back to the similarity ratio with a floor at the ambiguity
// threshold. Returns the top limit matches, best first.
func (s *Searcher) FindPersons(ctx context.Context, query string, limit int) ([]PersonMatch, error) {
	key := text.NormalizeKey(query)
	if key == "" {
		return nil, fmt.Errorf("empty query after normalization")
	}
	if limit <= 0 {
		limit = 10
	}

	persons, err := s.storage.EntitiesByType(ctx, common.EntityPerson)
	if err != nil {
		return nil, fmt.Errorf("load persons: %w", err)
	}

	var matches []PersonMatch
	for _, p := range persons {
		score := matchScore(key, p)
		if score < s.params.AmbiguousSimilarity {
			continue
		}
		matches = append(matches, PersonMatch{
			Key:         p.Key,
			DisplayName: p.DisplayName,
			MatchScore:  score,
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].MatchScore != matches[j].MatchScore {
			return matches[i].MatchScore > matches[j].MatchScore
		}
		return matches[i].Key < matches[j].Key
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func matchScore(queryKey string, p common.CanonicalEntity) float64 {
	if p.HasAlias(queryKey) {
		return exactMatchScore
	}
	best := 0.0
	for _, candidate := range append([]string{p.Key}, p.Aliases...) {
		if text.TokenOverlap(queryKey, candidate) || text.TokenOverlap(candidate, queryKey) {
			if containmentMatchScore > best {
				best = containmentMatchScore
			}
			continue
		}
		if sim := text.Similarity(queryKey, candidate); sim > best {
			best = sim
		}
	}
	return best
}

// Neighbors ranks the connections of a resolved person key. Edges below
// the minimum article support are hidden; neighbors mentioned in an
// excessive share of the corpus are damped so ubiquitous names do not
// dominate every ranking. Results are sorted by weight descending and
// paginated by offset and limit.
func (s *Searcher) Neighbors(ctx context.Context, key string, offset, limit int) (NeighborResult, error) {
	person, err := s.storage.FindEntity(ctx, key)
	if err != nil {
		return NeighborResult{}, fmt.Errorf("resolve person %q: %w", key, err)
	}
	result := NeighborResult{Person: person, Risk: person.Risk}

	edges, err := s.storage.EdgesForEntity(ctx, person.Key)
	if err != nil {
		return result, fmt.Errorf("load edges: %w", err)
	}
	totalMentions, err := s.storage.TotalMentions(ctx)
	if err != nil {
		return result, fmt.Errorf("count mentions: %w", err)
	}

	var neighbors []Neighbor
	for _, e := range edges {
		if e.SupportArticleCount < s.params.MinNeighborSupport {
			continue
		}
		targetKey := e.TargetKey
		if targetKey == person.Key {
			targetKey = e.SourceKey
		}
		if s.stopNeighbors[targetKey] {
			continue
		}
		target, err := s.storage.GetEntity(ctx, targetKey)
		if err != nil {
			continue
		}
		weight := e.Weight
		if totalMentions > 0 {
			share := float64(target.MentionCount) / float64(totalMentions)
			if share > s.params.MaxNeighborDFShare {
				weight *= s.params.MaxNeighborDFShare / share
			}
		}
		neighbors = append(neighbors, Neighbor{
			TargetKey:           target.Key,
			TargetName:          target.DisplayName,
			TargetType:          target.Type,
			RelationType:        e.Type,
			Weight:              weight,
			SupportArticleCount: e.SupportArticleCount,
			Evidence:            e.Evidence,
		})
	}
	sort.SliceStable(neighbors, func(i, j int) bool {
		if neighbors[i].Weight != neighbors[j].Weight {
			return neighbors[i].Weight > neighbors[j].Weight
		}
		return neighbors[i].TargetKey < neighbors[j].TargetKey
	})

	if offset < 0 {
		offset = 0
	}
	if offset >= len(neighbors) {
		result.Neighbors = nil
		return result, nil
	}
	neighbors = neighbors[offset:]
	if limit > 0 && len(neighbors) > limit {
		neighbors = neighbors[:limit]
	}
	result.Neighbors = neighbors
	return result, nil
}
