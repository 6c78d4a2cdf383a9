// Package store defines the persistence contract for the aggregated
// knowledge graph and shared edge bookkeeping used by its backends.
package store

import (
	"context"
	"errors"
	"math"
	"sort"

	"github.com/volgapavel/parsAZ/pkg/common"
)

// ErrNotFound is returned when a requested entity or edge does not exist.
var ErrNotFound = errors.New("not found")

// ErrWriteConflict is returned when a concurrent writer raced on the same
// entity or edge. Callers retry a bounded number of times and then skip.
var ErrWriteConflict = errors.New("concurrent graph write conflict")

// GraphStorage is the persistence boundary of the graph aggregator. All
// write operations are idempotent with respect to article IDs: replaying a
// document never double-counts support or duplicates evidence.
type GraphStorage interface {
	// GetEntity fetches a canonical entity by exact key.
	GetEntity(ctx context.Context, key string) (common.CanonicalEntity, error)
	// FindEntity fetches a canonical entity by key or absorbed alias key.
	FindEntity(ctx context.Context, key string) (common.CanonicalEntity, error)
	// EntitiesByType lists canonical entities of one type.
	EntitiesByType(ctx context.Context, typ common.EntityType) ([]common.CanonicalEntity, error)
	// TotalMentions returns the sum of mention counts over all canonical
	// entities, used to detect over-exposed names.
	TotalMentions(ctx context.Context) (int, error)
	// SaveEntity upserts a canonical entity. When a merge moved the
	// canonical key, absorbedKeys lists the old keys whose records and
	// edges must be rewired to the new key.
	SaveEntity(ctx context.Context, entity common.CanonicalEntity, absorbedKeys ...string) error
	// MarkEntityArticle records that an article mentioned the entity and
	// reports whether that pairing is new. Mention counts only grow on
	// new pairings, which keeps document replays from inflating them.
	MarkEntityArticle(ctx context.Context, key, articleID string) (bool, error)
	// ApplyRelation upserts one fused relation into its aggregated edge,
	// appending deduplicated evidence capped at maxEvidence.
	ApplyRelation(ctx context.Context, rel common.RelationCandidate, evidence common.Evidence, maxEvidence int) error
	// EdgesForEntity lists the aggregated edges touching the given key.
	EdgesForEntity(ctx context.Context, key string) ([]common.Edge, error)
	// SaveRisk replaces the rolled-up risk state of an entity.
	SaveRisk(ctx context.Context, key string, risk *common.EntityRisk) error
	// Stats summarizes the current graph.
	Stats(ctx context.Context) (common.GraphStats, error)
	// Snapshot materializes a consistent, versioned copy of the graph.
	Snapshot(ctx context.Context) (common.Graph, error)
}

// EdgeWeight computes an edge's weight from its support count and mean
// confidence. Support contributes logarithmically so heavily repeated
// pairs do not drown out the rest of the graph.
func EdgeWeight(supportArticles int, meanConfidence float64) float64 {
	if supportArticles <= 0 {
		return 0
	}
	return math.Log1p(float64(supportArticles)) * meanConfidence
}

// AppendEvidence inserts evidence if its (article, sentence) pair is new,
// keeping the list sorted by recency then confidence and capped at max.
func AppendEvidence(list []common.Evidence, e common.Evidence, max int) []common.Evidence {
	key := common.EvidenceKey(e.ArticleID, e.Sentence)
	for _, existing := range list {
		if common.EvidenceKey(existing.ArticleID, existing.Sentence) == key {
			return list
		}
	}
	list = append(list, e)
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].Date.Equal(list[j].Date) {
			return list[i].Date.After(list[j].Date)
		}
		return list[i].Confidence > list[j].Confidence
	})
	if max > 0 && len(list) > max {
		list = list[:max]
	}
	return list
}
