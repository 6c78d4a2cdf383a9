package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/volgapavel/parsAZ/internal/util"
	"github.com/volgapavel/parsAZ/pkg/common"
	"github.com/volgapavel/parsAZ/pkg/logger"
	"github.com/volgapavel/parsAZ/pkg/store"
	"github.com/volgapavel/parsAZ/pkg/text"
)

// AggregateResult reports what one document contributed to the graph.
type AggregateResult struct {
	ArticleID        string
	EntitiesUpserted int
	EdgesUpserted    int
	AmbiguousPairs   []*AmbiguousMergeError
	SkippedEntities  int
	SkippedEdges     int
}

// Aggregator owns all writes into the graph store. Conflicting writes are
// retried a bounded number of times; entities or edges still failing are
// skipped for this cycle and reported, never fatal.
type Aggregator struct {
	storage  store.GraphStorage
	resolver *Resolver
	risk     *RiskScorer
	params   Params
}

func NewAggregator(storage store.GraphStorage, params Params, risk *RiskScorer) *Aggregator {
	params = params.Normalize()
	if risk == nil {
		risk = NewRiskScorer(DefaultRiskKeywords(), params)
	}
	return &Aggregator{
		storage:  storage,
		resolver: NewResolver(params),
		risk:     risk,
		params:   params,
	}
}

// AggregateDocument upserts one document's resolved candidates, fused
// relations and risk assessment into the graph. Safe to replay: support
// counts and evidence never double-count an article.
func (a *Aggregator) AggregateDocument(ctx context.Context, doc common.Document, candidates []Candidate, relations []common.RelationCandidate, risk common.RiskAssessment) (AggregateResult, error) {
	result := AggregateResult{ArticleID: doc.ArticleID}

	keyMap := make(map[string]string, len(candidates))
	for _, c := range candidates {
		canonicalKey, ambiguous, err := a.upsertCandidate(ctx, doc, c)
		if err != nil {
			result.SkippedEntities++
			logger.Warn("skipping entity after write conflict retries",
				"article", doc.ArticleID, "key", c.Key, "error", err)
			continue
		}
		result.EntitiesUpserted++
		result.AmbiguousPairs = append(result.AmbiguousPairs, ambiguous...)
		keyMap[c.Key] = canonicalKey
	}

	for _, rel := range relations {
		srcKey, ok := keyMap[rel.SourceKey]
		if !ok {
			srcKey = rel.SourceKey
		}
		dstKey, ok := keyMap[rel.TargetKey]
		if !ok {
			dstKey = rel.TargetKey
		}
		rel.SourceKey, rel.TargetKey = srcKey, dstKey
		if rel.SourceKey == rel.TargetKey {
			continue
		}
		evidence := common.Evidence{
			ArticleID:  doc.ArticleID,
			Sentence:   text.NormalizeText(rel.EvidenceSentence),
			Title:      doc.Title,
			Link:       doc.Link,
			Confidence: rel.Confidence,
			Date:       doc.PubDate,
		}
		err := util.RetryErrWithContext(ctx, a.params.MaxWriteRetries, func(ctx context.Context) error {
			err := a.storage.ApplyRelation(ctx, rel, evidence, a.params.MaxEvidencePerEdge)
			if err != nil && !errors.Is(err, store.ErrWriteConflict) {
				return fmt.Errorf("apply relation: %w", err)
			}
			return err
		})
		if err != nil {
			result.SkippedEdges++
			logger.Warn("skipping edge after write conflict retries",
				"article", doc.ArticleID, "pair", common.PairKey(rel.SourceKey, rel.TargetKey, rel.Type), "error", err)
			continue
		}
		result.EdgesUpserted++
	}

	if len(risk.Detected) > 0 {
		a.upsertRisk(ctx, doc, keyMap, risk)
	}
	return result, nil
}

// upsertCandidate resolves one candidate against the pool of same-typed
// canonical entities and either merges it or creates a new node. Returns
// the canonical key the candidate ended up under. Mentions are added only
// the first time this article touches the entity, so replays are safe.
func (a *Aggregator) upsertCandidate(ctx context.Context, doc common.Document, c Candidate) (string, []*AmbiguousMergeError, error) {
	var canonicalKey string
	var ambiguous []*AmbiguousMergeError
	err := util.RetryErrWithContext(ctx, a.params.MaxWriteRetries, func(ctx context.Context) error {
		fresh := NewCanonical(c, doc.PubDate)
		fresh.MentionCount = 0

		var merged common.CanonicalEntity
		var absorbed []string
		if existing, err := a.storage.FindEntity(ctx, c.Key); err == nil {
			merged = Merge(existing, fresh)
			absorbed = append(absorbed, existing.Key)
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		} else {
			pool, err := a.storage.EntitiesByType(ctx, c.Type)
			if err != nil {
				return fmt.Errorf("load entity pool: %w", err)
			}
			match, amb := a.resolver.MatchAgainst(c, pool)
			ambiguous = amb
			if match == nil {
				merged = fresh
			} else {
				merged = Merge(*match, fresh)
				absorbed = append(absorbed, match.Key)
			}
		}
		canonicalKey = merged.Key

		newArticle, err := a.storage.MarkEntityArticle(ctx, merged.Key, doc.ArticleID)
		if err != nil {
			return fmt.Errorf("mark entity article: %w", err)
		}
		if newArticle {
			merged.MentionCount += c.MentionCount
		}
		return a.saveEntity(ctx, merged, absorbed...)
	})
	return canonicalKey, ambiguous, err
}

func (a *Aggregator) saveEntity(ctx context.Context, entity common.CanonicalEntity, absorbedKeys ...string) error {
	trimmed := absorbedKeys[:0]
	for _, k := range absorbedKeys {
		if k != entity.Key {
			trimmed = append(trimmed, k)
		}
	}
	return a.storage.SaveEntity(ctx, entity, trimmed...)
}

// upsertRisk rolls the document assessment into every person the document
// mentions. Risk write failures are logged and dropped; risk is derived
// state and the next document replays it.
func (a *Aggregator) upsertRisk(ctx context.Context, doc common.Document, keyMap map[string]string, risk common.RiskAssessment) {
	evidence := common.Evidence{
		ArticleID:  doc.ArticleID,
		Sentence:   text.NormalizeText(doc.Title),
		Title:      doc.Title,
		Link:       doc.Link,
		Confidence: risk.OverallScore,
		Date:       doc.PubDate,
	}
	for _, canonicalKey := range keyMap {
		entity, err := a.storage.GetEntity(ctx, canonicalKey)
		if err != nil || entity.Type != common.EntityPerson {
			continue
		}
		updated := a.risk.RollUp(entity.Risk, risk, evidence, a.params.MaxEvidencePerEdge)
		if updated == nil {
			continue
		}
		err = util.RetryErrWithContext(ctx, a.params.MaxWriteRetries, func(ctx context.Context) error {
			return a.storage.SaveRisk(ctx, canonicalKey, updated)
		})
		if err != nil {
			logger.Warn("skipping risk update", "article", doc.ArticleID, "key", canonicalKey, "error", err)
		}
	}
}
