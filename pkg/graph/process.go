package graph

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/volgapavel/parsAZ/pkg/common"
	"github.com/volgapavel/parsAZ/pkg/extract"
	"github.com/volgapavel/parsAZ/pkg/logger"
	"github.com/volgapavel/parsAZ/pkg/text"
)

// DocumentInput carries one document plus any pre-extracted spans and
// relation candidates supplied by external collaborators. The client's own
// extractors run in addition to these.
type DocumentInput struct {
	Document  common.Document
	Spans     []common.Span
	Relations []common.RelationCandidate
}

// Validate rejects inputs that would be silently dropped downstream, so
// producers learn about bad payloads before they are published.
func (in DocumentInput) Validate() error {
	if in.Document.ArticleID == "" {
		return fmt.Errorf("document without article id")
	}
	for _, rel := range in.Relations {
		if !rel.Type.Valid() {
			return fmt.Errorf("%w: %q", ErrUnknownRelationType, rel.Type)
		}
	}
	return nil
}

// DocumentResult is the outcome of processing one document.
type DocumentResult struct {
	ArticleID string
	Consensus []common.ConsensusEntity
	Risk      common.RiskAssessment
	Vote      VoteStats
	Fusion    FusionStats
	Aggregate AggregateResult
	Err       error
}

// ProcessDocument runs the full per-document pipeline: extraction, span
// voting, intra-document resolution, relation fusion, risk scoring and
// graph aggregation.
func (c *Client) ProcessDocument(ctx context.Context, input DocumentInput) DocumentResult {
	doc := input.Document
	result := DocumentResult{ArticleID: doc.ArticleID}

	spans := append([]common.Span(nil), input.Spans...)
	pool := sourcePool(input.Spans, c.extractors)
	for _, ex := range c.extractors {
		got, err := ex.Extract(ctx, doc)
		if err != nil {
			result.Err = fmt.Errorf("extractor %s: %w", ex.Name(), err)
			return result
		}
		spans = append(spans, got...)
	}

	result.Consensus, result.Vote = c.voter.Vote(spans, pool)
	candidates, flagged := c.resolver.ResolveDocument(result.Consensus)

	relations := append([]common.RelationCandidate(nil), input.Relations...)
	for _, rx := range c.relExtract {
		got, err := rx.ExtractRelations(ctx, doc, result.Consensus)
		if err != nil {
			result.Err = fmt.Errorf("relation extractor %s: %w", rx.Name(), err)
			return result
		}
		relations = append(relations, got...)
	}
	resolved := c.resolveRelationKeys(relations, candidates, doc.ArticleID)
	fused, fstats := c.fusion.Fuse(resolved)
	result.Fusion = fstats
	if fstats.UnknownType > 0 {
		logger.Debug("dropped relation candidates outside taxonomy",
			"article", doc.ArticleID, "count", fstats.UnknownType)
	}

	result.Risk = c.risk.Score(doc, doc.ArticleID)

	agg, err := c.aggregator.AggregateDocument(ctx, doc, candidates, fused, result.Risk)
	agg.AmbiguousPairs = append(flagged, agg.AmbiguousPairs...)
	result.Aggregate = agg
	if err != nil {
		result.Err = fmt.Errorf("aggregate document: %w", err)
	}
	return result
}

// ProcessBatch runs documents through the pipeline with bounded
// parallelism. Per-document failures are captured in their result and
// never abort the batch; only context cancellation stops it early.
func (c *Client) ProcessBatch(ctx context.Context, inputs []DocumentInput) ([]DocumentResult, error) {
	results := make([]DocumentResult, len(inputs))

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(c.params.Parallelism)
	var mu sync.Mutex

	for i, input := range inputs {
		i, input := i, input
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res := c.ProcessDocument(ctx, input)
			if res.Err != nil {
				logger.Warn("document failed, continuing batch",
					"article", input.Document.ArticleID, "error", res.Err)
			}
			mu.Lock()
			results[i] = res
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// resolveRelationKeys maps relation surface texts onto the document's
// resolved candidate keys. Candidates the resolver knows nothing about are
// dropped from fusion input rather than guessed.
func (c *Client) resolveRelationKeys(relations []common.RelationCandidate, candidates []Candidate, articleID string) []common.RelationCandidate {
	var out []common.RelationCandidate
	for _, rel := range relations {
		srcKey := c.candidateKey(rel.SourceText, candidates)
		dstKey := c.candidateKey(rel.TargetText, candidates)
		if srcKey == "" || dstKey == "" || srcKey == dstKey {
			continue
		}
		rel.SourceKey, rel.TargetKey = srcKey, dstKey
		if rel.ArticleID == "" {
			rel.ArticleID = articleID
		}
		out = append(out, rel)
	}
	return out
}

func (c *Client) candidateKey(surface string, candidates []Candidate) string {
	key := text.NormalizeKey(surface)
	if key == "" {
		return ""
	}
	for _, cand := range candidates {
		if cand.Key == key {
			return cand.Key
		}
	}
	for _, cand := range candidates {
		if c.resolver.Decide(key, cand.Key) == Match {
			return cand.Key
		}
	}
	return ""
}

// sourcePool collects the distinct span sources participating in a vote:
// the registered extractors plus any external sources present in the
// supplied spans.
func sourcePool(external []common.Span, extractors []extract.Extractor) []string {
	seen := make(map[string]bool)
	var pool []string
	for _, ex := range extractors {
		if !seen[ex.Name()] {
			seen[ex.Name()] = true
			pool = append(pool, ex.Name())
		}
	}
	for _, s := range external {
		if s.Source != "" && !seen[s.Source] {
			seen[s.Source] = true
			pool = append(pool, s.Source)
		}
	}
	return pool
}
