// Package graph implements the knowledge-graph core: span consensus voting,
// entity resolution, relationship fusion, risk scoring, idempotent graph
// aggregation and person search.
package graph

import (
	"errors"
	"fmt"

	"github.com/volgapavel/parsAZ/pkg/extract"
	"github.com/volgapavel/parsAZ/pkg/store"
)

// ErrUnknownRelationType is returned for relation candidates outside the
// fixed taxonomy. Fusion counts and skips these rather than failing the
// document; publishers reject them up front.
var ErrUnknownRelationType = errors.New("relation type outside taxonomy")

// AmbiguousMergeError reports a near-threshold entity pair that was flagged
// for review instead of being merged automatically.
type AmbiguousMergeError struct {
	KeyA       string
	KeyB       string
	Similarity float64
}

func (e *AmbiguousMergeError) Error() string {
	return fmt.Sprintf("ambiguous merge between %q and %q (similarity %.2f)", e.KeyA, e.KeyB, e.Similarity)
}

// Params tunes every stage of the pipeline. Zero values are replaced with
// the defaults by Normalize.
type Params struct {
	// MinSpanOverlap is the minimum fraction of the shorter span that must
	// be covered for two spans to count as the same mention.
	MinSpanOverlap float64
	// AcceptVote is the minimum weighted vote for a span group without a
	// type majority to be accepted.
	AcceptVote float64
	// SourceWeights assigns a trust weight per extractor name. Sources
	// without an entry weigh 1.
	SourceWeights map[string]float64
	// SourcePrecedence ranks sources for vote tie-breaks, most trusted
	// first.
	SourcePrecedence []string
	// MinMentionLength drops surface forms shorter than this many runes.
	MinMentionLength int
	// MergeSimilarity is the name similarity at and above which two
	// same-typed entities merge automatically.
	MergeSimilarity float64
	// AmbiguousSimilarity is the lower bound of the gray zone; pairs
	// between it and MergeSimilarity are flagged, not merged.
	AmbiguousSimilarity float64
	// MinRelationConfidence drops fused relations below this confidence.
	MinRelationConfidence float64
	// AgreementBonus is added once when independent methods agree on a
	// relation candidate.
	AgreementBonus float64
	// MaxEvidencePerEdge caps stored evidence sentences per edge.
	MaxEvidencePerEdge int
	// MinNeighborSupport hides neighbor edges with fewer supporting
	// articles from ranking.
	MinNeighborSupport int
	// MaxNeighborDFShare damps neighbors mentioned in more than this share
	// of the corpus.
	MaxNeighborDFShare float64
	// RiskKeywordStep raises a category's confidence per keyword hit.
	RiskKeywordStep float64
	// RiskKeywordCap bounds keyword-driven category confidence.
	RiskKeywordCap float64
	// RiskBigramConfidence is the floor a bigram cue hit sets.
	RiskBigramConfidence float64
	// RiskCategoryDamp scales each further category's contribution to the
	// overall risk score.
	RiskCategoryDamp float64
	// RiskLowBound, RiskMediumBound and RiskHighBound split risk scores
	// into levels; scores at or above RiskHighBound are critical.
	RiskLowBound    float64
	RiskMediumBound float64
	RiskHighBound   float64
	// MaxWriteRetries bounds optimistic-conflict retries per document.
	MaxWriteRetries int
	// Parallelism bounds concurrent per-document extraction.
	Parallelism int
	// StopEntities lists normalized keys never admitted as entities,
	// catching extractor false positives like bare titles.
	StopEntities []string
	// StopNeighbors lists normalized keys hidden from neighbor rankings.
	StopNeighbors []string
}

// DefaultParams returns the standard pipeline tuning.
func DefaultParams() Params {
	return Params{
		MinSpanOverlap:        0.5,
		AcceptVote:            0.8,
		MinMentionLength:      3,
		MergeSimilarity:       0.85,
		AmbiguousSimilarity:   0.60,
		MinRelationConfidence: 0.60,
		AgreementBonus:        0.10,
		MaxEvidencePerEdge:    3,
		MinNeighborSupport:    2,
		MaxNeighborDFShare:    0.25,
		RiskKeywordStep:       0.2,
		RiskKeywordCap:        0.95,
		RiskBigramConfidence:  0.85,
		RiskCategoryDamp:      0.5,
		RiskLowBound:          0.2,
		RiskMediumBound:       0.5,
		RiskHighBound:         0.8,
		MaxWriteRetries:       3,
		Parallelism:           4,
	}
}

// Normalize fills zero-valued fields from DefaultParams.
func (p Params) Normalize() Params {
	def := DefaultParams()
	if p.MinSpanOverlap <= 0 {
		p.MinSpanOverlap = def.MinSpanOverlap
	}
	if p.AcceptVote <= 0 {
		p.AcceptVote = def.AcceptVote
	}
	if p.MinMentionLength <= 0 {
		p.MinMentionLength = def.MinMentionLength
	}
	if p.MergeSimilarity <= 0 {
		p.MergeSimilarity = def.MergeSimilarity
	}
	if p.AmbiguousSimilarity <= 0 {
		p.AmbiguousSimilarity = def.AmbiguousSimilarity
	}
	if p.MinRelationConfidence <= 0 {
		p.MinRelationConfidence = def.MinRelationConfidence
	}
	if p.AgreementBonus <= 0 {
		p.AgreementBonus = def.AgreementBonus
	}
	if p.MaxEvidencePerEdge <= 0 {
		p.MaxEvidencePerEdge = def.MaxEvidencePerEdge
	}
	if p.MinNeighborSupport <= 0 {
		p.MinNeighborSupport = def.MinNeighborSupport
	}
	if p.MaxNeighborDFShare <= 0 {
		p.MaxNeighborDFShare = def.MaxNeighborDFShare
	}
	if p.RiskKeywordStep <= 0 {
		p.RiskKeywordStep = def.RiskKeywordStep
	}
	if p.RiskKeywordCap <= 0 {
		p.RiskKeywordCap = def.RiskKeywordCap
	}
	if p.RiskBigramConfidence <= 0 {
		p.RiskBigramConfidence = def.RiskBigramConfidence
	}
	if p.RiskCategoryDamp <= 0 {
		p.RiskCategoryDamp = def.RiskCategoryDamp
	}
	if p.RiskLowBound <= 0 {
		p.RiskLowBound = def.RiskLowBound
	}
	if p.RiskMediumBound <= 0 {
		p.RiskMediumBound = def.RiskMediumBound
	}
	if p.RiskHighBound <= 0 {
		p.RiskHighBound = def.RiskHighBound
	}
	if p.MaxWriteRetries <= 0 {
		p.MaxWriteRetries = def.MaxWriteRetries
	}
	if p.Parallelism <= 0 {
		p.Parallelism = def.Parallelism
	}
	return p
}

// Client wires the pipeline stages over a storage backend.
type Client struct {
	params     Params
	storage    store.GraphStorage
	extractors []extract.Extractor
	relExtract []extract.RelationExtractor
	voter      *Voter
	resolver   *Resolver
	fusion     *Fusion
	risk       *RiskScorer
	aggregator *Aggregator
}

// ClientParams configures NewClient.
type ClientParams struct {
	Params             Params
	Storage            store.GraphStorage
	Extractors         []extract.Extractor
	RelationExtractors []extract.RelationExtractor
	RiskScorer         *RiskScorer
}

// NewClient builds a pipeline client. Storage is required; extractors may
// be empty when the caller feeds pre-extracted spans.
func NewClient(p ClientParams) (*Client, error) {
	if p.Storage == nil {
		return nil, errors.New("graph client requires a storage backend")
	}
	params := p.Params.Normalize()
	risk := p.RiskScorer
	if risk == nil {
		risk = NewRiskScorer(DefaultRiskKeywords(), params)
	}
	return &Client{
		params:     params,
		storage:    p.Storage,
		extractors: p.Extractors,
		relExtract: p.RelationExtractors,
		voter:      NewVoter(params),
		resolver:   NewResolver(params),
		fusion:     NewFusion(params),
		risk:       risk,
		aggregator: NewAggregator(p.Storage, params, risk),
	}, nil
}

// Params returns the normalized tuning the client runs with.
func (c *Client) Params() Params {
	return c.params
}

// Storage exposes the backend for read-side consumers.
func (c *Client) Storage() store.GraphStorage {
	return c.storage
}

// Searcher returns a person search handle over the client's storage.
func (c *Client) Searcher() *Searcher {
	return NewSearcher(c.storage, c.params)
}
