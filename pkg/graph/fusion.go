package graph

import (
	"sort"

	"github.com/volgapavel/parsAZ/pkg/common"
)

// FusionStats reports what the fusion engine kept and discarded for one
// document.
type FusionStats struct {
	InputCandidates int
	Fused           int
	UnknownType     int
	BelowThreshold  int
}

// Fusion merges relation candidates from independent strategies sharing the
// same entity pair and relation type.
type Fusion struct {
	params Params
}

func NewFusion(params Params) *Fusion {
	return &Fusion{params: params.Normalize()}
}

// Fuse merges candidates by fusion key. Candidate keys must already be
// resolved to canonical entity keys. Averaged confidence gets an agreement
// bonus when at least two independent methods concur, capped at 1. Fused
// candidates below the acceptance threshold are dropped so near-zero edges
// never reach aggregation.
func (f *Fusion) Fuse(candidates []common.RelationCandidate) ([]common.RelationCandidate, FusionStats) {
	stats := FusionStats{InputCandidates: len(candidates)}
	type bucket struct {
		fused    common.RelationCandidate
		confSum  float64
		n        int
		bestConf float64
		methods  map[string]bool
	}
	buckets := make(map[string]*bucket)
	var order []string

	for _, c := range candidates {
		if !c.Type.Valid() {
			stats.UnknownType++
			continue
		}
		if c.SourceKey == "" || c.TargetKey == "" || c.SourceKey == c.TargetKey {
			continue
		}
		key := common.PairKey(c.SourceKey, c.TargetKey, c.Type)
		b, ok := buckets[key]
		if !ok {
			src, dst := c.SourceKey, c.TargetKey
			if c.Type.Symmetric() && dst < src {
				src, dst = dst, src
			}
			b = &bucket{
				fused: common.RelationCandidate{
					SourceKey:  src,
					TargetKey:  dst,
					SourceText: c.SourceText,
					TargetText: c.TargetText,
					Type:       c.Type,
					ArticleID:  c.ArticleID,
				},
				methods: make(map[string]bool),
			}
			buckets[key] = b
			order = append(order, key)
		}
		b.confSum += c.Confidence
		b.n++
		if c.Confidence > b.bestConf {
			b.bestConf = c.Confidence
			b.fused.EvidenceSentence = c.EvidenceSentence
		}
		for _, m := range c.Methods {
			if m != "" {
				b.methods[m] = true
			}
		}
	}

	var out []common.RelationCandidate
	for _, key := range order {
		b := buckets[key]
		confidence := b.confSum / float64(b.n)
		if len(b.methods) >= 2 {
			confidence *= 1 + f.params.AgreementBonus*float64(len(b.methods)-1)
		}
		if confidence > 1 {
			confidence = 1
		}
		if confidence < f.params.MinRelationConfidence {
			stats.BelowThreshold++
			continue
		}
		b.fused.Confidence = confidence
		b.fused.Methods = methodSet(b.methods)
		out = append(out, b.fused)
	}
	stats.Fused = len(out)
	return out, stats
}

func methodSet(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
