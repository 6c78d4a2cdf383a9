package graph

import (
	"sort"

	"github.com/volgapavel/parsAZ/pkg/common"
	"github.com/volgapavel/parsAZ/pkg/text"
)

// VoteStats reports what the voter fused and dropped for one document.
type VoteStats struct {
	InputSpans     int
	Fused          int
	TypeConflicts  int
	BelowThreshold int
	TooShort       int
}

// Voter fuses the span sets of several extractors into one consensus set
// per document. Each source carries a trust weight; a group of overlapping
// spans is accepted when its weighted vote clears the threshold or a
// majority of the source pool agrees on its type.
type Voter struct {
	params Params
}

func NewVoter(params Params) *Voter {
	return &Voter{params: params.Normalize()}
}

func (v *Voter) sourceWeight(source string) float64 {
	if w, ok := v.params.SourceWeights[source]; ok && w > 0 {
		return w
	}
	return 1
}

// precedenceRank returns the tie-break rank of a source, lower is more
// trusted. Sources outside the configured ranking sort last, by name.
func (v *Voter) precedenceRank(source string) int {
	for i, s := range v.params.SourcePrecedence {
		if s == source {
			return i
		}
	}
	return len(v.params.SourcePrecedence)
}

// overlapRatio returns the covered fraction of the shorter span.
func overlapRatio(a, b common.Span) float64 {
	lo := a.Start
	if b.Start > lo {
		lo = b.Start
	}
	hi := a.End
	if b.End < hi {
		hi = b.End
	}
	if hi <= lo {
		return 0
	}
	shorter := a.End - a.Start
	if l := b.End - b.Start; l < shorter {
		shorter = l
	}
	if shorter <= 0 {
		return 0
	}
	return float64(hi-lo) / float64(shorter)
}

func sameMention(a, b common.Span, minOverlap float64) bool {
	if overlapRatio(a, b) >= minOverlap {
		return true
	}
	return text.NormalizeKey(a.Text) == text.NormalizeKey(b.Text) &&
		text.NormalizeKey(a.Text) != "" &&
		absInt(a.Start-b.Start) < len(a.Text)+len(b.Text)
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// Vote groups overlapping spans across extractors and fuses each group.
// pool is the full set of extractor names that ran over the document; the
// fused confidence divides the group's weighted vote by the pool's total
// weight, so a span only one extractor saw scores lower than the same span
// confirmed by the whole ensemble.
func (v *Voter) Vote(spans []common.Span, pool []string) ([]common.ConsensusEntity, VoteStats) {
	stats := VoteStats{InputSpans: len(spans)}
	if len(spans) == 0 {
		return nil, stats
	}

	totalWeight := 0.0
	for _, source := range pool {
		totalWeight += v.sourceWeight(source)
	}
	if totalWeight <= 0 {
		totalWeight = 1
	}

	sorted := make([]common.Span, len(spans))
	copy(sorted, spans)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].End > sorted[j].End
	})

	var groups [][]common.Span
	for _, s := range sorted {
		placed := false
		for gi := range groups {
			if sameMention(groups[gi][0], s, v.params.MinSpanOverlap) {
				groups[gi] = append(groups[gi], s)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, []common.Span{s})
		}
	}

	var out []common.ConsensusEntity
	for _, group := range groups {
		entity, ok := v.fuseGroup(group, pool, totalWeight, &stats)
		if !ok {
			continue
		}
		if len([]rune(entity.Text)) < v.params.MinMentionLength {
			stats.TooShort++
			continue
		}
		out = append(out, entity)
	}
	stats.Fused = len(out)
	return out, stats
}

// fuseGroup resolves the winning type of one overlap group by weighted
// vote, then fuses the agreeing spans into one consensus entity with union
// boundaries.
func (v *Voter) fuseGroup(group []common.Span, pool []string, totalWeight float64, stats *VoteStats) (common.ConsensusEntity, bool) {
	votes := make(map[common.EntityType]float64)
	voters := make(map[common.EntityType]map[string]bool)
	for _, s := range group {
		votes[s.Type] += v.sourceWeight(s.Source) * s.Confidence
		if voters[s.Type] == nil {
			voters[s.Type] = make(map[string]bool)
		}
		voters[s.Type][s.Source] = true
	}
	if len(votes) > 1 {
		stats.TypeConflicts++
	}

	var winner common.EntityType
	winnerSet := false
	for typ, vote := range votes {
		if !winnerSet || vote > votes[winner] {
			winner, winnerSet = typ, true
			continue
		}
		if vote == votes[winner] && typ != winner {
			// tied vote; prefer the type backed by the more trusted source
			if v.bestRank(group, typ) < v.bestRank(group, winner) {
				winner = typ
			}
		}
	}

	vote := votes[winner]
	// a repeated span from one extractor is still one voter
	majority := len(voters[winner])*2 > len(pool)
	if vote < v.params.AcceptVote && !majority {
		stats.BelowThreshold++
		return common.ConsensusEntity{}, false
	}

	var best common.Span
	start, end := -1, -1
	sources := make([]string, 0, len(group))
	seen := make(map[string]bool)
	for _, s := range group {
		if s.Type != winner {
			continue
		}
		if start < 0 || s.Start < start {
			start = s.Start
		}
		if s.End > end {
			end = s.End
		}
		if !seen[s.Source] {
			seen[s.Source] = true
			sources = append(sources, s.Source)
		}
		if len(s.Text) > len(best.Text) || (len(s.Text) == len(best.Text) && s.Confidence > best.Confidence) {
			best = s
		}
	}
	sort.Strings(sources)

	confidence := vote / totalWeight
	if confidence > 1 {
		confidence = 1
	}
	return common.ConsensusEntity{
		Text:       text.NormalizeText(best.Text),
		Type:       winner,
		Start:      start,
		End:        end,
		Confidence: confidence,
		Sources:    sources,
	}, true
}

func (v *Voter) bestRank(group []common.Span, typ common.EntityType) int {
	best := len(v.params.SourcePrecedence) + 1
	for _, s := range group {
		if s.Type != typ {
			continue
		}
		if r := v.precedenceRank(s.Source); r < best {
			best = r
		}
	}
	return best
}
