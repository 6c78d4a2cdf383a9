package graph

import (
	"sort"
	"strings"
	"time"

	"github.com/volgapavel/parsAZ/pkg/common"
	"github.com/volgapavel/parsAZ/pkg/text"
)

// MatchDecision is the outcome of comparing a candidate against a canonical
// entity.
type MatchDecision int

const (
	// NoMatch means the pair is clearly distinct.
	NoMatch MatchDecision = iota
	// Match means the pair refers to the same entity and may merge.
	Match
	// AmbiguousMatch means similarity fell in the gray zone; the pair is
	// flagged and kept distinct.
	AmbiguousMatch
)

// Resolver collapses mentions into canonical entities, first within a
// document and then against the global pool. Pairs in the similarity gray
// zone are never merged silently.
type Resolver struct {
	params Params
	stop   map[string]bool
}

func NewResolver(params Params) *Resolver {
	params = params.Normalize()
	stop := make(map[string]bool, len(params.StopEntities))
	for _, s := range params.StopEntities {
		if key := text.NormalizeKey(s); key != "" {
			stop[key] = true
		}
	}
	return &Resolver{params: params, stop: stop}
}

// Candidate is one resolver-ready mention with its precomputed key.
type Candidate struct {
	Key          string
	DisplayName  string
	Type         common.EntityType
	MentionCount int
	Confidence   float64
}

// ResolveDocument collapses the consensus entities of one document into
// per-entity candidates: exact key matches merge first, then similar or
// token-subset mentions of the same type fold into the longest form. Pairs
// in the similarity gray zone stay separate and come back as review flags.
func (r *Resolver) ResolveDocument(entities []common.ConsensusEntity) ([]Candidate, []*AmbiguousMergeError) {
	byKey := make(map[string]*Candidate)
	var order []string
	for _, e := range entities {
		key := text.NormalizeKey(e.Text)
		if key == "" || r.stop[key] {
			continue
		}
		// same surface key with a different type stays a separate candidate
		indexKey := string(e.Type) + "|" + key
		if c, ok := byKey[indexKey]; ok {
			c.MentionCount++
			if c.Confidence < e.Confidence {
				c.Confidence = e.Confidence
			}
			if len(e.Text) > len(c.DisplayName) {
				c.DisplayName = e.Text
			}
			continue
		}
		byKey[indexKey] = &Candidate{
			Key:          key,
			DisplayName:  e.Text,
			Type:         e.Type,
			MentionCount: 1,
			Confidence:   e.Confidence,
		}
		order = append(order, indexKey)
	}

	// fold short forms into longer same-typed mentions
	sort.SliceStable(order, func(i, j int) bool {
		return len(byKey[order[i]].Key) > len(byKey[order[j]].Key)
	})
	var out []Candidate
	var flagged []*AmbiguousMergeError
	for _, key := range order {
		c := byKey[key]
		if c == nil {
			continue
		}
		folded := false
		for _, kept := range out {
			if kept.Type != c.Type {
				continue
			}
			switch r.Decide(c.Key, kept.Key) {
			case Match:
				target := &out[indexOfCandidate(out, kept.Key, kept.Type)]
				target.MentionCount += c.MentionCount
				if c.Confidence > target.Confidence {
					target.Confidence = c.Confidence
				}
				folded = true
			case AmbiguousMatch:
				flagged = append(flagged, &AmbiguousMergeError{
					KeyA:       c.Key,
					KeyB:       kept.Key,
					Similarity: text.Similarity(c.Key, kept.Key),
				})
			}
			if folded {
				break
			}
		}
		if !folded {
			out = append(out, *c)
		}
	}
	return out, flagged
}

func indexOfCandidate(cands []Candidate, key string, typ common.EntityType) int {
	for i := range cands {
		if cands[i].Key == key && cands[i].Type == typ {
			return i
		}
	}
	return -1
}

// Decide compares two normalized keys of the same entity type. Exact match,
// similarity at or above the merge threshold, and token-subset containment
// (short-form mentions, surname plus initial) all count as a match;
// similarity inside the gray zone is flagged as ambiguous.
func (r *Resolver) Decide(keyA, keyB string) MatchDecision {
	if keyA == keyB {
		return Match
	}
	if tokenSubsetMatch(keyA, keyB) {
		return Match
	}
	sim := text.Similarity(keyA, keyB)
	if sim >= r.params.MergeSimilarity {
		return Match
	}
	if sim >= r.params.AmbiguousSimilarity {
		return AmbiguousMatch
	}
	return NoMatch
}

// tokenSubsetMatch covers short-form mentions: every token of the shorter
// key appears in the longer one, or an initial matches the first letter of
// the corresponding token ("i baxisov" vs "ilqar baxisov").
func tokenSubsetMatch(keyA, keyB string) bool {
	short, long := keyA, keyB
	if len(short) > len(long) {
		short, long = long, short
	}
	shortTokens := strings.Fields(short)
	longTokens := strings.Fields(long)
	if len(shortTokens) == 0 || len(shortTokens) > len(longTokens) {
		return false
	}
	// single-token short forms must be a full token of the long form,
	// never an initial, to avoid collapsing unrelated surnames
	if len(shortTokens) == 1 {
		if len([]rune(shortTokens[0])) < 2 {
			return false
		}
		return text.TokenOverlap(short, long)
	}
	used := make([]bool, len(longTokens))
	for _, st := range shortTokens {
		found := false
		for i, lt := range longTokens {
			if used[i] {
				continue
			}
			if st == lt || (len([]rune(st)) == 1 && strings.HasPrefix(lt, st)) {
				used[i] = true
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// MatchAgainst resolves a candidate against the global pool. It returns the
// best matching canonical entity, or a nil entity with the ambiguous pairs
// that blocked automatic merging.
func (r *Resolver) MatchAgainst(c Candidate, pool []common.CanonicalEntity) (*common.CanonicalEntity, []*AmbiguousMergeError) {
	var best *common.CanonicalEntity
	bestSim := -1.0
	var ambiguous []*AmbiguousMergeError
	for i := range pool {
		existing := &pool[i]
		if existing.Type != c.Type {
			continue
		}
		if existing.HasAlias(c.Key) {
			return existing, nil
		}
		switch r.Decide(c.Key, existing.Key) {
		case Match:
			sim := text.Similarity(c.Key, existing.Key)
			if sim > bestSim {
				best, bestSim = existing, sim
			}
		case AmbiguousMatch:
			ambiguous = append(ambiguous, &AmbiguousMergeError{
				KeyA:       c.Key,
				KeyB:       existing.Key,
				Similarity: text.Similarity(c.Key, existing.Key),
			})
		}
	}
	if best != nil {
		return best, nil
	}
	return nil, ambiguous
}

// Merge folds candidate b into canonical entity a. The longer display form
// wins, aliases union, timestamps take min and max. Mention counts only sum
// when b's key is new to a, which keeps the operation idempotent.
func Merge(a common.CanonicalEntity, b common.CanonicalEntity) common.CanonicalEntity {
	alreadyAbsorbed := a.HasAlias(b.Key)

	if len(b.DisplayName) > len(a.DisplayName) {
		oldKey := a.Key
		a.DisplayName = b.DisplayName
		a.Key = b.Key
		a.AddAlias(oldKey)
	} else if !alreadyAbsorbed {
		a.AddAlias(b.Key)
	}
	for _, alias := range b.Aliases {
		a.AddAlias(alias)
	}
	// key may have moved onto the alias list above
	trimmed := a.Aliases[:0]
	for _, alias := range a.Aliases {
		if alias != a.Key {
			trimmed = append(trimmed, alias)
		}
	}
	a.Aliases = trimmed

	if !alreadyAbsorbed {
		a.MentionCount += b.MentionCount
	}
	if a.FirstSeen.IsZero() || (!b.FirstSeen.IsZero() && b.FirstSeen.Before(a.FirstSeen)) {
		a.FirstSeen = b.FirstSeen
	}
	if b.LastSeen.After(a.LastSeen) {
		a.LastSeen = b.LastSeen
	}
	return a
}

// NewCanonical builds a fresh canonical entity from a candidate.
func NewCanonical(c Candidate, seen time.Time) common.CanonicalEntity {
	return common.CanonicalEntity{
		Key:          c.Key,
		DisplayName:  text.NormalizeText(c.DisplayName),
		Type:         c.Type,
		MentionCount: c.MentionCount,
		FirstSeen:    seen,
		LastSeen:     seen,
	}
}
