package extract

import (
	"context"
	"regexp"

	"github.com/volgapavel/parsAZ/pkg/common"
	"github.com/volgapavel/parsAZ/pkg/text"
)

const (
	patternConfidence      = 0.85
	cooccurrenceConfidence = 0.5
)

// relation cues matched against the sentence that mentions both entities.
// Azerbaijani news phrasing, lowercased and diacritic-folded before match.
var relationCues = []struct {
	re  *regexp.Regexp
	typ common.RelationType
}{
	{regexp.MustCompile(`görüş|goruş|gorusdu|görüşdü|danışıqlar apar`), common.RelationMetWith},
	{regexp.MustCompile(`təyin edil|təyin olun|vəzifəsinə gətiril`), common.RelationAppointedTo},
	{regexp.MustCompile(`rəhbərlik edir|rəhbəri|başçılıq edir|idarə edir`), common.RelationManages},
	{regexp.MustCompile(`sahibi|təsisçisi|məxsusdur`), common.RelationOwns},
	{regexp.MustCompile(`işləyir|çalışır|əməkdaşıdır`), common.RelationWorksFor},
	{regexp.MustCompile(`yerləşir|yerləşən`), common.RelationLocatedIn},
}

// typed cue relations only make sense for certain source/target type pairs.
var cueTypeGuard = map[common.RelationType]func(src, dst common.EntityType) bool{
	common.RelationMetWith: func(src, dst common.EntityType) bool {
		return src == common.EntityPerson && dst == common.EntityPerson
	},
	common.RelationAppointedTo: func(src, dst common.EntityType) bool {
		return src == common.EntityPerson && (dst == common.EntityPosition || dst == common.EntityOrganization)
	},
	common.RelationManages: func(src, dst common.EntityType) bool {
		return src == common.EntityPerson && dst == common.EntityOrganization
	},
	common.RelationOwns: func(src, dst common.EntityType) bool {
		return (src == common.EntityPerson || src == common.EntityOrganization) && dst == common.EntityOrganization
	},
	common.RelationWorksFor: func(src, dst common.EntityType) bool {
		return src == common.EntityPerson && dst == common.EntityOrganization
	},
	common.RelationLocatedIn: func(src, dst common.EntityType) bool {
		return src != common.EntityLocation && dst == common.EntityLocation
	},
}

// PatternRelationExtractor derives relations from cue phrases in sentences
// that mention two entities. Sentences with both entities but no cue fall
// back to a low-confidence related_to candidate.
type PatternRelationExtractor struct {
	cooccurrence bool
}

// NewPatternRelationExtractor builds the extractor. With cooccurrence
// enabled, entity pairs sharing a sentence without a cue still yield a
// related_to candidate.
func NewPatternRelationExtractor(cooccurrence bool) *PatternRelationExtractor {
	return &PatternRelationExtractor{cooccurrence: cooccurrence}
}

func (p *PatternRelationExtractor) Name() string {
	return "pattern"
}

func (p *PatternRelationExtractor) ExtractRelations(ctx context.Context, doc common.Document, entities []common.ConsensusEntity) ([]common.RelationCandidate, error) {
	sentences := text.SplitSentences(doc.Text)
	var out []common.RelationCandidate
	for _, sentence := range sentences {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var present []common.ConsensusEntity
		for _, e := range entities {
			if text.ContainsName(sentence, e.Text) {
				present = append(present, e)
			}
		}
		if len(present) < 2 {
			continue
		}
		folded := text.FoldDiacritics(text.NormalizeText(sentence))
		for i := 0; i < len(present); i++ {
			for j := i + 1; j < len(present); j++ {
				out = append(out, p.pairCandidates(sentence, folded, doc.ArticleID, present[i], present[j])...)
			}
		}
	}
	return out, nil
}

func (p *PatternRelationExtractor) pairCandidates(sentence, folded, articleID string, a, b common.ConsensusEntity) []common.RelationCandidate {
	var out []common.RelationCandidate
	for _, cue := range relationCues {
		if !cue.re.MatchString(folded) && !cue.re.MatchString(sentence) {
			continue
		}
		guard := cueTypeGuard[cue.typ]
		src, dst := a, b
		if !guard(src.Type, dst.Type) {
			src, dst = b, a
			if !guard(src.Type, dst.Type) {
				continue
			}
		}
		out = append(out, common.RelationCandidate{
			SourceText:       src.Text,
			TargetText:       dst.Text,
			Type:             cue.typ,
			Confidence:       patternConfidence,
			EvidenceSentence: sentence,
			ArticleID:        articleID,
			Methods:          []string{p.Name()},
		})
	}
	if len(out) == 0 && p.cooccurrence {
		out = append(out, common.RelationCandidate{
			SourceText:       a.Text,
			TargetText:       b.Text,
			Type:             common.RelationRelatedTo,
			Confidence:       cooccurrenceConfidence,
			EvidenceSentence: sentence,
			ArticleID:        articleID,
			Methods:          []string{"cooccurrence"},
		})
	}
	return out
}
