package graph

import (
	"sort"
	"strings"

	"github.com/volgapavel/parsAZ/pkg/common"
	"github.com/volgapavel/parsAZ/pkg/store"
	"github.com/volgapavel/parsAZ/pkg/text"
)

// RiskKeywords maps each category to its single-word and bigram cue lists.
type RiskKeywords struct {
	Keywords map[common.RiskCategory][]string
	Bigrams  map[common.RiskCategory][]string
}

// DefaultRiskKeywords returns the Azerbaijani news cue lists.
func DefaultRiskKeywords() RiskKeywords {
	return RiskKeywords{
		Keywords: map[common.RiskCategory][]string{
			common.RiskCorruption:         {"korrupsiya", "rüşvət", "rüşvətxorluq", "mənimsəmə", "vəzifədən sui-istifadə"},
			common.RiskFraud:              {"dələduzluq", "fırıldaq", "saxtakarlıq", "aldatma"},
			common.RiskSanctions:          {"sanksiya", "embarqo", "qara siyahı"},
			common.RiskLegalProceedings:   {"cinayət işi", "istintaq", "məhkəmə", "həbs", "ittiham", "təqsirləndirilən"},
			common.RiskBankruptcy:         {"müflis", "iflas", "borclu", "ləğv edildi"},
			common.RiskViolations:         {"qanun pozuntusu", "pozuntu", "cərimə", "nöqsan"},
			common.RiskConflictOfInterest: {"maraqların toqquşması", "qohumbazlıq", "tenderdə iştirak"},
			common.RiskOther:              {"qalmaqal", "şübhəli əməliyyat"},
		},
		Bigrams: map[common.RiskCategory][]string{
			common.RiskCorruption:       {"rüşvət alarkən", "külli miqdarda mənimsəmə"},
			common.RiskLegalProceedings: {"barəsində cinayət", "həbs qətimkan"},
			common.RiskFraud:            {"vergi yayınma"},
		},
	}
}

// RiskScorer matches weighted keyword and bigram lists against document
// text and derives a bounded score and level per category. Steps, caps and
// level bounds come from Params.
type RiskScorer struct {
	keywords RiskKeywords
	params   Params
}

func NewRiskScorer(keywords RiskKeywords, params Params) *RiskScorer {
	return &RiskScorer{keywords: keywords, params: params.Normalize()}
}

// Score assesses one document. Matching is case- and diacritic-insensitive.
// Each keyword hit raises the category confidence by a fixed step up to a
// cap; a bigram hit raises it straight to the bigram confidence.
func (r *RiskScorer) Score(doc common.Document, subjectID string) common.RiskAssessment {
	folded := foldForMatch(doc.Title + " " + doc.Text)

	var detected []common.DetectedRisk
	for _, category := range riskCategories() {
		matches := 0
		var matched []string
		for _, kw := range r.keywords.Keywords[category] {
			if n := strings.Count(folded, foldForMatch(kw)); n > 0 {
				matches += n
				matched = append(matched, kw)
			}
		}
		confidence := float64(matches) * r.params.RiskKeywordStep
		if confidence > r.params.RiskKeywordCap {
			confidence = r.params.RiskKeywordCap
		}
		for _, bg := range r.keywords.Bigrams[category] {
			if strings.Contains(folded, foldForMatch(bg)) {
				matches++
				matched = append(matched, bg)
				if confidence < r.params.RiskBigramConfidence {
					confidence = r.params.RiskBigramConfidence
				}
			}
		}
		if matches == 0 {
			continue
		}
		detected = append(detected, common.DetectedRisk{
			Category:       category,
			Confidence:     confidence,
			KeywordMatches: matches,
			Matched:        matched,
		})
	}

	sort.Slice(detected, func(i, j int) bool {
		return detected[i].Confidence > detected[j].Confidence
	})
	overall := r.OverallScore(detected)
	return common.RiskAssessment{
		SubjectID:    subjectID,
		Detected:     detected,
		OverallScore: overall,
		Level:        r.LevelFor(overall),
	}
}

// OverallScore combines category confidences: the strongest category
// dominates and each further category contributes with diminishing returns.
func (r *RiskScorer) OverallScore(detected []common.DetectedRisk) float64 {
	if len(detected) == 0 {
		return 0
	}
	confs := make([]float64, len(detected))
	for i, d := range detected {
		confs[i] = d.Confidence
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(confs)))
	score := confs[0]
	damp := r.params.RiskCategoryDamp
	for _, c := range confs[1:] {
		score += c * damp * (1 - score)
		damp *= r.params.RiskCategoryDamp
	}
	if score > 1 {
		score = 1
	}
	return score
}

// LevelFor maps a score onto the ascending level table.
func (r *RiskScorer) LevelFor(score float64) common.RiskLevel {
	switch {
	case score <= 0:
		return common.RiskLevelNone
	case score < r.params.RiskLowBound:
		return common.RiskLevelLow
	case score < r.params.RiskMediumBound:
		return common.RiskLevelMedium
	case score < r.params.RiskHighBound:
		return common.RiskLevelHigh
	default:
		return common.RiskLevelCritical
	}
}

// RollUp folds a per-document assessment into an entity's accumulated risk
// state. Category scores take the max over documents; hit and article
// counters accumulate.
func (r *RiskScorer) RollUp(current *common.EntityRisk, assessment common.RiskAssessment, evidence common.Evidence, maxEvidence int) *common.EntityRisk {
	if len(assessment.Detected) == 0 {
		return current
	}
	if current == nil {
		current = &common.EntityRisk{ByCategory: make(map[common.RiskCategory]*common.CategoryRisk)}
	}
	if current.ByCategory == nil {
		current.ByCategory = make(map[common.RiskCategory]*common.CategoryRisk)
	}
	for _, d := range assessment.Detected {
		cat := current.ByCategory[d.Category]
		if cat == nil {
			cat = &common.CategoryRisk{}
			current.ByCategory[d.Category] = cat
		}
		if d.Confidence > cat.Score {
			cat.Score = d.Confidence
		}
		cat.Hits += d.KeywordMatches
		cat.SupportArticles++
		cat.Evidence = store.AppendEvidence(cat.Evidence, evidence, maxEvidence)
	}

	detected := make([]common.DetectedRisk, 0, len(current.ByCategory))
	for category, cat := range current.ByCategory {
		detected = append(detected, common.DetectedRisk{Category: category, Confidence: cat.Score})
	}
	current.OverallScore = r.OverallScore(detected)
	current.Level = r.LevelFor(current.OverallScore)
	return current
}

func riskCategories() []common.RiskCategory {
	return []common.RiskCategory{
		common.RiskCorruption,
		common.RiskFraud,
		common.RiskSanctions,
		common.RiskLegalProceedings,
		common.RiskBankruptcy,
		common.RiskViolations,
		common.RiskConflictOfInterest,
		common.RiskOther,
	}
}

func foldForMatch(s string) string {
	return text.FoldDiacritics(strings.ToLower(s))
}
