package common

import (
	"sort"
	"strings"
	"time"
)

// EntityType is the fixed set of entity categories the extractors emit.
// Entities of different types never merge.
type EntityType string

const (
	EntityPerson       EntityType = "person"
	EntityOrganization EntityType = "organization"
	EntityLocation     EntityType = "location"
	EntityPosition     EntityType = "position"
	EntityDate         EntityType = "date"
	EntityEvent        EntityType = "event"
)

// Valid reports whether t is one of the known entity types.
func (t EntityType) Valid() bool {
	switch t {
	case EntityPerson, EntityOrganization, EntityLocation, EntityPosition, EntityDate, EntityEvent:
		return true
	}
	return false
}

// RelationType is the fixed relation taxonomy. Symmetric types produce
// order-independent pair keys; directed types preserve direction.
type RelationType string

const (
	RelationMetWith     RelationType = "met_with"
	RelationRelatedTo   RelationType = "related_to"
	RelationWorksFor    RelationType = "works_for"
	RelationOwns        RelationType = "owns"
	RelationManages     RelationType = "manages"
	RelationAppointedTo RelationType = "appointed_to"
	RelationLocatedIn   RelationType = "located_in"
)

// Valid reports whether t is part of the relation taxonomy.
func (t RelationType) Valid() bool {
	switch t {
	case RelationMetWith, RelationRelatedTo, RelationWorksFor, RelationOwns,
		RelationManages, RelationAppointedTo, RelationLocatedIn:
		return true
	}
	return false
}

// Symmetric reports whether the relation is undirected.
func (t RelationType) Symmetric() bool {
	return t == RelationMetWith || t == RelationRelatedTo
}

// PairKey builds the aggregation key for an edge between two canonical
// entities. Symmetric relations sort the keys so that edge(A,B) and
// edge(B,A) land on the same key.
func PairKey(sourceKey, targetKey string, relType RelationType) string {
	a, b := sourceKey, targetKey
	if relType.Symmetric() && b < a {
		a, b = b, a
	}
	return a + "|" + b + "|" + string(relType)
}

// RiskCategory is the fixed risk taxonomy used by the risk scorer.
type RiskCategory string

const (
	RiskCorruption         RiskCategory = "corruption"
	RiskFraud              RiskCategory = "fraud"
	RiskSanctions          RiskCategory = "sanctions"
	RiskLegalProceedings   RiskCategory = "legal_proceedings"
	RiskBankruptcy         RiskCategory = "bankruptcy"
	RiskViolations         RiskCategory = "violations"
	RiskConflictOfInterest RiskCategory = "conflict_of_interest"
	RiskOther              RiskCategory = "other"
)

// RiskLevel is the ordinal severity scale derived from the risk score.
type RiskLevel string

const (
	RiskLevelNone     RiskLevel = "NONE"
	RiskLevelLow      RiskLevel = "LOW"
	RiskLevelMedium   RiskLevel = "MEDIUM"
	RiskLevelHigh     RiskLevel = "HIGH"
	RiskLevelCritical RiskLevel = "CRITICAL"
)

// Document carries the metadata and text of one ingested article.
type Document struct {
	ArticleID string    `json:"article_id"`
	Title     string    `json:"title"`
	Link      string    `json:"link"`
	PubDate   time.Time `json:"pub_date"`
	Source    string    `json:"source"`
	Text      string    `json:"text"`
}

// Span is a typed, located mention produced by one extractor for one
// document. Spans are immutable once emitted.
type Span struct {
	Text       string     `json:"text"`
	Type       EntityType `json:"type"`
	Start      int        `json:"start"`
	End        int        `json:"end"`
	Confidence float64    `json:"confidence"`
	Source     string     `json:"source"`
}

// ConsensusEntity is a span fused across extractors for one document.
type ConsensusEntity struct {
	Text       string     `json:"text"`
	Type       EntityType `json:"type"`
	Start      int        `json:"start"`
	End        int        `json:"end"`
	Confidence float64    `json:"confidence"`
	Sources    []string   `json:"contributing_sources"`
}

// CanonicalEntity is the corpus-wide deduplicated identity for a real-world
// entity. Key is the deterministic normalized form of the display name.
// Owned by the resolver and the store; mutated only through merge or upsert.
type CanonicalEntity struct {
	Key          string      `json:"key"`
	DisplayName  string      `json:"display_name"`
	Type         EntityType  `json:"type"`
	Aliases      []string    `json:"aliases"`
	MentionCount int         `json:"mention_count"`
	FirstSeen    time.Time   `json:"first_seen"`
	LastSeen     time.Time   `json:"last_seen"`
	Risk         *EntityRisk `json:"risk,omitempty"`
}

// HasAlias reports whether the entity already carries the given key as its
// own key or as an absorbed alias key.
func (e *CanonicalEntity) HasAlias(key string) bool {
	if e.Key == key {
		return true
	}
	for _, a := range e.Aliases {
		if a == key {
			return true
		}
	}
	return false
}

// AddAlias inserts the alias keeping the set sorted and duplicate-free.
func (e *CanonicalEntity) AddAlias(alias string) {
	if alias == "" || e.HasAlias(alias) {
		return
	}
	idx := 0
	for idx < len(e.Aliases) && e.Aliases[idx] < alias {
		idx++
	}
	e.Aliases = append(e.Aliases, "")
	copy(e.Aliases[idx+1:], e.Aliases[idx:])
	e.Aliases[idx] = alias
}

// EntityRisk is the rolled-up risk state of a canonical entity across all
// documents that mention it.
type EntityRisk struct {
	OverallScore float64                        `json:"overall_risk_score"`
	Level        RiskLevel                      `json:"risk_level"`
	ByCategory   map[RiskCategory]*CategoryRisk `json:"by_category,omitempty"`
}

// CategoryRisk accumulates one risk category for one entity.
type CategoryRisk struct {
	Score           float64    `json:"score"`
	Hits            int        `json:"hits"`
	SupportArticles int        `json:"support_articles"`
	Evidence        []Evidence `json:"evidence,omitempty"`
}

// RelationCandidate is one extracted relation between two entities of a
// single document, before or after fusion. SourceKey/TargetKey are filled
// once the resolver has mapped the surface texts to canonical keys.
type RelationCandidate struct {
	SourceText       string       `json:"source_text"`
	TargetText       string       `json:"target_text"`
	SourceKey        string       `json:"source_key,omitempty"`
	TargetKey        string       `json:"target_key,omitempty"`
	Type             RelationType `json:"relation_type"`
	Confidence       float64      `json:"confidence"`
	EvidenceSentence string       `json:"evidence_sentence"`
	ArticleID        string       `json:"article_id,omitempty"`
	Methods          []string     `json:"methods"`
}

// Evidence is one source sentence justifying an edge or a risk category,
// with a reference back to the document it came from.
type Evidence struct {
	ArticleID  string    `json:"article_id"`
	Sentence   string    `json:"sentence"`
	Title      string    `json:"title,omitempty"`
	Link       string    `json:"link,omitempty"`
	Confidence float64   `json:"confidence"`
	Date       time.Time `json:"date"`
}

// Edge is the aggregated relation between two canonical entities.
type Edge struct {
	PairKey             string       `json:"pair_key"`
	SourceKey           string       `json:"source_key"`
	TargetKey           string       `json:"target_key"`
	Type                RelationType `json:"relation_type"`
	Weight              float64      `json:"weight"`
	SupportArticleCount int          `json:"support_article_count"`
	MeanConfidence      float64      `json:"mean_confidence"`
	Methods             []string     `json:"methods"`
	Evidence            []Evidence   `json:"evidence"`
	LastUpdated         time.Time    `json:"last_updated"`
}

// DetectedRisk is one fired risk category for one document.
type DetectedRisk struct {
	Category       RiskCategory `json:"risk_type"`
	Confidence     float64      `json:"confidence"`
	KeywordMatches int          `json:"keyword_matches"`
	Matched        []string     `json:"matched"`
}

// RiskAssessment is the per-document risk result.
type RiskAssessment struct {
	SubjectID    string         `json:"subject_id"`
	Detected     []DetectedRisk `json:"detected_risks"`
	OverallScore float64        `json:"overall_risk_score"`
	Level        RiskLevel      `json:"risk_level"`
}

// GraphStats summarizes a graph snapshot.
type GraphStats struct {
	TotalEntities   int               `json:"total_entities"`
	TotalPersons    int               `json:"total_persons"`
	TotalEdges      int               `json:"total_edges"`
	RiskLevelCounts map[RiskLevel]int `json:"risk_level_counts"`
}

// Graph is a versioned, serializable snapshot of the aggregated graph.
type Graph struct {
	Version     int               `json:"version"`
	GeneratedAt time.Time         `json:"generated_at"`
	Stats       GraphStats        `json:"stats"`
	Nodes       []CanonicalEntity `json:"nodes"`
	Edges       []Edge            `json:"edges"`
}

// MergeMethods unions two sorted method attribution sets.
func MergeMethods(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, m := range a {
		if m != "" && !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	for _, m := range b {
		if m != "" && !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out
}

// EvidenceKey identifies an evidence entry for deduplication.
func EvidenceKey(articleID, sentence string) string {
	return articleID + "|" + strings.TrimSpace(sentence)
}
