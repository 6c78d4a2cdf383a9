package extract

import (
	"context"
	"testing"

	"github.com/volgapavel/parsAZ/pkg/common"
)

func consensus(name string, typ common.EntityType) common.ConsensusEntity {
	return common.ConsensusEntity{Text: name, Type: typ, Confidence: 0.9}
}

func TestGazetteerExtractor(t *testing.T) {
	g := NewGazetteerExtractor(map[string]common.EntityType{
		"İlham Əliyev": common.EntityPerson,
		"Bakı":         common.EntityLocation,
	})
	doc := common.Document{
		ArticleID: "a1",
		Text:      "Prezident İlham Əliyev Bakıda çıxış etdi. İlham Əliyev sonra getdi.",
	}
	spans, err := g.Extract(context.Background(), doc)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	persons := 0
	for _, s := range spans {
		if s.Type == common.EntityPerson {
			persons++
			if doc.Text[s.Start:s.End] != s.Text {
				t.Errorf("span offsets do not cover the surface text: %q", doc.Text[s.Start:s.End])
			}
		}
		if s.Source != "gazetteer" {
			t.Errorf("unexpected span source %q", s.Source)
		}
	}
	if persons != 2 {
		t.Errorf("expected 2 person mentions, got %d", persons)
	}
}

func TestPatternRelationExtractorMetWith(t *testing.T) {
	p := NewPatternRelationExtractor(false)
	doc := common.Document{
		ArticleID: "a1",
		Text:      "İlham Əliyev Ceyhun Bayramov ilə görüşdü.",
	}
	entities := []common.ConsensusEntity{
		consensus("İlham Əliyev", common.EntityPerson),
		consensus("Ceyhun Bayramov", common.EntityPerson),
	}
	cands, err := p.ExtractRelations(context.Background(), doc, entities)
	if err != nil {
		t.Fatalf("ExtractRelations failed: %v", err)
	}
	if len(cands) != 1 {
		t.Fatalf("expected 1 candidate, got %d: %+v", len(cands), cands)
	}
	c := cands[0]
	if c.Type != common.RelationMetWith {
		t.Errorf("expected met_with, got %s", c.Type)
	}
	if c.Confidence != patternConfidence {
		t.Errorf("expected confidence %v, got %v", patternConfidence, c.Confidence)
	}
	if c.EvidenceSentence == "" {
		t.Error("expected evidence sentence to be recorded")
	}
}

func TestPatternRelationExtractorTypeGuard(t *testing.T) {
	p := NewPatternRelationExtractor(false)
	doc := common.Document{
		ArticleID: "a2",
		Text:      "Ceyhun Bayramov Xarici İşlər Nazirliyi ilə görüşdü.",
	}
	entities := []common.ConsensusEntity{
		consensus("Ceyhun Bayramov", common.EntityPerson),
		consensus("Xarici İşlər Nazirliyi", common.EntityOrganization),
	}
	cands, err := p.ExtractRelations(context.Background(), doc, entities)
	if err != nil {
		t.Fatalf("ExtractRelations failed: %v", err)
	}
	for _, c := range cands {
		if c.Type == common.RelationMetWith {
			t.Errorf("met_with must not fire for a person-organization pair: %+v", c)
		}
	}
}

func TestPatternRelationExtractorCooccurrenceFallback(t *testing.T) {
	p := NewPatternRelationExtractor(true)
	doc := common.Document{
		ArticleID: "a3",
		Text:      "İlham Əliyev və Ceyhun Bayramov tədbirdə iştirak etdilər.",
	}
	entities := []common.ConsensusEntity{
		consensus("İlham Əliyev", common.EntityPerson),
		consensus("Ceyhun Bayramov", common.EntityPerson),
	}
	cands, err := p.ExtractRelations(context.Background(), doc, entities)
	if err != nil {
		t.Fatalf("ExtractRelations failed: %v", err)
	}
	if len(cands) != 1 {
		t.Fatalf("expected 1 fallback candidate, got %d", len(cands))
	}
	if cands[0].Type != common.RelationRelatedTo {
		t.Errorf("expected related_to fallback, got %s", cands[0].Type)
	}
	if cands[0].Confidence >= patternConfidence {
		t.Errorf("fallback confidence %v should stay below cue confidence", cands[0].Confidence)
	}
}
