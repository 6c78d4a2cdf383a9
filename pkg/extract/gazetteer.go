package extract

import (
	"context"
	"strings"

	"github.com/volgapavel/parsAZ/pkg/common"
	"github.com/volgapavel/parsAZ/pkg/text"
)

const gazetteerConfidence = 0.9

// GazetteerExtractor finds exact mentions of a curated name list. It is the
// cheapest extractor in the ensemble and the one with the most reliable
// typing, so its spans carry high confidence.
type GazetteerExtractor struct {
	entries []gazetteerEntry
}

type gazetteerEntry struct {
	name string
	key  string
	typ  common.EntityType
}

// NewGazetteerExtractor builds an extractor over the given name->type list.
func NewGazetteerExtractor(names map[string]common.EntityType) *GazetteerExtractor {
	g := &GazetteerExtractor{}
	for name, typ := range names {
		key := text.NormalizeKey(name)
		if key == "" || !typ.Valid() {
			continue
		}
		g.entries = append(g.entries, gazetteerEntry{name: name, key: key, typ: typ})
	}
	return g
}

func (g *GazetteerExtractor) Name() string {
	return "gazetteer"
}

// Extract scans the document text for each gazetteer entry. Matching is
// case-sensitive on the original surface form; mentions with different
// casing are left to the fuzzier extractors.
func (g *GazetteerExtractor) Extract(ctx context.Context, doc common.Document) ([]common.Span, error) {
	var spans []common.Span
	for _, entry := range g.entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		offset := 0
		for {
			idx := strings.Index(doc.Text[offset:], entry.name)
			if idx < 0 {
				break
			}
			start := offset + idx
			end := start + len(entry.name)
			spans = append(spans, common.Span{
				Text:       entry.name,
				Type:       entry.typ,
				Start:      start,
				End:        end,
				Confidence: gazetteerConfidence,
				Source:     g.Name(),
			})
			offset = end
		}
	}
	return spans, nil
}
