// Package extract defines the extractor contracts the pipeline consumes and
// ships two lightweight built-in implementations: a gazetteer entity
// extractor and a pattern relation extractor. Heavier model-backed
// extractors plug in behind the same interfaces.
package extract

import (
	"context"

	"github.com/volgapavel/parsAZ/pkg/common"
)

// Extractor produces typed entity spans for one document.
type Extractor interface {
	// Name identifies the extractor in span provenance.
	Name() string
	// Extract returns the spans found in the document text.
	Extract(ctx context.Context, doc common.Document) ([]common.Span, error)
}

// RelationExtractor produces relation candidates between entities already
// found in the document.
type RelationExtractor interface {
	Name() string
	ExtractRelations(ctx context.Context, doc common.Document, entities []common.ConsensusEntity) ([]common.RelationCandidate, error)
}
