// Package memory implements the graph storage contract in process memory.
// Writes are serialized by a single mutex, so optimistic conflicts cannot
// occur; reads run concurrently and snapshots copy the full state.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/volgapavel/parsAZ/pkg/common"
	"github.com/volgapavel/parsAZ/pkg/store"
)

// SnapshotVersion is the schema version stamped on snapshots.
const SnapshotVersion = 2

type edgeRecord struct {
	edge     common.Edge
	articles map[string]bool
	confSum  float64
	confN    int
}

// Store is the in-memory graph backend.
type Store struct {
	mu             sync.RWMutex
	entities       map[string]common.CanonicalEntity
	aliases        map[string]string
	edges          map[string]*edgeRecord
	byEntity       map[string]map[string]bool
	entityArticles map[string]map[string]bool
}

// NewStore returns an empty in-memory graph.
func NewStore() *Store {
	return &Store{
		entities:       make(map[string]common.CanonicalEntity),
		aliases:        make(map[string]string),
		edges:          make(map[string]*edgeRecord),
		byEntity:       make(map[string]map[string]bool),
		entityArticles: make(map[string]map[string]bool),
	}
}

func (s *Store) GetEntity(_ context.Context, key string) (common.CanonicalEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[key]
	if !ok {
		return common.CanonicalEntity{}, fmt.Errorf("entity %q: %w", key, store.ErrNotFound)
	}
	return copyEntity(e), nil
}

func (s *Store) FindEntity(_ context.Context, key string) (common.CanonicalEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.entities[key]; ok {
		return copyEntity(e), nil
	}
	if canonical, ok := s.aliases[key]; ok {
		if e, ok := s.entities[canonical]; ok {
			return copyEntity(e), nil
		}
	}
	return common.CanonicalEntity{}, fmt.Errorf("entity %q: %w", key, store.ErrNotFound)
}

func (s *Store) EntitiesByType(_ context.Context, typ common.EntityType) ([]common.CanonicalEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []common.CanonicalEntity
	for _, e := range s.entities {
		if e.Type == typ {
			out = append(out, copyEntity(e))
		}
	}
	return out, nil
}

func (s *Store) TotalMentions(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, e := range s.entities {
		total += e.MentionCount
	}
	return total, nil
}

func (s *Store) SaveEntity(_ context.Context, entity common.CanonicalEntity, absorbedKeys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, old := range absorbedKeys {
		if old == entity.Key {
			continue
		}
		if absorbed, ok := s.entities[old]; ok {
			delete(s.entities, old)
			for _, alias := range absorbed.Aliases {
				delete(s.aliases, alias)
			}
			s.rewireEdges(old, entity.Key)
			s.rewireArticles(old, entity.Key)
		}
		delete(s.aliases, old)
	}

	s.entities[entity.Key] = copyEntity(entity)
	for _, alias := range entity.Aliases {
		s.aliases[alias] = entity.Key
	}
	return nil
}

// rewireEdges moves all edges touching oldKey onto newKey, merging with an
// existing edge of the same pair key if one exists. Caller holds the lock.
func (s *Store) rewireEdges(oldKey, newKey string) {
	keys := s.byEntity[oldKey]
	delete(s.byEntity, oldKey)
	for pairKey := range keys {
		rec, ok := s.edges[pairKey]
		if !ok {
			continue
		}
		delete(s.edges, pairKey)
		s.unindexEdge(rec)

		if rec.edge.SourceKey == oldKey {
			rec.edge.SourceKey = newKey
		}
		if rec.edge.TargetKey == oldKey {
			rec.edge.TargetKey = newKey
		}
		if rec.edge.SourceKey == rec.edge.TargetKey {
			// self-loop after a merge carries no information
			continue
		}
		if rec.edge.Type.Symmetric() && rec.edge.TargetKey < rec.edge.SourceKey {
			rec.edge.SourceKey, rec.edge.TargetKey = rec.edge.TargetKey, rec.edge.SourceKey
		}
		rec.edge.PairKey = common.PairKey(rec.edge.SourceKey, rec.edge.TargetKey, rec.edge.Type)

		if existing, ok := s.edges[rec.edge.PairKey]; ok {
			mergeEdgeRecords(existing, rec)
			s.indexEdge(existing)
			continue
		}
		s.edges[rec.edge.PairKey] = rec
		s.indexEdge(rec)
	}
}

func mergeEdgeRecords(dst, src *edgeRecord) {
	for id := range src.articles {
		if !dst.articles[id] {
			dst.articles[id] = true
			dst.edge.SupportArticleCount++
		}
	}
	dst.confSum += src.confSum
	dst.confN += src.confN
	for _, ev := range src.edge.Evidence {
		dst.edge.Evidence = store.AppendEvidence(dst.edge.Evidence, ev, 0)
	}
	dst.edge.Methods = common.MergeMethods(dst.edge.Methods, src.edge.Methods)
	if dst.confN > 0 {
		dst.edge.MeanConfidence = dst.confSum / float64(dst.confN)
	}
	dst.edge.Weight = store.EdgeWeight(dst.edge.SupportArticleCount, dst.edge.MeanConfidence)
	if src.edge.LastUpdated.After(dst.edge.LastUpdated) {
		dst.edge.LastUpdated = src.edge.LastUpdated
	}
}

func (s *Store) indexEdge(rec *edgeRecord) {
	for _, key := range []string{rec.edge.SourceKey, rec.edge.TargetKey} {
		if s.byEntity[key] == nil {
			s.byEntity[key] = make(map[string]bool)
		}
		s.byEntity[key][rec.edge.PairKey] = true
	}
}

func (s *Store) unindexEdge(rec *edgeRecord) {
	for _, key := range []string{rec.edge.SourceKey, rec.edge.TargetKey} {
		if idx, ok := s.byEntity[key]; ok {
			delete(idx, rec.edge.PairKey)
		}
	}
}

// rewireArticles moves the absorbed entity's seen-article set onto the new
// key. Caller holds the lock.
func (s *Store) rewireArticles(oldKey, newKey string) {
	seen := s.entityArticles[oldKey]
	delete(s.entityArticles, oldKey)
	if len(seen) == 0 {
		return
	}
	if s.entityArticles[newKey] == nil {
		s.entityArticles[newKey] = make(map[string]bool)
	}
	for id := range seen {
		s.entityArticles[newKey][id] = true
	}
}

func (s *Store) MarkEntityArticle(_ context.Context, key, articleID string) (bool, error) {
	if articleID == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entityArticles[key] == nil {
		s.entityArticles[key] = make(map[string]bool)
	}
	if s.entityArticles[key][articleID] {
		return false, nil
	}
	s.entityArticles[key][articleID] = true
	return true, nil
}

func (s *Store) ApplyRelation(_ context.Context, rel common.RelationCandidate, evidence common.Evidence, maxEvidence int) error {
	if rel.SourceKey == "" || rel.TargetKey == "" || rel.SourceKey == rel.TargetKey {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	src, dst := rel.SourceKey, rel.TargetKey
	if rel.Type.Symmetric() && dst < src {
		src, dst = dst, src
	}
	pairKey := common.PairKey(src, dst, rel.Type)

	rec, ok := s.edges[pairKey]
	if !ok {
		rec = &edgeRecord{
			edge: common.Edge{
				PairKey:   pairKey,
				SourceKey: src,
				TargetKey: dst,
				Type:      rel.Type,
			},
			articles: make(map[string]bool),
		}
		s.edges[pairKey] = rec
		s.indexEdge(rec)
	}

	if !rec.articles[evidence.ArticleID] {
		rec.articles[evidence.ArticleID] = true
		rec.edge.SupportArticleCount++
		rec.confSum += rel.Confidence
		rec.confN++
	}
	rec.edge.Evidence = store.AppendEvidence(rec.edge.Evidence, evidence, maxEvidence)
	rec.edge.Methods = common.MergeMethods(rec.edge.Methods, rel.Methods)
	if rec.confN > 0 {
		rec.edge.MeanConfidence = rec.confSum / float64(rec.confN)
	}
	rec.edge.Weight = store.EdgeWeight(rec.edge.SupportArticleCount, rec.edge.MeanConfidence)
	if evidence.Date.After(rec.edge.LastUpdated) {
		rec.edge.LastUpdated = evidence.Date
	}
	return nil
}

func (s *Store) EdgesForEntity(_ context.Context, key string) ([]common.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []common.Edge
	for pairKey := range s.byEntity[key] {
		if rec, ok := s.edges[pairKey]; ok {
			out = append(out, copyEdge(rec.edge))
		}
	}
	return out, nil
}

func (s *Store) SaveRisk(_ context.Context, key string, risk *common.EntityRisk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[key]
	if !ok {
		return fmt.Errorf("entity %q: %w", key, store.ErrNotFound)
	}
	e.Risk = copyRisk(risk)
	s.entities[key] = e
	return nil
}

func (s *Store) Stats(_ context.Context) (common.GraphStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statsLocked(), nil
}

func (s *Store) statsLocked() common.GraphStats {
	stats := common.GraphStats{
		TotalEntities:   len(s.entities),
		TotalEdges:      len(s.edges),
		RiskLevelCounts: make(map[common.RiskLevel]int),
	}
	for _, e := range s.entities {
		if e.Type == common.EntityPerson {
			stats.TotalPersons++
		}
		level := common.RiskLevelNone
		if e.Risk != nil {
			level = e.Risk.Level
		}
		stats.RiskLevelCounts[level]++
	}
	return stats
}

func (s *Store) Snapshot(_ context.Context) (common.Graph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g := common.Graph{
		Version:     SnapshotVersion,
		GeneratedAt: time.Now().UTC(),
		Stats:       s.statsLocked(),
		Nodes:       make([]common.CanonicalEntity, 0, len(s.entities)),
		Edges:       make([]common.Edge, 0, len(s.edges)),
	}
	for _, e := range s.entities {
		g.Nodes = append(g.Nodes, copyEntity(e))
	}
	for _, rec := range s.edges {
		g.Edges = append(g.Edges, copyEdge(rec.edge))
	}
	return g, nil
}

func copyEntity(e common.CanonicalEntity) common.CanonicalEntity {
	e.Aliases = append([]string(nil), e.Aliases...)
	e.Risk = copyRisk(e.Risk)
	return e
}

func copyRisk(r *common.EntityRisk) *common.EntityRisk {
	if r == nil {
		return nil
	}
	out := &common.EntityRisk{
		OverallScore: r.OverallScore,
		Level:        r.Level,
		ByCategory:   make(map[common.RiskCategory]*common.CategoryRisk, len(r.ByCategory)),
	}
	for cat, cr := range r.ByCategory {
		c := *cr
		c.Evidence = append([]common.Evidence(nil), cr.Evidence...)
		out.ByCategory[cat] = &c
	}
	return out
}

func copyEdge(e common.Edge) common.Edge {
	e.Methods = append([]string(nil), e.Methods...)
	e.Evidence = append([]common.Evidence(nil), e.Evidence...)
	return e
}
