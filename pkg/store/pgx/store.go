// Package pgx implements the graph storage contract on PostgreSQL.
// Concurrent writers are serialized per row; transaction serialization
// failures surface as store.ErrWriteConflict so callers can retry.
package pgx

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/volgapavel/parsAZ/pkg/common"
	"github.com/volgapavel/parsAZ/pkg/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SnapshotVersion is the schema version stamped on snapshots.
const SnapshotVersion = 2

// Store is the PostgreSQL graph backend.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database and runs pending migrations.
func NewStore(ctx context.Context, databaseURL string) (*Store, error) {
	if err := runMigrations(databaseURL); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func runMigrations(databaseURL string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	url := strings.Replace(databaseURL, "postgres://", "pgx5://", 1)
	url = strings.Replace(url, "postgresql://", "pgx5://", 1)
	m, err := migrate.NewWithSourceInstance("iofs", src, url)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// wrapWriteErr maps transaction serialization and deadlock failures onto
// the retryable conflict sentinel.
func wrapWriteErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %s", store.ErrWriteConflict, pgErr.Message)
		}
	}
	return err
}

const entityColumns = "key, display_name, type, aliases, mention_count, first_seen, last_seen, risk"

func scanEntity(row pgx.Row) (common.CanonicalEntity, error) {
	var e common.CanonicalEntity
	var riskJSON []byte
	var firstSeen, lastSeen *time.Time
	err := row.Scan(&e.Key, &e.DisplayName, &e.Type, &e.Aliases, &e.MentionCount, &firstSeen, &lastSeen, &riskJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return e, store.ErrNotFound
		}
		return e, err
	}
	if firstSeen != nil {
		e.FirstSeen = *firstSeen
	}
	if lastSeen != nil {
		e.LastSeen = *lastSeen
	}
	if len(riskJSON) > 0 {
		if err := json.Unmarshal(riskJSON, &e.Risk); err != nil {
			return e, fmt.Errorf("decode risk for %q: %w", e.Key, err)
		}
	}
	return e, nil
}

func (s *Store) GetEntity(ctx context.Context, key string) (common.CanonicalEntity, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+entityColumns+" FROM entities WHERE key = $1", key)
	e, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return e, fmt.Errorf("entity %q: %w", key, store.ErrNotFound)
		}
		return e, fmt.Errorf("get entity %q: %w", key, err)
	}
	return e, nil
}

func (s *Store) FindEntity(ctx context.Context, key string) (common.CanonicalEntity, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+entityColumns+" FROM entities WHERE key = $1 OR $1 = ANY(aliases) LIMIT 1", key)
	e, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return e, fmt.Errorf("entity %q: %w", key, store.ErrNotFound)
		}
		return e, fmt.Errorf("find entity %q: %w", key, err)
	}
	return e, nil
}

func (s *Store) EntitiesByType(ctx context.Context, typ common.EntityType) ([]common.CanonicalEntity, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+entityColumns+" FROM entities WHERE type = $1", string(typ))
	if err != nil {
		return nil, fmt.Errorf("list entities by type: %w", err)
	}
	defer rows.Close()
	var out []common.CanonicalEntity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) TotalMentions(ctx context.Context) (int, error) {
	var total int
	err := s.pool.QueryRow(ctx, "SELECT COALESCE(SUM(mention_count), 0) FROM entities").Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum mention counts: %w", err)
	}
	return total, nil
}

func (s *Store) SaveEntity(ctx context.Context, entity common.CanonicalEntity, absorbedKeys ...string) error {
	riskJSON, err := marshalRisk(entity.Risk)
	if err != nil {
		return err
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return wrapWriteErr(err)
	}
	defer tx.Rollback(ctx)

	for _, old := range absorbedKeys {
		if old == entity.Key {
			continue
		}
		if err := rewireEdges(ctx, tx, old, entity.Key); err != nil {
			return wrapWriteErr(err)
		}
		if err := rewireArticles(ctx, tx, old, entity.Key); err != nil {
			return wrapWriteErr(err)
		}
		if _, err := tx.Exec(ctx, "DELETE FROM entities WHERE key = $1", old); err != nil {
			return wrapWriteErr(err)
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO entities (key, display_name, type, aliases, mention_count, first_seen, last_seen, risk)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (key) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			aliases = EXCLUDED.aliases,
			mention_count = EXCLUDED.mention_count,
			first_seen = LEAST(entities.first_seen, EXCLUDED.first_seen),
			last_seen = GREATEST(entities.last_seen, EXCLUDED.last_seen),
			risk = COALESCE(EXCLUDED.risk, entities.risk)`,
		entity.Key, entity.DisplayName, string(entity.Type), entity.Aliases,
		entity.MentionCount, nullTime(entity.FirstSeen), nullTime(entity.LastSeen), riskJSON)
	if err != nil {
		return wrapWriteErr(fmt.Errorf("upsert entity %q: %w", entity.Key, err))
	}
	return wrapWriteErr(tx.Commit(ctx))
}

// rewireEdges moves every edge touching oldKey onto newKey inside the
// transaction, merging into an existing edge when the rewired pair key
// collides with one.
func rewireEdges(ctx context.Context, tx pgx.Tx, oldKey, newKey string) error {
	rows, err := tx.Query(ctx, `
		SELECT pair_key, source_key, target_key, relation_type
		FROM edges WHERE source_key = $1 OR target_key = $1 FOR UPDATE`, oldKey)
	if err != nil {
		return err
	}
	type rewire struct {
		oldPair string
		src     string
		dst     string
		typ     common.RelationType
	}
	var pending []rewire
	for rows.Next() {
		var r rewire
		if err := rows.Scan(&r.oldPair, &r.src, &r.dst, &r.typ); err != nil {
			rows.Close()
			return err
		}
		pending = append(pending, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, r := range pending {
		if r.src == oldKey {
			r.src = newKey
		}
		if r.dst == oldKey {
			r.dst = newKey
		}
		if r.src == r.dst {
			if err := deleteEdge(ctx, tx, r.oldPair); err != nil {
				return err
			}
			continue
		}
		if r.typ.Symmetric() && r.dst < r.src {
			r.src, r.dst = r.dst, r.src
		}
		newPair := common.PairKey(r.src, r.dst, r.typ)
		if newPair == r.oldPair {
			continue
		}

		var exists bool
		if err := tx.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM edges WHERE pair_key = $1)", newPair).Scan(&exists); err != nil {
			return err
		}
		if exists {
			if err := mergeEdgeRows(ctx, tx, newPair, r.oldPair); err != nil {
				return err
			}
			continue
		}
		_, err = tx.Exec(ctx, `
			UPDATE edges SET pair_key = $1, source_key = $2, target_key = $3
			WHERE pair_key = $4`, newPair, r.src, r.dst, r.oldPair)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			"UPDATE edge_articles SET pair_key = $1 WHERE pair_key = $2", newPair, r.oldPair)
		if err != nil {
			return err
		}
	}
	return nil
}

// mergeEdgeRows folds the edge srcPair into dstPair: article sets union,
// confidence sums add, evidence concatenates (re-capped on the next
// ApplyRelation), then the source rows are dropped.
func mergeEdgeRows(ctx context.Context, tx pgx.Tx, dstPair, srcPair string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO edge_articles (pair_key, article_id)
		SELECT $1, article_id FROM edge_articles WHERE pair_key = $2
		ON CONFLICT DO NOTHING`, dstPair, srcPair)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE edges dst SET
			conf_sum = dst.conf_sum + src.conf_sum,
			conf_n = dst.conf_n + src.conf_n,
			support_article_count = (SELECT COUNT(*) FROM edge_articles WHERE pair_key = $1),
			methods = (SELECT ARRAY(SELECT DISTINCT unnest(dst.methods || src.methods) ORDER BY 1)),
			evidence = dst.evidence || src.evidence,
			last_updated = GREATEST(dst.last_updated, src.last_updated)
		FROM edges src
		WHERE dst.pair_key = $1 AND src.pair_key = $2`, dstPair, srcPair)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE edges SET
			mean_confidence = CASE WHEN conf_n > 0 THEN conf_sum / conf_n ELSE 0 END,
			weight = ln(1 + support_article_count) * CASE WHEN conf_n > 0 THEN conf_sum / conf_n ELSE 0 END
		WHERE pair_key = $1`, dstPair)
	if err != nil {
		return err
	}
	return deleteEdge(ctx, tx, srcPair)
}

func deleteEdge(ctx context.Context, tx pgx.Tx, pairKey string) error {
	if _, err := tx.Exec(ctx, "DELETE FROM edge_articles WHERE pair_key = $1", pairKey); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, "DELETE FROM edges WHERE pair_key = $1", pairKey)
	return err
}

// rewireArticles moves the absorbed entity's seen-article set onto the new
// key inside the transaction.
func rewireArticles(ctx context.Context, tx pgx.Tx, oldKey, newKey string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO entity_articles (entity_key, article_id)
		SELECT $1, article_id FROM entity_articles WHERE entity_key = $2
		ON CONFLICT DO NOTHING`, newKey, oldKey)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, "DELETE FROM entity_articles WHERE entity_key = $1", oldKey)
	return err
}

func (s *Store) MarkEntityArticle(ctx context.Context, key, articleID string) (bool, error) {
	if articleID == "" {
		return false, nil
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO entity_articles (entity_key, article_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, key, articleID)
	if err != nil {
		return false, wrapWriteErr(fmt.Errorf("mark article for %q: %w", key, err))
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) ApplyRelation(ctx context.Context, rel common.RelationCandidate, evidence common.Evidence, maxEvidence int) error {
	if rel.SourceKey == "" || rel.TargetKey == "" || rel.SourceKey == rel.TargetKey {
		return nil
	}
	src, dst := rel.SourceKey, rel.TargetKey
	if rel.Type.Symmetric() && dst < src {
		src, dst = dst, src
	}
	pairKey := common.PairKey(src, dst, rel.Type)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return wrapWriteErr(err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO edges (pair_key, source_key, target_key, relation_type)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (pair_key) DO NOTHING`,
		pairKey, src, dst, string(rel.Type))
	if err != nil {
		return wrapWriteErr(fmt.Errorf("insert edge %q: %w", pairKey, err))
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO edge_articles (pair_key, article_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, pairKey, evidence.ArticleID)
	if err != nil {
		return wrapWriteErr(fmt.Errorf("record article for %q: %w", pairKey, err))
	}
	newArticle := tag.RowsAffected() > 0

	var edge common.Edge
	var confSum float64
	var confN int
	var evidenceJSON []byte
	var lastUpdated *time.Time
	err = tx.QueryRow(ctx, `
		SELECT support_article_count, conf_sum, conf_n, methods, evidence, last_updated
		FROM edges WHERE pair_key = $1 FOR UPDATE`, pairKey).
		Scan(&edge.SupportArticleCount, &confSum, &confN, &edge.Methods, &evidenceJSON, &lastUpdated)
	if err != nil {
		return wrapWriteErr(fmt.Errorf("lock edge %q: %w", pairKey, err))
	}
	if err := json.Unmarshal(evidenceJSON, &edge.Evidence); err != nil {
		return fmt.Errorf("decode evidence for %q: %w", pairKey, err)
	}

	if newArticle {
		edge.SupportArticleCount++
		confSum += rel.Confidence
		confN++
	}
	edge.Evidence = store.AppendEvidence(edge.Evidence, evidence, maxEvidence)
	edge.Methods = common.MergeMethods(edge.Methods, rel.Methods)
	meanConfidence := 0.0
	if confN > 0 {
		meanConfidence = confSum / float64(confN)
	}
	weight := store.EdgeWeight(edge.SupportArticleCount, meanConfidence)
	updated := evidence.Date
	if lastUpdated != nil && lastUpdated.After(updated) {
		updated = *lastUpdated
	}
	newEvidenceJSON, err := json.Marshal(edge.Evidence)
	if err != nil {
		return fmt.Errorf("encode evidence for %q: %w", pairKey, err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE edges SET
			support_article_count = $2,
			conf_sum = $3,
			conf_n = $4,
			mean_confidence = $5,
			weight = $6,
			methods = $7,
			evidence = $8,
			last_updated = $9
		WHERE pair_key = $1`,
		pairKey, edge.SupportArticleCount, confSum, confN, meanConfidence,
		weight, edge.Methods, newEvidenceJSON, nullTime(updated))
	if err != nil {
		return wrapWriteErr(fmt.Errorf("update edge %q: %w", pairKey, err))
	}
	return wrapWriteErr(tx.Commit(ctx))
}

const edgeColumns = "pair_key, source_key, target_key, relation_type, weight, support_article_count, mean_confidence, methods, evidence, last_updated"

func scanEdge(rows pgx.Rows) (common.Edge, error) {
	var e common.Edge
	var evidenceJSON []byte
	var lastUpdated *time.Time
	err := rows.Scan(&e.PairKey, &e.SourceKey, &e.TargetKey, &e.Type, &e.Weight,
		&e.SupportArticleCount, &e.MeanConfidence, &e.Methods, &evidenceJSON, &lastUpdated)
	if err != nil {
		return e, err
	}
	if lastUpdated != nil {
		e.LastUpdated = *lastUpdated
	}
	if err := json.Unmarshal(evidenceJSON, &e.Evidence); err != nil {
		return e, fmt.Errorf("decode evidence for %q: %w", e.PairKey, err)
	}
	return e, nil
}

func (s *Store) EdgesForEntity(ctx context.Context, key string) ([]common.Edge, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+edgeColumns+" FROM edges WHERE source_key = $1 OR target_key = $1", key)
	if err != nil {
		return nil, fmt.Errorf("list edges for %q: %w", key, err)
	}
	defer rows.Close()
	var out []common.Edge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) SaveRisk(ctx context.Context, key string, risk *common.EntityRisk) error {
	riskJSON, err := marshalRisk(risk)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, "UPDATE entities SET risk = $2 WHERE key = $1", key, riskJSON)
	if err != nil {
		return wrapWriteErr(fmt.Errorf("save risk for %q: %w", key, err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("entity %q: %w", key, store.ErrNotFound)
	}
	return nil
}

func (s *Store) Stats(ctx context.Context) (common.GraphStats, error) {
	stats := common.GraphStats{RiskLevelCounts: make(map[common.RiskLevel]int)}
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE type = 'person'),
		       (SELECT COUNT(*) FROM edges)
		FROM entities`).
		Scan(&stats.TotalEntities, &stats.TotalPersons, &stats.TotalEdges)
	if err != nil {
		return stats, fmt.Errorf("graph stats: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT COALESCE(risk->>'risk_level', 'NONE'), COUNT(*)
		FROM entities GROUP BY 1`)
	if err != nil {
		return stats, fmt.Errorf("risk level counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var level string
		var count int
		if err := rows.Scan(&level, &count); err != nil {
			return stats, err
		}
		stats.RiskLevelCounts[common.RiskLevel(level)] = count
	}
	return stats, rows.Err()
}

func (s *Store) Snapshot(ctx context.Context) (common.Graph, error) {
	g := common.Graph{
		Version:     SnapshotVersion,
		GeneratedAt: time.Now().UTC(),
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return g, fmt.Errorf("begin snapshot: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, "SELECT "+entityColumns+" FROM entities")
	if err != nil {
		return g, fmt.Errorf("snapshot entities: %w", err)
	}
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			rows.Close()
			return g, err
		}
		g.Nodes = append(g.Nodes, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return g, err
	}

	edgeRows, err := tx.Query(ctx, "SELECT "+edgeColumns+" FROM edges")
	if err != nil {
		return g, fmt.Errorf("snapshot edges: %w", err)
	}
	for edgeRows.Next() {
		e, err := scanEdge(edgeRows)
		if err != nil {
			edgeRows.Close()
			return g, err
		}
		g.Edges = append(g.Edges, e)
	}
	edgeRows.Close()
	if err := edgeRows.Err(); err != nil {
		return g, err
	}

	stats := common.GraphStats{
		TotalEntities:   len(g.Nodes),
		TotalEdges:      len(g.Edges),
		RiskLevelCounts: make(map[common.RiskLevel]int),
	}
	for _, n := range g.Nodes {
		if n.Type == common.EntityPerson {
			stats.TotalPersons++
		}
		level := common.RiskLevelNone
		if n.Risk != nil {
			level = n.Risk.Level
		}
		stats.RiskLevelCounts[level]++
	}
	g.Stats = stats
	return g, nil
}

func marshalRisk(risk *common.EntityRisk) ([]byte, error) {
	if risk == nil {
		return nil, nil
	}
	data, err := json.Marshal(risk)
	if err != nil {
		return nil, fmt.Errorf("encode risk: %w", err)
	}
	return data, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
