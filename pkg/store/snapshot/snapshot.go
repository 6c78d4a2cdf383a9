// Package snapshot encodes and decodes versioned graph snapshots. Old
// schema versions are upgraded on read so consumers only ever see the
// current layout.
package snapshot

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/volgapavel/parsAZ/pkg/common"
)

// CurrentVersion is the snapshot schema written by Encode.
const CurrentVersion = 2

// Encode serializes a graph snapshot, stamping the current schema version.
func Encode(g common.Graph) ([]byte, error) {
	g.Version = CurrentVersion
	if g.GeneratedAt.IsZero() {
		g.GeneratedAt = time.Now().UTC()
	}
	data, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// Decode parses a snapshot of any supported schema version and upgrades it
// to the current layout.
func Decode(data []byte) (common.Graph, error) {
	var probe struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return common.Graph{}, fmt.Errorf("probe snapshot version: %w", err)
	}

	switch probe.Version {
	case 0, 1:
		return decodeV1(data)
	case CurrentVersion:
		var g common.Graph
		if err := json.Unmarshal(data, &g); err != nil {
			return common.Graph{}, fmt.Errorf("decode snapshot v%d: %w", CurrentVersion, err)
		}
		return g, nil
	default:
		return common.Graph{}, fmt.Errorf("unsupported snapshot version %d", probe.Version)
	}
}

// v1 snapshots predate pair keys and the stats block; nodes and edges use
// the same shapes otherwise.
type graphV1 struct {
	Version     int                      `json:"version"`
	GeneratedAt time.Time                `json:"generated_at"`
	Nodes       []common.CanonicalEntity `json:"nodes"`
	Edges       []common.Edge            `json:"edges"`
}

func decodeV1(data []byte) (common.Graph, error) {
	var old graphV1
	if err := json.Unmarshal(data, &old); err != nil {
		return common.Graph{}, fmt.Errorf("decode snapshot v1: %w", err)
	}

	g := common.Graph{
		Version:     CurrentVersion,
		GeneratedAt: old.GeneratedAt,
		Nodes:       old.Nodes,
		Edges:       old.Edges,
	}
	for i := range g.Edges {
		e := &g.Edges[i]
		if e.Type.Symmetric() && e.TargetKey < e.SourceKey {
			e.SourceKey, e.TargetKey = e.TargetKey, e.SourceKey
		}
		if e.PairKey == "" {
			e.PairKey = common.PairKey(e.SourceKey, e.TargetKey, e.Type)
		}
	}
	g.Stats = computeStats(g)
	return g, nil
}

func computeStats(g common.Graph) common.GraphStats {
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
	return stats
}
