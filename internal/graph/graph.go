package graph

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Kind categorizes the delegation relationship an edge represents.
type Kind string

const (
	KindParent Kind = "parent"
	KindPeer   Kind = "peer"
)

// Connector is a directed, weighted edge between two agents.
type Connector struct {
	From         string    `json:"from_agent_id"`
	To           string    `json:"to_agent_id"`
	Kind         Kind      `json:"kind"`
	Strength     float64   `json:"strength"` // 0-1
	Trust        float64   `json:"trust"`    // 0-1
	UsageCount   int64     `json:"usage_count"`
	SuccessCount int64     `json:"success_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// failureTarget is what strength decays toward on failure. Failures decay
// rather than zero out, so a single miss never erases a proven edge.
const failureTarget = 0.2

type edgeKey struct {
	from string
	to   string
	kind Kind
}

// edge is the internal mutable form of a Connector with its own lock.
type edge struct {
	mu           sync.RWMutex
	strength     float64
	trust        float64
	usageCount   int64
	successCount int64
	updatedAt    time.Time
}

// Graph is the in-memory authoritative connector store. The edge map is
// guarded by mu; weight updates take the per-edge lock so outcomes on
// unrelated edges never serialize against each other.
type Graph struct {
	mu     sync.RWMutex
	edges  map[edgeKey]*edge
	mirror *Mirror
	logger *zap.Logger
}

// New creates an empty connector graph.
func New(logger *zap.Logger) *Graph {
	return &Graph{
		edges:  make(map[edgeKey]*edge),
		logger: logger,
	}
}

// SetMirror attaches a Neo4j mirror that receives best-effort copies of every
// edge update.
func (g *Graph) SetMirror(m *Mirror) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.mirror = m
}

// Upsert creates an edge at neutral weights, or returns the existing one.
func (g *Graph) Upsert(from, to string, kind Kind) Connector {
	key := edgeKey{from: from, to: to, kind: kind}

	g.mu.Lock()
	e, ok := g.edges[key]
	if !ok {
		e = &edge{strength: 0.5, trust: 0.5, updatedAt: time.Now()}
		g.edges[key] = e
		g.logger.Info("connector created",
			zap.String("from", from),
			zap.String("to", to),
			zap.String("kind", string(kind)))
	}
	g.mu.Unlock()

	conn := g.snapshotEdge(key, e)
	if !ok {
		g.syncMirror(conn)
	}
	return conn
}

// Has reports whether any edge exists for the ordered pair.
func (g *Graph) Has(from, to string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, kind := range []Kind{KindParent, KindPeer} {
		if _, ok := g.edges[edgeKey{from: from, to: to, kind: kind}]; ok {
			return true
		}
	}
	return false
}

// StrengthOf returns the strongest edge weight for the ordered pair, or 0.0
// when the agents are unconnected. Absence is a valid state, not an error.
func (g *Graph) StrengthOf(from, to string) float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var best float64
	for _, kind := range []Kind{KindParent, KindPeer} {
		if e, ok := g.edges[edgeKey{from: from, to: to, kind: kind}]; ok {
			e.mu.RLock()
			if e.strength > best {
				best = e.strength
			}
			e.mu.RUnlock()
		}
	}
	return best
}

// RecordOutcome applies the exponential update to every edge on the ordered
// pair: v' = v + rate*(target-v), target 1.0 on success and 0.2 on failure.
// Trust follows at half the rate so it shifts more conservatively. Returns
// the number of edges updated.
func (g *Graph) RecordOutcome(from, to string, success bool, rate float64) int {
	target := failureTarget
	if success {
		target = 1.0
	}

	var updated []Connector
	g.mu.RLock()
	for _, kind := range []Kind{KindParent, KindPeer} {
		key := edgeKey{from: from, to: to, kind: kind}
		e, ok := g.edges[key]
		if !ok {
			continue
		}
		e.mu.Lock()
		e.strength = clamp01(e.strength + rate*(target-e.strength))
		e.trust = clamp01(e.trust + (rate/2)*(target-e.trust))
		e.usageCount++
		if success {
			e.successCount++
		}
		e.updatedAt = time.Now()
		updated = append(updated, connectorFrom(key, e))
		e.mu.Unlock()
	}
	g.mu.RUnlock()

	for _, conn := range updated {
		g.syncMirror(conn)
	}
	return len(updated)
}

// Snapshot returns all connectors in a stable order.
func (g *Graph) Snapshot() []Connector {
	g.mu.RLock()
	out := make([]Connector, 0, len(g.edges))
	for key, e := range g.edges {
		e.mu.RLock()
		out = append(out, connectorFrom(key, e))
		e.mu.RUnlock()
	}
	g.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.From != b.From {
			return a.From < b.From
		}
		if a.To != b.To {
			return a.To < b.To
		}
		return a.Kind < b.Kind
	})
	return out
}

// OnTick implements clock.TickListener. Edges idle past the window drift
// toward neutral so stale weights stop dominating routing.
func (g *Graph) OnTick(now time.Time) {
	const (
		idleAfter = 24 * time.Hour
		driftRate = 0.01
	)

	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, e := range g.edges {
		e.mu.Lock()
		if now.Sub(e.updatedAt) > idleAfter {
			e.strength = clamp01(e.strength + driftRate*(0.5-e.strength))
			e.trust = clamp01(e.trust + (driftRate/2)*(0.5-e.trust))
		}
		e.mu.Unlock()
	}
}

// snapshotEdge reads an edge under its lock.
func (g *Graph) snapshotEdge(key edgeKey, e *edge) Connector {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return connectorFrom(key, e)
}

// connectorFrom copies edge state; caller must hold the edge lock.
func connectorFrom(key edgeKey, e *edge) Connector {
	return Connector{
		From:         key.from,
		To:           key.to,
		Kind:         key.kind,
		Strength:     e.strength,
		Trust:        e.trust,
		UsageCount:   e.usageCount,
		SuccessCount: e.successCount,
		UpdatedAt:    e.updatedAt,
	}
}

// syncMirror pushes an edge copy to Neo4j without blocking routing.
func (g *Graph) syncMirror(conn Connector) {
	g.mu.RLock()
	m := g.mirror
	g.mu.RUnlock()
	if m == nil {
		return
	}
	go m.Sync(conn)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
