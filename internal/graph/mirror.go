package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// Mirror copies connector state into Neo4j so dashboards can query the
// delegation graph and the service can warm-start after a restart. The
// in-memory Graph stays authoritative; mirror writes are best-effort.
type Mirror struct {
	driver  neo4j.DriverWithContext
	timeout time.Duration
	logger  *zap.Logger
}

// NewMirror creates a connector mirror backed by Neo4j.
func NewMirror(driver neo4j.DriverWithContext, logger *zap.Logger) *Mirror {
	return &Mirror{
		driver:  driver,
		timeout: 5 * time.Second,
		logger:  logger,
	}
}

// Sync upserts one connector. Failures are logged, never propagated, so a
// Neo4j outage cannot stall routing.
func (m *Mirror) Sync(conn Connector) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	session := m.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`MERGE (a:Agent {id: $from})
		 MERGE (b:Agent {id: $to})
		 MERGE (a)-[r:DELEGATES_TO {kind: $kind}]->(b)
		 SET r.strength = $strength, r.trust = $trust,
		     r.usage_count = $usage, r.success_count = $success,
		     r.updated_at = datetime()`,
		map[string]interface{}{
			"from":     conn.From,
			"to":       conn.To,
			"kind":     string(conn.Kind),
			"strength": conn.Strength,
			"trust":    conn.Trust,
			"usage":    conn.UsageCount,
			"success":  conn.SuccessCount,
		})
	if err != nil {
		m.logger.Warn("connector mirror sync failed",
			zap.String("from", conn.From),
			zap.String("to", conn.To),
			zap.Error(err))
	}
}

// LoadAll reads every mirrored connector, used to rebuild the in-memory
// graph at startup.
func (m *Mirror) LoadAll(ctx context.Context) ([]Connector, error) {
	session := m.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (a:Agent)-[r:DELEGATES_TO]->(b:Agent)
		 RETURN a.id, b.id, r.kind, r.strength, r.trust, r.usage_count, r.success_count`,
		nil)
	if err != nil {
		return nil, fmt.Errorf("load connectors: %w", err)
	}

	var connectors []Connector
	for result.Next(ctx) {
		rec := result.Record()
		from, _ := rec.Get("a.id")
		to, _ := rec.Get("b.id")
		kind, _ := rec.Get("r.kind")
		strength, _ := rec.Get("r.strength")
		trust, _ := rec.Get("r.trust")
		usage, _ := rec.Get("r.usage_count")
		success, _ := rec.Get("r.success_count")

		connectors = append(connectors, Connector{
			From:         from.(string),
			To:           to.(string),
			Kind:         Kind(kind.(string)),
			Strength:     strength.(float64),
			Trust:        trust.(float64),
			UsageCount:   usage.(int64),
			SuccessCount: success.(int64),
		})
	}
	return connectors, nil
}

// Restore seeds the in-memory graph from mirrored connectors.
func (g *Graph) Restore(connectors []Connector) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, c := range connectors {
		key := edgeKey{from: c.From, to: c.To, kind: c.Kind}
		g.edges[key] = &edge{
			strength:     clamp01(c.Strength),
			trust:        clamp01(c.Trust),
			usageCount:   c.UsageCount,
			successCount: c.SuccessCount,
			updatedAt:    time.Now(),
		}
	}
}
