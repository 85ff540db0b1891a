package neo4j

import (
	"context"
	"fmt"

	"github.com/sprintly/backend/pkg/common"
	"github.com/sprintly/backend/pkg/logger"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const constraintQuery = `
CREATE CONSTRAINT entity_id_unique IF NOT EXISTS
FOR (e:Entity) REQUIRE e.entity_id IS UNIQUE`

const mergeNodesQuery = `
UNWIND $nodes AS node
MERGE (e:Entity {entity_id: node.entity_id})
SET e.name = node.name,
	e.company = node.company,
	e.position = node.position,
	e.email = node.email,
	e.profile_url = node.profile_url,
	e.role = node.role,
	e.enrichment_status = node.enrichment_status,
	e.sector_focus = node.sector_focus,
	e.stage_focus = node.stage_focus,
	e.location = node.location,
	e.updated_at = datetime()`

const mergeRelationshipsQuery = `
UNWIND $rels AS rel
MERGE (a:Entity {entity_id: rel.source_id})
MERGE (b:Entity {entity_id: rel.target_id})
MERGE (a)-[r:CONNECTED_TO]->(b)
SET r.strength = rel.strength,
	r.source = rel.source,
	r.connected_on = rel.connected_on,
	r.updated_at = datetime()`

// GraphStore mirrors committed entities and connections into Neo4j. Every
// write is a MERGE keyed by relational id so replays are idempotent.
type GraphStore struct {
	driver   neo4j.DriverWithContext
	database string
}

type NewGraphStoreParams struct {
	URI      string
	Username string
	Password string
	Database string
}

func NewGraphStore(ctx context.Context, params NewGraphStoreParams) (*GraphStore, error) {
	driver, err := neo4j.NewDriverWithContext(params.URI, neo4j.BasicAuth(params.Username, params.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to reach neo4j: %w", err)
	}
	return &GraphStore{driver: driver, database: params.Database}, nil
}

func (g *GraphStore) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

// EnsureConstraints creates the uniqueness constraint MERGE relies on.
func (g *GraphStore) EnsureConstraints(ctx context.Context) error {
	session := g.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, constraintQuery, nil)
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to create graph constraint: %w", err)
	}
	return nil
}

// MirrorChunk upserts one committed chunk in a single write transaction.
func (g *GraphStore) MirrorChunk(
	ctx context.Context,
	entities []*common.Entity,
	connections []common.Connection,
) error {
	nodes := nodeParams(entities)
	rels := relationshipParams(connections)
	if len(nodes) == 0 && len(rels) == 0 {
		return nil
	}

	session := g.session(ctx)
	defer session.Close(ctx)

	logger.Debug("[Graph][MirrorChunk] Writing chunk", "nodes", len(nodes), "relationships", len(rels))

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if len(nodes) > 0 {
			res, err := tx.Run(ctx, mergeNodesQuery, map[string]any{"nodes": nodes})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		if len(rels) > 0 {
			res, err := tx.Run(ctx, mergeRelationshipsQuery, map[string]any{"rels": rels})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("failed to mirror chunk: %w", err)
	}
	return nil
}

func (g *GraphStore) session(ctx context.Context) neo4j.SessionWithContext {
	return g.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: g.database,
	})
}

func nodeParams(entities []*common.Entity) []map[string]any {
	nodes := make([]map[string]any, 0, len(entities))
	for _, e := range entities {
		if e == nil || e.ID == 0 {
			continue
		}
		node := map[string]any{
			"entity_id":         e.ID,
			"name":              e.Name,
			"company":           e.Company,
			"position":          e.Position,
			"email":             e.Email,
			"profile_url":       e.ProfileURL,
			"role":              string(e.Role),
			"enrichment_status": string(e.EnrichmentStatus),
			"sector_focus":      []string{},
			"stage_focus":       []string{},
			"location":          "",
		}
		if e.Enrichment != nil {
			if e.Enrichment.SectorFocus != nil {
				node["sector_focus"] = e.Enrichment.SectorFocus
			}
			if e.Enrichment.StageFocus != nil {
				node["stage_focus"] = e.Enrichment.StageFocus
			}
			node["location"] = e.Enrichment.Location
		}
		nodes = append(nodes, node)
	}
	return nodes
}

func relationshipParams(connections []common.Connection) []map[string]any {
	rels := make([]map[string]any, 0, len(connections))
	for _, c := range connections {
		rel := map[string]any{
			"source_id":    c.SourceID,
			"target_id":    c.TargetID,
			"strength":     c.Strength,
			"source":       c.Source,
			"connected_on": nil,
		}
		if !c.ConnectedOn.IsZero() {
			rel["connected_on"] = c.ConnectedOn.Format("2006-01-02")
		}
		rels = append(rels, rel)
	}
	return rels
}
