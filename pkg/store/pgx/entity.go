package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sprintly/backend/pkg/common"
	"github.com/sprintly/backend/pkg/logger"
	"github.com/sprintly/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

const lookupEntitiesSQL = `
SELECT identity_key, id FROM entities WHERE identity_key = ANY($1)`

const entityExistsSQL = `
SELECT EXISTS (SELECT 1 FROM entities WHERE id = $1)`

// A conflicting key means another run inserted the row after our lookup.
// The no-op update makes RETURNING yield the existing id; xmax = 0 only holds
// for freshly inserted rows.
const upsertEntitySQL = `
INSERT INTO entities (
	identity_key, name, first_name, last_name, company, position, email,
	profile_url, role, enrichment_status, enrichment, enriched_at,
	embedding_status, embedding, raw_data
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (identity_key) DO UPDATE SET updated_at = now()
RETURNING id, (xmax = 0) AS inserted`

const upsertConnectionSQL = `
INSERT INTO connections (
	source_id, target_id, relationship_type, connected_on, source, strength
) VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (source_id, target_id, relationship_type) DO UPDATE SET
	connected_on = COALESCE(EXCLUDED.connected_on, connections.connected_on),
	strength = EXCLUDED.strength,
	updated_at = now()`

// LookupEntities resolves identity keys to existing entity ids in windows of
// lookupBatch keys.
func (s *Store) LookupEntities(
	ctx context.Context,
	keys []common.IdentityKey,
) (map[common.IdentityKey]int64, error) {
	found := make(map[common.IdentityKey]int64, len(keys))
	err := store.ChunkRange(len(keys), s.lookupBatch, func(start, end int) error {
		window := make([]string, end-start)
		for i, k := range keys[start:end] {
			window[i] = string(k)
		}

		rows, err := s.conn.Query(ctx, lookupEntitiesSQL, window)
		if err != nil {
			return fmt.Errorf("lookup entities: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var key string
			var id int64
			if err := rows.Scan(&key, &id); err != nil {
				return fmt.Errorf("scan entity: %w", err)
			}
			found[common.IdentityKey(key)] = id
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (s *Store) EntityExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	if err := s.conn.QueryRow(ctx, entityExistsSQL, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check entity %d: %w", id, err)
	}
	return exists, nil
}

// CommitChunk inserts the chunk's entities and upserts its connections in a
// single transaction. Entity IDs are assigned only after the commit succeeds.
func (s *Store) CommitChunk(ctx context.Context, chunk *store.Chunk) (store.ChunkResult, error) {
	var result store.ChunkResult
	if chunk == nil {
		return result, nil
	}

	logger.Debug("[Store][CommitChunk] Saving chunk", "chunk", chunk.Index, "entities", len(chunk.Entities), "connections", len(chunk.Connections))

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return result, fmt.Errorf("begin chunk %d: %w", chunk.Index, err)
	}
	defer tx.Rollback(ctx)

	ids := make(map[*common.Entity]int64, len(chunk.Entities))
	if len(chunk.Entities) > 0 {
		batch := &pgxv5.Batch{}
		for _, e := range chunk.Entities {
			args, err := entityArgs(e)
			if err != nil {
				return result, err
			}
			batch.Queue(upsertEntitySQL, args...)
		}

		br := tx.SendBatch(ctx, batch)
		for _, e := range chunk.Entities {
			var id int64
			var inserted bool
			if err := br.QueryRow().Scan(&id, &inserted); err != nil {
				br.Close()
				return store.ChunkResult{}, fmt.Errorf("insert entity %q: %w", e.Key, err)
			}
			ids[e] = id
			if inserted {
				result.Created++
			}
		}
		if err := br.Close(); err != nil {
			return store.ChunkResult{}, err
		}
	}

	if len(chunk.Connections) > 0 {
		batch := &pgxv5.Batch{}
		result.Connections = make([]common.Connection, 0, len(chunk.Connections))
		for _, pc := range chunk.Connections {
			conn, err := resolveConnection(pc, ids)
			if err != nil {
				return store.ChunkResult{}, err
			}
			batch.Queue(upsertConnectionSQL, connectionArgs(conn)...)
			result.Connections = append(result.Connections, conn)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return store.ChunkResult{}, fmt.Errorf("upsert connections: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return store.ChunkResult{}, fmt.Errorf("commit chunk %d: %w", chunk.Index, err)
	}

	for e, id := range ids {
		e.ID = id
	}
	return result, nil
}

func resolveConnection(pc store.PendingConnection, ids map[*common.Entity]int64) (common.Connection, error) {
	if pc.Target == nil {
		return common.Connection{}, errors.New("connection without target")
	}
	targetID := pc.Target.ID
	if id, ok := ids[pc.Target]; ok {
		targetID = id
	}
	if targetID == 0 {
		return common.Connection{}, fmt.Errorf("connection target %q has no id", pc.Target.Key)
	}
	return common.Connection{
		SourceID:    pc.SourceID,
		TargetID:    targetID,
		Type:        pc.Type,
		ConnectedOn: pc.ConnectedOn,
		Source:      pc.Source,
		Strength:    pc.Strength,
	}, nil
}

func entityArgs(e *common.Entity) ([]any, error) {
	var enrichment []byte
	if e.Enrichment != nil {
		b, err := json.Marshal(e.Enrichment)
		if err != nil {
			return nil, fmt.Errorf("encode enrichment %q: %w", e.Key, err)
		}
		enrichment = b
	}

	raw, err := json.Marshal(e.RawData)
	if err != nil {
		return nil, fmt.Errorf("encode raw data %q: %w", e.Key, err)
	}

	var embedding *pgvector.Vector
	if len(e.Embedding) > 0 {
		v := pgvector.NewVector(e.Embedding)
		embedding = &v
	}

	return []any{
		string(e.Key),
		e.Name,
		e.FirstName,
		e.LastName,
		e.Company,
		e.Position,
		nullString(e.Email),
		nullString(e.ProfileURL),
		string(e.Role),
		string(e.EnrichmentStatus),
		enrichment,
		e.EnrichedAt,
		string(e.EmbeddingStatus),
		embedding,
		raw,
	}, nil
}

func connectionArgs(c common.Connection) []any {
	var connectedOn any
	if !c.ConnectedOn.IsZero() {
		connectedOn = c.ConnectedOn
	}
	return []any{c.SourceID, c.TargetID, c.Type, connectedOn, c.Source, c.Strength}
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
