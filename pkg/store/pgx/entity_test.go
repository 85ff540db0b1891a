package pgx

import (
	"testing"
	"time"

	"github.com/sprintly/backend/pkg/common"
	"github.com/sprintly/backend/pkg/store"

	"github.com/pgvector/pgvector-go"
)

func TestEntityArgs(t *testing.T) {
	e := &common.Entity{
		Key:              "ada lovelace|acme",
		Name:             "Ada Lovelace",
		Company:          "Acme",
		Role:             common.RoleInvestor,
		EnrichmentStatus: common.EnrichmentEnriched,
		Enrichment:       &common.Enrichment{Role: common.RoleInvestor, Confidence: 0.9},
		EmbeddingStatus:  common.EmbeddingEmbedded,
		Embedding:        []float32{0.1, 0.2},
		RawData:          map[string]string{"Company": "Acme"},
	}

	args, err := entityArgs(e)
	if err != nil {
		t.Fatalf("entityArgs() error = %v", err)
	}
	if len(args) != 15 {
		t.Fatalf("expected 15 args, got %d", len(args))
	}
	if args[0] != "ada lovelace|acme" {
		t.Fatalf("unexpected key arg %v", args[0])
	}
	if email, ok := args[6].(*string); !ok || email != nil {
		t.Fatalf("expected nil email pointer, got %#v", args[6])
	}
	if enrichment, ok := args[10].([]byte); !ok || len(enrichment) == 0 {
		t.Fatalf("expected encoded enrichment, got %#v", args[10])
	}
	vec, ok := args[13].(*pgvector.Vector)
	if !ok || vec == nil || len(vec.Slice()) != 2 {
		t.Fatalf("expected embedding vector, got %#v", args[13])
	}
}

func TestEntityArgs_NoEmbedding(t *testing.T) {
	args, err := entityArgs(&common.Entity{Key: "a|b"})
	if err != nil {
		t.Fatalf("entityArgs() error = %v", err)
	}
	if vec, ok := args[13].(*pgvector.Vector); !ok || vec != nil {
		t.Fatalf("expected nil vector, got %#v", args[13])
	}
	if enrichment, ok := args[10].([]byte); !ok || enrichment != nil {
		t.Fatalf("expected nil enrichment, got %#v", args[10])
	}
}

func TestResolveConnection(t *testing.T) {
	fresh := &common.Entity{Key: "new|co"}
	known := &common.Entity{Key: "old|co", ID: 7}
	ids := map[*common.Entity]int64{fresh: 42}
	on := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		target  *common.Entity
		wantID  int64
		wantErr bool
	}{
		{name: "inserted in chunk", target: fresh, wantID: 42},
		{name: "existing entity", target: known, wantID: 7},
		{name: "missing id", target: &common.Entity{Key: "x|y"}, wantErr: true},
		{name: "nil target", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, err := resolveConnection(store.PendingConnection{
				SourceID:    1,
				Target:      tt.target,
				Type:        common.RelationshipConnectedTo,
				ConnectedOn: on,
				Source:      "csv_import",
				Strength:    1,
			}, ids)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("resolveConnection() error = %v", err)
			}
			if conn.TargetID != tt.wantID || conn.SourceID != 1 || !conn.ConnectedOn.Equal(on) {
				t.Fatalf("unexpected connection %+v", conn)
			}
		})
	}
}

func TestConnectionArgs_ZeroDateIsNull(t *testing.T) {
	args := connectionArgs(common.Connection{SourceID: 1, TargetID: 2, Type: common.RelationshipConnectedTo})
	if args[3] != nil {
		t.Fatalf("expected nil connected_on, got %#v", args[3])
	}
}
