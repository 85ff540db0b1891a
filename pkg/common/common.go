package common

import (
	"strings"
	"time"
)

// Role is the classification assigned to a contact.
type Role string

const (
	RoleFounder  Role = "founder"
	RoleInvestor Role = "investor"
	RoleUnknown  Role = "unknown"
)

// ParseRole maps free-form classifier output onto a Role. Anything that is
// not clearly a founder or investor becomes RoleUnknown.
func ParseRole(value string) Role {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "founder", "co-founder", "cofounder":
		return RoleFounder
	case "investor", "vc", "angel":
		return RoleInvestor
	default:
		return RoleUnknown
	}
}

// EnrichmentStatus tracks an entity through the classification stage.
type EnrichmentStatus string

const (
	EnrichmentPending  EnrichmentStatus = "pending"
	EnrichmentEnriched EnrichmentStatus = "enriched"
	EnrichmentDegraded EnrichmentStatus = "degraded"
)

// EmbeddingStatus tracks an entity through the embedding stage.
type EmbeddingStatus string

const (
	EmbeddingPending  EmbeddingStatus = "pending"
	EmbeddingEmbedded EmbeddingStatus = "embedded"
	EmbeddingDegraded EmbeddingStatus = "degraded"
)

// RelationshipConnectedTo is the only relationship type produced by imports.
const RelationshipConnectedTo = "CONNECTED_TO"

// ConnectionRecord is one normalized row of a connection export. Records
// only live between ingestion and resolution.
type ConnectionRecord struct {
	Row         int               `json:"row"`
	FirstName   string            `json:"first_name"`
	LastName    string            `json:"last_name"`
	Company     string            `json:"company"`
	Position    string            `json:"position"`
	ConnectedOn time.Time         `json:"connected_on"`
	Email       string            `json:"email,omitempty"`
	ProfileURL  string            `json:"profile_url,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// FullName joins first and last name.
func (r ConnectionRecord) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(r.FirstName) + " " + strings.TrimSpace(r.LastName))
}

// Enrichment is the outcome of a successful classification call.
type Enrichment struct {
	Role             Role     `json:"role"`
	Confidence       float64  `json:"confidence"`
	Rationale        string   `json:"rationale,omitempty"`
	SectorFocus      []string `json:"sector_focus,omitempty"`
	StageFocus       []string `json:"stage_focus,omitempty"`
	Location         string   `json:"location,omitempty"`
	Tags             []string `json:"tags,omitempty"`
	InvestmentThesis string   `json:"investment_thesis,omitempty"`
	CheckSizeMin     *int64   `json:"check_size_min,omitempty"`
	CheckSizeMax     *int64   `json:"check_size_max,omitempty"`
}

// Entity is a person identified by the normalized (name, company) pair.
//
// ID is zero until the entity has been committed to the relational store.
// Failures never remove an entity; they move EnrichmentStatus or
// EmbeddingStatus to degraded instead.
type Entity struct {
	ID               int64             `json:"id"`
	Key              IdentityKey       `json:"identity_key"`
	Name             string            `json:"name"`
	FirstName        string            `json:"first_name"`
	LastName         string            `json:"last_name"`
	Company          string            `json:"company"`
	Position         string            `json:"position"`
	Email            string            `json:"email,omitempty"`
	ProfileURL       string            `json:"profile_url,omitempty"`
	Role             Role              `json:"role"`
	EnrichmentStatus EnrichmentStatus  `json:"enrichment_status"`
	Enrichment       *Enrichment       `json:"enrichment,omitempty"`
	EnrichedAt       *time.Time        `json:"enriched_at,omitempty"`
	EmbeddingStatus  EmbeddingStatus   `json:"embedding_status"`
	Embedding        []float32         `json:"-"`
	RawData          map[string]string `json:"raw_data,omitempty"`
}

// NewEntityFromRecord materializes a pending entity from its first record.
func NewEntityFromRecord(key IdentityKey, r ConnectionRecord) *Entity {
	raw := map[string]string{
		"First Name":    r.FirstName,
		"Last Name":     r.LastName,
		"Company":       r.Company,
		"Position":      r.Position,
		"URL":           r.ProfileURL,
		"Email Address": r.Email,
	}
	if !r.ConnectedOn.IsZero() {
		raw["Connected On"] = r.ConnectedOn.Format(time.DateOnly)
	}
	for k, v := range r.Extra {
		raw[k] = v
	}

	return &Entity{
		Key:              key,
		Name:             r.FullName(),
		FirstName:        r.FirstName,
		LastName:         r.LastName,
		Company:          r.Company,
		Position:         r.Position,
		Email:            r.Email,
		ProfileURL:       r.ProfileURL,
		Role:             RoleUnknown,
		EnrichmentStatus: EnrichmentPending,
		EmbeddingStatus:  EmbeddingPending,
		RawData:          raw,
	}
}

// Connection is a directed edge from SourceID to TargetID. Both ids refer to
// committed entities.
type Connection struct {
	SourceID    int64     `json:"source_id"`
	TargetID    int64     `json:"target_id"`
	Type        string    `json:"relationship_type"`
	ConnectedOn time.Time `json:"connected_on"`
	Source      string    `json:"source"`
	Strength    float64   `json:"strength"`
}
