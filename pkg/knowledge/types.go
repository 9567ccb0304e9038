// Package knowledge holds the structured knowledge base: typed fact
// collections with provenance, the extraction trust gate, and
// provenance-aware merging.
package knowledge

import "time"

// Source type values.
const (
	SourceExplicit = "explicit"
	SourceInferred = "inferred"
)

// Trust floors. Storage-time and presentation-time gating are two
// independent, intentionally redundant filters.
const (
	DefaultMergeConfidenceFloor   = 0.8
	DefaultDisplayConfidenceFloor = 0.7
)

// Provenance records how a fact was obtained and how much to trust it.
type Provenance struct {
	SourceType  string     `json:"source_type"`
	Confidence  float64    `json:"confidence"`
	Sensitivity string     `json:"sensitivity,omitempty"`
	Evidence    string     `json:"evidence,omitempty"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
}

// Entity is a named thing in the owner's life (person, pet, place, ...).
// Identity: name + type.
type Entity struct {
	Name       string                 `json:"name"`
	Type       string                 `json:"type"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
	Provenance
}

// Preference is a stated like/dislike. Identity: category + item.
type Preference struct {
	Category   string                 `json:"category"`
	Item       string                 `json:"item"`
	Liked      bool                   `json:"liked"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
	Provenance
}

// Medical is a health-related fact. Identity: condition.
type Medical struct {
	Condition  string                 `json:"condition"`
	Status     string                 `json:"status,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
	Provenance
}

// Relationship links the owner to another person. Identity: name +
// relation.
type Relationship struct {
	Name       string                 `json:"name"`
	Relation   string                 `json:"relation"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
	Provenance
}

// Milestone is a notable dated event. Identity: title.
type Milestone struct {
	Title      string                 `json:"title"`
	Date       string                 `json:"date,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
	Provenance
}

// Base is the per-owner structured knowledge base: five typed
// collections plus an optional display name.
type Base struct {
	DisplayName   string         `json:"display_name,omitempty"`
	Entities      []Entity       `json:"entities"`
	Preferences   []Preference   `json:"preferences"`
	Medical       []Medical      `json:"medical"`
	Relationships []Relationship `json:"relationships"`
	Milestones    []Milestone    `json:"milestones"`
}

// Extraction is the structured result produced by the extraction LLM.
// It shares the knowledge base shape.
type Extraction = Base

// Empty returns a valid zero-value structure, used whenever untrusted
// input fails validation.
func Empty() *Base {
	return &Base{}
}

func (e Entity) identity() string       { return e.Name + "::" + e.Type }
func (p Preference) identity() string   { return p.Category + "::" + p.Item }
func (m Medical) identity() string      { return m.Condition }
func (r Relationship) identity() string { return r.Name + "::" + r.Relation }
func (m Milestone) identity() string    { return m.Title }

// Size returns the total number of items across all collections.
func (b *Base) Size() int {
	return len(b.Entities) + len(b.Preferences) + len(b.Medical) +
		len(b.Relationships) + len(b.Milestones)
}
