package knowledge

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// extractionSchema is the contract for LLM extraction output. Anything
// that does not validate is rejected wholesale rather than salvaged.
const extractionSchema = `{
	"type": "object",
	"properties": {
		"display_name": {"type": "string"},
		"entities": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["name", "type", "source_type", "confidence"],
				"properties": {
					"name": {"type": "string", "minLength": 1},
					"type": {"type": "string", "minLength": 1},
					"attributes": {"type": "object"},
					"source_type": {"enum": ["explicit", "inferred"]},
					"confidence": {"type": "number", "minimum": 0, "maximum": 1},
					"sensitivity": {"type": "string"},
					"evidence": {"type": "string"}
				}
			}
		},
		"preferences": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["category", "item", "source_type", "confidence"],
				"properties": {
					"category": {"type": "string", "minLength": 1},
					"item": {"type": "string", "minLength": 1},
					"liked": {"type": "boolean"},
					"attributes": {"type": "object"},
					"source_type": {"enum": ["explicit", "inferred"]},
					"confidence": {"type": "number", "minimum": 0, "maximum": 1},
					"sensitivity": {"type": "string"},
					"evidence": {"type": "string"}
				}
			}
		},
		"medical": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["condition", "source_type", "confidence"],
				"properties": {
					"condition": {"type": "string", "minLength": 1},
					"status": {"type": "string"},
					"attributes": {"type": "object"},
					"source_type": {"enum": ["explicit", "inferred"]},
					"confidence": {"type": "number", "minimum": 0, "maximum": 1},
					"sensitivity": {"type": "string"},
					"evidence": {"type": "string"}
				}
			}
		},
		"relationships": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["name", "relation", "source_type", "confidence"],
				"properties": {
					"name": {"type": "string", "minLength": 1},
					"relation": {"type": "string", "minLength": 1},
					"attributes": {"type": "object"},
					"source_type": {"enum": ["explicit", "inferred"]},
					"confidence": {"type": "number", "minimum": 0, "maximum": 1},
					"sensitivity": {"type": "string"},
					"evidence": {"type": "string"}
				}
			}
		},
		"milestones": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["title", "source_type", "confidence"],
				"properties": {
					"title": {"type": "string", "minLength": 1},
					"date": {"type": "string"},
					"attributes": {"type": "object"},
					"source_type": {"enum": ["explicit", "inferred"]},
					"confidence": {"type": "number", "minimum": 0, "maximum": 1},
					"sensitivity": {"type": "string"},
					"evidence": {"type": "string"}
				}
			}
		}
	}
}`

var compiledSchema = gojsonschema.NewStringLoader(extractionSchema)

// Decode validates raw LLM output against the extraction schema and
// deserializes it. Callers at the ingestion boundary treat any error as
// an empty extraction; nothing partially valid leaks through.
func Decode(raw string) (*Extraction, error) {
	cleaned := stripFences(raw)
	if strings.TrimSpace(cleaned) == "" {
		return nil, fmt.Errorf("empty extraction payload")
	}

	result, err := gojsonschema.Validate(compiledSchema, gojsonschema.NewStringLoader(cleaned))
	if err != nil {
		return nil, fmt.Errorf("failed to validate extraction: %w", err)
	}
	if !result.Valid() {
		issues := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			issues = append(issues, e.String())
		}
		return nil, fmt.Errorf("extraction rejected by schema: %s", strings.Join(issues, "; "))
	}

	var ex Extraction
	if err := json.Unmarshal([]byte(cleaned), &ex); err != nil {
		return nil, fmt.Errorf("failed to decode extraction: %w", err)
	}
	return &ex, nil
}

// stripFences removes a surrounding markdown code fence, the one
// formatting quirk models add even when told not to.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// Gate applies the storage-time trust filter: only explicit facts with
// supporting evidence and confidence at or above the floor survive.
// Inferred facts never reach the knowledge base regardless of score.
func Gate(ex *Extraction, confidenceFloor float64) *Extraction {
	if ex == nil {
		return Empty()
	}
	if confidenceFloor <= 0 {
		confidenceFloor = DefaultMergeConfidenceFloor
	}

	trusted := func(p Provenance) bool {
		return p.SourceType == SourceExplicit && p.Evidence != "" && p.Confidence >= confidenceFloor
	}

	out := &Extraction{DisplayName: ex.DisplayName}
	for _, e := range ex.Entities {
		if trusted(e.Provenance) {
			out.Entities = append(out.Entities, e)
		}
	}
	for _, p := range ex.Preferences {
		if trusted(p.Provenance) {
			out.Preferences = append(out.Preferences, p)
		}
	}
	for _, m := range ex.Medical {
		if trusted(m.Provenance) {
			out.Medical = append(out.Medical, m)
		}
	}
	for _, r := range ex.Relationships {
		if trusted(r.Provenance) {
			out.Relationships = append(out.Relationships, r)
		}
	}
	for _, m := range ex.Milestones {
		if trusted(m.Provenance) {
			out.Milestones = append(out.Milestones, m)
		}
	}
	return out
}
