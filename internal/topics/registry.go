// Package topics maps prediction topics to their context schemas. Each topic
// family has a versioned context shape; unknown topics fall back to the
// generic schema so classification can never fail extraction.
package topics

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// Schema metadata fields assigned by the pipeline, never by the model.
const (
	fieldSchemaType = "schema_type"
	fieldVersion    = "version"
)

const (
	SchemaTypeCrypto  = "crypto"
	SchemaTypeGeneric = "generic"

	// CurrentVersion of all context schema families.
	CurrentVersion = 1
)

// forbidExtra rejects properties not named in the schema.
func forbidExtra() *jsonschema.Schema {
	return &jsonschema.Schema{Not: &jsonschema.Schema{}}
}

func constOf(v interface{}) *jsonschema.Schema {
	c := v
	return &jsonschema.Schema{Const: &c}
}

// cryptoContextSchema covers predictions about tokens and prices.
// Tickers are uppercase symbols so downstream JSONB containment queries
// can match without normalization.
func cryptoContextSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			fieldSchemaType: constOf("crypto"),
			fieldVersion:    constOf(1),
			"tokens": {
				Type:  "array",
				Items: &jsonschema.Schema{Type: "string"},
			},
			"tickers": {
				Type:  "array",
				Items: &jsonschema.Schema{Type: "string", Pattern: `^[A-Z0-9]{1,12}$`},
			},
			"direction": {
				Type: "string",
				Enum: []interface{}{"up", "down", "flat"},
			},
			"price_targets": {
				Type:  "array",
				Items: &jsonschema.Schema{Type: "string"},
			},
		},
		Required:             []string{fieldSchemaType, fieldVersion, "tokens", "tickers"},
		AdditionalProperties: forbidExtra(),
	}
}

// genericContextSchema is the fallback for every other topic.
func genericContextSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			fieldSchemaType: constOf("generic"),
			fieldVersion:    constOf(1),
			"entities": {
				Type:  "array",
				Items: &jsonschema.Schema{Type: "string"},
			},
			"outcome_summary": {Type: "string"},
		},
		Required:             []string{fieldSchemaType, fieldVersion, "entities"},
		AdditionalProperties: forbidExtra(),
	}
}

// Registry resolves topics to context schemas. Topic routing and family
// builders are both registrations, so a new family needs no dispatch edits.
type Registry struct {
	families      map[string]func() *jsonschema.Schema
	topicFamilies map[string]string
	defaultFamily string
}

// NewRegistry creates the registry with the crypto family routed and the
// generic family as the explicit default.
func NewRegistry() *Registry {
	r := &Registry{
		families:      make(map[string]func() *jsonschema.Schema),
		topicFamilies: make(map[string]string),
		defaultFamily: SchemaTypeGeneric,
	}
	r.RegisterFamily(SchemaTypeCrypto, cryptoContextSchema)
	r.RegisterFamily(SchemaTypeGeneric, genericContextSchema)
	for _, topic := range []string{"crypto", "cryptocurrency", "defi", "bitcoin", "ethereum"} {
		r.RegisterTopic(topic, SchemaTypeCrypto)
	}
	return r
}

// RegisterFamily adds a schema family under the given name.
func (r *Registry) RegisterFamily(family string, build func() *jsonschema.Schema) {
	r.families[family] = build
}

// RegisterTopic routes a topic name to a registered schema family.
func (r *Registry) RegisterTopic(topic, family string) {
	r.topicFamilies[normalizeTopic(topic)] = family
}

// familyFor maps a free-form topic name to a schema family, falling back to
// the default family for unrouted topics.
func (r *Registry) familyFor(topic string) string {
	if family, ok := r.topicFamilies[normalizeTopic(topic)]; ok {
		return family
	}
	return r.defaultFamily
}

func normalizeTopic(topic string) string {
	return strings.ToLower(strings.TrimSpace(topic))
}

// SchemaFor returns the full context schema for a topic. Unknown topics get
// the generic schema; this never fails.
func (r *Registry) SchemaFor(topic string) *jsonschema.Schema {
	if build, ok := r.families[r.familyFor(topic)]; ok {
		return build()
	}
	return genericContextSchema()
}

// ForModel returns a copy of schema with the pipeline-assigned metadata
// fields removed, so the model is never asked to produce schema_type or
// version.
func ForModel(schema *jsonschema.Schema) *jsonschema.Schema {
	stripped := &jsonschema.Schema{
		Type:                 schema.Type,
		Properties:           make(map[string]*jsonschema.Schema, len(schema.Properties)),
		AdditionalProperties: schema.AdditionalProperties,
	}
	for name, prop := range schema.Properties {
		if name == fieldSchemaType || name == fieldVersion {
			continue
		}
		stripped.Properties[name] = prop
	}
	for _, req := range schema.Required {
		if req == fieldSchemaType || req == fieldVersion {
			continue
		}
		stripped.Required = append(stripped.Required, req)
	}
	return stripped
}

// ApplyDefaults fills in schema_type and version on a raw context object the
// model produced, then validates it against the topic's full schema.
func (r *Registry) ApplyDefaults(topic string, raw json.RawMessage) (json.RawMessage, error) {
	var ctx map[string]interface{}
	if err := json.Unmarshal(raw, &ctx); err != nil {
		return nil, fmt.Errorf("parse context object: %w", err)
	}

	ctx[fieldSchemaType] = r.familyFor(topic)
	ctx[fieldVersion] = CurrentVersion

	full := r.SchemaFor(topic)
	resolved, err := full.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve context schema: %w", err)
	}

	// Round-trip through JSON so numeric types match what validation expects
	out, err := json.Marshal(ctx)
	if err != nil {
		return nil, fmt.Errorf("marshal context object: %w", err)
	}
	var instance interface{}
	if err := json.Unmarshal(out, &instance); err != nil {
		return nil, fmt.Errorf("reparse context object: %w", err)
	}
	if err := resolved.Validate(instance); err != nil {
		return nil, fmt.Errorf("context failed schema validation: %w", err)
	}
	return out, nil
}
