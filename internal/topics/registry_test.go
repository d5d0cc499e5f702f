package topics

import (
	"encoding/json"
	"testing"
)

func TestSchemaForKnownAndUnknownTopics(t *testing.T) {
	r := NewRegistry()

	crypto := r.SchemaFor("crypto")
	if _, ok := crypto.Properties["tickers"]; !ok {
		t.Error("crypto schema missing tickers")
	}

	// Unknown topics fall back to the generic schema
	generic := r.SchemaFor("weather")
	if _, ok := generic.Properties["entities"]; !ok {
		t.Error("generic schema missing entities")
	}
	if _, ok := generic.Properties["tickers"]; ok {
		t.Error("generic schema should not have tickers")
	}
}

func TestRegisterTopicRoutesToFamily(t *testing.T) {
	r := NewRegistry()

	// Routing a new topic to an existing family is a registration only
	r.RegisterTopic("Solana", SchemaTypeCrypto)
	if _, ok := r.SchemaFor("solana").Properties["tickers"]; !ok {
		t.Error("registered topic did not route to the crypto family")
	}

	// A new family slots in the same way
	r.RegisterFamily("sports", genericContextSchema)
	r.RegisterTopic("football", "sports")
	if _, ok := r.SchemaFor("football").Properties["entities"]; !ok {
		t.Error("registered family not used for its topic")
	}

	// Everything unrouted still lands on the default
	if got := r.familyFor("weather"); got != SchemaTypeGeneric {
		t.Errorf("default family = %s, want %s", got, SchemaTypeGeneric)
	}
}

func TestForModelStripsMetadata(t *testing.T) {
	r := NewRegistry()
	full := r.SchemaFor("crypto")
	stripped := ForModel(full)

	if _, ok := stripped.Properties["schema_type"]; ok {
		t.Error("schema_type exposed to the model")
	}
	if _, ok := stripped.Properties["version"]; ok {
		t.Error("version exposed to the model")
	}
	if _, ok := stripped.Properties["tickers"]; !ok {
		t.Error("domain field missing from model schema")
	}
	for _, req := range stripped.Required {
		if req == "schema_type" || req == "version" {
			t.Errorf("metadata field %s still required", req)
		}
	}

	// Original must be untouched
	if _, ok := full.Properties["schema_type"]; !ok {
		t.Error("ForModel mutated the source schema")
	}
}

func TestApplyDefaultsFillsMetadata(t *testing.T) {
	r := NewRegistry()

	raw := json.RawMessage(`{"tokens":["ethereum"],"tickers":["ETH"],"direction":"up"}`)
	out, err := r.ApplyDefaults("crypto", raw)
	if err != nil {
		t.Fatalf("ApplyDefaults failed: %v", err)
	}

	var ctx map[string]interface{}
	if err := json.Unmarshal(out, &ctx); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if ctx["schema_type"] != "crypto" {
		t.Errorf("schema_type = %v, want crypto", ctx["schema_type"])
	}
	if ctx["version"] != float64(1) {
		t.Errorf("version = %v, want 1", ctx["version"])
	}
}

func TestApplyDefaultsGenericFallback(t *testing.T) {
	r := NewRegistry()

	raw := json.RawMessage(`{"entities":["OpenAI"],"outcome_summary":"AGI by 2027"}`)
	out, err := r.ApplyDefaults("technology", raw)
	if err != nil {
		t.Fatalf("ApplyDefaults failed: %v", err)
	}

	var ctx map[string]interface{}
	if err := json.Unmarshal(out, &ctx); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if ctx["schema_type"] != "generic" {
		t.Errorf("schema_type = %v, want generic", ctx["schema_type"])
	}
}

func TestApplyDefaultsRejectsInvalidContext(t *testing.T) {
	r := NewRegistry()

	// tickers must be uppercase symbols
	raw := json.RawMessage(`{"tokens":["ethereum"],"tickers":["eth lowercase bad"]}`)
	if _, err := r.ApplyDefaults("crypto", raw); err == nil {
		t.Error("expected validation error for malformed ticker")
	}

	if _, err := r.ApplyDefaults("crypto", json.RawMessage(`not json`)); err == nil {
		t.Error("expected parse error for invalid JSON")
	}
}
