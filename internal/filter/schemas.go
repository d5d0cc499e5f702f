package filter

import "github.com/google/jsonschema-go/jsonschema"

func noExtra() *jsonschema.Schema {
	return &jsonschema.Schema{Not: &jsonschema.Schema{}}
}

func constOf(v interface{}) *jsonschema.Schema {
	c := v
	return &jsonschema.Schema{Const: &c}
}

// verdictSchema is the stage-1 binary filter response.
func verdictSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"has_prediction": {Type: "boolean"},
		},
		Required:             []string{"has_prediction"},
		AdditionalProperties: noExtra(),
	}
}

// topicSchema is the stage-2 classification response.
func topicSchema() *jsonschema.Schema {
	one := 1
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"topic": {Type: "string", MinLength: &one},
		},
		Required:             []string{"topic"},
		AdditionalProperties: noExtra(),
	}
}

func sliceSchema() *jsonschema.Schema {
	one := 1
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"tweet_id": {Type: "string"},
			"text":     {Type: "string", MinLength: &one},
		},
		Required:             []string{"tweet_id", "text"},
		AdditionalProperties: noExtra(),
	}
}

func decimalString() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:    "string",
		Pattern: `^(0(\.[0-9]+)?|1(\.0+)?)$`,
	}
}

// extractionSchema is the stage-3 response: a discriminated union on
// has_prediction, with the topic-specific context schema plugged in.
func extractionSchema(contextSchema *jsonschema.Schema) *jsonschema.Schema {
	one := 1
	zero := 0.0
	hundred := 100.0
	maxRationale := 400

	dataSchema := &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"target": {
				Type:     "array",
				Items:    sliceSchema(),
				MinItems: &one,
			},
			"timeframe": {
				Type:     "array",
				Items:    sliceSchema(),
				MinItems: &one,
			},
			"topicName":         {Type: "string", MinLength: &one},
			"predictionQuality": {Type: "integer", Minimum: &zero, Maximum: &hundred},
			"briefRationale":    {Type: "string", MaxLength: &maxRationale},
			"llmConfidence":     decimalString(),
			"vagueness": {
				AnyOf: []*jsonschema.Schema{
					decimalString(),
					{Type: "null"},
				},
			},
			"context": contextSchema,
		},
		Required: []string{
			"target", "timeframe", "topicName", "predictionQuality",
			"briefRationale", "llmConfidence", "vagueness", "context",
		},
		AdditionalProperties: noExtra(),
	}

	noPrediction := &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"has_prediction":  constOf(false),
			"prediction_data": {Type: "null"},
		},
		Required:             []string{"has_prediction", "prediction_data"},
		AdditionalProperties: noExtra(),
	}

	foundPrediction := &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"has_prediction":  constOf(true),
			"prediction_data": dataSchema,
		},
		Required:             []string{"has_prediction", "prediction_data"},
		AdditionalProperties: noExtra(),
	}

	return &jsonschema.Schema{
		AnyOf: []*jsonschema.Schema{noPrediction, foundPrediction},
	}
}
