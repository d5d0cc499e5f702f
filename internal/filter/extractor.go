// Package filter implements the prediction extraction pipeline and the agent
// loop that drives it against the swarm API.
package filter

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	api "github.com/renlabs-dev/prediction-swarm/pkg/api/swarm"
	"github.com/renlabs-dev/prediction-swarm/internal/topics"
	"github.com/renlabs-dev/prediction-swarm/pkg/logging"
	"github.com/renlabs-dev/prediction-swarm/pkg/prompts"
	"github.com/renlabs-dev/prediction-swarm/pkg/signing"
	"github.com/renlabs-dev/prediction-swarm/pkg/textslice"
)

// MinQuality is the exclusive quality floor. Extractions scoring at or below
// it are discarded.
const MinQuality = 50

// StructuredCompleter is the slice of the LLM gateway the pipeline needs.
type StructuredCompleter interface {
	CompleteStructured(ctx context.Context, system, user, schemaName string, schema *jsonschema.Schema, out interface{}) error
}

// Stats are the pipeline's running counters.
type Stats struct {
	Processed    int64
	Filtered     int64
	NoPrediction int64
	LowQuality   int64
	Extracted    int64
}

// Extractor runs the three-stage extraction pipeline over single tweets.
type Extractor struct {
	check    StructuredCompleter
	classify StructuredCompleter
	extract  StructuredCompleter

	prompts  *prompts.Loader
	registry *topics.Registry
	keypair  *signing.Keypair
	logger   logging.Logger

	processed    atomic.Int64
	filtered     atomic.Int64
	noPrediction atomic.Int64
	lowQuality   atomic.Int64
	extracted    atomic.Int64
}

// NewExtractor wires the pipeline. The three completers may share one gateway
// or use different models per stage.
func NewExtractor(check, classify, extract StructuredCompleter, loader *prompts.Loader, registry *topics.Registry, keypair *signing.Keypair, logger logging.Logger) *Extractor {
	return &Extractor{
		check:    check,
		classify: classify,
		extract:  extract,
		prompts:  loader,
		registry: registry,
		keypair:  keypair,
		logger:   logger,
	}
}

// Stats returns a snapshot of the counters.
func (e *Extractor) Stats() Stats {
	return Stats{
		Processed:    e.processed.Load(),
		Filtered:     e.filtered.Load(),
		NoPrediction: e.noPrediction.Load(),
		LowQuality:   e.lowQuality.Load(),
		Extracted:    e.extracted.Load(),
	}
}

type predictionVerdict struct {
	HasPrediction bool `json:"has_prediction"`
}

type topicVerdict struct {
	Topic string `json:"topic"`
}

// llmSlice is how the model references text: a tweet id plus the quoted text,
// converted to byte offsets afterwards.
type llmSlice struct {
	TweetID string `json:"tweet_id"`
	Text    string `json:"text"`
}

type llmPredictionData struct {
	Target            []llmSlice      `json:"target"`
	Timeframe         []llmSlice      `json:"timeframe"`
	TopicName         string          `json:"topicName"`
	PredictionQuality int             `json:"predictionQuality"`
	BriefRationale    string          `json:"briefRationale"`
	LLMConfidence     string          `json:"llmConfidence"`
	Vagueness         *string         `json:"vagueness"`
	Context           json.RawMessage `json:"context"`
}

type llmExtraction struct {
	HasPrediction  bool               `json:"has_prediction"`
	PredictionData *llmPredictionData `json:"prediction_data"`
}

// Extract runs the pipeline on one tweet with its context. A nil item with a
// nil error means the tweet was filtered out (no prediction or low quality).
func (e *Extractor) Extract(ctx context.Context, tweet api.TweetWithContext) (*api.StorePredictionItem, error) {
	e.processed.Add(1)
	mainID := strconv.FormatInt(tweet.Main.ID, 10)

	contextBlock := formatContextTweets(tweet.Context)

	// Stage 1: fast binary filter with the cheap model
	system, user, err := e.prompts.Render("check-has-prediction", map[string]string{
		"tweet_text":     tweet.Main.Text,
		"context_tweets": contextBlock,
	})
	if err != nil {
		return nil, err
	}
	var verdict predictionVerdict
	if err := e.check.CompleteStructured(ctx, system, user, "prediction_check", verdictSchema(), &verdict); err != nil {
		return nil, fmt.Errorf("prediction check for tweet %s: %w", mainID, err)
	}
	if !verdict.HasPrediction {
		e.filtered.Add(1)
		e.logger.WithField("tweet_id", mainID).Debug("Tweet filtered out, no prediction")
		return nil, nil
	}

	// Stage 2: topic classification
	system, user, err = e.prompts.Render("classify-topic", map[string]string{
		"tweet_text":     tweet.Main.Text,
		"context_tweets": contextBlock,
	})
	if err != nil {
		return nil, err
	}
	var topic topicVerdict
	if err := e.classify.CompleteStructured(ctx, system, user, "topic_classification", topicSchema(), &topic); err != nil {
		return nil, fmt.Errorf("topic classification for tweet %s: %w", mainID, err)
	}
	e.logger.WithFields(logging.Fields{
		"tweet_id": mainID,
		"topic":    topic.Topic,
	}).Debug("Tweet classified")

	// Stage 3: full extraction over entity-decoded text
	decodedMain := html.UnescapeString(tweet.Main.Text)
	decodedContext := make(map[string]api.TweetView, len(tweet.Context))
	for id, ctxTweet := range tweet.Context {
		ctxTweet.Text = html.UnescapeString(ctxTweet.Text)
		decodedContext[id] = ctxTweet
	}
	contextJSON, err := json.MarshalIndent(decodedContext, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal context tweets: %w", err)
	}

	system, user, err = e.prompts.Render("extract-predictions", map[string]string{
		"tweet_id":        mainID,
		"tweet_text":      decodedMain,
		"author_username": tweet.Main.AuthorUsername,
		"tweet_date":      tweet.Main.Date.UTC().Format(time.RFC3339),
		"context_tweets":  string(contextJSON),
	})
	if err != nil {
		return nil, err
	}

	// The model sees the context schema without the pipeline-assigned
	// metadata fields; they are filled in after the fact.
	contextSchema := e.registry.SchemaFor(topic.Topic)
	modelSchema := extractionSchema(topics.ForModel(contextSchema))

	var extraction llmExtraction
	if err := e.extract.CompleteStructured(ctx, system, user, "prediction_extraction", modelSchema, &extraction); err != nil {
		return nil, fmt.Errorf("extraction for tweet %s: %w", mainID, err)
	}

	if !extraction.HasPrediction || extraction.PredictionData == nil {
		e.noPrediction.Add(1)
		e.logger.WithField("tweet_id", mainID).Debug("No prediction found in extraction")
		return nil, nil
	}
	data := extraction.PredictionData

	if data.PredictionQuality <= MinQuality {
		e.lowQuality.Add(1)
		e.logger.WithFields(logging.Fields{
			"tweet_id": mainID,
			"quality":  data.PredictionQuality,
		}).Debug("Low quality prediction rejected")
		return nil, nil
	}

	contextObj, err := e.registry.ApplyDefaults(topic.Topic, data.Context)
	if err != nil {
		return nil, fmt.Errorf("context defaults for tweet %s: %w", mainID, err)
	}

	// Map of decoded texts for slice location
	texts := map[string]string{mainID: decodedMain}
	for id, ctxTweet := range decodedContext {
		texts[id] = ctxTweet.Text
	}

	target, err := e.resolveSlices(data.Target, texts)
	if err != nil {
		return nil, fmt.Errorf("locate target for tweet %s: %w", mainID, err)
	}
	timeframe, err := e.resolveSlices(data.Timeframe, texts)
	if err != nil {
		return nil, fmt.Errorf("locate timeframe for tweet %s: %w", mainID, err)
	}

	content := api.PredictionContent{
		TweetID: tweet.Main.ID,
		SentAt:  time.Now().UTC(),
		Prediction: api.PredictionDetail{
			Target:            target,
			Timeframe:         timeframe,
			TopicName:         topic.Topic,
			PredictionQuality: data.PredictionQuality,
			BriefRationale:    data.BriefRationale,
			LLMConfidence:     data.LLMConfidence,
			Vagueness:         data.Vagueness,
			Context:           contextObj,
		},
	}

	_, sig, err := e.keypair.SignContent(content)
	if err != nil {
		return nil, fmt.Errorf("sign prediction for tweet %s: %w", mainID, err)
	}

	e.extracted.Add(1)
	e.logger.WithFields(logging.Fields{
		"tweet_id": mainID,
		"topic":    topic.Topic,
		"quality":  data.PredictionQuality,
	}).Info("Prediction extracted")

	return &api.StorePredictionItem{
		Content: content,
		Metadata: api.StorePredictionItemMetadata{
			Signature: sig,
			Version:   api.ContentVersion,
		},
	}, nil
}

// resolveSlices converts the model's quoted slices to byte ranges. A missing
// tweet id fails the whole extraction, no partial results.
func (e *Extractor) resolveSlices(slices []llmSlice, texts map[string]string) ([]api.PostSlice, error) {
	refs := make([]textslice.Ref, len(slices))
	for i, s := range slices {
		refs[i] = textslice.Ref{SourceID: s.TweetID, Fragment: s.Text}
	}
	located, err := textslice.LocateAll(texts, refs)
	if err != nil {
		return nil, err
	}

	out := make([]api.PostSlice, 0, len(located))
	for i, l := range located {
		if l.Slice.Ambiguous {
			e.logger.WithFields(logging.Fields{
				"tweet_id": l.SourceID,
				"fragment": slices[i].Text,
			}).Warn("Ambiguous slice, keeping first occurrence")
		}
		id, err := strconv.ParseInt(l.SourceID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid tweet id %q in slice", l.SourceID)
		}
		out = append(out, api.PostSlice{
			Source: api.SliceSource{TweetID: id},
			Start:  l.Slice.Start,
			End:    l.Slice.End,
		})
	}
	return out, nil
}

func formatContextTweets(ctxTweets map[string]api.TweetView) string {
	if len(ctxTweets) == 0 {
		return "None"
	}
	ids := make([]string, 0, len(ctxTweets))
	for id := range ctxTweets {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b []byte
	for _, id := range ids {
		b = append(b, id...)
		b = append(b, ": "...)
		b = append(b, ctxTweets[id].Text...)
		b = append(b, '\n')
	}
	return string(b)
}
