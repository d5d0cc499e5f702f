package prompts

import (
	"strings"
	"testing"
)

func TestLoadAllTemplates(t *testing.T) {
	loader := NewLoader()
	for _, name := range []string{"check-has-prediction", "classify-topic", "extract-predictions"} {
		tmpl, err := loader.Load(name)
		if err != nil {
			t.Fatalf("Load(%s) failed: %v", name, err)
		}
		if tmpl.System.Content == "" {
			t.Errorf("%s: empty system content", name)
		}
		if tmpl.User.Template == "" {
			t.Errorf("%s: empty user template", name)
		}
	}
}

func TestRenderSubstitutesVariables(t *testing.T) {
	loader := NewLoader()

	system, user, err := loader.Render("check-has-prediction", map[string]string{
		"tweet_text":     "ETH will flip BTC by 2030",
		"context_tweets": "None",
	})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if system == "" {
		t.Error("empty system prompt")
	}
	if !strings.Contains(user, "ETH will flip BTC by 2030") {
		t.Errorf("tweet text not substituted: %s", user)
	}
	if strings.Contains(user, "{{") {
		t.Errorf("unsubstituted placeholder remains: %s", user)
	}
}

func TestRenderExpandsSharedFragments(t *testing.T) {
	loader := NewLoader()

	for _, name := range []string{"check-has-prediction", "extract-predictions"} {
		system, _, err := loader.Render(name, map[string]string{
			"tweet_text":      "gold hits 3k by December",
			"context_tweets":  "None",
			"tweet_id":        "1",
			"author_username": "trader",
			"tweet_date":      "2026-01-01",
		})
		if err != nil {
			t.Fatalf("Render(%s) failed: %v", name, err)
		}
		// The validity criteria fragment from [vars] lands in the system prompt
		if !strings.Contains(system, "could later be judged") {
			t.Errorf("%s: validity criteria fragment missing from system prompt", name)
		}
		if strings.Contains(system, "{{validity_criteria}}") {
			t.Errorf("%s: fragment placeholder left unexpanded", name)
		}
	}
}

func TestRenderFailsOnMissingVariable(t *testing.T) {
	loader := NewLoader()

	_, _, err := loader.Render("check-has-prediction", map[string]string{
		"tweet_text": "something",
	})
	if err == nil {
		t.Error("expected error for unsubstituted variable")
	}
}

func TestLoadUnknownTemplate(t *testing.T) {
	loader := NewLoader()
	if _, err := loader.Load("does-not-exist"); err == nil {
		t.Error("expected error for unknown template")
	}
}
