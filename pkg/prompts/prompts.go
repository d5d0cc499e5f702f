// Package prompts loads TOML prompt templates and renders them with variable
// substitution. Templates are embedded so the filter binary ships self-contained.
package prompts

import (
	"embed"
	"fmt"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"
)

//go:embed templates/*.toml
var templateFS embed.FS

// Template is a parsed prompt file with a fixed system prompt and a user
// template containing {{variable}} placeholders. An optional [vars] table
// declares fragments shared between the system and user sections; they are
// expanded before caller variables.
type Template struct {
	Vars   map[string]string `toml:"vars"`
	System struct {
		Content string `toml:"content"`
	} `toml:"system"`
	User struct {
		Template string `toml:"template"`
	} `toml:"user"`
}

// Loader loads and caches prompt templates.
type Loader struct {
	mu    sync.Mutex
	cache map[string]*Template
}

// NewLoader creates a prompt loader backed by the embedded templates.
func NewLoader() *Loader {
	return &Loader{cache: make(map[string]*Template)}
}

// Load parses the named template, caching the result.
func (l *Loader) Load(name string) (*Template, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cached, ok := l.cache[name]; ok {
		return cached, nil
	}

	raw, err := templateFS.ReadFile("templates/" + name + ".toml")
	if err != nil {
		return nil, fmt.Errorf("load prompt %s: %w", name, err)
	}

	var tmpl Template
	if err := toml.Unmarshal(raw, &tmpl); err != nil {
		return nil, fmt.Errorf("parse prompt %s: %w", name, err)
	}
	if tmpl.System.Content == "" || tmpl.User.Template == "" {
		return nil, fmt.Errorf("prompt %s missing system content or user template", name)
	}

	l.cache[name] = &tmpl
	return &tmpl, nil
}

// Render loads the named template and substitutes {{key}} placeholders.
// Template [vars] fragments expand first, into both sections, then the
// caller's vars into the user template. Returns the system prompt and the
// rendered user prompt.
func (l *Loader) Render(name string, vars map[string]string) (system, user string, err error) {
	tmpl, err := l.Load(name)
	if err != nil {
		return "", "", err
	}

	system = tmpl.System.Content
	user = tmpl.User.Template
	for key, value := range tmpl.Vars {
		system = strings.ReplaceAll(system, "{{"+key+"}}", value)
		user = strings.ReplaceAll(user, "{{"+key+"}}", value)
	}
	for key, value := range vars {
		user = strings.ReplaceAll(user, "{{"+key+"}}", value)
	}

	if err := checkSubstituted(name, system); err != nil {
		return "", "", err
	}
	if err := checkSubstituted(name, user); err != nil {
		return "", "", err
	}

	return system, user, nil
}

func checkSubstituted(name, text string) error {
	if idx := strings.Index(text, "{{"); idx >= 0 {
		end := strings.Index(text[idx:], "}}")
		if end > 0 {
			return fmt.Errorf("prompt %s has unsubstituted variable %s",
				name, text[idx:idx+end+2])
		}
	}
	return nil
}
