// Package prompt loads named prompt templates with variable substitution.
// Templates are embedded at build time so deployments never depend on a
// prompts directory being present next to the binary.
package prompt

import (
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strings"
	"sync"
	"text/template"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var fieldRe = regexp.MustCompile(`{{\s*\.([A-Za-z_][A-Za-z0-9_]*)`)

// NotFoundError indicates no template with the requested name is embedded.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("prompt template not found: %s", e.Name)
}

// MissingVariableError indicates a template referenced a variable the caller
// did not supply.
type MissingVariableError struct {
	Template string
	Key      string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("missing required variable %q for prompt %q", e.Key, e.Template)
}

// Store parses and caches embedded templates. Safe for concurrent use.
type Store struct {
	mu    sync.Mutex
	cache map[string]*template.Template
	fsys  fs.FS
}

// NewStore creates a store over the embedded templates.
func NewStore() *Store {
	return &Store{cache: map[string]*template.Template{}, fsys: templateFS}
}

// Load renders the named template (no extension) with the given variables.
// Every variable the template references must be present in vars.
func (s *Store) Load(name string, vars map[string]any) (string, error) {
	tmpl, raw, err := s.get(name)
	if err != nil {
		return "", err
	}
	for _, m := range fieldRe.FindAllStringSubmatch(raw, -1) {
		if _, ok := vars[m[1]]; !ok {
			return "", &MissingVariableError{Template: name, Key: m[1]}
		}
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, vars); err != nil {
		return "", fmt.Errorf("render prompt %q: %w", name, err)
	}
	return sb.String(), nil
}

// Names lists the available template names, sorted.
func (s *Store) Names() []string {
	entries, err := fs.ReadDir(s.fsys, "templates")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".tmpl"))
	}
	sort.Strings(names)
	return names
}

func (s *Store) get(name string) (*template.Template, string, error) {
	path := "templates/" + name + ".tmpl"
	raw, err := fs.ReadFile(s.fsys, path)
	if err != nil {
		return nil, "", &NotFoundError{Name: name}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tmpl, ok := s.cache[name]; ok {
		return tmpl, string(raw), nil
	}
	tmpl, err := template.New(name).Option("missingkey=error").Parse(string(raw))
	if err != nil {
		return nil, "", fmt.Errorf("parse prompt %q: %w", name, err)
	}
	s.cache[name] = tmpl
	return tmpl, string(raw), nil
}
