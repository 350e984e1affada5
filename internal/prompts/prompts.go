// Package prompts holds the versioned prompt templates for the generation
// and validation steps.
package prompts

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPrompts []byte

// File is the on-disk layout of a prompt set.
type File struct {
	Version         string `yaml:"version"`
	ConfigGenerator struct {
		SystemPrompt string `yaml:"system_prompt"`
	} `yaml:"config_generator"`
	Reflection struct {
		SystemPrompt string `yaml:"system_prompt"`
	} `yaml:"reflection"`
}

// Set is a parsed, ready to render prompt set.
type Set struct {
	Version    string
	generation *template.Template
	validation *template.Template
}

// GenerationInput fills the generation template. Empty fields are omitted
// from the rendered prompt.
type GenerationInput struct {
	SourceSpec         string
	Feedback           string
	PriorConfiguration string
}

// ValidationInput fills the validation template.
type ValidationInput struct {
	SourceSpec    string
	Configuration string
	Documentation string
}

// Default returns the embedded prompt set.
func Default() (*Set, error) {
	return Parse(defaultPrompts)
}

// Load reads a prompt set from path.
func Load(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts file: %w", err)
	}
	return Parse(data)
}

// Parse parses a YAML prompt set.
func Parse(data []byte) (*Set, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse prompts: %w", err)
	}
	if strings.TrimSpace(f.Version) == "" {
		return nil, fmt.Errorf("prompts version is required")
	}

	generation, err := parseTemplate("config_generator", f.ConfigGenerator.SystemPrompt)
	if err != nil {
		return nil, err
	}
	validation, err := parseTemplate("reflection", f.Reflection.SystemPrompt)
	if err != nil {
		return nil, err
	}

	return &Set{Version: f.Version, generation: generation, validation: validation}, nil
}

func parseTemplate(name, text string) (*template.Template, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%s.system_prompt is required", name)
	}
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s prompt: %w", name, err)
	}
	return tmpl, nil
}

// RenderGeneration renders the generation prompt.
func (s *Set) RenderGeneration(in GenerationInput) (string, error) {
	return render(s.generation, in)
}

// RenderValidation renders the validation prompt.
func (s *Set) RenderValidation(in ValidationInput) (string, error) {
	return render(s.validation, in)
}

func render(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s prompt: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}
