package prompts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_RenderGeneration(t *testing.T) {
	set, err := Default()
	require.NoError(t, err)
	assert.NotEmpty(t, set.Version)

	tests := []struct {
		name        string
		input       GenerationInput
		contains    []string
		notContains []string
	}{
		{
			name:        "first iteration",
			input:       GenerationInput{SourceSpec: "openapi: 3.0.0"},
			contains:    []string{"Swagger/OpenAPI spec:\nopenapi: 3.0.0"},
			notContains: []string{"Previous feedback", "Existing tool configuration"},
		},
		{
			name: "retry with feedback and prior configuration",
			input: GenerationInput{
				SourceSpec:         "openapi: 3.0.0",
				Feedback:           "missing POST /users",
				PriorConfiguration: `{"tools":[]}`,
			},
			contains: []string{
				"Previous feedback to improve:\nmissing POST /users",
				"Existing tool configuration to build upon:\n{\"tools\":[]}",
			},
		},
		{
			name: "feedback only",
			input: GenerationInput{
				SourceSpec: "openapi: 3.0.0",
				Feedback:   "add descriptions",
			},
			contains:    []string{"add descriptions"},
			notContains: []string{"Existing tool configuration"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prompt, err := set.RenderGeneration(tt.input)
			require.NoError(t, err)
			for _, s := range tt.contains {
				assert.Contains(t, prompt, s)
			}
			for _, s := range tt.notContains {
				assert.NotContains(t, prompt, s)
			}
		})
	}
}

func TestDefault_RenderValidation(t *testing.T) {
	set, err := Default()
	require.NoError(t, err)

	prompt, err := set.RenderValidation(ValidationInput{
		SourceSpec:    "swagger: '2.0'",
		Configuration: `{"tools":[{"name":"list_pets"}]}`,
	})
	require.NoError(t, err)
	assert.Contains(t, prompt, "Original Swagger spec:\nswagger: '2.0'")
	assert.Contains(t, prompt, `Generated tool config:`)
	assert.Contains(t, prompt, `list_pets`)
	assert.NotContains(t, prompt, "Generated documentation:")

	prompt, err = set.RenderValidation(ValidationInput{
		SourceSpec:    "swagger: '2.0'",
		Configuration: "{}",
		Documentation: "Lists pets.",
	})
	require.NoError(t, err)
	assert.Contains(t, prompt, "Generated documentation:\nLists pets.")
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "invalid yaml", data: "version: [unterminated"},
		{name: "missing version", data: "config_generator:\n  system_prompt: x\nreflection:\n  system_prompt: y\n"},
		{name: "missing reflection", data: "version: v1\nconfig_generator:\n  system_prompt: x\n"},
		{name: "bad template", data: "version: v1\nconfig_generator:\n  system_prompt: \"{{ .SourceSpec \"\nreflection:\n  system_prompt: y\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestRender_UnknownFieldFails(t *testing.T) {
	set, err := Parse([]byte("version: v1\nconfig_generator:\n  system_prompt: \"{{ .Nope }}\"\nreflection:\n  system_prompt: y\n"))
	require.NoError(t, err)

	_, err = set.RenderGeneration(GenerationInput{SourceSpec: "x"})
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: custom\nconfig_generator:\n  system_prompt: \"gen {{ .SourceSpec }}\"\nreflection:\n  system_prompt: \"val {{ .Configuration }}\"\n"), 0o600))

	set, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "custom", set.Version)

	prompt, err := set.RenderGeneration(GenerationInput{SourceSpec: "spec"})
	require.NoError(t, err)
	assert.Equal(t, "gen spec", prompt)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
