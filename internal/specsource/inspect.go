package specsource

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi2"
	"github.com/getkin/kin-openapi/openapi2conv"
	"github.com/getkin/kin-openapi/openapi3"
	"gopkg.in/yaml.v3"
)

// Operation is one method/path pair declared by a document.
type Operation struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	OperationID string `json:"operation_id,omitempty"`
	Summary     string `json:"summary,omitempty"`
}

// Summary describes a parsed API document.
type Summary struct {
	Title          string      `json:"title"`
	Version        string      `json:"version"`
	OpenAPIVersion string      `json:"openapi_version"`
	Paths          int         `json:"paths"`
	Operations     []Operation `json:"operations"`
}

// Inspect parses an OpenAPI 3 or Swagger 2 document, in JSON or YAML, and
// lists its operations sorted by path then method.
func Inspect(content string) (*Summary, error) {
	var probe struct {
		Swagger string `yaml:"swagger"`
		OpenAPI string `yaml:"openapi"`
	}
	if err := yaml.Unmarshal([]byte(content), &probe); err != nil {
		return nil, fmt.Errorf("document is neither JSON nor YAML: %w", err)
	}

	var (
		doc     *openapi3.T
		err     error
		version string
	)
	switch {
	case strings.HasPrefix(probe.Swagger, "2"):
		version = probe.Swagger
		doc, err = loadSwagger2(content)
	case probe.OpenAPI != "":
		version = probe.OpenAPI
		doc, err = openapi3.NewLoader().LoadFromData([]byte(content))
	default:
		return nil, fmt.Errorf("document declares neither openapi nor swagger version")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse API document: %w", err)
	}

	summary := &Summary{OpenAPIVersion: version}
	if doc.Info != nil {
		summary.Title = doc.Info.Title
		summary.Version = doc.Info.Version
	}
	if doc.Paths != nil {
		for path, item := range doc.Paths.Map() {
			summary.Paths++
			for method, op := range item.Operations() {
				summary.Operations = append(summary.Operations, Operation{
					Method:      method,
					Path:        path,
					OperationID: op.OperationID,
					Summary:     op.Summary,
				})
			}
		}
	}
	sort.Slice(summary.Operations, func(i, j int) bool {
		a, b := summary.Operations[i], summary.Operations[j]
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.Method < b.Method
	})
	return summary, nil
}

func loadSwagger2(content string) (*openapi3.T, error) {
	var raw map[string]any
	if err := yaml.Unmarshal([]byte(content), &raw); err != nil {
		return nil, err
	}
	data, err := json.Marshal(stringKeys(raw))
	if err != nil {
		return nil, err
	}

	var doc2 openapi2.T
	if err := json.Unmarshal(data, &doc2); err != nil {
		return nil, err
	}
	return openapi2conv.ToV3(&doc2)
}

// stringKeys converts YAML mappings with non-string keys, such as unquoted
// response codes, into JSON-encodable maps.
func stringKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = stringKeys(val)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = stringKeys(val)
		}
		return out
	case []any:
		for i, val := range t {
			t[i] = stringKeys(val)
		}
		return t
	default:
		return v
	}
}
