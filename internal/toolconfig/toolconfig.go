// Package toolconfig decodes and summarizes generated tool configurations for
// presentation. A configuration that does not decode is a degraded result,
// never a run failure.
package toolconfig

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrConfigurationDecode is returned when configuration text is not a JSON object.
var ErrConfigurationDecode = errors.New("configuration is not a valid JSON object")

// Summary describes a decoded configuration.
type Summary struct {
	ServerName string   `json:"server_name,omitempty"`
	ToolCount  int      `json:"tool_count"`
	ToolNames  []string `json:"tool_names"`
}

// Decode parses configuration text into a JSON object.
func Decode(raw string) (map[string]any, error) {
	var obj map[string]any
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigurationDecode, err)
	}
	if obj == nil {
		return nil, fmt.Errorf("%w: got null", ErrConfigurationDecode)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data", ErrConfigurationDecode)
	}
	return obj, nil
}

// InvalidPlaceholder is presented in place of a configuration that failed to decode.
func InvalidPlaceholder() map[string]any {
	return map[string]any{"error": "Invalid JSON generated"}
}

// Presentable returns the decoded configuration and true, or the invalid
// placeholder and false.
func Presentable(raw string) (map[string]any, bool) {
	obj, err := Decode(raw)
	if err != nil {
		return InvalidPlaceholder(), false
	}
	return obj, true
}

// Summarize reports the server name and tools of a decoded configuration.
// Tools may be declared as a name-keyed object or as a list of objects with
// a "name" field.
func Summarize(cfg map[string]any) Summary {
	s := Summary{ToolNames: []string{}}

	if server, ok := cfg["server"].(map[string]any); ok {
		if name, ok := server["name"].(string); ok {
			s.ServerName = name
		}
	}

	switch tools := cfg["tools"].(type) {
	case map[string]any:
		for name := range tools {
			s.ToolNames = append(s.ToolNames, name)
		}
		sort.Strings(s.ToolNames)
	case []any:
		for _, t := range tools {
			tool, ok := t.(map[string]any)
			if !ok {
				continue
			}
			if name, ok := tool["name"].(string); ok {
				s.ToolNames = append(s.ToolNames, name)
			}
		}
		s.ToolCount = len(tools)
		return s
	}
	s.ToolCount = len(s.ToolNames)
	return s
}

// Pretty re-indents configuration text with two spaces. Text that is not
// valid JSON is returned unchanged with ErrConfigurationDecode.
func Pretty(raw string) ([]byte, error) {
	if _, err := Decode(raw); err != nil {
		return []byte(raw), err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(strings.TrimSpace(raw)), "", "  "); err != nil {
		return []byte(raw), fmt.Errorf("%w: %w", ErrConfigurationDecode, err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
