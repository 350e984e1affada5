package helpers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// TestUser represents a test user fixture
type TestUser struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Default test fixtures
var (
	DefaultTestUser = TestUser{
		Name:     "Test User",
		Email:    "test@example.com",
		Password: "test-password-123",
	}
)

// PetstoreSwagger is a small Swagger 2.0 document with three operations.
const PetstoreSwagger = `swagger: "2.0"
info:
  title: Petstore
  version: "1.0"
host: petstore.example.com
basePath: /v1
paths:
  /pets:
    get:
      operationId: listPets
      summary: List all pets
      parameters:
        - name: limit
          in: query
          type: integer
      responses:
        "200":
          description: A list of pets
    post:
      operationId: createPet
      summary: Create a pet
      responses:
        "201":
          description: Created
  /pets/{petId}:
    get:
      operationId: showPetById
      summary: Info for a specific pet
      parameters:
        - name: petId
          in: path
          required: true
          type: string
      responses:
        "200":
          description: A pet
`

// PetstoreToolConfig is a configuration a generator might return for PetstoreSwagger.
const PetstoreToolConfig = `{"server":{"name":"petstore","base_url":"https://petstore.example.com/v1"},"tools":[{"name":"list_pets","method":"GET","path":"/pets"},{"name":"create_pet","method":"POST","path":"/pets"},{"name":"show_pet_by_id","method":"GET","path":"/pets/{petId}"}]}`

// Verdict is one scripted reviewer answer.
type Verdict struct {
	Correct bool
	Score   int
	Reason  string
}

// FakeLLM is an OpenAI compatible chat completions server. Requests for the
// generator model get a generation payload, all others get the next scripted
// verdict. The last verdict repeats once the script is exhausted.
type FakeLLM struct {
	Server         *httptest.Server
	GeneratorModel string

	mu          sync.Mutex
	verdicts    []Verdict
	generations int
	validations int
	prompts     []string
}

// NewFakeLLM starts a server that is closed when the test finishes.
func NewFakeLLM(t *testing.T, generatorModel string, verdicts ...Verdict) *FakeLLM {
	t.Helper()
	f := &FakeLLM{GeneratorModel: generatorModel, verdicts: verdicts}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Server.Close)
	return f
}

// BaseURL is the value for llm.base_url.
func (f *FakeLLM) BaseURL() string {
	return f.Server.URL + "/v1"
}

// Calls returns how many generation and validation requests were served.
func (f *FakeLLM) Calls() (generations, validations int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.generations, f.validations
}

// Prompts returns every prompt received, in order.
func (f *FakeLLM) Prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

func (f *FakeLLM) serve(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
		http.NotFound(w, r)
		return
	}
	var req struct {
		Model    string `json:"model"`
		Messages []struct {
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	for _, m := range req.Messages {
		f.prompts = append(f.prompts, m.Content)
	}
	var content any
	if req.Model == f.GeneratorModel {
		f.generations++
		content = map[string]string{
			"analysis":      "Petstore exposes three pet operations.",
			"tool_config":   PetstoreToolConfig,
			"documentation": "# Petstore tools",
			"requirements":  "httpx",
		}
	} else {
		v := Verdict{Correct: true, Score: 90, Reason: "complete"}
		if len(f.verdicts) > 0 {
			idx := f.validations
			if idx >= len(f.verdicts) {
				idx = len(f.verdicts) - 1
			}
			v = f.verdicts[idx]
		}
		f.validations++
		content = map[string]any{
			"is_everything_correct": v.Correct,
			"score":                 v.Score,
			"reason":                v.Reason,
		}
	}
	f.mu.Unlock()

	encoded, _ := json.Marshal(content)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"id":     "chatcmpl-test",
		"object": "chat.completion",
		"model":  req.Model,
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": string(encoded)},
			"finish_reason": "stop",
		}},
	})
}

// CreateTestLoginRequest creates a login request payload
func CreateTestLoginRequest(email, password string) map[string]interface{} {
	return map[string]interface{}{
		"email":    email,
		"password": password,
	}
}

// CreateConversionRequest creates an inline conversion request payload
func CreateConversionRequest(content string) map[string]interface{} {
	return map[string]interface{}{
		"swagger_content": content,
	}
}
