package testutil

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/devcrewhq/crew/internal/core"
)

// MockLLM implements core.LLMClient for testing. Responses are consumed in
// order; the last one repeats once the script runs out.
type MockLLM struct {
	mu         sync.Mutex
	responses  []string
	invokeFunc func(context.Context, core.LLMRequest) (*core.LLMResponse, error)
	err        error
	calls      []core.LLMRequest
}

// NewMockLLM creates a mock with a scripted sequence of completions.
func NewMockLLM(responses ...string) *MockLLM {
	return &MockLLM{responses: responses}
}

// WithError makes every invocation fail with err.
func (m *MockLLM) WithError(err error) *MockLLM {
	m.err = err
	return m
}

// WithInvokeFunc sets a custom invoke function.
func (m *MockLLM) WithInvokeFunc(fn func(context.Context, core.LLMRequest) (*core.LLMResponse, error)) *MockLLM {
	m.invokeFunc = fn
	return m
}

// Invoke returns the next scripted completion.
func (m *MockLLM) Invoke(ctx context.Context, req core.LLMRequest) (*core.LLMResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, req)

	if m.invokeFunc != nil {
		return m.invokeFunc(ctx, req)
	}
	if m.err != nil {
		return nil, m.err
	}

	content := ""
	if len(m.responses) > 0 {
		content = m.responses[0]
		if len(m.responses) > 1 {
			m.responses = m.responses[1:]
		}
	}

	return &core.LLMResponse{
		Content:    content,
		StopReason: "end_turn",
		Usage:      core.LLMUsage{InputTokens: 100, OutputTokens: 50},
		Model:      "mock",
	}, nil
}

// InvokeJSON invokes and unmarshals the completion, stripping markdown
// fences the way the real client does.
func (m *MockLLM) InvokeJSON(ctx context.Context, req core.LLMRequest, out interface{}) error {
	resp, err := m.Invoke(ctx, req)
	if err != nil {
		return err
	}

	content := strings.TrimSpace(resp.Content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), out); err != nil {
		return core.ErrValidation(core.CodeResponseParseFailed, "mock response is not valid JSON").WithCause(err)
	}
	return nil
}

// Calls returns the recorded requests.
func (m *MockLLM) Calls() []core.LLMRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]core.LLMRequest, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many invocations happened.
func (m *MockLLM) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
