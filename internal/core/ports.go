package core

import "context"

// LLMRequest carries one prompt to the language model.
type LLMRequest struct {
	Prompt       string
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
}

// LLMUsage reports token consumption for one invocation.
type LLMUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// LLMResponse is the transducer output.
type LLMResponse struct {
	Content    string
	StopReason string
	Usage      LLMUsage
	Model      string
}

// LLMClient is the opaque text transducer the planner and workers delegate
// content generation to.
type LLMClient interface {
	// Invoke sends a prompt and returns the raw completion.
	Invoke(ctx context.Context, req LLMRequest) (*LLMResponse, error)

	// InvokeJSON sends a prompt, strips fenced code blocks from the
	// completion, and unmarshals the remainder into out.
	InvokeJSON(ctx context.Context, req LLMRequest, out interface{}) error
}
