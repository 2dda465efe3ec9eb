// Package llm provides the Bedrock-backed language model client. The rest
// of the system sees it through core.LLMClient and treats the model as an
// opaque text transducer.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"

	"github.com/devcrewhq/crew/internal/core"
	"github.com/devcrewhq/crew/internal/logging"
)

const anthropicVersion = "bedrock-2023-05-31"

// Runtime is the subset of the Bedrock runtime API the client uses.
type Runtime interface {
	InvokeModel(ctx context.Context, in *bedrockruntime.InvokeModelInput,
		optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Options configures the client.
type Options struct {
	// Profile selects a shared-config profile; empty uses the SDK default
	// credential chain.
	Profile string
	Region  string
	ModelID string
	// MaxTokens and Temperature apply when a request leaves them zero.
	MaxTokens   int
	Temperature float64
	// RequestsPerSecond paces invocations across every agent sharing the
	// client. Zero disables client-side pacing.
	RequestsPerSecond float64
}

// Client invokes Anthropic models through the Bedrock runtime.
type Client struct {
	runtime     Runtime
	modelID     string
	maxTokens   int
	temperature float64
	limiter     *Limiter
	logger      *logging.Logger
}

var _ core.LLMClient = (*Client)(nil)

// New builds a client from the ambient AWS credential chain.
func New(ctx context.Context, opts Options, logger *logging.Logger) (*Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(opts.Profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, core.ErrExecution(core.CodeLLMInvocationFailed,
			"loading AWS configuration").WithCause(err)
	}

	return NewWithRuntime(bedrockruntime.NewFromConfig(cfg), opts, logger)
}

// NewWithRuntime builds a client over an existing runtime.
func NewWithRuntime(runtime Runtime, opts Options, logger *logging.Logger) (*Client, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if opts.ModelID == "" {
		return nil, core.ErrValidation("MODEL_ID_REQUIRED", "llm model id cannot be empty")
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 8000
	}
	if opts.Temperature <= 0 {
		opts.Temperature = 1.0
	}

	var limiter *Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = NewLimiter(opts.RequestsPerSecond, 1)
	}

	return &Client{
		runtime:     runtime,
		modelID:     opts.ModelID,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		limiter:     limiter,
		logger:      logger,
	}, nil
}

// Anthropic messages payload as Bedrock expects it.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type invokePayload struct {
	AnthropicVersion string        `json:"anthropic_version"`
	MaxTokens        int           `json:"max_tokens"`
	Temperature      float64       `json:"temperature"`
	System           string        `json:"system,omitempty"`
	Messages         []chatMessage `json:"messages"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type invokeResult struct {
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Model      string         `json:"model"`
	Usage      core.LLMUsage  `json:"usage"`
}

// Invoke sends one prompt and returns the completion. Zero MaxTokens or
// Temperature on the request select the client defaults.
func (c *Client) Invoke(ctx context.Context, req core.LLMRequest) (*core.LLMResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	temperature := req.Temperature
	if temperature <= 0 {
		temperature = c.temperature
	}

	body, err := json.Marshal(invokePayload{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        maxTokens,
		Temperature:      temperature,
		System:           req.SystemPrompt,
		Messages:         []chatMessage{{Role: "user", Content: req.Prompt}},
	})
	if err != nil {
		return nil, core.ErrExecution(core.CodeLLMInvocationFailed,
			"encoding model request").WithCause(err)
	}

	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx); err != nil {
			return nil, core.ErrExecution(core.CodeLLMInvocationFailed,
				"waiting for a request slot").WithCause(err)
		}
	}

	c.logger.Debug("invoking model",
		"model", c.modelID, "prompt_chars", len(req.Prompt), "max_tokens", maxTokens)

	out, err := c.runtime.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		derr := core.ErrExecution(core.CodeLLMInvocationFailed,
			fmt.Sprintf("invoking %s", c.modelID)).WithCause(err)
		derr.Retryable = isTransient(err)
		return nil, derr
	}

	var result invokeResult
	if err := json.Unmarshal(out.Body, &result); err != nil {
		return nil, core.ErrExecution(core.CodeResponseParseFailed,
			"decoding model response").WithCause(err)
	}

	var text strings.Builder
	for _, block := range result.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, core.ErrExecution(core.CodeResponseParseFailed,
			"model returned no text content")
	}

	model := result.Model
	if model == "" {
		model = c.modelID
	}

	c.logger.Debug("model responded",
		"stop_reason", result.StopReason,
		"input_tokens", result.Usage.InputTokens,
		"output_tokens", result.Usage.OutputTokens)

	return &core.LLMResponse{
		Content:    text.String(),
		StopReason: result.StopReason,
		Usage:      result.Usage,
		Model:      model,
	}, nil
}

// InvokeJSON sends one prompt and unmarshals the completion into out,
// tolerating markdown fences and prose around the JSON document.
func (c *Client) InvokeJSON(ctx context.Context, req core.LLMRequest, out interface{}) error {
	resp, err := c.Invoke(ctx, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(ExtractJSON(resp.Content)), out); err != nil {
		return core.ErrValidation(core.CodeResponseParseFailed,
			"model response is not valid JSON").WithCause(err)
	}
	return nil
}

// ExtractJSON peels a JSON document out of a completion: fenced code blocks
// are unwrapped, then anything before the first brace or bracket and after
// the last one is dropped.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if i := strings.Index(s, "\n"); i >= 0 {
			s = s[i+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
		s = strings.TrimSpace(s)
		s = strings.TrimSuffix(s, "```")
		s = strings.TrimSpace(s)
	}
	if !strings.HasPrefix(s, "{") && !strings.HasPrefix(s, "[") {
		start := strings.IndexAny(s, "{[")
		end := strings.LastIndexAny(s, "}]")
		if start >= 0 && end > start {
			s = s[start : end+1]
		}
	}
	return s
}

// Throttles and model timeouts are worth another attempt; everything else
// (bad credentials, malformed payload, missing model) is not.
func isTransient(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "ThrottlingException", "ServiceUnavailableException",
		"ModelTimeoutException", "ModelNotReadyException":
		return true
	}
	return false
}
