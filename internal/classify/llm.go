package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aktagon/llmkit/anthropic"
	"github.com/aktagon/llmkit/anthropic/types"
)

const systemPrompt = `You classify images taken from a company website so they can be given
descriptive file names. Answer with the JSON schema only.

semantic_type must be one of: {{.types}}
short_description is 2 to 6 plain words naming the subject (no file extension).
confidence is an integer from 0 (guess) to 10 (certain).`

const userPrompt = `Classify the attached image.

Alt text: {{.alt}}
Hints: {{.hints}}

Page context:
{{.page}}`

var judgementSchema = func() string {
	names := make([]string, len(Types))
	for i, t := range Types {
		names[i] = string(t)
	}
	enum, _ := json.Marshal(names)
	return `{
  "type": "object",
  "properties": {
    "semantic_type": {"type": "string", "enum": ` + string(enum) + `},
    "short_description": {"type": "string"},
    "confidence": {"type": "integer", "minimum": 0, "maximum": 10}
  },
  "required": ["semantic_type", "short_description", "confidence"]
}`
}()

// LLMConfig configures the vision oracle.
type LLMConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// LLMOracle asks an Anthropic vision model for a judgement.
type LLMOracle struct {
	cfg LLMConfig
}

// NewLLMOracle returns an oracle backed by the Anthropic API.
func NewLLMOracle(cfg LLMConfig) (*LLMOracle, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	return &LLMOracle{cfg: cfg}, nil
}

// Classify uploads the image and asks for a structured judgement. The
// provider calls are not cancelable; ctx only stops the wait.
func (o *LLMOracle) Classify(ctx context.Context, req Request) (Judgement, error) {
	type reply struct {
		j   Judgement
		err error
	}
	done := make(chan reply, 1)
	go func() {
		j, err := o.classify(req)
		done <- reply{j, err}
	}()

	select {
	case <-ctx.Done():
		return Judgement{}, ctx.Err()
	case r := <-done:
		return r.j, r.err
	}
}

func (o *LLMOracle) classify(req Request) (Judgement, error) {
	file, err := anthropic.UploadFile(req.Path, o.cfg.APIKey)
	if err != nil {
		return Judgement{}, fmt.Errorf("uploading %s: %w", req.Path, rejectionFromError(err))
	}

	settings := types.RequestSettings{
		Model:       o.cfg.Model,
		MaxTokens:   o.cfg.MaxTokens,
		Temperature: o.cfg.Temperature,
	}
	response, err := anthropic.PromptWithSettings(o.systemPrompt(), userPromptFor(req), judgementSchema, o.cfg.APIKey, settings, types.File{ID: file.ID})
	if err != nil {
		return Judgement{}, fmt.Errorf("classification request failed: %w", rejectionFromError(err))
	}
	if len(response.Content) == 0 {
		return Judgement{}, fmt.Errorf("%w: no content in response", ErrMalformed)
	}

	var j Judgement
	if err := json.Unmarshal([]byte(response.Content[0].Text), &j); err != nil {
		return Judgement{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return j, nil
}

func (o *LLMOracle) systemPrompt() string {
	names := make([]string, len(Types))
	for i, t := range Types {
		names[i] = string(t)
	}
	return strings.ReplaceAll(systemPrompt, "{{.types}}", strings.Join(names, ", "))
}

func userPromptFor(req Request) string {
	alt := req.Alt
	if alt == "" {
		alt = "(none)"
	}
	page := req.PageContext
	if page == "" {
		page = "(none)"
	}
	return strings.NewReplacer(
		"{{.alt}}", alt,
		"{{.hints}}", strings.Join(req.Hints, ", "),
		"{{.page}}", page,
	).Replace(userPrompt)
}
