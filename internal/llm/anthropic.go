package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	anthropicBaseURL = "https://api.anthropic.com/v1"
	anthropicVersion = "2023-06-01"
)

// anthropicProvider calls the Messages API over plain HTTP.
type anthropicProvider struct {
	model    string
	apiKey   string // unexported; never serialized by encoding/json
	endpoint string
	client   *http.Client
}

func newAnthropicProvider(model, apiKey string, o providerOptions) *anthropicProvider {
	base := anthropicBaseURL
	if o.baseURL != "" {
		base = o.baseURL
	}
	return &anthropicProvider{
		model:    model,
		apiKey:   apiKey,
		endpoint: strings.TrimSuffix(base, "/") + "/messages",
		client:   o.client,
	}
}

type messagesRequest struct {
	Model       string         `json:"model"`
	MaxTokens   int            `json:"max_tokens"`
	System      string         `json:"system,omitempty"`
	Messages    []messagesTurn `json:"messages"`
	Temperature *float64       `json:"temperature,omitempty"`
}

type messagesTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// text joins the text blocks of the reply, skipping tool and thinking blocks.
func (m *messagesResponse) text() string {
	var sb strings.Builder
	for _, block := range m.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

// anthropicError is a non-200 reply. A 429 unwraps to ErrQuotaExceeded.
type anthropicError struct {
	Status  int
	Type    string
	Message string
}

func (e *anthropicError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("anthropic: %s: %s", e.Type, e.Message)
	}
	return fmt.Sprintf("anthropic: HTTP %d: %s", e.Status, e.Message)
}

func (e *anthropicError) Unwrap() error {
	if e.Status == http.StatusTooManyRequests {
		return ErrQuotaExceeded
	}
	return nil
}

func parseAnthropicError(status int, body []byte) *anthropicError {
	var wrapper struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	e := &anthropicError{Status: status}
	if json.Unmarshal(body, &wrapper) == nil && wrapper.Error.Type != "" {
		e.Type = wrapper.Error.Type
		e.Message = wrapper.Error.Message
		return e
	}
	e.Message = truncate(string(body), 200)
	return e
}

func (p *anthropicProvider) buildRequest(req *Request) messagesRequest {
	mr := messagesRequest{
		Model:     p.model,
		MaxTokens: req.MaxTokens,
		System:    req.SystemPrompt,
		Messages:  []messagesTurn{{Role: "user", Content: req.UserPrompt}},
	}
	if req.Model != "" {
		mr.Model = req.Model
	}
	if mr.MaxTokens <= 0 {
		mr.MaxTokens = defaultMaxTokens
	}
	// Zero leaves the API default in place.
	if req.Temperature != 0 {
		t := req.Temperature
		mr.Temperature = &t
	}
	return mr
}

// post sends body and returns the status and at most 10 MiB of the reply.
func (p *anthropicProvider) post(ctx context.Context, body []byte) (int, []byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("anthropic: creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return 0, nil, fmt.Errorf("anthropic: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("anthropic: reading response: %w", err)
	}
	return resp.StatusCode, data, nil
}

func (p *anthropicProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	body, err := json.Marshal(p.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("anthropic: encoding request: %w", err)
	}

	status, data, err := p.post(ctx, body)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, parseAnthropicError(status, data)
	}

	var mr messagesResponse
	if err := json.Unmarshal(data, &mr); err != nil {
		return nil, fmt.Errorf("anthropic: parsing response (body: %s): %w", truncate(string(data), 200), err)
	}
	content := mr.text()
	if content == "" {
		return nil, fmt.Errorf("anthropic: no text in response (stop_reason %q, %d blocks)", mr.StopReason, len(mr.Content))
	}
	return &Response{
		Content: content,
		Model:   "anthropic:" + mr.Model,
	}, nil
}
