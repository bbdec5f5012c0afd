// Package genai is a thin client of the Gemini generateContent API that asks
// for JSON output constrained by a response schema.
package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel   = "gemini-2.5-flash"
	defaultTimeout = 60 * time.Second

	maxErrorBody = 4 << 10
)

type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

func NewClient(opts Options) *Client {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultModel
	}

	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		httpClient: client,
	}
}

func (c *Client) Model() string {
	return c.model
}

// Part is one piece of the prompt: text or inline binary data.
type Part struct {
	Text     string
	MimeType string
	Data     []byte
}

func Text(s string) Part {
	return Part{Text: s}
}

func JPEG(b []byte) Part {
	return Part{MimeType: "image/jpeg", Data: b}
}

// Schema is the subset of the OpenAPI schema accepted as responseSchema.
type Schema struct {
	Type        string            `json:"type"`
	Description string            `json:"description,omitempty"`
	Properties  map[string]Schema `json:"properties,omitempty"`
	Items       *Schema           `json:"items,omitempty"`
	Required    []string          `json:"required,omitempty"`
}

const (
	TypeObject = "OBJECT"
	TypeString = "STRING"
	TypeNumber = "NUMBER"
	TypeArray  = "ARRAY"
)

type (
	content struct {
		Role  string `json:"role,omitempty"`
		Parts []part `json:"parts"`
	}

	part struct {
		Text       string      `json:"text,omitempty"`
		InlineData *inlineData `json:"inlineData,omitempty"`
	}

	inlineData struct {
		MimeType string `json:"mimeType"`
		Data     string `json:"data"`
	}

	generationConfig struct {
		ResponseMimeType string  `json:"responseMimeType,omitempty"`
		ResponseSchema   *Schema `json:"responseSchema,omitempty"`
	}

	generateRequest struct {
		Contents         []content         `json:"contents"`
		GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
	}

	generateResponse struct {
		Candidates []struct {
			Content content `json:"content"`
		} `json:"candidates"`
	}

	errorResponse struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
)

// Error is a non-2xx answer of the API.
type Error struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("genai: status %d %s: %s", e.StatusCode, e.Status, e.Message)
}

// GenerateJSON sends parts and decodes the JSON text of the first candidate into out.
func (c *Client) GenerateJSON(ctx context.Context, parts []Part, schema *Schema, out any) error {
	if c.apiKey == "" {
		return fmt.Errorf("genai: api key is not configured")
	}

	req := generateRequest{
		Contents: []content{{Role: "user", Parts: toParts(parts)}},
		GenerationConfig: &generationConfig{
			ResponseMimeType: "application/json",
			ResponseSchema:   schema,
		},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(req); err != nil {
		return fmt.Errorf("genai: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), &buf)
	if err != nil {
		return fmt.Errorf("genai: new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("genai: do request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}

	var gr generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return fmt.Errorf("genai: decode response: %w", err)
	}

	text := extractText(gr)
	if text == "" {
		return fmt.Errorf("genai: empty response")
	}

	if err := json.Unmarshal([]byte(stripFence(text)), out); err != nil {
		return fmt.Errorf("genai: decode payload: %w", err)
	}

	return nil
}

func (c *Client) endpoint() string {
	return fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, url.PathEscape(c.model))
}

func toParts(parts []Part) []part {
	out := make([]part, 0, len(parts))
	for _, p := range parts {
		if len(p.Data) > 0 {
			out = append(out, part{InlineData: &inlineData{
				MimeType: p.MimeType,
				Data:     base64.StdEncoding.EncodeToString(p.Data),
			}})
			continue
		}
		out = append(out, part{Text: p.Text})
	}
	return out
}

func extractText(resp generateResponse) string {
	for _, cand := range resp.Candidates {
		for _, p := range cand.Content.Parts {
			if strings.TrimSpace(p.Text) != "" {
				return p.Text
			}
		}
	}
	return ""
}

// stripFence removes a markdown code fence some models wrap JSON in.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func decodeError(resp *http.Response) error {
	e := &Error{StatusCode: resp.StatusCode, Status: http.StatusText(resp.StatusCode)}

	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var er errorResponse
	if err := json.Unmarshal(b, &er); err == nil && er.Error.Message != "" {
		e.Message = er.Error.Message
		if er.Error.Status != "" {
			e.Status = er.Error.Status
		}
		return e
	}

	e.Message = strings.TrimSpace(string(b))
	return e
}
