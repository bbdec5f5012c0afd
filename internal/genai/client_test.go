package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func respond(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(bytes.NewBufferString(body)),
	}
}

func candidate(text string) string {
	b, _ := json.Marshal(map[string]any{
		"candidates": []any{
			map[string]any{"content": map[string]any{"parts": []any{map[string]any{"text": text}}}},
		},
	})
	return string(b)
}

func TestClient_GenerateJSON(t *testing.T) {
	var captured generateRequest
	c := NewClient(Options{
		APIKey:  "key",
		BaseURL: "https://example.test/v1beta/",
		Model:   "gemini-test",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			assert.Equal(t, "https://example.test/v1beta/models/gemini-test:generateContent", r.URL.String())
			assert.Equal(t, "key", r.Header.Get("x-goog-api-key"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
			return respond(http.StatusOK, candidate("```json\n{\"name\":\"soup\"}\n```")), nil
		})},
	})

	var out struct {
		Name string `json:"name"`
	}
	schema := &Schema{Type: TypeObject, Properties: map[string]Schema{"name": {Type: TypeString}}, Required: []string{"name"}}
	err := c.GenerateJSON(context.Background(), []Part{JPEG([]byte{0xff, 0xd8}), Text("what is it?")}, schema, &out)
	require.NoError(t, err)
	assert.Equal(t, "soup", out.Name)

	require.Len(t, captured.Contents, 1)
	require.Len(t, captured.Contents[0].Parts, 2)
	assert.Equal(t, "image/jpeg", captured.Contents[0].Parts[0].InlineData.MimeType)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{0xff, 0xd8}), captured.Contents[0].Parts[0].InlineData.Data)
	assert.Equal(t, "what is it?", captured.Contents[0].Parts[1].Text)
	assert.Equal(t, "application/json", captured.GenerationConfig.ResponseMimeType)
	assert.Equal(t, []string{"name"}, captured.GenerationConfig.ResponseSchema.Required)
}

func TestClient_GenerateJSONFailures(t *testing.T) {
	tests := map[string]struct {
		apiKey    string
		transport roundTripFunc
		assert    func(t *testing.T, err error)
	}{
		"missing api key should fail without calling the API": {
			transport: func(r *http.Request) (*http.Response, error) {
				t.Fatal("should not be called")
				return nil, nil
			},
			assert: func(t *testing.T, err error) { require.Error(t, err) },
		},
		"transport error should be returned": {
			apiKey: "key",
			transport: func(r *http.Request) (*http.Response, error) {
				return nil, errors.New("boom")
			},
			assert: func(t *testing.T, err error) { require.ErrorContains(t, err, "boom") },
		},
		"API error should be decoded": {
			apiKey: "key",
			transport: func(r *http.Request) (*http.Response, error) {
				return respond(http.StatusTooManyRequests, `{"error":{"code":429,"message":"quota exceeded","status":"RESOURCE_EXHAUSTED"}}`), nil
			},
			assert: func(t *testing.T, err error) {
				var e *Error
				require.ErrorAs(t, err, &e)
				assert.Equal(t, http.StatusTooManyRequests, e.StatusCode)
				assert.Equal(t, "RESOURCE_EXHAUSTED", e.Status)
				assert.Equal(t, "quota exceeded", e.Message)
			},
		},
		"empty candidates should fail": {
			apiKey: "key",
			transport: func(r *http.Request) (*http.Response, error) {
				return respond(http.StatusOK, `{"candidates":[]}`), nil
			},
			assert: func(t *testing.T, err error) { require.ErrorContains(t, err, "empty response") },
		},
		"non JSON text should fail": {
			apiKey: "key",
			transport: func(r *http.Request) (*http.Response, error) {
				return respond(http.StatusOK, candidate("I cannot help with that")), nil
			},
			assert: func(t *testing.T, err error) { require.ErrorContains(t, err, "decode payload") },
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			c := NewClient(Options{APIKey: tt.apiKey, HTTPClient: &http.Client{Transport: tt.transport}})

			var out map[string]any
			tt.assert(t, c.GenerateJSON(context.Background(), []Part{Text("hi")}, nil, &out))
		})
	}
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(Options{})
	assert.Equal(t, defaultModel, c.Model())
	assert.Equal(t, defaultBaseURL+"/models/"+defaultModel+":generateContent", c.endpoint())
}
