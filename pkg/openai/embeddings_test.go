package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateEmbeddings(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantErr    string
		wantStatus int
		wantVecs   [][]float32
		wantTokens int
	}{
		{
			name:   "success reorders by index",
			status: http.StatusOK,
			body: `{
				"model": "text-embedding-3-small",
				"data": [
					{"index": 1, "embedding": [0.3, 0.4]},
					{"index": 0, "embedding": [0.1, 0.2]}
				],
				"usage": {"prompt_tokens": 8, "total_tokens": 8}
			}`,
			wantVecs:   [][]float32{{0.1, 0.2}, {0.3, 0.4}},
			wantTokens: 8,
		},
		{
			name:       "rate_limit",
			status:     http.StatusTooManyRequests,
			body:       `{"error": {"message": "Rate limit reached"}}`,
			wantErr:    "unexpected status 429",
			wantStatus: http.StatusTooManyRequests,
		},
		{
			name:       "bad_request",
			status:     http.StatusBadRequest,
			body:       `{"error": {"message": "input is empty"}}`,
			wantErr:    "unexpected status 400",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:    "malformed_response",
			status:  http.StatusOK,
			body:    `{invalid json`,
			wantErr: "unmarshal response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/embeddings", r.URL.Path)
				assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

				var req EmbeddingRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, "text-embedding-3-small", req.Model)
				assert.Equal(t, []string{"a", "b"}, req.Input)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client := NewEmbeddingClient("test-key", WithBaseURL(srv.URL))
			resp, err := client.CreateEmbeddings(context.Background(), EmbeddingRequest{Input: []string{"a", "b"}})

			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Equal(t, tt.wantStatus, StatusCode(err))
				assert.Nil(t, resp)
				return
			}

			require.NoError(t, err)
			require.Len(t, resp.Data, len(tt.wantVecs))
			for i, v := range tt.wantVecs {
				assert.Equal(t, i, resp.Data[i].Index)
				assert.Equal(t, v, resp.Data[i].Embedding)
			}
			assert.Equal(t, tt.wantTokens, resp.Usage.PromptTokens)
		})
	}
}

func TestCreateEmbeddings_ModelOverride(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req EmbeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-large", req.Model)
		_, _ = w.Write([]byte(`{"data": [], "usage": {"prompt_tokens": 0}}`))
	}))
	defer srv.Close()

	client := NewEmbeddingClient("k", WithBaseURL(srv.URL), WithModel("text-embedding-3-large"))
	_, err := client.CreateEmbeddings(context.Background(), EmbeddingRequest{Input: []string{"x"}})
	require.NoError(t, err)
}

func TestCreateEmbeddings_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewEmbeddingClient("k", WithBaseURL("http://127.0.0.1:0"))
	_, err := client.CreateEmbeddings(ctx, EmbeddingRequest{Input: []string{"x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openai: send request")
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, 0, StatusCode(nil))
	assert.Equal(t, 503, StatusCode(&APIError{StatusCode: 503, Err: errors.New("x")}))
	assert.Equal(t, 429, StatusCode(errors.New("API returned unexpected status code: 429: Rate limit reached")))
	assert.Equal(t, 0, StatusCode(errors.New("boom")))
}
