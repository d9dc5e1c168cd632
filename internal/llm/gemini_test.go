package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.HandlerFunc) *GeminiClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := DefaultGeminiConfig("test-key")
	cfg.BaseURL = server.URL
	cfg.Timeout = 5 * time.Second
	return NewGeminiClientWithConfig(cfg)
}

func completionBody(text string) []byte {
	resp := geminiResponse{
		Candidates: []geminiCandidate{{
			Content: geminiContent{Parts: []geminiPart{{Text: text}}},
		}},
	}
	data, _ := json.Marshal(resp)
	return data
}

func TestCompleteWithSystem_HappyPath(t *testing.T) {
	var gotReq geminiRequest
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Write(completionBody("  SELECT 1  "))
	})

	result, err := client.CompleteWithSystem(context.Background(), "system rules", "user ask")
	require.NoError(t, err)

	assert.Equal(t, "SELECT 1", result, "completions are trimmed")
	require.NotNil(t, gotReq.SystemInstruction)
	assert.Equal(t, "system rules", gotReq.SystemInstruction.Parts[0].Text)
	assert.Equal(t, "user ask", gotReq.Contents[0].Parts[0].Text)
}

func TestComplete_OmitsSystemInstruction(t *testing.T) {
	var gotReq geminiRequest
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Write(completionBody("ok"))
	})

	_, err := client.Complete(context.Background(), "hello")
	require.NoError(t, err)
	assert.Nil(t, gotReq.SystemInstruction)
}

func TestCompleteWithSystem_MultiPartCandidate(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		resp := geminiResponse{
			Candidates: []geminiCandidate{{
				Content: geminiContent{Parts: []geminiPart{{Text: "first "}, {Text: "second"}}},
			}},
		}
		json.NewEncoder(w).Encode(resp)
	})

	result, err := client.CompleteWithSystem(context.Background(), "", "q")
	require.NoError(t, err)
	assert.Equal(t, "first second", result)
}

func TestCompleteWithSystem_RateLimitIsTransient(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.CompleteWithSystem(context.Background(), "", "q")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestCompleteWithSystem_ServerErrorIsTransient(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := client.CompleteWithSystem(context.Background(), "", "q")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestCompleteWithSystem_ClientErrorIsNotTransient(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := client.CompleteWithSystem(context.Background(), "", "q")
	require.Error(t, err)
	assert.False(t, IsTransient(err), "4xx apart from 429 must not be retried")
}

func TestCompleteWithSystem_EmptyCandidates(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(geminiResponse{})
	})

	_, err := client.CompleteWithSystem(context.Background(), "", "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no completion returned")
	assert.False(t, IsTransient(err))
}

func TestCompleteWithSystem_APIErrorBody(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		resp := geminiResponse{Error: &geminiError{Code: 403, Message: "key revoked"}}
		json.NewEncoder(w).Encode(resp)
	})

	_, err := client.CompleteWithSystem(context.Background(), "", "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key revoked")
	assert.False(t, IsTransient(err))
}

func TestCompleteWithSystem_MissingAPIKey(t *testing.T) {
	cfg := DefaultGeminiConfig("")
	client := NewGeminiClientWithConfig(cfg)

	_, err := client.CompleteWithSystem(context.Background(), "", "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key not configured")
}

func TestCompleteWithSystem_UnreachableServerIsTransient(t *testing.T) {
	cfg := DefaultGeminiConfig("test-key")
	cfg.BaseURL = "http://127.0.0.1:1"
	cfg.Timeout = time.Second
	client := NewGeminiClientWithConfig(cfg)

	_, err := client.CompleteWithSystem(context.Background(), "", "q")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(&TransientError{Err: errors.New("boom")}))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsTransient(errors.New("boom")))
	assert.False(t, IsTransient(nil))
}
