package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/x402chat/client"
)

const challengeJSON = `{
	"x402Version": 1,
	"error": "payment required",
	"accepts": [{
		"scheme": "exact",
		"network": "base-sepolia",
		"maxAmountRequired": "10000",
		"resource": "http://localhost:8000/chat",
		"description": "chat message",
		"mimeType": "application/json",
		"payTo": "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		"maxTimeoutSeconds": 60,
		"asset": "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		"extra": {"name": "USDC", "version": "2"}
	}]
}`

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL + "/")
}

func TestNewClient_TrimsTrailingSlash(t *testing.T) {
	assert.Equal(t, "http://localhost:8000", NewClient("http://localhost:8000///").BaseURL())
}

func TestClient_Info(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/info", r.URL.Path)
		io.WriteString(w, `{"base_url":"https://api.example.com","model_name":"llama-3","api_key":"sk-test"}`)
	})

	info, err := client.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "llama-3", info.ModelName)
	assert.Equal(t, "https://api.example.com", info.BaseURL)
	assert.Equal(t, "sk-test", info.APIKey)
}

func TestClient_InfoSchemaMismatch(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"model_name":42}`)
	})

	_, err := client.Info(context.Background())
	assert.ErrorIs(t, err, x402.ErrDecode)
}

func TestClient_Chat(t *testing.T) {
	t.Run("reply", func(t *testing.T) {
		var got map[string]interface{}
		client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/chat", r.URL.Path)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			io.WriteString(w, `{"reply":"hello there"}`)
		})

		resp, err := client.Chat(context.Background(), ChatRequest{Message: "hi"})
		require.NoError(t, err)
		assert.False(t, resp.IsChallenge())
		assert.Equal(t, "hello there", resp.Reply)

		assert.Equal(t, "hi", got["message"])
		assert.Equal(t, []interface{}{}, got["history"])
		assert.NotContains(t, got, "payment_headers")
	})

	t.Run("payment headers and history are sent", func(t *testing.T) {
		var got ChatRequest
		client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			io.WriteString(w, `{"reply":"paid"}`)
		})

		_, err := client.Chat(context.Background(), ChatRequest{
			Message:        "hi",
			History:        []ChatMessage{{Role: RoleUser, Content: "earlier"}, {Role: RoleAssistant, Content: "sure"}},
			PaymentHeaders: map[string]string{PaymentHeaderName: "abc="},
		})
		require.NoError(t, err)
		assert.Equal(t, "abc=", got.PaymentHeaders["X-Payment"])
		assert.Len(t, got.History, 2)
	})

	t.Run("challenge in 200 body", func(t *testing.T) {
		client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"payment_request":`+challengeJSON+`}`)
		})

		resp, err := client.Chat(context.Background(), ChatRequest{Message: "hi"})
		require.NoError(t, err)
		require.True(t, resp.IsChallenge())
		require.Len(t, resp.PaymentRequest.Accepts, 1)
		assert.Equal(t, "10000", resp.PaymentRequest.Accepts[0].MaxAmountRequired)
		name, _ := resp.PaymentRequest.Accepts[0].TokenName()
		assert.Equal(t, "USDC", name)
	})

	t.Run("challenge as real 402", func(t *testing.T) {
		client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusPaymentRequired)
			io.WriteString(w, challengeJSON)
		})

		resp, err := client.Chat(context.Background(), ChatRequest{Message: "hi"})
		require.NoError(t, err)
		require.True(t, resp.IsChallenge())
		assert.Equal(t, "payment required", resp.PaymentRequest.Error)
	})

	t.Run("server error is transient", func(t *testing.T) {
		client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "upstream down", http.StatusBadGateway)
		})

		_, err := client.Chat(context.Background(), ChatRequest{Message: "hi"})
		var statusErr *StatusError
		require.True(t, errors.As(err, &statusErr))
		assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
		assert.True(t, IsTransient(err))
	})

	t.Run("client error is not transient", func(t *testing.T) {
		client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad", http.StatusBadRequest)
		})

		_, err := client.Chat(context.Background(), ChatRequest{Message: "hi"})
		require.Error(t, err)
		assert.False(t, IsTransient(err))
	})
}

func TestClient_ChatSchemaMismatch(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `<html>oops</html>`},
		{name: "neither reply nor challenge", body: `{"message":"hi"}`},
		{name: "reply not a string", body: `{"reply":7}`},
		{name: "null challenge", body: `{"payment_request":null}`},
		{name: "numeric amount", body: `{"payment_request":{"x402Version":1,"accepts":[{"scheme":"exact","network":"base","maxAmountRequired":10000,"payTo":"0x1","maxTimeoutSeconds":60,"asset":"0x2"}]}}`},
		{name: "missing accepts", body: `{"payment_request":{"x402Version":1}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, tt.body)
			})

			_, err := client.Chat(context.Background(), ChatRequest{Message: "hi"})
			require.Error(t, err)
			assert.ErrorIs(t, err, x402.ErrDecode)
			assert.False(t, IsTransient(err))
		})
	}
}

func TestDecodePaymentRequired(t *testing.T) {
	req, err := DecodePaymentRequired([]byte(challengeJSON))
	require.NoError(t, err)
	assert.Equal(t, 1, req.X402Version)

	wrapped, err := DecodePaymentRequired([]byte(`{"payment_request":` + challengeJSON + `}`))
	require.NoError(t, err)
	assert.Equal(t, req, wrapped)

	_, err = DecodePaymentRequired([]byte(`{"x402Version":0,"accepts":[]}`))
	assert.ErrorIs(t, err, x402.ErrDecode)
}
