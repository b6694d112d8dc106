// ABOUTME: Responder client tests against an httptest server.
// ABOUTME: Covers delivery payload, error extraction, and URL validation.

package responder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-rocket/internal/processor"
)

func sampleTurn() processor.Turn {
	return processor.Turn{
		Account:        "main",
		ConversationID: "dm-1",
		Kind:           "direct",
		SenderID:       "u2",
		SenderName:     "Alice",
		Text:           "hello",
		Timestamp:      time.Now().UTC().Truncate(time.Second),
		Authorized:     true,
		History:        []string{"Alice: earlier"},
	}
}

func TestRespond_DeliversTurnAsJSON(t *testing.T) {
	var got processor.Turn
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, nil)
	require.NoError(t, err)

	turn := sampleTurn()
	require.NoError(t, c.Respond(context.Background(), turn))
	assert.Equal(t, turn.ConversationID, got.ConversationID)
	assert.Equal(t, turn.Text, got.Text)
	assert.Equal(t, turn.History, got.History)
}

func TestRespond_ExtractsJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"model unavailable"}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, nil)
	require.NoError(t, err)

	err = c.Respond(context.Background(), sampleTurn())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model unavailable")
	assert.Contains(t, err.Error(), "502")
}

func TestRespond_PlainTextError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "teapot", http.StatusTeapot)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, nil)
	require.NoError(t, err)

	err = c.Respond(context.Background(), sampleTurn())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "teapot")
}

func TestNewClient_RejectsBadURL(t *testing.T) {
	for _, bad := range []string{"", "not a url", "ftp://example.com"} {
		_, err := NewClient(bad, nil)
		assert.Error(t, err, bad)
	}
}
