// ABOUTME: Tests for the Rocket.Chat REST client.
// ABOUTME: Uses httptest servers to validate paths, headers, and error mapping.

package rocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_RejectsBadURL(t *testing.T) {
	_, err := NewClient("ftp://chat.example.com", nil)
	assert.Error(t, err)
}

func TestRealtimeEndpoint(t *testing.T) {
	c, err := NewClient("https://chat.example.com/", nil)
	require.NoError(t, err)
	assert.Equal(t, "wss://chat.example.com/websocket", c.RealtimeEndpoint())

	c, err = NewClient("http://localhost:3000", nil)
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:3000/websocket", c.RealtimeEndpoint())
}

func TestLogin_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/login", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "bot", body["user"])
		assert.Equal(t, "secret", body["password"])

		json.NewEncoder(w).Encode(map[string]any{
			"status": "success",
			"data":   map[string]string{"userId": "u1", "authToken": "tok-1"},
		})
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, nil)
	require.NoError(t, err)

	cred, err := c.Login(context.Background(), "bot", "secret")
	require.NoError(t, err)
	assert.Equal(t, "u1", cred.UserID)
	assert.Equal(t, "tok-1", cred.Token)

	// The credential is installed on the client.
	assert.Equal(t, cred, c.Credential())
}

func TestLogin_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, nil)
	require.NoError(t, err)

	_, err = c.Login(context.Background(), "bot", "wrong")
	assert.Error(t, err)
}

func TestRoomInfo_AuthHeadersAndDecode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/rooms.info", r.URL.Path)
		assert.Equal(t, "tok-1", r.Header.Get("X-Auth-Token"))
		assert.Equal(t, "u1", r.Header.Get("X-User-Id"))
		assert.Equal(t, "r1", r.URL.Query().Get("roomId"))

		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"room":    map[string]string{"_id": "r1", "name": "general", "t": "c"},
		})
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, nil)
	require.NoError(t, err)
	c.SetCredential(Credential{UserID: "u1", Token: "tok-1"})

	room, err := c.RoomInfo(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "general", room.Name)
	assert.Equal(t, "c", room.Type)
}

func TestUserInfo_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, nil)
	require.NoError(t, err)

	_, err = c.UserInfo(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestPostMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/chat.sendMessage", r.URL.Path)

		var body struct {
			Message map[string]string `json:"message"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "r1", body.Message["rid"])
		assert.Equal(t, "hello", body.Message["msg"])
		assert.Equal(t, "t1", body.Message["tmid"])

		json.NewEncoder(w).Encode(map[string]bool{"success": true})
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, nil)
	require.NoError(t, err)
	c.SetCredential(Credential{UserID: "u1", Token: "tok-1"})

	assert.NoError(t, c.PostMessage(context.Background(), "r1", "hello", "t1"))
}

func TestUploadFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/rooms.upload/r1", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "notes.txt", header.Filename)
		assert.Equal(t, "some notes", r.FormValue("description"))

		json.NewEncoder(w).Encode(map[string]bool{"success": true})
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, nil)
	require.NoError(t, err)

	err = c.UploadFile(context.Background(), "r1", "notes.txt", strings.NewReader("contents"), "some notes")
	assert.NoError(t, err)
}
