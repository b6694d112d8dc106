// ABOUTME: Rocket.Chat REST API client for login, metadata lookups, and sending.
// ABOUTME: Maps missing entities to ErrNotFound; auth headers set per request.

package rocket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned when a requested room or user does not exist.
var ErrNotFound = errors.New("not found")

// Credential is a resumable realtime/REST session credential. It is a
// session token, not a password.
type Credential struct {
	UserID string
	Token  string
}

// Room is the subset of room metadata the pipeline needs.
type Room struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
	Type string `json:"t"`
}

// User is the subset of user metadata the pipeline needs.
type User struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

// Client talks to one Rocket.Chat server's REST API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger

	mu   sync.RWMutex
	cred Credential
}

// NewClient creates a client for the given server URL. Pass nil logger for
// default.
func NewClient(serverURL string, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("parsing server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url must use http or https scheme, got %q", u.Scheme)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL: strings.TrimSuffix(serverURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger.With("component", "rocket"),
	}, nil
}

// SetCredential installs the session credential used on subsequent requests.
// Safe to call concurrently with in-flight requests.
func (c *Client) SetCredential(cred Credential) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cred = cred
}

// Credential returns the currently installed session credential.
func (c *Client) Credential() Credential {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cred
}

// RealtimeEndpoint derives the websocket URL for the realtime protocol from
// the REST base URL.
func (c *Client) RealtimeEndpoint() string {
	ws := c.baseURL
	switch {
	case strings.HasPrefix(ws, "https://"):
		ws = "wss://" + strings.TrimPrefix(ws, "https://")
	case strings.HasPrefix(ws, "http://"):
		ws = "ws://" + strings.TrimPrefix(ws, "http://")
	}
	return ws + "/websocket"
}

// Login exchanges username+password for a fresh resumable session credential
// and installs it on the client.
func (c *Client) Login(ctx context.Context, username, password string) (Credential, error) {
	body, err := json.Marshal(map[string]string{"user": username, "password": password})
	if err != nil {
		return Credential{}, fmt.Errorf("marshaling login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/login", bytes.NewReader(body))
	if err != nil {
		return Credential{}, fmt.Errorf("creating login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Credential{}, fmt.Errorf("login request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Credential{}, fmt.Errorf("login failed with status %d", resp.StatusCode)
	}

	var parsed struct {
		Status string `json:"status"`
		Data   struct {
			UserID    string `json:"userId"`
			AuthToken string `json:"authToken"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Credential{}, fmt.Errorf("decoding login response: %w", err)
	}
	if parsed.Status != "success" || parsed.Data.AuthToken == "" {
		return Credential{}, fmt.Errorf("login rejected (status %q)", parsed.Status)
	}

	cred := Credential{UserID: parsed.Data.UserID, Token: parsed.Data.AuthToken}
	c.SetCredential(cred)
	c.logger.Info("refreshed session credential", "user_id", cred.UserID)
	return cred, nil
}

// RoomInfo fetches room metadata by id.
func (c *Client) RoomInfo(ctx context.Context, roomID string) (*Room, error) {
	var parsed struct {
		Success bool  `json:"success"`
		Room    *Room `json:"room"`
	}
	if err := c.get(ctx, "/api/v1/rooms.info", url.Values{"roomId": {roomID}}, &parsed); err != nil {
		return nil, err
	}
	if !parsed.Success || parsed.Room == nil {
		return nil, fmt.Errorf("room %s: %w", roomID, ErrNotFound)
	}
	return parsed.Room, nil
}

// UserInfo fetches user metadata by id.
func (c *Client) UserInfo(ctx context.Context, userID string) (*User, error) {
	var parsed struct {
		Success bool  `json:"success"`
		User    *User `json:"user"`
	}
	if err := c.get(ctx, "/api/v1/users.info", url.Values{"userId": {userID}}, &parsed); err != nil {
		return nil, err
	}
	if !parsed.Success || parsed.User == nil {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return parsed.User, nil
}

// PostMessage sends a text message to a room, optionally threaded.
func (c *Client) PostMessage(ctx context.Context, roomID, text, threadID string) error {
	msg := map[string]string{"rid": roomID, "msg": text}
	if threadID != "" {
		msg["tmid"] = threadID
	}
	body, err := json.Marshal(map[string]any{"message": msg})
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/chat.sendMessage", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	return c.expectSuccess(req)
}

// UploadFile uploads a file to a room with an optional description.
func (c *Client) UploadFile(ctx context.Context, roomID, filename string, data io.Reader, description string) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, data); err != nil {
		return fmt.Errorf("copying file data: %w", err)
	}
	if description != "" {
		if err := w.WriteField("description", description); err != nil {
			return fmt.Errorf("writing description field: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/rooms.upload/"+url.PathEscape(roomID), &buf)
	if err != nil {
		return fmt.Errorf("creating upload request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	c.authorize(req)

	return c.expectSuccess(req)
}

// get performs an authenticated GET and decodes the JSON response. A 404 is
// mapped to ErrNotFound.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

// expectSuccess executes a request and verifies the standard success envelope.
func (c *Client) expectSuccess(req *http.Request) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s returned status %d: %s", req.URL.Path, resp.StatusCode, string(body))
	}

	var parsed struct {
		Success bool `json:"success"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if !parsed.Success {
		return fmt.Errorf("%s reported failure", req.URL.Path)
	}
	return nil
}

// authorize attaches the session credential headers.
func (c *Client) authorize(req *http.Request) {
	cred := c.Credential()
	if cred.Token != "" {
		req.Header.Set("X-Auth-Token", cred.Token)
		req.Header.Set("X-User-Id", cred.UserID)
	}
}
