package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"huddle/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestIntegration(t *testing.T) {
	tmpDir := t.TempDir()
	adminAddr := "127.0.0.1:8891"
	apiAddr := "127.0.0.1:8890"

	t.Setenv("HUDDLE_DB", filepath.Join(tmpDir, "integration.db"))
	t.Setenv("UPLOADS_PATH", filepath.Join(tmpDir, "uploads"))
	t.Setenv("ADMIN_ADDR", adminAddr)
	t.Setenv("API_ADDR", apiAddr)
	t.Setenv("AUTH_SECRET", "very-secure-test-secret")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := run(ctx); err != nil && err != context.Canceled {
			t.Errorf("Server error: %v", err)
		}
	}()

	waitForServer(t, fmt.Sprintf("http://%s/api/push/key", apiAddr), 50)

	client := &http.Client{}
	apiURL := func(path string) string { return fmt.Sprintf("http://%s%s", apiAddr, path) }

	// Step 1: Provision two users through the admin API.
	alice := adminAddUser(t, adminAddr, "alice@example.com", "Alice")
	bob := adminAddUser(t, adminAddr, "bob@example.com", "Bob")
	require.NotEqual(t, alice.ID, bob.ID)

	// Step 2: Alice logs in on device A.
	loginA := login(t, client, apiURL("/api/login"), map[string]any{
		"email":    "alice@example.com",
		"password": "changeme1",
	}, http.StatusOK)
	require.True(t, loginA.Success)
	require.NotEmpty(t, loginA.Token)
	require.NotEmpty(t, loginA.DeviceToken)

	// Step 3: Device A opens the websocket and receives its roster.
	wsConn, _, err := websocket.DefaultDialer.Dial(
		fmt.Sprintf("ws://%s/api/chat?token=%s", apiAddr, loginA.Token), nil)
	require.NoError(t, err)
	defer func() { _ = wsConn.Close() }()

	roster := readServerMessage(t, wsConn, models.ServerMessageTypeRoster)
	require.Contains(t, roster.Conversations, dmID(alice.ID, bob.ID))

	// Step 4: A plain login on a second device is refused while device A
	// holds the session.
	conflict := login(t, client, apiURL("/api/login"), map[string]any{
		"email":    "alice@example.com",
		"password": "changeme1",
	}, http.StatusConflict)
	require.Equal(t, "session-conflict", conflict.Code)

	// Step 5: Device B forces the takeover; device A gets the eviction
	// notice on its websocket.
	loginB := login(t, client, apiURL("/api/login"), map[string]any{
		"email":    "alice@example.com",
		"password": "changeme1",
		"force":    true,
	}, http.StatusOK)
	require.True(t, loginB.Success)
	require.NotEqual(t, loginA.DeviceToken, loginB.DeviceToken)

	evicted := readServerMessage(t, wsConn, models.ServerMessageTypeEvicted)
	require.NotEmpty(t, evicted.Notice)

	// Step 6: Bob logs in and messages Alice over the provisioned DM.
	loginBob := login(t, client, apiURL("/api/login"), map[string]any{
		"email":    "bob@example.com",
		"password": "changeme1",
	}, http.StatusOK)

	conversationID := dmID(alice.ID, bob.ID)
	var sent models.Message
	doJSON(t, client, "POST", apiURL("/api/conversations/"+conversationID+"/messages"),
		loginBob.Token, map[string]any{"content": "hello **alice**"}, http.StatusOK, &sent)
	require.Equal(t, int64(1), sent.Seq)
	require.Contains(t, sent.HTML, "<strong>alice</strong>")

	var msgs []models.Message
	doJSON(t, client, "GET", apiURL("/api/conversations/"+conversationID+"/messages"),
		loginB.Token, nil, http.StatusOK, &msgs)
	require.Len(t, msgs, 1)
	require.Equal(t, "hello **alice**", msgs[0].Content)

	doJSON(t, client, "POST", apiURL("/api/conversations/"+conversationID+"/read"),
		loginB.Token, map[string]any{"seqs": []int64{1}}, http.StatusOK, nil)
	doJSON(t, client, "GET", apiURL("/api/conversations/"+conversationID+"/messages"),
		loginB.Token, nil, http.StatusOK, &msgs)
	require.True(t, msgs[0].ReadBy[alice.ID])

	// Step 7: Time tracking round trip.
	doJSON(t, client, "POST", apiURL("/api/time/checkin"), loginBob.Token, map[string]any{}, http.StatusOK, nil)
	var state struct {
		State models.WorkState `json:"state"`
	}
	doJSON(t, client, "GET", apiURL("/api/time/state"), loginBob.Token, nil, http.StatusOK, &state)
	require.Equal(t, models.WorkStateCheckedIn, state.State)
	doJSON(t, client, "POST", apiURL("/api/time/checkout"), loginBob.Token, map[string]any{}, http.StatusOK, nil)
	doJSON(t, client, "GET", apiURL("/api/time/state"), loginBob.Token, nil, http.StatusOK, &state)
	require.Equal(t, models.WorkStateCheckedOut, state.State)

	// Step 8: Logoff releases the session for a clean re-login.
	doJSON(t, client, "POST", apiURL("/api/logoff"), loginB.Token, map[string]any{}, http.StatusOK, nil)
	relogin := login(t, client, apiURL("/api/login"), map[string]any{
		"email":    "alice@example.com",
		"password": "changeme1",
	}, http.StatusOK)
	require.True(t, relogin.Success)
}

type loginResult struct {
	Success     bool        `json:"success"`
	Code        string      `json:"code"`
	Token       string      `json:"token"`
	DeviceToken string      `json:"deviceToken"`
	User        models.User `json:"user"`
}

func login(t *testing.T, client *http.Client, url string, body map[string]any, wantStatus int) loginResult {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := client.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, wantStatus, resp.StatusCode)

	var res loginResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	return res
}

func doJSON(t *testing.T, client *http.Client, method, url, token string, body map[string]any, wantStatus int, out any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("token", token)

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, wantStatus, resp.StatusCode)
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
}

func adminAddUser(t *testing.T, adminAddr, email, userName string) models.User {
	t.Helper()
	payload, err := json.Marshal(map[string]string{
		"email":    email,
		"userName": userName,
		"password": "changeme1",
	})
	require.NoError(t, err)
	resp, err := http.Post(fmt.Sprintf("http://%s/admin/users", adminAddr), "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res struct {
		Success bool        `json:"success"`
		User    models.User `json:"user"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	require.True(t, res.Success)
	return res.User
}

// readServerMessage reads frames until one of the wanted type arrives.
func readServerMessage(t *testing.T, conn *websocket.Conn, typ models.ServerMessageType) models.ServerMessage {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	require.NoError(t, conn.SetReadDeadline(deadline))
	for time.Now().Before(deadline) {
		var msg models.ServerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("websocket read failed waiting for %s: %v", typ, err)
		}
		if msg.Type == typ {
			return msg
		}
	}
	t.Fatalf("no %s message received", typ)
	return models.ServerMessage{}
}

func dmID(u1, u2 string) string {
	if u2 < u1 {
		u1, u2 = u2, u1
	}
	return "dm_" + u1 + "_" + u2
}

func waitForServer(t *testing.T, url string, attempts int) {
	t.Helper()
	for i := 0; i < attempts; i++ {
		resp, err := http.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server at %s did not come up", url)
}
