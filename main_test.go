package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pigeon/internal/auth"
	"pigeon/internal/models"
	"pigeon/internal/storage"
	"pigeon/internal/ws"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const apiAddr = "127.0.0.1:8891"

func TestIntegration(t *testing.T) {
	tmpDir := t.TempDir()
	dbFile := filepath.Join(tmpDir, "integration_test.db")

	_ = os.Setenv("PIGEON_DB", dbFile)
	_ = os.Setenv("API_ADDR", apiAddr)
	_ = os.Setenv("UPLOADS_PATH", filepath.Join(tmpDir, "uploads"))
	_ = os.Setenv("BASE_URL", fmt.Sprintf("http://%s", apiAddr))
	defer func() {
		_ = os.Unsetenv("PIGEON_DB")
		_ = os.Unsetenv("API_ADDR")
		_ = os.Unsetenv("UPLOADS_PATH")
		_ = os.Unsetenv("BASE_URL")
	}()

	// Seed two users directly so we control their passwords. The add-user
	// command prints a random one, which is no good for a test.
	aliceID := seedUser(t, dbFile, "alice", "Alice", "alice-password")
	bobID := seedUser(t, dbFile, "bob", "Bob", "bob-password")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := run(ctx, ""); err != nil && err != context.Canceled {
			t.Errorf("Server error: %v", err)
		}
	}()

	waitForServer(t, fmt.Sprintf("http://%s/api/messages/users", apiAddr), 20)

	aliceToken := login(t, "alice", "alice-password")
	bobToken := login(t, "bob", "bob-password")

	// Step 1: Alice's user list contains Bob but not herself.
	var users []models.User
	doJSON(t, "GET", "/api/messages/users", aliceToken, nil, http.StatusOK, &users)
	require.Len(t, users, 1)
	require.Equal(t, bobID, users[0].ID)

	// Step 2: Open realtime channels for both users.
	aliceWS := dialWS(t, aliceToken)
	defer func() { _ = aliceWS.Close() }()
	bobWS := dialWS(t, bobToken)
	defer func() { _ = bobWS.Close() }()

	// Both see each other online once both are connected.
	evt := readEvent(t, aliceWS, ws.EventOnlineUsers)
	require.Contains(t, evt.OnlineUserIDs, aliceID)
	for !contains(evt.OnlineUserIDs, bobID) {
		evt = readEvent(t, aliceWS, ws.EventOnlineUsers)
	}

	// Step 3: Alice sends a message; Bob gets it pushed and sees it in his
	// fetched conversation.
	var sent models.Message
	doJSON(t, "POST", "/api/messages/send/"+bobID, aliceToken,
		map[string]string{"text": "hello *bob*"}, http.StatusCreated, &sent)
	require.NotEmpty(t, sent.ID)
	require.Equal(t, aliceID, sent.SenderID)
	require.Contains(t, sent.HTML, "<em>bob</em>")

	evt = readEvent(t, bobWS, ws.EventNewMessage)
	require.NotNil(t, evt.Message)
	require.Equal(t, sent.ID, evt.Message.ID)

	var msgs []models.Message
	doJSON(t, "GET", "/api/messages/"+aliceID, bobToken, nil, http.StatusOK, &msgs)
	require.Len(t, msgs, 1)
	require.Equal(t, sent.ID, msgs[0].ID)

	// Step 4: Only the sender may edit. Bob's attempt fails, Alice's edit is
	// pushed to Bob.
	doJSON(t, "PUT", "/api/messages/"+sent.ID, bobToken,
		map[string]string{"text": "hijacked"}, http.StatusForbidden, nil)

	var edited models.Message
	doJSON(t, "PUT", "/api/messages/"+sent.ID, aliceToken,
		map[string]string{"text": "hello again"}, http.StatusOK, &edited)
	require.Equal(t, "hello again", edited.Text)
	require.NotZero(t, edited.EditedAt)

	evt = readEvent(t, bobWS, ws.EventMessageEdited)
	require.Equal(t, sent.ID, evt.MessageID)
	require.Equal(t, "hello again", evt.Text)

	// Step 5: Reactions toggle. Twice with the same emoji leaves nothing.
	var reactions []models.Reaction
	doJSON(t, "POST", "/api/messages/"+sent.ID+"/react", bobToken,
		map[string]string{"emoji": "👍"}, http.StatusOK, &reactions)
	require.Len(t, reactions, 1)
	require.Equal(t, bobID, reactions[0].UserID)

	doJSON(t, "POST", "/api/messages/"+sent.ID+"/react", bobToken,
		map[string]string{"emoji": "👍"}, http.StatusOK, &reactions)
	require.Empty(t, reactions)

	// Step 6: Typing indicator travels over the socket, nothing persists.
	err := aliceWS.WriteJSON(ws.ClientEvent{Type: ws.ClientEventTyping, ReceiverID: bobID})
	require.NoError(t, err)
	evt = readEvent(t, bobWS, ws.EventTyping)
	require.Equal(t, aliceID, evt.SenderID)

	// Step 7: Delete removes for both sides and is pushed.
	doJSON(t, "DELETE", "/api/messages/"+sent.ID, aliceToken, nil, http.StatusNoContent, nil)
	evt = readEvent(t, bobWS, ws.EventMessageDeleted)
	require.Equal(t, sent.ID, evt.MessageID)

	doJSON(t, "GET", "/api/messages/"+bobID, aliceToken, nil, http.StatusOK, &msgs)
	require.Empty(t, msgs)

	// Step 8: Image upload round-trip.
	pngBase64 := "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII="
	pngData, err := base64.StdEncoding.DecodeString(pngBase64)
	require.NoError(t, err)

	req, err := http.NewRequest("POST", fmt.Sprintf("http://%s/api/upload/image", apiAddr), bytes.NewReader(pngData))
	require.NoError(t, err)
	req.Header.Set("token", aliceToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var uploadResp struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&uploadResp))
	require.Contains(t, uploadResp.URL, "/api/images/")

	respImg, err := http.Get(uploadResp.URL)
	require.NoError(t, err)
	defer func() { _ = respImg.Body.Close() }()
	require.Equal(t, http.StatusOK, respImg.StatusCode)
	require.Equal(t, "image/png", respImg.Header.Get("Content-Type"))

	// Step 9: Logoff revokes the token.
	doJSON(t, "POST", "/api/logoff", bobToken, nil, http.StatusOK, nil)
	doJSON(t, "GET", "/api/messages/users", bobToken, nil, http.StatusUnauthorized, nil)
}

// seedUser creates a user with a known password while the server is down.
func seedUser(t *testing.T, dbFile, username, displayName, password string) string {
	t.Helper()
	store, err := storage.NewBboltStorage(dbFile)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	authService, err := auth.NewAuthService(ctx, auth.Config{}, store)
	require.NoError(t, err)

	user, err := authService.AddUser(username, displayName, password)
	require.NoError(t, err)
	return user.ID
}

func login(t *testing.T, username, password string) string {
	t.Helper()
	body, err := json.Marshal(auth.LoginRequest{Username: username, Password: password})
	require.NoError(t, err)

	resp, err := http.Post(fmt.Sprintf("http://%s/api/login", apiAddr), "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var loginResp auth.LoginResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&loginResp))
	require.True(t, loginResp.Success)
	require.NotEmpty(t, loginResp.Token)
	return loginResp.Token
}

func doJSON(t *testing.T, method, path, token string, body any, wantStatus int, out any) {
	t.Helper()
	var reqBody *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, fmt.Sprintf("http://%s%s", apiAddr, path), reqBody)
	require.NoError(t, err)
	req.Header.Set("token", token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, wantStatus, resp.StatusCode, "%s %s", method, path)

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
}

func dialWS(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set("token", token)
	conn, resp, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://%s/api/chat", apiAddr), header)
	require.NoError(t, err)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn
}

// readEvent reads events until one of the wanted type arrives. Presence
// broadcasts interleave with everything, so they are skipped unless asked for.
func readEvent(t *testing.T, conn *websocket.Conn, want ws.EventType) ws.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var evt ws.Event
		require.NoError(t, conn.ReadJSON(&evt), "waiting for %s event", want)
		if evt.Type == want {
			return evt
		}
		if evt.Type == ws.EventOnlineUsers {
			continue
		}
		t.Fatalf("expected %s event, got %s", want, evt.Type)
	}
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func waitForServer(t *testing.T, urlStr string, retries int) {
	t.Helper()
	client := &http.Client{Timeout: 500 * time.Millisecond}
	for i := 0; i < retries; i++ {
		resp, err := client.Get(urlStr)
		if err == nil {
			_ = resp.Body.Close()
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("Server failed to start at %s after %d retries", urlStr, retries)
}
