package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/mortal-core/internal/infrastructure/config"
	"github.com/nerrad567/mortal-core/internal/infrastructure/logging"
)

func testHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, logging.Discard())
	go hub.Run(t.Context())
	return hub
}

func fakeClient(hub *Hub, userID int64, super bool, channels ...string) *WSClient {
	subs := make(map[string]struct{}, len(channels))
	for _, ch := range channels {
		subs[ch] = struct{}{}
	}
	return &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		userID:        userID,
		super:         super,
		subscriptions: subs,
	}
}

// nextEvent waits for one queued message on a fake client.
func nextEvent(t *testing.T, c *WSClient) (WSMessage, changeEvent) {
	t.Helper()
	select {
	case raw, ok := <-c.send:
		if !ok {
			t.Fatal("send buffer closed")
		}
		var msg struct {
			WSMessage
			Payload changeEvent `json:"payload"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return msg.WSMessage, msg.Payload
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
	return WSMessage{}, changeEvent{}
}

// ─── Hub ───────────────────────────────────────────────────────────

func TestHub_PublishToSubscribed(t *testing.T) {
	hub := testHub(t)
	client := fakeClient(hub, 1, true, ChannelUserChanged)
	hub.Register(client)

	hub.Publish(ChannelUserChanged, changeEvent{Action: "update", ID: 7})

	msg, event := nextEvent(t, client)
	if msg.EventType != ChannelUserChanged {
		t.Errorf("eventType = %q, want %q", msg.EventType, ChannelUserChanged)
	}
	if msg.Timestamp == "" {
		t.Error("expected a timestamp")
	}
	if event.Action != "update" || event.ID != 7 {
		t.Errorf("event = %+v, want update of 7", event)
	}
}

func TestHub_NoMessageForUnsubscribed(t *testing.T) {
	hub := testHub(t)
	client := fakeClient(hub, 1, true, ChannelRoleChanged)
	hub.Register(client)

	hub.Publish(ChannelMenuChanged, changeEvent{Action: "delete", ID: 1})

	select {
	case <-client.send:
		t.Error("unsubscribed client should not receive message")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_UserEventDataFollowsAccount(t *testing.T) {
	hub := testHub(t)
	super := fakeClient(hub, 1, true, ChannelUserChanged, ChannelMenuChanged)
	self := fakeClient(hub, 7, false, ChannelUserChanged, ChannelMenuChanged)
	other := fakeClient(hub, 8, false, ChannelUserChanged, ChannelMenuChanged)
	for _, c := range []*WSClient{super, self, other} {
		hub.Register(c)
	}

	hub.Publish(ChannelUserChanged, changeEvent{Action: "update", ID: 7, Data: map[string]string{"nickName": "Seven"}})

	for name, c := range map[string]*WSClient{"super": super, "self": self} {
		if _, event := nextEvent(t, c); event.Data == nil {
			t.Errorf("%s: data missing", name)
		}
	}
	_, event := nextEvent(t, other)
	if event.Data != nil {
		t.Errorf("other account got data %v", event.Data)
	}
	if event.Action != "update" || event.ID != 7 {
		t.Errorf("other account event = %+v, want update of 7 without data", event)
	}

	hub.Publish(ChannelMenuChanged, changeEvent{Action: "create", ID: 3, Data: map[string]string{"code": "reports"}})
	if _, event := nextEvent(t, other); event.Data == nil {
		t.Error("menu events carry data for every account")
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	hub := testHub(t)
	client := fakeClient(hub, 5, false)

	hub.Register(client)
	if got := hub.ClientCount(); got != 1 {
		t.Errorf("after register count = %d, want 1", got)
	}
	if got := hub.UserClientCount(5); got != 1 {
		t.Errorf("after register user count = %d, want 1", got)
	}

	hub.Unregister(client)
	hub.Unregister(client) // second call must not double-close
	if got := hub.ClientCount(); got != 0 {
		t.Errorf("after unregister count = %d, want 0", got)
	}
	if got := hub.UserClientCount(5); got != 0 {
		t.Errorf("after unregister user count = %d, want 0", got)
	}

	if hub.deliver(client, []byte("late")) {
		t.Error("deliver to an unregistered client should report false")
	}
}

func TestHub_DropUserClosesOnlyThatAccount(t *testing.T) {
	hub := testHub(t)
	a1 := fakeClient(hub, 7, false, ChannelMenuChanged)
	a2 := fakeClient(hub, 7, false)
	b := fakeClient(hub, 8, false, ChannelMenuChanged)
	for _, c := range []*WSClient{a1, a2, b} {
		hub.Register(c)
	}

	if n := hub.DropUser(7); n != 2 {
		t.Errorf("DropUser() = %d, want 2", n)
	}
	if n := hub.DropUser(7); n != 0 {
		t.Errorf("second DropUser() = %d, want 0", n)
	}

	for _, c := range []*WSClient{a1, a2} {
		if _, ok := <-c.send; ok {
			t.Error("dropped client buffer should be closed")
		}
		if frame := c.pendingCloseFrame(); !strings.Contains(string(frame), closeReasonRevoked) {
			t.Errorf("close frame = %q, want reason %q", frame, closeReasonRevoked)
		}
		hub.Unregister(c) // pump exit after a drop is a no-op
	}
	if got := hub.ClientCount(); got != 1 {
		t.Errorf("remaining clients = %d, want 1", got)
	}

	hub.Publish(ChannelMenuChanged, changeEvent{Action: "update", ID: 1})
	nextEvent(t, b)
}

// ─── Live connection ───────────────────────────────────────────────

// dialAs logs in as username, takes a ticket and opens the WebSocket.
// It returns the connection and the account's access token.
func dialAs(t *testing.T, ts *httptest.Server, router http.Handler, username string) (*websocket.Conn, string) {
	t.Helper()

	session := login(t, router, username)
	_, env := do(t, router, http.MethodPost, "/auth/ws-ticket", nil, session.AccessToken)
	var data struct {
		Ticket string `json:"ticket"`
	}
	decodeData(t, env, &data)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?ticket=" + data.Ticket
	ws, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	t.Cleanup(func() { ws.Close() }) //nolint:errcheck // Test cleanup
	return ws, session.AccessToken
}

func readWS(t *testing.T, ws *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // Test deadline
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read message: %v", err)
	}
	return msg
}

func subscribe(t *testing.T, ws *websocket.Conn, channels ...string) WSMessage {
	t.Helper()
	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub",
		Payload: WSSubscribePayload{Channels: channels},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	return readWS(t, ws)
}

// accountID reads the caller's own ID from /user/detail.
func accountID(t *testing.T, router http.Handler, token string) int64 {
	t.Helper()
	_, env := do(t, router, http.MethodGet, "/user/detail", nil, token)
	var d struct {
		ID int64 `json:"id"`
	}
	decodeData(t, env, &d)
	return d.ID
}

func TestWebSocket_SubscribeAndReceiveChange(t *testing.T) {
	srv, router := testServer(t)
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)

	ws, token := dialAs(t, ts, router, "admin")

	resp := subscribe(t, ws, ChannelMenuChanged, "device.state")
	if resp.Type != WSTypeResponse || resp.ID != "sub" {
		t.Fatalf("response = %+v, want response sub", resp)
	}
	payload, _ := resp.Payload.(map[string]any) //nolint:errcheck // checked below
	if unknown, _ := payload["unknown"].([]any); len(unknown) != 1 { //nolint:errcheck // checked by length
		t.Errorf("unknown channels = %v, want [device.state]", payload["unknown"])
	}
	if srv.hub.ClientCount() != 1 {
		t.Errorf("hub client count = %d, want 1", srv.hub.ClientCount())
	}

	w, _ := do(t, router, http.MethodPatch, "/menus/2", map[string]string{"name": "Accounts"}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d", w.Code)
	}

	event := readWS(t, ws)
	if event.Type != WSTypeEvent || event.EventType != ChannelMenuChanged {
		t.Errorf("event = %s/%s, want event/%s", event.Type, event.EventType, ChannelMenuChanged)
	}
	data, _ := event.Payload.(map[string]any) //nolint:errcheck // checked below
	if data["action"] != "update" || data["id"] != float64(2) {
		t.Errorf("payload = %v, want update of node 2", data)
	}
}

func TestWebSocket_ViewerSeesOwnUserDataOnly(t *testing.T) {
	_, router := testServer(t)
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)

	ws, viewerToken := dialAs(t, ts, router, "viewer")
	subscribe(t, ws, ChannelUserChanged)
	viewerID := accountID(t, router, viewerToken)
	admin := login(t, router, "admin")
	adminID := accountID(t, router, admin.AccessToken)

	for _, tt := range []struct {
		id       int64
		wantData bool
	}{
		{adminID, false},
		{viewerID, true},
	} {
		path := "/users/" + strconv.FormatInt(tt.id, 10)
		if w, _ := do(t, router, http.MethodPatch, path, map[string]string{"nickName": "Renamed"}, admin.AccessToken); w.Code != http.StatusOK {
			t.Fatalf("update %s status = %d", path, w.Code)
		}

		event := readWS(t, ws)
		data, _ := event.Payload.(map[string]any) //nolint:errcheck // checked below
		if data["id"] != float64(tt.id) {
			t.Fatalf("payload = %v, want user %d", data, tt.id)
		}
		if _, has := data["data"]; has != tt.wantData {
			t.Errorf("user %d: data present = %v, want %v", tt.id, has, tt.wantData)
		}
	}
}

func TestWebSocket_DisablingAccountClosesFeed(t *testing.T) {
	srv, router := testServer(t)
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)

	ws, viewerToken := dialAs(t, ts, router, "viewer")
	subscribe(t, ws, ChannelMenuChanged)
	viewerID := accountID(t, router, viewerToken)
	admin := login(t, router, "admin")

	w, _ := do(t, router, http.MethodDelete, "/users/"+strconv.FormatInt(viewerID, 10), nil, admin.AccessToken)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}

	//nolint:errcheck // Test deadline
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := ws.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		t.Fatalf("read after disable = %v, want a close frame", err)
	}
	if closeErr.Code != websocket.ClosePolicyViolation || closeErr.Text != closeReasonRevoked {
		t.Errorf("close = %d %q, want %d %q", closeErr.Code, closeErr.Text, websocket.ClosePolicyViolation, closeReasonRevoked)
	}
	if got := srv.hub.UserClientCount(viewerID); got != 0 {
		t.Errorf("viewer connections = %d, want 0", got)
	}
}

func TestWebSocket_PingAndErrors(t *testing.T) {
	_, router := testServer(t)
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)

	ws, _ := dialAs(t, ts, router, "admin")

	if err := ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "ping-1"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if resp := readWS(t, ws); resp.Type != WSTypePong || resp.ID != "ping-1" {
		t.Errorf("response = %+v, want pong ping-1", resp)
	}

	if err := ws.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write invalid message: %v", err)
	}
	if resp := readWS(t, ws); resp.Type != WSTypeError {
		t.Errorf("response type = %s, want error", resp.Type)
	}

	if err := ws.WriteJSON(WSMessage{Type: "unknown_type", ID: "x"}); err != nil {
		t.Fatalf("write unknown type: %v", err)
	}
	if resp := readWS(t, ws); resp.Type != WSTypeError {
		t.Errorf("response type = %s, want error", resp.Type)
	}

	subscribe(t, ws, ChannelMenuChanged)
	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeUnsubscribe,
		ID:      "unsub-1",
		Payload: WSSubscribePayload{Channels: []string{ChannelMenuChanged, ChannelRoleChanged}},
	}); err != nil {
		t.Fatalf("write unsubscribe: %v", err)
	}
	resp := readWS(t, ws)
	if resp.Type != WSTypeResponse {
		t.Errorf("unsubscribe response type = %s, want response", resp.Type)
	}
	payload, _ := resp.Payload.(map[string]any) //nolint:errcheck // checked below
	if removed, _ := payload["unsubscribed"].([]any); len(removed) != 1 { //nolint:errcheck // checked by length
		t.Errorf("unsubscribed = %v, want only the held channel", payload["unsubscribed"])
	}
}

func TestWebSocket_RejectsMissingOrBadTicket(t *testing.T) {
	_, router := testServer(t)
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)

	base := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	for _, url := range []string{base, base + "?ticket=invalid-ticket"} {
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		if err == nil {
			t.Fatalf("dial %s: expected an error", url)
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("dial %s: response = %v, want 401", url, resp)
		}
	}
}
