package websocket

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func allEventsConfig() *HubConfig {
	return &HubConfig{
		BroadcastChecks:        true,
		BroadcastSensitiveData: true,
		BroadcastRuleReloads:   true,
		BroadcastAIReviews:     true,
		BroadcastConnections:   true,
		Username:               "admin",
		Password:               "secret",
	}
}

func basicAuth(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

func waitForConnections(t *testing.T, hub *Hub, want int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.GetStats().ActiveConnections == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("hub never reached %d active connections (have %d)", want, hub.GetStats().ActiveConnections)
}

func TestHub_ShouldBroadcastEventFollowsConfig(t *testing.T) {
	config := &HubConfig{
		BroadcastChecks:      true,
		BroadcastAIReviews:   false,
		BroadcastConnections: true,
	}
	hub := NewHub(config, zap.NewNop())

	cases := []struct {
		eventType EventType
		want      bool
	}{
		{EventTypeCheck, true},
		{EventTypeSensitiveData, false},
		{EventTypeRuleReload, false},
		{EventTypeAIReview, false},
		{EventTypeConnection, true},
		{EventType("unknown"), false},
	}
	for _, tc := range cases {
		if got := hub.shouldBroadcastEvent(tc.eventType); got != tc.want {
			t.Errorf("shouldBroadcastEvent(%s) = %v, want %v", tc.eventType, got, tc.want)
		}
	}
}

func TestHub_BroadcastEventNeverBlocks(t *testing.T) {
	hub := NewHub(allEventsConfig(), zap.NewNop())
	// No Run loop draining the channel: once the buffer fills, further
	// events must be dropped, not block the caller.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			hub.BroadcastEvent(Event{Type: EventTypeCheck, Timestamp: time.Now()})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("BroadcastEvent blocked on a full channel")
	}
}

func TestHub_BroadcastEventRespectsConfigGate(t *testing.T) {
	hub := NewHub(&HubConfig{BroadcastChecks: false}, zap.NewNop())

	hub.BroadcastEvent(Event{Type: EventTypeCheck})
	select {
	case e := <-hub.broadcast:
		t.Errorf("disabled event type was enqueued: %+v", e)
	default:
	}
}

func TestHub_ApplyEventFilter(t *testing.T) {
	hub := NewHub(allEventsConfig(), zap.NewNop())

	euCheck := Event{Type: EventTypeCheck, Data: CheckEvent{Jurisdiction: "EU"}}
	usCheck := Event{Type: EventTypeCheck, Data: CheckEvent{Jurisdiction: "US"}}
	scan := Event{Type: EventTypeSensitiveData, Data: SensitiveDataEvent{Count: 1}}

	noFilter := &EventFilter{}
	if !hub.applyEventFilter(noFilter, euCheck) {
		t.Error("empty filter must pass everything")
	}

	euOnly := &EventFilter{Jurisdictions: []string{"EU"}}
	if !hub.applyEventFilter(euOnly, euCheck) {
		t.Error("matching jurisdiction must pass")
	}
	if hub.applyEventFilter(euOnly, usCheck) {
		t.Error("non-matching jurisdiction must be filtered")
	}
	if !hub.applyEventFilter(euOnly, scan) {
		t.Error("jurisdiction filter only applies to check events")
	}
}

func TestHub_ShouldSendToClient(t *testing.T) {
	hub := NewHub(allEventsConfig(), zap.NewNop())
	check := Event{Type: EventTypeCheck, Data: CheckEvent{Jurisdiction: "EU"}}

	unfiltered := &Client{}
	if !hub.shouldSendToClient(unfiltered, check) {
		t.Error("client without a subscription receives everything")
	}

	subscribed := &Client{Subscription: &SubscriptionRequest{Events: []EventType{EventTypeCheck}}}
	if !hub.shouldSendToClient(subscribed, check) {
		t.Error("subscribed event type must be delivered")
	}

	otherType := &Client{Subscription: &SubscriptionRequest{Events: []EventType{EventTypeAIReview}}}
	if hub.shouldSendToClient(otherType, check) {
		t.Error("unsubscribed event type must be withheld")
	}
}

func TestHub_HandleWebSocketRejectsBadAuth(t *testing.T) {
	hub := NewHub(allEventsConfig(), zap.NewNop())

	cases := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not basic", "Bearer token"},
		{"malformed", "Basic"},
		{"bad base64", "Basic $$$$"},
		{"wrong password", basicAuth("admin", "wrong")},
		{"wrong user", basicAuth("nobody", "secret")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			hub.HandleWebSocket(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestHub_ClientReceivesBroadcast(t *testing.T) {
	hub := NewHub(allEventsConfig(), zap.NewNop())
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	header := http.Header{}
	header.Set("Authorization", basicAuth("admin", "secret"))
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if resp != nil {
		resp.Body.Close()
	}

	waitForConnections(t, hub, 1)

	sent := Event{
		Type:      EventTypeCheck,
		Timestamp: time.Now().UTC(),
		Data:      CheckEvent{Jurisdiction: "EU", Compliant: false, Violations: 2},
	}
	hub.BroadcastEvent(sent)

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var received Event
	if err := conn.ReadJSON(&received); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if received.Type != EventTypeCheck {
		t.Errorf("received type = %s, want %s", received.Type, EventTypeCheck)
	}

	data, ok := received.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("event data type = %T", received.Data)
	}
	if data["jurisdiction"] != "EU" {
		t.Errorf("jurisdiction = %v", data["jurisdiction"])
	}
	if data["violations"] != float64(2) {
		t.Errorf("violations = %v", data["violations"])
	}

	stats := hub.GetStats()
	if stats.TotalConnections != 1 {
		t.Errorf("TotalConnections = %d, want 1", stats.TotalConnections)
	}
}

func TestHub_ConnectionEventGoesToOthersOnly(t *testing.T) {
	hub := NewHub(allEventsConfig(), zap.NewNop())
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := http.Header{}
	header.Set("Authorization", basicAuth("admin", "secret"))

	first, resp1, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial first: %v", err)
	}
	defer first.Close()
	if resp1 != nil {
		resp1.Body.Close()
	}
	waitForConnections(t, hub, 1)

	second, resp2, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial second: %v", err)
	}
	defer second.Close()
	if resp2 != nil {
		resp2.Body.Close()
	}
	waitForConnections(t, hub, 2)

	// The existing client is told about the new connection.
	first.SetReadDeadline(time.Now().Add(3 * time.Second))
	var received Event
	if err := first.ReadJSON(&received); err != nil {
		t.Fatalf("ReadJSON on first client: %v", err)
	}
	if received.Type != EventTypeConnection {
		t.Fatalf("received type = %s, want %s", received.Type, EventTypeConnection)
	}
	data, ok := received.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("event data type = %T", received.Data)
	}
	if data["action"] != "connected" {
		t.Errorf("action = %v, want connected", data["action"])
	}

	// The new client gets no notification about its own arrival.
	second.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var unexpected Event
	if err := second.ReadJSON(&unexpected); err == nil {
		t.Errorf("second client received its own connection event: %+v", unexpected)
	}
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.RemoteAddr = "203.0.113.9:4711"
	if got := getClientIP(req); got != "203.0.113.9:4711" {
		t.Errorf("RemoteAddr fallback = %q", got)
	}

	req.Header.Set("X-Real-IP", "198.51.100.7")
	if got := getClientIP(req); got != "198.51.100.7" {
		t.Errorf("X-Real-IP = %q", got)
	}

	req.Header.Set("X-Forwarded-For", "192.0.2.1")
	if got := getClientIP(req); got != "192.0.2.1" {
		t.Errorf("X-Forwarded-For takes precedence, got %q", got)
	}
}

func TestParseBasicAuth(t *testing.T) {
	typ, data, err := parseBasicAuth("Basic abc123")
	if err != nil || typ != "Basic" || data != "abc123" {
		t.Errorf("parseBasicAuth = (%q, %q, %v)", typ, data, err)
	}

	if _, _, err := parseBasicAuth("NoSpaceHere"); err == nil {
		t.Error("auth without a space must fail")
	}
}

func TestParseCredentials(t *testing.T) {
	user, pass, ok := parseCredentials(base64.StdEncoding.EncodeToString([]byte("admin:s:e:cret")))
	if !ok || user != "admin" || pass != "s:e:cret" {
		t.Errorf("parseCredentials = (%q, %q, %v), colons in the password must survive", user, pass, ok)
	}

	if _, _, ok := parseCredentials("not-base64!!!"); ok {
		t.Error("invalid base64 must fail")
	}

	if _, _, ok := parseCredentials(base64.StdEncoding.EncodeToString([]byte("nocolon"))); ok {
		t.Error("credentials without a colon must fail")
	}
}
