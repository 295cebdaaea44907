package notifications_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notification-service/handler"
	api "github.com/dmitrymomot/notification-service/modules/notifications"
	"github.com/dmitrymomot/notification-service/pkg/backpressure"
	"github.com/dmitrymomot/notification-service/pkg/dispatcher"
	"github.com/dmitrymomot/notification-service/pkg/eventstore"
	"github.com/dmitrymomot/notification-service/pkg/gateway"
	"github.com/dmitrymomot/notification-service/pkg/logger"
	"github.com/dmitrymomot/notification-service/pkg/notifications"
	"github.com/dmitrymomot/notification-service/pkg/registry"
	"github.com/dmitrymomot/notification-service/pkg/requestid"
)

// pushRecorder accepts pushes without acknowledging them.
type pushRecorder struct {
	pushed chan uint64
}

func (p pushRecorder) Push(_ context.Context, _ string, ev eventstore.Event) error {
	select {
	case p.pushed <- ev.Seq:
	default:
	}
	return nil
}

type apiStack struct {
	server     *httptest.Server
	dispatcher *dispatcher.Dispatcher
	registry   *registry.Registry
	pushed     chan uint64
}

func newAPI(t *testing.T, store eventstore.Store) *apiStack {
	t.Helper()

	reg := registry.New(registry.NewMemorySubscriberStore(), registry.WithLogger(logger.Discard()))
	transport := pushRecorder{pushed: make(chan uint64, 16)}
	d := dispatcher.New(store, reg, transport,
		dispatcher.WithLogger(logger.Discard()),
		dispatcher.WithAckTimeout(time.Second),
	)
	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(func() { _ = d.Stop() })

	m := notifications.NewManager(store, reg, d, notifications.WithManagerLogger(logger.Discard()))
	srv := httptest.NewServer(api.Router(api.RouterOptions{
		Manager:        m,
		Logger:         logger.Discard(),
		AllowedOrigins: []string{"*"},
		Port:           5101,
	}))
	t.Cleanup(srv.Close)

	return &apiStack{server: srv, dispatcher: d, registry: reg, pushed: transport.pushed}
}

func (s *apiStack) do(t *testing.T, method, path, body string) (int, handler.JSONResponse, http.Header) {
	t.Helper()

	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, s.server.URL+path, rdr)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out handler.JSONResponse
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out, resp.Header
}

func TestRouter_PublishAndRead(t *testing.T) {
	t.Parallel()
	s := newAPI(t, eventstore.NewMemoryStore())

	status, body, header := s.do(t, http.MethodPost, "/api/v1/channels/alerts/events", `{"payload":{"msg":"disk full"}}`)
	require.Equal(t, http.StatusCreated, status)
	assert.NotEmpty(t, header.Get(requestid.Header))
	data := body.Data.(map[string]any)
	assert.Equal(t, "alerts", data["channel"])
	assert.EqualValues(t, 1, data["seq"])

	_, _, _ = s.do(t, http.MethodPost, "/api/v1/channels/alerts/events", `{"payload":"plain"}`)

	status, body, _ = s.do(t, http.MethodGet, "/api/v1/channels/alerts/events?after=0&limit=10", "")
	require.Equal(t, http.StatusOK, status)
	frames := body.Data.([]any)
	require.Len(t, frames, 2)
	first := frames[0].(map[string]any)
	assert.Equal(t, map[string]any{"msg": "disk full"}, first["payload"])
	assert.EqualValues(t, 2, body.Meta["next_after"])

	status, body, _ = s.do(t, http.MethodGet, "/api/v1/channels/alerts/events?after=1", "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body.Data, 1)
}

func TestRouter_PublishErrors(t *testing.T) {
	t.Parallel()
	s := newAPI(t, eventstore.NewMemoryStore())

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"missing payload", http.MethodPost, "/api/v1/channels/alerts/events", `{}`, http.StatusUnprocessableEntity, "validation_error"},
		{"malformed body", http.MethodPost, "/api/v1/channels/alerts/events", `{"payload":`, http.StatusBadRequest, "bad_request"},
		{"unknown channel", http.MethodGet, "/api/v1/channels/missing/events", "", http.StatusNotFound, "channel_not_found"},
		{"negative limit", http.MethodGet, "/api/v1/channels/alerts/events?limit=-1", "", http.StatusBadRequest, "invalid_input"},
		{"ack unknown connection", http.MethodPost, "/api/v1/connections/nope/ack", `{"channel":"alerts","seq":1}`, http.StatusNotFound, "connection_not_found"},
		{"ack zero seq", http.MethodPost, "/api/v1/connections/nope/ack", `{"channel":"alerts","seq":0}`, http.StatusUnprocessableEntity, "validation_error"},
		{"resume unknown connection", http.MethodPost, "/api/v1/connections/nope/resume", "", http.StatusNotFound, "connection_not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body, _ := s.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, status)
			require.NotNil(t, body.Error)
			assert.Equal(t, tt.wantCode, body.Error.Code)
		})
	}
}

type downStore struct {
	eventstore.Store
}

func (downStore) Append(context.Context, string, []byte) (eventstore.Event, error) {
	return eventstore.Event{}, eventstore.ErrStoreUnavailable
}

func (downStore) Ping(context.Context) error {
	return eventstore.ErrStoreUnavailable
}

func TestRouter_StoreUnavailable(t *testing.T) {
	t.Parallel()
	s := newAPI(t, downStore{Store: eventstore.NewMemoryStore()})

	status, body, _ := s.do(t, http.MethodPost, "/api/v1/channels/alerts/events", `{"payload":1}`)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "store_unavailable", body.Error.Code)

	resp, err := http.Get(s.server.URL + "/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestRouter_Subscriptions(t *testing.T) {
	t.Parallel()
	s := newAPI(t, eventstore.NewMemoryStore())
	ctx := context.Background()

	status, _, _ := s.do(t, http.MethodPut, "/api/v1/subscribers/u1/channels/alerts", "")
	require.Equal(t, http.StatusNoContent, status)

	require.NoError(t, s.dispatcher.Handle(ctx, gateway.Connected{ConnectionID: "c1", SubscriberID: "u1"}))
	status, _, _ = s.do(t, http.MethodPost, "/api/v1/channels/alerts/events", `{"payload":{"n":1}}`)
	require.Equal(t, http.StatusCreated, status)

	select {
	case seq := <-s.pushed:
		require.Equal(t, uint64(1), seq)
	case <-time.After(3 * time.Second):
		t.Fatal("event was not pushed")
	}
	assert.Equal(t, backpressure.StateDelivering, s.dispatcher.Status("u1", "alerts").State)

	status, _, _ = s.do(t, http.MethodPost, "/api/v1/connections/c1/ack", `{"channel":"alerts","seq":1}`)
	require.Equal(t, http.StatusNoContent, status)
	require.Eventually(t, func() bool {
		c, err := s.registry.Cursor(ctx, "u1", "alerts")
		return err == nil && c == 1
	}, 3*time.Second, 5*time.Millisecond)

	status, body, _ := s.do(t, http.MethodGet, "/api/v1/subscribers/u1", "")
	require.Equal(t, http.StatusOK, status)
	data := body.Data.(map[string]any)
	assert.Equal(t, "u1", data["id"])
	assert.Equal(t, true, data["online"])
	channels := data["channels"].([]any)
	require.Len(t, channels, 1)
	assert.EqualValues(t, 1, channels[0].(map[string]any)["cursor"])

	status, _, _ = s.do(t, http.MethodPost, "/api/v1/connections/c1/resume", "")
	assert.Equal(t, http.StatusNoContent, status)

	status, _, _ = s.do(t, http.MethodDelete, "/api/v1/subscribers/u1/channels/alerts", "")
	require.Equal(t, http.StatusNoContent, status)
	ok, err := s.registry.IsSubscribed(ctx, "u1", "alerts")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRouter_HealthPage(t *testing.T) {
	t.Parallel()
	s := newAPI(t, eventstore.NewMemoryStore())

	resp, err := http.Get(s.server.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, string(body), "<code>5101</code>")
	assert.Contains(t, string(body), "ready")

	for path, want := range map[string]string{"/health/live": "ALIVE", "/health/ready": "READY"} {
		resp, err := http.Get(s.server.URL + path)
		require.NoError(t, err)
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Equal(t, want, string(b), path)
	}
}

func TestRouter_CORSPreflight(t *testing.T) {
	t.Parallel()
	s := newAPI(t, eventstore.NewMemoryStore())

	req, err := http.NewRequest(http.MethodOptions, s.server.URL+"/api/v1/channels/alerts/events", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), http.MethodPost)
}
