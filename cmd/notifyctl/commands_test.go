package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	api "github.com/dmitrymomot/notification-service/modules/notifications"
	"github.com/dmitrymomot/notification-service/pkg/dispatcher"
	"github.com/dmitrymomot/notification-service/pkg/eventstore"
	"github.com/dmitrymomot/notification-service/pkg/gateway"
	"github.com/dmitrymomot/notification-service/pkg/logger"
	"github.com/dmitrymomot/notification-service/pkg/notifications"
	"github.com/dmitrymomot/notification-service/pkg/registry"
)

func newServer(t *testing.T) string {
	t.Helper()

	store := eventstore.NewMemoryStore()
	reg := registry.New(registry.NewMemorySubscriberStore(), registry.WithLogger(logger.Discard()))
	d := dispatcher.New(store, reg, gateway.NewHub(), dispatcher.WithLogger(logger.Discard()))
	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(func() { _ = d.Stop() })

	m := notifications.NewManager(store, reg, d, notifications.WithManagerLogger(logger.Discard()))
	srv := httptest.NewServer(api.Router(api.RouterOptions{Manager: m, Logger: logger.Discard()}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func execute(t *testing.T, server, stdin string, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--server", server}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestPublishAndEvents(t *testing.T) {
	t.Parallel()
	server := newServer(t)

	out, err := execute(t, server, "", "publish", "alerts", `{"msg":"disk full"}`)
	require.NoError(t, err)
	var published map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &published))
	assert.EqualValues(t, 1, published["seq"])

	_, err = execute(t, server, `{"msg":"cpu hot"}`, "publish", "alerts", "-")
	require.NoError(t, err)

	out, err = execute(t, server, "", "events", "alerts", "--after", "1")
	require.NoError(t, err)
	var frames []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &frames))
	require.Len(t, frames, 1)
	assert.EqualValues(t, 2, frames[0]["seq"])
	assert.Equal(t, map[string]any{"msg": "cpu hot"}, frames[0]["payload"])
}

func TestSubscriptionCommands(t *testing.T) {
	t.Parallel()
	server := newServer(t)

	out, err := execute(t, server, "", "subscribe", "u1", "alerts")
	require.NoError(t, err)
	assert.Equal(t, "u1 subscribed alerts\n", out)

	out, err = execute(t, server, "", "status", "u1")
	require.NoError(t, err)
	var status map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, false, status["online"])
	assert.Len(t, status["channels"], 1)

	out, err = execute(t, server, "", "unsubscribe", "u1", "alerts")
	require.NoError(t, err)
	assert.Equal(t, "u1 unsubscribed alerts\n", out)
}

func TestCommandErrors(t *testing.T) {
	t.Parallel()
	server := newServer(t)

	tests := []struct {
		name     string
		args     []string
		wantCode string
		wantText string
	}{
		{name: "invalid payload", args: []string{"publish", "alerts", "{"}, wantText: "not valid JSON"},
		{name: "unknown channel", args: []string{"events", "missing"}, wantCode: "channel_not_found"},
		{name: "unknown connection", args: []string{"ack", "c1", "alerts", "3"}, wantCode: "connection_not_found"},
		{name: "zero seq", args: []string{"ack", "c1", "alerts", "0"}, wantText: "invalid sequence number"},
		{name: "resume unknown connection", args: []string{"resume", "c1"}, wantCode: "connection_not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, server, "", tt.args...)
			require.Error(t, err)
			if tt.wantCode != "" {
				var apiErr *apiError
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, tt.wantCode, apiErr.Code)
			}
			if tt.wantText != "" {
				assert.Contains(t, err.Error(), tt.wantText)
			}
		})
	}
}

func TestInvalidServer(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "localhost", "", "status", "u1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid server URL")
}
