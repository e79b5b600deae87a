// SPDX-License-Identifier: MPL-2.0

package adminapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invowk/guildhost/internal/adminapi"
	"github.com/invowk/guildhost/internal/catalog"
	"github.com/invowk/guildhost/internal/lifecycle"
	"github.com/invowk/guildhost/internal/store"
	"github.com/invowk/guildhost/pkg/botmod"
)

type (
	// directQueue runs work inline; serialization is the dispatcher's job.
	directQueue struct{}

	termsModule struct {
		id    botmod.ModuleID
		terms []string
	}
)

func (directQueue) Do(ctx context.Context, _ botmod.GuildID, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (m *termsModule) Startup(ctx context.Context, host botmod.Host) error {
	for _, term := range m.terms {
		_, err := host.RegisterCommand(ctx, botmod.Command{
			ID:      botmod.CommandID(string(m.id) + "." + term),
			Term:    term,
			Handler: func(context.Context, *botmod.Invocation) error { return nil },
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *termsModule) Teardown(context.Context) {}

func module(id botmod.ModuleID, deps []botmod.ModuleID, terms ...string) botmod.Descriptor {
	return botmod.Descriptor{
		ID:           id,
		Version:      "1.0.0",
		Dependencies: deps,
		Factory: func(botmod.Resolver) (botmod.Module, error) {
			return &termsModule{id: id, terms: terms}, nil
		},
	}
}

func newTestServer(t *testing.T, opts ...adminapi.Option) (*httptest.Server, *lifecycle.Manager) {
	t.Helper()
	cat, err := catalog.New(
		module("base", nil, "help"),
		module("stats", []botmod.ModuleID{"base"}, "stats"),
		module("leaderboard", []botmod.ModuleID{"stats"}, "top"),
	)
	require.NoError(t, err)
	mgr, err := lifecycle.New(cat, store.NewMemory(), nil,
		lifecycle.WithProtectedModule("base"),
		lifecycle.WithLogger(log.New(io.Discard)),
	)
	require.NoError(t, err)

	base := []adminapi.Option{
		adminapi.WithLogger(log.New(io.Discard)),
		adminapi.WithGatherer(prometheus.NewRegistry()),
	}
	srv := adminapi.New(mgr, directQueue{}, append(base, opts...)...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, mgr
}

func do(t *testing.T, ts *httptest.Server, method, path, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, ts.URL+path, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	} else if len(raw) > 0 && raw[0] == '[' {
		var items []any
		require.NoError(t, json.Unmarshal(raw, &items))
		out["items"] = items
	}
	return resp.StatusCode, out
}

func TestModuleLifecycleOverHTTP(t *testing.T) {
	t.Parallel()
	ts, mgr := newTestServer(t)

	status, body := do(t, ts, http.MethodPost, "/api/v1/guilds/g1/modules/leaderboard/enable", "")
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, []any{"stats"}, body["blocking"])

	status, _ = do(t, ts, http.MethodPost, "/api/v1/guilds/g1/modules/stats/enable", "")
	assert.Equal(t, http.StatusOK, status)
	status, _ = do(t, ts, http.MethodPost, "/api/v1/guilds/g1/modules/leaderboard/enable", "")
	assert.Equal(t, http.StatusOK, status)

	status, body = do(t, ts, http.MethodPost, "/api/v1/guilds/g1/modules/stats/disable", "")
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, []any{"leaderboard"}, body["blocking"])

	status, _ = do(t, ts, http.MethodPost, "/api/v1/guilds/g1/modules/base/disable", "")
	assert.Equal(t, http.StatusConflict, status)

	status, _ = do(t, ts, http.MethodPost, "/api/v1/guilds/g1/modules/nope/enable", "")
	assert.Equal(t, http.StatusNotFound, status)

	status, body = do(t, ts, http.MethodGet, "/api/v1/guilds/g1/modules", "")
	require.Equal(t, http.StatusOK, status)
	items := body["items"].([]any)
	require.Len(t, items, 3)
	first := items[0].(map[string]any)
	assert.Equal(t, "base", first["id"])
	assert.Equal(t, true, first["protected"])
	assert.Equal(t, true, first["live"])

	state, ok := mgr.State("g1")
	require.True(t, ok)
	assert.Equal(t, []botmod.ModuleID{"base", "stats", "leaderboard"}, state.ModuleIDs())
}

func TestCommandsAndSettings(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)

	status, body := do(t, ts, http.MethodPatch, "/api/v1/guilds/g1/commands/help", `{"term":"commands"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "commands", body["term"])
	assert.Equal(t, "help", body["desired_term"])

	status, body = do(t, ts, http.MethodPatch, "/api/v1/guilds/g1/commands/base.help", `{"enabled":false}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["enabled"])

	status, _ = do(t, ts, http.MethodPatch, "/api/v1/guilds/g1/commands/missing", `{"enabled":true}`)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = do(t, ts, http.MethodPatch, "/api/v1/guilds/g1/commands/help", `{"bogus":1}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = do(t, ts, http.MethodPatch, "/api/v1/guilds/g1/settings", `{"prefix":"?","unknown_command_reply":false}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "?", body["prefix"])
	assert.Equal(t, false, body["unknown_command_reply"])

	status, _ = do(t, ts, http.MethodPatch, "/api/v1/guilds/g1/settings", `{"prefix":"a b"}`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAdmins(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)

	status, body := do(t, ts, http.MethodPut, "/api/v1/guilds/g1/admins/u1", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["changed"])

	_, body = do(t, ts, http.MethodPut, "/api/v1/guilds/g1/admins/u1", "")
	assert.Equal(t, false, body["changed"])

	_, body = do(t, ts, http.MethodGet, "/api/v1/guilds/g1/admins", "")
	assert.Equal(t, []any{"u1"}, body["admins"])

	_, body = do(t, ts, http.MethodDelete, "/api/v1/guilds/g1/admins/u1", "")
	assert.Equal(t, true, body["changed"])
}

func TestCatalogAndHealth(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t, adminapi.WithReadinessCheck("gateway", func() error {
		return errors.New("not connected")
	}))

	status, body := do(t, ts, http.MethodGet, "/api/v1/catalog", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []any{"base", "stats", "leaderboard"}, body["order"])

	status, _ = do(t, ts, http.MethodGet, "/live", "")
	assert.Equal(t, http.StatusOK, status)
	status, _ = do(t, ts, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, status)

	resp, err := ts.Client().Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTokenRequired(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t, adminapi.WithToken("s3cret"))

	status, _ := do(t, ts, http.MethodGet, "/api/v1/guilds", "")
	assert.Equal(t, http.StatusUnauthorized, status)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, ts.URL+"/api/v1/guilds", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	cat, err := catalog.New(module("base", nil, "help"))
	require.NoError(t, err)
	mgr, err := lifecycle.New(cat, store.NewMemory(), nil, lifecycle.WithLogger(log.New(io.Discard)))
	require.NoError(t, err)

	srv := adminapi.New(mgr, directQueue{},
		adminapi.WithAddr("127.0.0.1:0"),
		adminapi.WithLogger(log.New(io.Discard)),
		adminapi.WithGatherer(prometheus.NewRegistry()),
	)
	require.NoError(t, srv.Start(context.Background()))
	assert.True(t, srv.IsRunning())
	assert.NotEmpty(t, srv.Address())

	resp, err := http.Get("http://" + srv.Address() + "/live")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Stop())
	require.NoError(t, srv.Stop())
	assert.False(t, srv.IsRunning())
}
