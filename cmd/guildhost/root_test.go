// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invowk/guildhost/internal/config"
	"github.com/invowk/guildhost/internal/issue"
	"github.com/invowk/guildhost/internal/modules/admin"
	"github.com/invowk/guildhost/internal/modules/stats"
	"github.com/invowk/guildhost/internal/store"
	"github.com/invowk/guildhost/internal/store/sqlite"
	"github.com/invowk/guildhost/pkg/botmod"
)

type testCLI struct {
	app    *App
	stdout *bytes.Buffer
	stderr *bytes.Buffer
	config string
}

func newTestCLI(t *testing.T, cfg string, env map[string]string) *testCLI {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.cue")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))

	var stdout, stderr bytes.Buffer
	app := NewApp(Dependencies{
		Stdout: &stdout,
		Stderr: &stderr,
		Env: func(key string) (string, bool) {
			v, ok := env[key]
			return v, ok
		},
	})
	return &testCLI{app: app, stdout: &stdout, stderr: &stderr, config: path}
}

func (c *testCLI) run(args ...string) error {
	root := NewRootCommand(c.app)
	root.SetArgs(append([]string{"--config", c.config, "--log-level", "error"}, args...))
	return root.ExecuteContext(context.Background())
}

func TestModulesCommand(t *testing.T) {
	cli := newTestCLI(t, "", nil)

	require.NoError(t, cli.run("modules", "--graph"))
	out := cli.stdout.String()

	assert.Contains(t, out, "guildhost.admin")
	assert.Contains(t, out, "(protected)")
	assert.Contains(t, out, "depends on: guildhost.stats")
	assert.Contains(t, out, "guildhost.stats -> guildhost.leaderboard")

	// Dependencies are listed before their dependents.
	assert.Less(t, bytes.Index(cli.stdout.Bytes(), []byte(" guildhost.stats ")),
		bytes.Index(cli.stdout.Bytes(), []byte(" guildhost.leaderboard ")))
}

func TestConfigShow(t *testing.T) {
	cli := newTestCLI(t, `
defaults: command_prefix: "?"
gateway: token: "hunter2"
`, nil)

	require.NoError(t, cli.run("config", "show"))
	out := cli.stdout.String()
	assert.Contains(t, out, `command_prefix: "?"`)
	assert.Contains(t, out, `token: "<redacted>"`)
	assert.NotContains(t, out, "hunter2")

	cli.stdout.Reset()
	require.NoError(t, cli.run("config", "show", "--reveal"))
	assert.Contains(t, cli.stdout.String(), `token: "hunter2"`)
}

func TestConfigShow_EnvOverride(t *testing.T) {
	cli := newTestCLI(t, "", map[string]string{"GUILDHOST_DISPATCH_WORKERS": "8"})

	require.NoError(t, cli.run("config", "show"))
	assert.Contains(t, cli.stdout.String(), "workers: 8")
}

func TestConfigShow_InvalidFile(t *testing.T) {
	cli := newTestCLI(t, `store: driver: "postgres"`, nil)

	err := cli.run("config", "show")
	require.Error(t, err)
	guidance := issue.Guidance(err)
	require.NotNil(t, guidance)
	assert.Equal(t, issue.ConfigLoadFailedId, guidance.Id())
}

func TestConfigPath(t *testing.T) {
	cli := newTestCLI(t, "", nil)

	require.NoError(t, cli.run("config", "path"))
	assert.Contains(t, cli.stdout.String(), cli.config)
}

func TestGuildExport(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "guilds.db")
	ctx := context.Background()

	repo, err := sqlite.Open(ctx, dbPath)
	require.NoError(t, err)
	guildID := botmod.GuildID("42")
	require.NoError(t, repo.UpsertGuildSettings(ctx, store.GuildSettings{GuildID: guildID, Prefix: "?", UnknownCommandReply: false}))
	require.NoError(t, repo.SetModuleEnabled(ctx, guildID, stats.ID, true))
	require.NoError(t, repo.SetModuleEnabled(ctx, guildID, admin.ID, true))
	require.NoError(t, repo.SetCommandTerm(ctx, guildID, stats.ID, stats.StatsCommand, "count"))
	require.NoError(t, repo.SetCommandEnabled(ctx, guildID, stats.ID, stats.StatsCommand, false))
	_, err = repo.AddAdminUser(ctx, guildID, "9")
	require.NoError(t, err)
	_, err = repo.AddAdminUser(ctx, guildID, "7")
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	cli := newTestCLI(t, `store: sqlite: path: "`+filepath.ToSlash(dbPath)+`"`, nil)
	require.NoError(t, cli.run("guild", "export", "--guild", "42"))

	var snap GuildSnapshot
	require.NoError(t, toml.Unmarshal(cli.stdout.Bytes(), &snap))
	assert.Equal(t, store.GuildSettings{GuildID: guildID, Prefix: "?"}, snap.Guild)
	assert.Equal(t, []botmod.UserID{"7", "9"}, snap.Admins)
	assert.Equal(t, []ModuleSetting{{ID: admin.ID, Enabled: true}, {ID: stats.ID, Enabled: true}}, snap.Modules)
	require.Len(t, snap.Commands, 1)
	assert.Equal(t, stats.StatsCommand, snap.Commands[0].CommandID)
	assert.Equal(t, "count", snap.Commands[0].Term)
	assert.False(t, snap.Commands[0].Enabled)
}

func TestGuildExport_Errors(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "guilds.db")
	cli := newTestCLI(t, `store: sqlite: path: "`+filepath.ToSlash(dbPath)+`"`, nil)

	err := cli.run("guild", "export", "--guild", "404")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no persisted settings")

	err = cli.run("guild", "export")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "guild")

	err = cli.run("guild", "export", "--guild", "a b")
	assert.True(t, errors.Is(err, botmod.ErrInvalidGuildID))
}

func TestServe_InvalidGatewayURL(t *testing.T) {
	cli := newTestCLI(t, `
store: driver: "memory"
admin_api: enabled: false
`, map[string]string{"GUILDHOST_GATEWAY_URL": "http://"})

	err := cli.run("serve")
	require.Error(t, err)
	guidance := issue.Guidance(err)
	require.NotNil(t, guidance)
	assert.Equal(t, issue.GatewayUnreachableId, guidance.Id())
}

func TestOpenStore(t *testing.T) {
	repo, err := openStore(context.Background(), config.StoreConfig{Driver: config.StoreDriverMemory})
	require.NoError(t, err)
	assert.IsType(t, &store.Memory{}, repo)

	_, err = openStore(context.Background(), config.StoreConfig{Driver: "redis"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrInvalidStoreDriver))
	assert.Equal(t, issue.StoreOpenFailedId, issue.Guidance(err).Id())
}

type countingHandler struct{ messages, reactions, guilds int }

func (h *countingHandler) Dispatch(botmod.Message) error             { h.messages++; return nil }
func (h *countingHandler) DispatchReaction(botmod.Reaction) error    { h.reactions++; return nil }
func (h *countingHandler) HandleGuildAvailable(botmod.GuildID) error { h.guilds++; return nil }

func TestHandlerRelay(t *testing.T) {
	relay := &handlerRelay{}
	require.NoError(t, relay.Dispatch(botmod.Message{}))

	h := &countingHandler{}
	relay.install(h)
	require.NoError(t, relay.Dispatch(botmod.Message{}))
	require.NoError(t, relay.DispatchReaction(botmod.Reaction{}))
	require.NoError(t, relay.HandleGuildAvailable("1"))
	assert.Equal(t, countingHandler{messages: 1, reactions: 1, guilds: 1}, *h)
}

type (
	stuckDispatcher struct{ busy map[botmod.GuildID]bool }

	guildRecorder struct {
		guilds []botmod.GuildID
		down   []botmod.GuildID
	}
)

func (d *stuckDispatcher) Close(context.Context) error { return context.DeadlineExceeded }
func (d *stuckDispatcher) Idle(id botmod.GuildID) bool { return !d.busy[id] }

func (g *guildRecorder) Guilds() []botmod.GuildID { return g.guilds }
func (g *guildRecorder) ShutdownGuild(_ context.Context, id botmod.GuildID) {
	g.down = append(g.down, id)
}

func TestDrainAndShutdown_SkipsBusyGuilds(t *testing.T) {
	disp := &stuckDispatcher{busy: map[botmod.GuildID]bool{"2": true}}
	guilds := &guildRecorder{guilds: []botmod.GuildID{"1", "2", "3"}}

	drainAndShutdown(context.Background(), log.New(io.Discard), disp, guilds)
	assert.Equal(t, []botmod.GuildID{"1", "3"}, guilds.down)
}

func TestRenderGuidance(t *testing.T) {
	err := issue.NewErrorContext().
		WithOperation("open sqlite store").
		WithResource("/nope/guilds.db").
		WithSuggestion("Check the directory").
		WithIssue(issue.StoreOpenFailedId).
		Wrap(errors.New("unable to open database file")).
		BuildError()

	var buf bytes.Buffer
	renderGuidance(&buf, err, false)
	assert.Contains(t, buf.String(), "failed to open sqlite store: /nope/guilds.db")
	assert.Contains(t, buf.String(), "Check the directory")
	assert.Greater(t, buf.Len(), len("failed to open sqlite store"))
}
