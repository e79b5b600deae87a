// SPDX-License-Identifier: MPL-2.0

// Package lifecycle instantiates, enables and disables modules per guild.
//
// The Manager owns every guild's State. All methods taking a guild id expect
// the caller to serialize calls for that guild; the dispatcher does this by
// running them on the guild's queue. Calls for different guilds may run
// concurrently.
//
// Each state change is persisted before memory is touched. When the
// repository fails, the error is returned and the in-memory state is left
// exactly as it was.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode"

	"github.com/charmbracelet/log"
	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/invowk/guildhost/internal/catalog"
	"github.com/invowk/guildhost/internal/dag"
	"github.com/invowk/guildhost/internal/guild"
	svc "github.com/invowk/guildhost/internal/services"
	"github.com/invowk/guildhost/internal/store"
	"github.com/invowk/guildhost/pkg/botmod"
)

const (
	// DefaultPrefix is the prefix written for a guild seen for the first time.
	DefaultPrefix = "!"
)

type (
	// ServiceResolver hands host services to module factories.
	ServiceResolver interface {
		botmod.Resolver
		// Missing returns the names in required that cannot be resolved.
		Missing(required []string) []string
	}

	// ModuleStatus describes one catalog module from a guild's point of view.
	ModuleStatus struct {
		Descriptor botmod.Descriptor
		Live       bool
		Protected  bool
		// Persisted is the stored enabled flag, valid when Found is true.
		Persisted bool
		Found     bool
		// MissingDependencies are declared dependencies that are not live.
		MissingDependencies []botmod.ModuleID
		// LiveDependents are live modules that depend on this one.
		LiveDependents []botmod.ModuleID
	}

	// Manager drives module lifecycles for every guild.
	Manager struct {
		catalog   *catalog.Catalog
		graph     *dag.ModuleGraph
		repo      store.Repository
		services  ServiceResolver
		sender    botmod.Sender
		protected botmod.ModuleID
		defaults  guild.Settings
		logger    *log.Logger
		metrics   *Metrics
		guilds    cmap.ConcurrentMap[string, *guild.State]
	}

	nopSender struct{}
)

func (nopSender) Send(context.Context, botmod.ChannelID, string) (botmod.MessageID, error) {
	return "", nil
}

// New creates a Manager over cat. The dependency graph is built here, so a
// cyclic catalog fails with *dag.CycleError before any guild is touched.
func New(cat *catalog.Catalog, repo store.Repository, services ServiceResolver, opts ...Option) (*Manager, error) {
	graph, err := dag.Build(cat.Descriptors())
	if err != nil {
		return nil, fmt.Errorf("build module graph: %w", err)
	}

	if services == nil {
		services = svc.New()
	}

	m := &Manager{
		catalog:  cat,
		graph:    graph,
		repo:     repo,
		services: services,
		sender:   nopSender{},
		defaults: guild.Settings{Prefix: DefaultPrefix, UnknownCommandReply: true},
		logger:   log.Default().WithPrefix("lifecycle"),
		guilds:   cmap.New[*guild.State](),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = NewMetrics(nil)
	}
	if m.protected != "" && !cat.Has(m.protected) {
		return nil, &UnknownModuleError{ID: m.protected}
	}
	return m, nil
}

// Catalog returns the module catalog.
func (m *Manager) Catalog() *catalog.Catalog { return m.catalog }

// Graph returns the module dependency graph.
func (m *Manager) Graph() *dag.ModuleGraph { return m.graph }

// Protected returns the id of the base module, or "" when there is none.
func (m *Manager) Protected() botmod.ModuleID { return m.protected }

// State returns the state of an instantiated guild.
func (m *Manager) State(guildID botmod.GuildID) (*guild.State, bool) {
	return m.guilds.Get(string(guildID))
}

// Guilds returns the ids of every instantiated guild, sorted.
func (m *Manager) Guilds() []botmod.GuildID {
	keys := m.guilds.Keys()
	out := make([]botmod.GuildID, len(keys))
	for i, k := range keys {
		out[i] = botmod.GuildID(k)
	}
	slices.Sort(out)
	return out
}

// InstantiateForGuild brings a guild up on first contact. Settings are loaded
// (or created with the defaults), then the protected module and every module
// persisted as enabled are started in dependency order. Modules that cannot be
// ordered or fail to start are logged and left disabled; the guild still comes
// up. A repository failure instead tears down what already started and is
// returned, leaving the guild uninstantiated so the next call retries.
// Calling it again for a live guild returns the existing state.
func (m *Manager) InstantiateForGuild(ctx context.Context, guildID botmod.GuildID) (*guild.State, error) {
	if state, ok := m.guilds.Get(string(guildID)); ok {
		return state, nil
	}

	settings, err := m.loadSettings(ctx, guildID)
	if err != nil {
		return nil, err
	}
	enabled, err := m.repo.ListModuleEnabled(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("instantiate guild %s: %w", guildID, err)
	}

	requested := make([]botmod.ModuleID, 0, len(enabled)+1)
	if m.protected != "" {
		requested = append(requested, m.protected)
	}
	for _, id := range m.catalog.IDs() {
		if id != m.protected && enabled[id] {
			requested = append(requested, id)
		}
	}
	for id, on := range enabled {
		if on && !m.catalog.Has(id) {
			m.logger.Warn("enabled module is not in the catalog", "guild", guildID, "module", id)
		}
	}

	state := guild.NewState(guildID, settings, m.repo)
	logger := m.logger.With("guild", guildID)

	ordered, skipped := m.graph.OrderForInstantiation(requested, nil)
	for _, id := range skipped {
		logger.Warn("module skipped, dependencies unavailable", "module", id, "missing", m.graph.Missing(id))
	}
	for _, id := range ordered {
		if blocking := m.deadDependencies(state, id); len(blocking) > 0 {
			logger.Warn("module skipped, a dependency failed to start", "module", id, "dependencies", blocking)
			continue
		}
		if err := m.instantiate(ctx, state, id); err != nil {
			if errors.Is(err, store.ErrTransient) {
				m.abandon(ctx, state)
				return nil, fmt.Errorf("instantiate guild %s: %w", guildID, err)
			}
			logger.Error("module failed to start", "module", id, "err", err)
		}
	}

	m.guilds.Set(string(guildID), state)
	m.metrics.Guilds.Inc()
	logger.Info("guild instantiated", "modules", state.ModuleIDs(), "commands", state.Registry().Len())
	return state, nil
}

func (m *Manager) loadSettings(ctx context.Context, guildID botmod.GuildID) (guild.Settings, error) {
	row, found, err := m.repo.GetGuildSettings(ctx, guildID)
	if err != nil {
		return guild.Settings{}, fmt.Errorf("load settings of guild %s: %w", guildID, err)
	}
	if found {
		return guild.Settings{Prefix: row.Prefix, UnknownCommandReply: row.UnknownCommandReply}, nil
	}
	row = store.GuildSettings{
		GuildID:             guildID,
		Prefix:              m.defaults.Prefix,
		UnknownCommandReply: m.defaults.UnknownCommandReply,
	}
	if err := m.repo.UpsertGuildSettings(ctx, row); err != nil {
		return guild.Settings{}, fmt.Errorf("create settings of guild %s: %w", guildID, err)
	}
	return m.defaults, nil
}

// deadDependencies returns the declared dependencies of id that are not live.
func (m *Manager) deadDependencies(state *guild.State, id botmod.ModuleID) []botmod.ModuleID {
	var out []botmod.ModuleID
	for _, dep := range m.graph.Dependencies(id) {
		if _, live := state.Instance(dep); !live {
			out = append(out, dep)
		}
	}
	return out
}

// instantiate constructs and starts one module. On success the module is
// persisted enabled and becomes live. On failure every registration it made
// is discarded, it is persisted disabled, and a *StartupError is returned.
func (m *Manager) instantiate(ctx context.Context, state *guild.State, id botmod.ModuleID) error {
	desc, ok := m.catalog.Get(id)
	if !ok {
		return &UnknownModuleError{ID: id}
	}

	if missing := m.services.Missing(desc.Requires); len(missing) > 0 {
		return m.failStartup(ctx, state, nil, id, fmt.Errorf("required services not available: %s", strings.Join(missing, ", ")))
	}

	module, err := construct(desc, m.services)
	if err != nil {
		return m.failStartup(ctx, state, nil, id, err)
	}

	inst := guild.NewInstance(id, module)
	if err := inst.BeginStartup(); err != nil {
		return err
	}
	host := &moduleHost{manager: m, state: state, inst: inst}
	if err := startup(ctx, module, host); err != nil {
		return m.failStartup(ctx, state, inst, id, err)
	}

	if err := m.repo.SetModuleEnabled(ctx, state.ID(), id, true); err != nil {
		state.Release(inst)
		_ = inst.AbortStartup()
		teardown(ctx, module, host.Logger())
		return fmt.Errorf("enable module %s: %w", id, err)
	}

	if err := inst.MarkRunning(); err != nil {
		return err
	}
	if err := state.AddInstance(inst); err != nil {
		return err
	}
	m.metrics.Startups.WithLabelValues("ok").Inc()
	m.metrics.LiveModules.Inc()
	m.logger.Debug("module started", "guild", state.ID(), "module", id)
	return nil
}

func (m *Manager) failStartup(ctx context.Context, state *guild.State, inst *guild.Instance, id botmod.ModuleID, cause error) error {
	if inst != nil {
		state.Release(inst)
		_ = inst.AbortStartup()
	}
	m.metrics.Startups.WithLabelValues("failed").Inc()
	if err := m.repo.SetModuleEnabled(ctx, state.ID(), id, false); err != nil {
		m.logger.Warn("could not persist failed module as disabled", "guild", state.ID(), "module", id, "err", err)
	}
	return &StartupError{Module: id, Err: cause}
}

func construct(desc botmod.Descriptor, services botmod.Resolver) (module botmod.Module, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("factory panicked: %v", r)
		}
	}()
	module, err = desc.Factory(services)
	if err == nil && module == nil {
		err = errors.New("factory returned no module")
	}
	return module, err
}

func startup(ctx context.Context, module botmod.Module, host botmod.Host) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("startup panicked: %v", r)
		}
	}()
	return module.Startup(ctx, host)
}

func teardown(ctx context.Context, module botmod.Module, logger *log.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("teardown panicked", "panic", r)
		}
	}()
	module.Teardown(ctx)
}

// EnableModule starts a module in an instantiated guild. Every dependency
// must already be live there.
func (m *Manager) EnableModule(ctx context.Context, guildID botmod.GuildID, id botmod.ModuleID) error {
	state, err := m.InstantiateForGuild(ctx, guildID)
	if err != nil {
		return err
	}
	if !m.catalog.Has(id) {
		return &UnknownModuleError{ID: id}
	}
	if _, live := state.Instance(id); live {
		return fmt.Errorf("%w: %s", ErrAlreadyEnabled, id)
	}
	blocking := slices.Concat(m.graph.Missing(id), m.deadDependencies(state, id))
	if len(blocking) > 0 {
		return &DependencyError{Module: id, Kind: MissingDependencies, Blocking: blocking}
	}
	if err := m.instantiate(ctx, state, id); err != nil {
		return err
	}
	m.logger.Info("module enabled", "guild", guildID, "module", id)
	return nil
}

// DisableModule stops a live module. It is refused for the protected module
// and while any live module depends on it.
func (m *Manager) DisableModule(ctx context.Context, guildID botmod.GuildID, id botmod.ModuleID) error {
	if id == m.protected && id != "" {
		return fmt.Errorf("%w: %s", ErrProtectedModule, id)
	}
	state, err := m.InstantiateForGuild(ctx, guildID)
	if err != nil {
		return err
	}
	if !m.catalog.Has(id) {
		return &UnknownModuleError{ID: id}
	}
	inst, live := state.Instance(id)
	if !live {
		return fmt.Errorf("%w: %s", ErrAlreadyDisabled, id)
	}

	var blocking []botmod.ModuleID
	for _, dep := range m.graph.Dependents(id) {
		if _, depLive := state.Instance(dep); depLive {
			blocking = append(blocking, dep)
		}
	}
	if len(blocking) > 0 {
		return &DependencyError{Module: id, Kind: LiveDependents, Blocking: blocking}
	}

	if err := m.repo.SetModuleEnabled(ctx, guildID, id, false); err != nil {
		return fmt.Errorf("disable module %s: %w", id, err)
	}
	m.stop(ctx, state, inst)
	m.logger.Info("module disabled", "guild", guildID, "module", id)
	return nil
}

// stop releases and tears down a running instance. It never touches the
// repository, so it also serves shutdown.
func (m *Manager) stop(ctx context.Context, state *guild.State, inst *guild.Instance) {
	if !inst.BeginStopping() {
		return
	}
	state.Release(inst)
	teardown(ctx, inst.Module(), m.logger.With("guild", state.ID(), "module", inst.ModuleID()))
	state.RemoveInstance(inst.ModuleID())
	inst.MarkStopped()
	m.metrics.Teardowns.Inc()
	m.metrics.LiveModules.Dec()
}

// abandon stops every module of a guild that never got published, so the
// next contact instantiates it from scratch.
func (m *Manager) abandon(ctx context.Context, state *guild.State) {
	for _, id := range m.graph.TeardownOrder(state.ModuleIDs()) {
		if inst, live := state.Instance(id); live {
			m.stop(ctx, state, inst)
		}
	}
}

// ShutdownGuild tears down every module of a guild, dependents first, and
// forgets the guild. Persisted settings are untouched, so the guild comes back
// the same way on its next contact.
func (m *Manager) ShutdownGuild(ctx context.Context, guildID botmod.GuildID) {
	state, ok := m.guilds.Pop(string(guildID))
	if !ok {
		return
	}
	m.abandon(ctx, state)
	m.metrics.Guilds.Dec()
	m.logger.Debug("guild shut down", "guild", guildID)
}

// Shutdown tears down every instantiated guild.
func (m *Manager) Shutdown(ctx context.Context) {
	for _, id := range m.Guilds() {
		m.ShutdownGuild(ctx, id)
	}
}

// ListModules reports every catalog module for a guild in catalog order.
func (m *Manager) ListModules(ctx context.Context, guildID botmod.GuildID) ([]ModuleStatus, error) {
	state, err := m.InstantiateForGuild(ctx, guildID)
	if err != nil {
		return nil, err
	}
	persisted, err := m.repo.ListModuleEnabled(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("list modules of guild %s: %w", guildID, err)
	}
	descs := m.catalog.Descriptors()
	out := make([]ModuleStatus, len(descs))
	for i, d := range descs {
		_, live := state.Instance(d.ID)
		enabled, found := persisted[d.ID]
		var dependents []botmod.ModuleID
		for _, dep := range m.graph.Dependents(d.ID) {
			if _, depLive := state.Instance(dep); depLive {
				dependents = append(dependents, dep)
			}
		}
		out[i] = ModuleStatus{
			Descriptor:          d,
			Live:                live,
			Protected:           d.ID == m.protected,
			Persisted:           enabled,
			Found:               found,
			MissingDependencies: m.deadDependencies(state, d.ID),
			LiveDependents:      dependents,
		}
	}
	return out, nil
}

// SetPrefix changes the guild's command prefix. It reports whether the
// prefix changed.
func (m *Manager) SetPrefix(ctx context.Context, guildID botmod.GuildID, prefix string) (bool, error) {
	if prefix == "" || strings.IndexFunc(prefix, unicode.IsSpace) >= 0 {
		return false, fmt.Errorf("%w: %q", ErrInvalidPrefix, prefix)
	}
	return m.updateSettings(ctx, guildID, func(s *guild.Settings) { s.Prefix = prefix })
}

// SetUnknownCommandReply toggles the reply sent for unknown commands.
func (m *Manager) SetUnknownCommandReply(ctx context.Context, guildID botmod.GuildID, enabled bool) (bool, error) {
	return m.updateSettings(ctx, guildID, func(s *guild.Settings) { s.UnknownCommandReply = enabled })
}

func (m *Manager) updateSettings(ctx context.Context, guildID botmod.GuildID, mutate func(*guild.Settings)) (bool, error) {
	state, err := m.InstantiateForGuild(ctx, guildID)
	if err != nil {
		return false, err
	}
	next := state.Settings()
	mutate(&next)
	if next == state.Settings() {
		return false, nil
	}
	row := store.GuildSettings{GuildID: guildID, Prefix: next.Prefix, UnknownCommandReply: next.UnknownCommandReply}
	if err := m.repo.UpsertGuildSettings(ctx, row); err != nil {
		return false, fmt.Errorf("update settings of guild %s: %w", guildID, err)
	}
	state.ApplySettings(next)
	return true, nil
}

// FindCommand resolves a command by its current term, or by its command id
// when no term matches. Disabled commands are included.
func (m *Manager) FindCommand(ctx context.Context, guildID botmod.GuildID, ref string) (guild.Registration, error) {
	state, err := m.InstantiateForGuild(ctx, guildID)
	if err != nil {
		return guild.Registration{}, err
	}
	reg := state.Registry()
	if r, ok := reg.Find(ref); ok {
		return r, nil
	}
	if r, ok := reg.Get(botmod.CommandID(ref)); ok {
		return r, nil
	}
	return guild.Registration{}, &guild.UnknownCommandError{Ref: ref}
}

// Commands returns a guild's registered commands ordered by term.
func (m *Manager) Commands(ctx context.Context, guildID botmod.GuildID) ([]guild.Registration, error) {
	state, err := m.InstantiateForGuild(ctx, guildID)
	if err != nil {
		return nil, err
	}
	return state.Registry().Commands(), nil
}

// RenameCommand moves the command referenced by ref to newTerm.
func (m *Manager) RenameCommand(ctx context.Context, guildID botmod.GuildID, ref, newTerm string) (guild.Registration, error) {
	r, err := m.FindCommand(ctx, guildID, ref)
	if err != nil {
		return guild.Registration{}, err
	}
	state, _ := m.State(guildID)
	if err := state.Registry().Rename(ctx, r.Command.ID, newTerm); err != nil {
		return guild.Registration{}, err
	}
	r, _ = state.Registry().Get(r.Command.ID)
	return r, nil
}

// SetCommandEnabled toggles the command referenced by ref. It reports whether
// anything changed.
func (m *Manager) SetCommandEnabled(ctx context.Context, guildID botmod.GuildID, ref string, enabled bool) (guild.Registration, bool, error) {
	r, err := m.FindCommand(ctx, guildID, ref)
	if err != nil {
		return guild.Registration{}, false, err
	}
	state, _ := m.State(guildID)
	changed, err := state.Registry().SetEnabled(ctx, r.Command.ID, enabled)
	if err != nil {
		return guild.Registration{}, false, err
	}
	r, _ = state.Registry().Get(r.Command.ID)
	return r, changed, nil
}

// AdminUsers lists the guild's bot administrators.
func (m *Manager) AdminUsers(ctx context.Context, guildID botmod.GuildID) ([]botmod.UserID, error) {
	return m.repo.ListAdminUsers(ctx, guildID)
}

// AddAdminUser grants bot administration to user. It reports whether the
// user was newly added.
func (m *Manager) AddAdminUser(ctx context.Context, guildID botmod.GuildID, user botmod.UserID) (bool, error) {
	return m.repo.AddAdminUser(ctx, guildID, user)
}

// RemoveAdminUser revokes bot administration. It reports whether the user
// was an administrator.
func (m *Manager) RemoveAdminUser(ctx context.Context, guildID botmod.GuildID, user botmod.UserID) (bool, error) {
	return m.repo.RemoveAdminUser(ctx, guildID, user)
}

// IsAdmin reports whether the author of msg may run admin commands. Guild
// administrators always can and listed users can. While a guild has no listed
// users anyone can, so that the first one can be added.
func (m *Manager) IsAdmin(ctx context.Context, msg botmod.Message) (bool, error) {
	if msg.AuthorIsAdmin {
		return true, nil
	}
	admins, err := m.repo.ListAdminUsers(ctx, msg.GuildID)
	if err != nil {
		return false, err
	}
	return len(admins) == 0 || slices.Contains(admins, msg.AuthorID), nil
}
