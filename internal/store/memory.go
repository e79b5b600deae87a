// SPDX-License-Identifier: MPL-2.0

package store

import (
	"context"
	"slices"
	"strings"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/invowk/guildhost/pkg/botmod"
)

const keySep = "\x00"

// Memory is a Repository kept in process memory. Nothing survives a restart.
type Memory struct {
	guilds   cmap.ConcurrentMap[string, GuildSettings]
	modules  cmap.ConcurrentMap[string, bool]
	commands cmap.ConcurrentMap[string, CommandSetting]
	admins   cmap.ConcurrentMap[string, []botmod.UserID]
}

var _ Repository = (*Memory)(nil)

// NewMemory creates an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		guilds:   cmap.New[GuildSettings](),
		modules:  cmap.New[bool](),
		commands: cmap.New[CommandSetting](),
		admins:   cmap.New[[]botmod.UserID](),
	}
}

func key(parts ...string) string { return strings.Join(parts, keySep) }

func (m *Memory) GetGuildSettings(ctx context.Context, guildID botmod.GuildID) (GuildSettings, bool, error) {
	if err := ctx.Err(); err != nil {
		return GuildSettings{}, false, Wrap("get guild settings", err)
	}
	s, ok := m.guilds.Get(string(guildID))
	return s, ok, nil
}

func (m *Memory) UpsertGuildSettings(ctx context.Context, settings GuildSettings) error {
	if err := ctx.Err(); err != nil {
		return Wrap("upsert guild settings", err)
	}
	m.guilds.Set(string(settings.GuildID), settings)
	return nil
}

func (m *Memory) GetModuleEnabled(ctx context.Context, guildID botmod.GuildID, moduleID botmod.ModuleID) (bool, bool, error) {
	if err := ctx.Err(); err != nil {
		return false, false, Wrap("get module enabled", err)
	}
	v, ok := m.modules.Get(key(string(guildID), string(moduleID)))
	return v, ok, nil
}

func (m *Memory) SetModuleEnabled(ctx context.Context, guildID botmod.GuildID, moduleID botmod.ModuleID, enabled bool) error {
	if err := ctx.Err(); err != nil {
		return Wrap("set module enabled", err)
	}
	m.modules.Set(key(string(guildID), string(moduleID)), enabled)
	return nil
}

func (m *Memory) ListModuleEnabled(ctx context.Context, guildID botmod.GuildID) (map[botmod.ModuleID]bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, Wrap("list module enabled", err)
	}
	prefix := string(guildID) + keySep
	out := make(map[botmod.ModuleID]bool)
	for k, v := range m.modules.Items() {
		if rest, ok := strings.CutPrefix(k, prefix); ok {
			out[botmod.ModuleID(rest)] = v
		}
	}
	return out, nil
}

func (m *Memory) commandKey(guildID botmod.GuildID, moduleID botmod.ModuleID, commandID botmod.CommandID) string {
	return key(string(guildID), string(moduleID), string(commandID))
}

// upsertCommand applies fn to the stored setting, creating an enabled row first.
func (m *Memory) upsertCommand(guildID botmod.GuildID, moduleID botmod.ModuleID, commandID botmod.CommandID, fn func(*CommandSetting)) {
	fresh := CommandSetting{ModuleID: moduleID, CommandID: commandID, Enabled: true}
	m.commands.Upsert(m.commandKey(guildID, moduleID, commandID), fresh,
		func(exist bool, current, newValue CommandSetting) CommandSetting {
			if exist {
				newValue = current
			}
			fn(&newValue)
			return newValue
		})
}

func (m *Memory) GetCommandTerm(ctx context.Context, guildID botmod.GuildID, moduleID botmod.ModuleID, commandID botmod.CommandID) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, Wrap("get command term", err)
	}
	s, ok := m.commands.Get(m.commandKey(guildID, moduleID, commandID))
	if !ok || s.Term == "" {
		return "", false, nil
	}
	return s.Term, true, nil
}

func (m *Memory) SetCommandTerm(ctx context.Context, guildID botmod.GuildID, moduleID botmod.ModuleID, commandID botmod.CommandID, term string) error {
	if err := ctx.Err(); err != nil {
		return Wrap("set command term", err)
	}
	m.upsertCommand(guildID, moduleID, commandID, func(s *CommandSetting) { s.Term = term })
	return nil
}

func (m *Memory) GetCommandEnabled(ctx context.Context, guildID botmod.GuildID, moduleID botmod.ModuleID, commandID botmod.CommandID) (bool, bool, error) {
	if err := ctx.Err(); err != nil {
		return false, false, Wrap("get command enabled", err)
	}
	s, ok := m.commands.Get(m.commandKey(guildID, moduleID, commandID))
	if !ok {
		return false, false, nil
	}
	return s.Enabled, true, nil
}

func (m *Memory) SetCommandEnabled(ctx context.Context, guildID botmod.GuildID, moduleID botmod.ModuleID, commandID botmod.CommandID, enabled bool) error {
	if err := ctx.Err(); err != nil {
		return Wrap("set command enabled", err)
	}
	m.upsertCommand(guildID, moduleID, commandID, func(s *CommandSetting) { s.Enabled = enabled })
	return nil
}

func (m *Memory) ListCommandSettings(ctx context.Context, guildID botmod.GuildID) ([]CommandSetting, error) {
	if err := ctx.Err(); err != nil {
		return nil, Wrap("list command settings", err)
	}
	prefix := string(guildID) + keySep
	var out []CommandSetting
	for k, v := range m.commands.Items() {
		if strings.HasPrefix(k, prefix) {
			out = append(out, v)
		}
	}
	slices.SortFunc(out, func(a, b CommandSetting) int { return strings.Compare(string(a.CommandID), string(b.CommandID)) })
	return out, nil
}

func (m *Memory) ListAdminUsers(ctx context.Context, guildID botmod.GuildID) ([]botmod.UserID, error) {
	if err := ctx.Err(); err != nil {
		return nil, Wrap("list admin users", err)
	}
	users, _ := m.admins.Get(string(guildID))
	return slices.Clone(users), nil
}

func (m *Memory) AddAdminUser(ctx context.Context, guildID botmod.GuildID, userID botmod.UserID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, Wrap("add admin user", err)
	}
	added := false
	m.admins.Upsert(string(guildID), nil, func(_ bool, current, _ []botmod.UserID) []botmod.UserID {
		if slices.Contains(current, userID) {
			return current
		}
		added = true
		next := append(slices.Clone(current), userID)
		slices.Sort(next)
		return next
	})
	return added, nil
}

func (m *Memory) RemoveAdminUser(ctx context.Context, guildID botmod.GuildID, userID botmod.UserID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, Wrap("remove admin user", err)
	}
	removed := false
	m.admins.Upsert(string(guildID), nil, func(_ bool, current, _ []botmod.UserID) []botmod.UserID {
		i := slices.Index(current, userID)
		if i < 0 {
			return current
		}
		removed = true
		return slices.Delete(slices.Clone(current), i, i+1)
	})
	return removed, nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
