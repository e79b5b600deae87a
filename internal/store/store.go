// SPDX-License-Identifier: MPL-2.0

// Package store defines the durable settings repository consumed by the
// lifecycle manager and the command registry.
//
// Every operation is synchronous and keyed by guild, module and command, with
// insert-or-update semantics. Implementations report failures as
// *TransientError so callers can abort before touching in-memory state.
// Memory is an in-process implementation; the sqlite and neo4j subpackages
// are the durable ones.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/invowk/guildhost/pkg/botmod"
)

// ErrTransient is the sentinel error wrapped by TransientError.
var ErrTransient = errors.New("transient store failure")

type (
	// GuildSettings is the per-guild configuration row.
	GuildSettings struct {
		GuildID             botmod.GuildID `toml:"guild_id" json:"guild_id"`
		Prefix              string         `toml:"prefix" json:"prefix"`
		UnknownCommandReply bool           `toml:"unknown_command_reply" json:"unknown_command_reply"`
	}

	// CommandSetting is the persisted override state of one command.
	CommandSetting struct {
		ModuleID  botmod.ModuleID  `toml:"module_id" json:"module_id"`
		CommandID botmod.CommandID `toml:"command_id" json:"command_id"`
		// Term is empty when no term was ever assigned.
		Term    string `toml:"term,omitempty" json:"term,omitempty"`
		Enabled bool   `toml:"enabled" json:"enabled"`
	}

	// Repository is the durable source of truth for guild settings.
	Repository interface {
		GetGuildSettings(ctx context.Context, guildID botmod.GuildID) (GuildSettings, bool, error)
		UpsertGuildSettings(ctx context.Context, settings GuildSettings) error

		GetModuleEnabled(ctx context.Context, guildID botmod.GuildID, moduleID botmod.ModuleID) (enabled, found bool, err error)
		SetModuleEnabled(ctx context.Context, guildID botmod.GuildID, moduleID botmod.ModuleID, enabled bool) error
		ListModuleEnabled(ctx context.Context, guildID botmod.GuildID) (map[botmod.ModuleID]bool, error)

		GetCommandTerm(ctx context.Context, guildID botmod.GuildID, moduleID botmod.ModuleID, commandID botmod.CommandID) (string, bool, error)
		SetCommandTerm(ctx context.Context, guildID botmod.GuildID, moduleID botmod.ModuleID, commandID botmod.CommandID, term string) error
		GetCommandEnabled(ctx context.Context, guildID botmod.GuildID, moduleID botmod.ModuleID, commandID botmod.CommandID) (enabled, found bool, err error)
		SetCommandEnabled(ctx context.Context, guildID botmod.GuildID, moduleID botmod.ModuleID, commandID botmod.CommandID, enabled bool) error
		ListCommandSettings(ctx context.Context, guildID botmod.GuildID) ([]CommandSetting, error)

		ListAdminUsers(ctx context.Context, guildID botmod.GuildID) ([]botmod.UserID, error)
		AddAdminUser(ctx context.Context, guildID botmod.GuildID, userID botmod.UserID) (added bool, err error)
		RemoveAdminUser(ctx context.Context, guildID botmod.GuildID, userID botmod.UserID) (removed bool, err error)

		Close() error
	}

	// TransientError reports a failed repository call.
	TransientError struct {
		Op  string
		Err error
	}
)

// Wrap reports err as a TransientError for op. It returns nil for a nil err
// and leaves errors that are already transient untouched.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTransient) {
		return err
	}
	return &TransientError{Op: op, Err: err}
}

// Error implements the error interface.
func (e *TransientError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

// Unwrap returns both the sentinel and the cause.
func (e *TransientError) Unwrap() []error { return []error{ErrTransient, e.Err} }
