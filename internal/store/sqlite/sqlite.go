// SPDX-License-Identifier: MPL-2.0

// Package sqlite implements store.Repository on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/invowk/guildhost/internal/store"
	"github.com/invowk/guildhost/pkg/botmod"
)

// Repository is a store.Repository backed by SQLite.
type Repository struct {
	db *sql.DB
}

var _ store.Repository = (*Repository)(nil)

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Repository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// One writer keeps WAL upserts from racing on busy locks.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to sqlite: %w", err)
	}
	for _, pragma := range allPragmas() {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}
	for _, stmt := range allSchemaStatements() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}
	return &Repository{db: db}, nil
}

// Close closes the database.
func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) GetGuildSettings(ctx context.Context, guildID botmod.GuildID) (store.GuildSettings, bool, error) {
	var (
		prefix string
		reply  int
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT command_prefix, unknown_command_reply FROM guild_settings WHERE guild_id = ?`,
		string(guildID),
	).Scan(&prefix, &reply)
	if errors.Is(err, sql.ErrNoRows) {
		return store.GuildSettings{}, false, nil
	}
	if err != nil {
		return store.GuildSettings{}, false, store.Wrap("get guild settings", err)
	}
	return store.GuildSettings{GuildID: guildID, Prefix: prefix, UnknownCommandReply: reply != 0}, true, nil
}

func (r *Repository) UpsertGuildSettings(ctx context.Context, s store.GuildSettings) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO guild_settings (guild_id, command_prefix, unknown_command_reply)
		VALUES (?, ?, ?)
		ON CONFLICT (guild_id) DO UPDATE SET
			command_prefix = excluded.command_prefix,
			unknown_command_reply = excluded.unknown_command_reply`,
		string(s.GuildID), s.Prefix, boolToInt(s.UnknownCommandReply),
	)
	return store.Wrap("upsert guild settings", err)
}

func (r *Repository) GetModuleEnabled(ctx context.Context, guildID botmod.GuildID, moduleID botmod.ModuleID) (bool, bool, error) {
	var enabled int
	err := r.db.QueryRowContext(ctx,
		`SELECT enabled FROM module_settings WHERE guild_id = ? AND module_id = ?`,
		string(guildID), string(moduleID),
	).Scan(&enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, store.Wrap("get module enabled", err)
	}
	return enabled != 0, true, nil
}

func (r *Repository) SetModuleEnabled(ctx context.Context, guildID botmod.GuildID, moduleID botmod.ModuleID, enabled bool) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO module_settings (guild_id, module_id, enabled) VALUES (?, ?, ?)
		ON CONFLICT (guild_id, module_id) DO UPDATE SET enabled = excluded.enabled`,
		string(guildID), string(moduleID), boolToInt(enabled),
	)
	return store.Wrap("set module enabled", err)
}

func (r *Repository) ListModuleEnabled(ctx context.Context, guildID botmod.GuildID) (map[botmod.ModuleID]bool, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT module_id, enabled FROM module_settings WHERE guild_id = ?`, string(guildID))
	if err != nil {
		return nil, store.Wrap("list module enabled", err)
	}
	defer rows.Close()

	out := make(map[botmod.ModuleID]bool)
	for rows.Next() {
		var (
			id      string
			enabled int
		)
		if err := rows.Scan(&id, &enabled); err != nil {
			return nil, store.Wrap("list module enabled", err)
		}
		out[botmod.ModuleID(id)] = enabled != 0
	}
	return out, store.Wrap("list module enabled", rows.Err())
}

func (r *Repository) GetCommandTerm(ctx context.Context, guildID botmod.GuildID, moduleID botmod.ModuleID, commandID botmod.CommandID) (string, bool, error) {
	var term string
	err := r.db.QueryRowContext(ctx,
		`SELECT term FROM command_settings WHERE guild_id = ? AND module_id = ? AND command_id = ?`,
		string(guildID), string(moduleID), string(commandID),
	).Scan(&term)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, store.Wrap("get command term", err)
	}
	return term, term != "", nil
}

func (r *Repository) SetCommandTerm(ctx context.Context, guildID botmod.GuildID, moduleID botmod.ModuleID, commandID botmod.CommandID, term string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO command_settings (guild_id, module_id, command_id, term) VALUES (?, ?, ?, ?)
		ON CONFLICT (guild_id, module_id, command_id) DO UPDATE SET term = excluded.term`,
		string(guildID), string(moduleID), string(commandID), term,
	)
	return store.Wrap("set command term", err)
}

func (r *Repository) GetCommandEnabled(ctx context.Context, guildID botmod.GuildID, moduleID botmod.ModuleID, commandID botmod.CommandID) (bool, bool, error) {
	var enabled int
	err := r.db.QueryRowContext(ctx,
		`SELECT enabled FROM command_settings WHERE guild_id = ? AND module_id = ? AND command_id = ?`,
		string(guildID), string(moduleID), string(commandID),
	).Scan(&enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, store.Wrap("get command enabled", err)
	}
	return enabled != 0, true, nil
}

func (r *Repository) SetCommandEnabled(ctx context.Context, guildID botmod.GuildID, moduleID botmod.ModuleID, commandID botmod.CommandID, enabled bool) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO command_settings (guild_id, module_id, command_id, enabled) VALUES (?, ?, ?, ?)
		ON CONFLICT (guild_id, module_id, command_id) DO UPDATE SET enabled = excluded.enabled`,
		string(guildID), string(moduleID), string(commandID), boolToInt(enabled),
	)
	return store.Wrap("set command enabled", err)
}

func (r *Repository) ListCommandSettings(ctx context.Context, guildID botmod.GuildID) ([]store.CommandSetting, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT module_id, command_id, term, enabled FROM command_settings
		WHERE guild_id = ? ORDER BY command_id`, string(guildID))
	if err != nil {
		return nil, store.Wrap("list command settings", err)
	}
	defer rows.Close()

	var out []store.CommandSetting
	for rows.Next() {
		var (
			moduleID, commandID, term string
			enabled                   int
		)
		if err := rows.Scan(&moduleID, &commandID, &term, &enabled); err != nil {
			return nil, store.Wrap("list command settings", err)
		}
		out = append(out, store.CommandSetting{
			ModuleID:  botmod.ModuleID(moduleID),
			CommandID: botmod.CommandID(commandID),
			Term:      term,
			Enabled:   enabled != 0,
		})
	}
	return out, store.Wrap("list command settings", rows.Err())
}

func (r *Repository) ListAdminUsers(ctx context.Context, guildID botmod.GuildID) ([]botmod.UserID, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id FROM admin_users WHERE guild_id = ? ORDER BY user_id`, string(guildID))
	if err != nil {
		return nil, store.Wrap("list admin users", err)
	}
	defer rows.Close()

	var out []botmod.UserID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, store.Wrap("list admin users", err)
		}
		out = append(out, botmod.UserID(id))
	}
	return out, store.Wrap("list admin users", rows.Err())
}

func (r *Repository) AddAdminUser(ctx context.Context, guildID botmod.GuildID, userID botmod.UserID) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO admin_users (guild_id, user_id) VALUES (?, ?) ON CONFLICT DO NOTHING`,
		string(guildID), string(userID))
	if err != nil {
		return false, store.Wrap("add admin user", err)
	}
	n, err := res.RowsAffected()
	return n > 0, store.Wrap("add admin user", err)
}

func (r *Repository) RemoveAdminUser(ctx context.Context, guildID botmod.GuildID, userID botmod.UserID) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM admin_users WHERE guild_id = ? AND user_id = ?`,
		string(guildID), string(userID))
	if err != nil {
		return false, store.Wrap("remove admin user", err)
	}
	n, err := res.RowsAffected()
	return n > 0, store.Wrap("remove admin user", err)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
