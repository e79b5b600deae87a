// SPDX-License-Identifier: MPL-2.0

package sqlite

const (
	pragmaWAL         = `PRAGMA journal_mode = WAL`
	pragmaBusyTimeout = `PRAGMA busy_timeout = 5000`
	pragmaSynchronous = `PRAGMA synchronous = NORMAL`

	schemaGuildSettings = `
		CREATE TABLE IF NOT EXISTS guild_settings (
			guild_id              TEXT PRIMARY KEY,
			command_prefix        TEXT NOT NULL,
			unknown_command_reply INTEGER NOT NULL DEFAULT 1
		)`

	schemaModuleSettings = `
		CREATE TABLE IF NOT EXISTS module_settings (
			guild_id  TEXT NOT NULL,
			module_id TEXT NOT NULL,
			enabled   INTEGER NOT NULL,
			PRIMARY KEY (guild_id, module_id)
		)`

	schemaCommandSettings = `
		CREATE TABLE IF NOT EXISTS command_settings (
			guild_id   TEXT NOT NULL,
			module_id  TEXT NOT NULL,
			command_id TEXT NOT NULL,
			term       TEXT NOT NULL DEFAULT '',
			enabled    INTEGER NOT NULL DEFAULT 1,
			PRIMARY KEY (guild_id, module_id, command_id)
		)`

	schemaAdminUsers = `
		CREATE TABLE IF NOT EXISTS admin_users (
			guild_id TEXT NOT NULL,
			user_id  TEXT NOT NULL,
			PRIMARY KEY (guild_id, user_id)
		)`
)

func allPragmas() []string {
	return []string{pragmaWAL, pragmaBusyTimeout, pragmaSynchronous}
}

func allSchemaStatements() []string {
	return []string{
		schemaGuildSettings,
		schemaModuleSettings,
		schemaCommandSettings,
		schemaAdminUsers,
	}
}
