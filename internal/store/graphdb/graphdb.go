// SPDX-License-Identifier: MPL-2.0

// Package graphdb implements store.Repository on Neo4j.
//
// Guilds, modules, commands and users are nodes; per-guild settings live on
// the relationships between a guild and the rest:
//
//	(:Guild {id, prefix, unknown_command_reply})
//	(:Guild)-[:HAS_MODULE {enabled}]->(:Module {id})
//	(:Guild)-[:HAS_COMMAND {module_id, term, enabled}]->(:Command {id})
//	(:Guild)-[:ADMIN]->(:User {id})
package graphdb

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/invowk/guildhost/internal/store"
	"github.com/invowk/guildhost/pkg/botmod"
)

type (
	// Config holds Neo4j connection configuration.
	Config struct {
		URI      string
		Username string
		Password string
		Database string
	}

	// Repository is a store.Repository backed by Neo4j.
	Repository struct {
		driver   neo4j.DriverWithContext
		database string
	}
)

var _ store.Repository = (*Repository)(nil)

// Open connects to Neo4j and ensures the uniqueness constraints exist.
func Open(ctx context.Context, cfg Config) (*Repository, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("connecting to neo4j: %w", err)
	}

	database := cfg.Database
	if database == "" {
		database = "neo4j"
	}
	r := &Repository{driver: driver, database: database}

	for _, stmt := range constraints {
		if _, err := r.write(ctx, "ensure constraints", stmt, nil); err != nil {
			_ = driver.Close(ctx)
			return nil, err
		}
	}
	return r, nil
}

var constraints = []string{
	`CREATE CONSTRAINT guild_id IF NOT EXISTS FOR (g:Guild) REQUIRE g.id IS UNIQUE`,
	`CREATE CONSTRAINT module_id IF NOT EXISTS FOR (m:Module) REQUIRE m.id IS UNIQUE`,
	`CREATE CONSTRAINT command_id IF NOT EXISTS FOR (c:Command) REQUIRE c.id IS UNIQUE`,
	`CREATE CONSTRAINT user_id IF NOT EXISTS FOR (u:User) REQUIRE u.id IS UNIQUE`,
}

// Close closes the driver.
func (r *Repository) Close() error {
	return r.driver.Close(context.Background())
}

func (r *Repository) session(ctx context.Context) neo4j.SessionWithContext {
	return r.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: r.database})
}

// write runs cypher in a write transaction and returns its summary counters.
func (r *Repository) write(ctx context.Context, op, cypher string, params map[string]any) (neo4j.Counters, error) {
	session := r.session(ctx)
	defer session.Close(ctx)

	counters, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		summary, err := result.Consume(ctx)
		if err != nil {
			return nil, err
		}
		return summary.Counters(), nil
	})
	if err != nil {
		return nil, store.Wrap(op, err)
	}
	c, _ := counters.(neo4j.Counters)
	return c, nil
}

// read runs cypher in a read transaction and collects every record.
func (r *Repository) read(ctx context.Context, op, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	session := r.session(ctx)
	defer session.Close(ctx)

	records, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return result.Collect(ctx)
	})
	if err != nil {
		return nil, store.Wrap(op, err)
	}
	out, _ := records.([]*neo4j.Record)
	return out, nil
}

func (r *Repository) GetGuildSettings(ctx context.Context, guildID botmod.GuildID) (store.GuildSettings, bool, error) {
	records, err := r.read(ctx, "get guild settings", `
		MATCH (g:Guild {id: $guild})
		RETURN g.prefix AS prefix, g.unknown_command_reply AS reply`,
		map[string]any{"guild": string(guildID)})
	if err != nil || len(records) == 0 {
		return store.GuildSettings{}, false, err
	}
	return store.GuildSettings{
		GuildID:             guildID,
		Prefix:              stringValue(records[0], "prefix"),
		UnknownCommandReply: boolValue(records[0], "reply", true),
	}, true, nil
}

func (r *Repository) UpsertGuildSettings(ctx context.Context, s store.GuildSettings) error {
	_, err := r.write(ctx, "upsert guild settings", `
		MERGE (g:Guild {id: $guild})
		SET g.prefix = $prefix, g.unknown_command_reply = $reply`,
		map[string]any{"guild": string(s.GuildID), "prefix": s.Prefix, "reply": s.UnknownCommandReply})
	return err
}

func (r *Repository) GetModuleEnabled(ctx context.Context, guildID botmod.GuildID, moduleID botmod.ModuleID) (bool, bool, error) {
	records, err := r.read(ctx, "get module enabled", `
		MATCH (:Guild {id: $guild})-[rel:HAS_MODULE]->(:Module {id: $module})
		RETURN rel.enabled AS enabled`,
		map[string]any{"guild": string(guildID), "module": string(moduleID)})
	if err != nil || len(records) == 0 {
		return false, false, err
	}
	return boolValue(records[0], "enabled", false), true, nil
}

func (r *Repository) SetModuleEnabled(ctx context.Context, guildID botmod.GuildID, moduleID botmod.ModuleID, enabled bool) error {
	_, err := r.write(ctx, "set module enabled", `
		MERGE (g:Guild {id: $guild})
		MERGE (m:Module {id: $module})
		MERGE (g)-[rel:HAS_MODULE]->(m)
		SET rel.enabled = $enabled`,
		map[string]any{"guild": string(guildID), "module": string(moduleID), "enabled": enabled})
	return err
}

func (r *Repository) ListModuleEnabled(ctx context.Context, guildID botmod.GuildID) (map[botmod.ModuleID]bool, error) {
	records, err := r.read(ctx, "list module enabled", `
		MATCH (:Guild {id: $guild})-[rel:HAS_MODULE]->(m:Module)
		RETURN m.id AS module, rel.enabled AS enabled`,
		map[string]any{"guild": string(guildID)})
	if err != nil {
		return nil, err
	}
	out := make(map[botmod.ModuleID]bool, len(records))
	for _, rec := range records {
		out[botmod.ModuleID(stringValue(rec, "module"))] = boolValue(rec, "enabled", false)
	}
	return out, nil
}

func commandParams(guildID botmod.GuildID, moduleID botmod.ModuleID, commandID botmod.CommandID) map[string]any {
	return map[string]any{"guild": string(guildID), "module": string(moduleID), "command": string(commandID)}
}

const mergeCommand = `
	MERGE (g:Guild {id: $guild})
	MERGE (c:Command {id: $command})
	MERGE (g)-[rel:HAS_COMMAND {module_id: $module}]->(c)
	ON CREATE SET rel.term = '', rel.enabled = true`

func (r *Repository) GetCommandTerm(ctx context.Context, guildID botmod.GuildID, moduleID botmod.ModuleID, commandID botmod.CommandID) (string, bool, error) {
	records, err := r.read(ctx, "get command term", `
		MATCH (:Guild {id: $guild})-[rel:HAS_COMMAND {module_id: $module}]->(:Command {id: $command})
		RETURN rel.term AS term`,
		commandParams(guildID, moduleID, commandID))
	if err != nil || len(records) == 0 {
		return "", false, err
	}
	term := stringValue(records[0], "term")
	return term, term != "", nil
}

func (r *Repository) SetCommandTerm(ctx context.Context, guildID botmod.GuildID, moduleID botmod.ModuleID, commandID botmod.CommandID, term string) error {
	params := commandParams(guildID, moduleID, commandID)
	params["term"] = term
	_, err := r.write(ctx, "set command term", mergeCommand+`
		SET rel.term = $term`, params)
	return err
}

func (r *Repository) GetCommandEnabled(ctx context.Context, guildID botmod.GuildID, moduleID botmod.ModuleID, commandID botmod.CommandID) (bool, bool, error) {
	records, err := r.read(ctx, "get command enabled", `
		MATCH (:Guild {id: $guild})-[rel:HAS_COMMAND {module_id: $module}]->(:Command {id: $command})
		RETURN rel.enabled AS enabled`,
		commandParams(guildID, moduleID, commandID))
	if err != nil || len(records) == 0 {
		return false, false, err
	}
	return boolValue(records[0], "enabled", true), true, nil
}

func (r *Repository) SetCommandEnabled(ctx context.Context, guildID botmod.GuildID, moduleID botmod.ModuleID, commandID botmod.CommandID, enabled bool) error {
	params := commandParams(guildID, moduleID, commandID)
	params["enabled"] = enabled
	_, err := r.write(ctx, "set command enabled", mergeCommand+`
		SET rel.enabled = $enabled`, params)
	return err
}

func (r *Repository) ListCommandSettings(ctx context.Context, guildID botmod.GuildID) ([]store.CommandSetting, error) {
	records, err := r.read(ctx, "list command settings", `
		MATCH (:Guild {id: $guild})-[rel:HAS_COMMAND]->(c:Command)
		RETURN rel.module_id AS module, c.id AS command, rel.term AS term, rel.enabled AS enabled
		ORDER BY command`,
		map[string]any{"guild": string(guildID)})
	if err != nil {
		return nil, err
	}
	var out []store.CommandSetting
	for _, rec := range records {
		out = append(out, store.CommandSetting{
			ModuleID:  botmod.ModuleID(stringValue(rec, "module")),
			CommandID: botmod.CommandID(stringValue(rec, "command")),
			Term:      stringValue(rec, "term"),
			Enabled:   boolValue(rec, "enabled", true),
		})
	}
	return out, nil
}

func (r *Repository) ListAdminUsers(ctx context.Context, guildID botmod.GuildID) ([]botmod.UserID, error) {
	records, err := r.read(ctx, "list admin users", `
		MATCH (:Guild {id: $guild})-[:ADMIN]->(u:User)
		RETURN u.id AS user ORDER BY user`,
		map[string]any{"guild": string(guildID)})
	if err != nil {
		return nil, err
	}
	var out []botmod.UserID
	for _, rec := range records {
		out = append(out, botmod.UserID(stringValue(rec, "user")))
	}
	return out, nil
}

func (r *Repository) AddAdminUser(ctx context.Context, guildID botmod.GuildID, userID botmod.UserID) (bool, error) {
	counters, err := r.write(ctx, "add admin user", `
		MERGE (g:Guild {id: $guild})
		MERGE (u:User {id: $user})
		MERGE (g)-[:ADMIN]->(u)`,
		map[string]any{"guild": string(guildID), "user": string(userID)})
	if err != nil {
		return false, err
	}
	return counters != nil && counters.RelationshipsCreated() > 0, nil
}

func (r *Repository) RemoveAdminUser(ctx context.Context, guildID botmod.GuildID, userID botmod.UserID) (bool, error) {
	counters, err := r.write(ctx, "remove admin user", `
		MATCH (:Guild {id: $guild})-[rel:ADMIN]->(:User {id: $user})
		DELETE rel`,
		map[string]any{"guild": string(guildID), "user": string(userID)})
	if err != nil {
		return false, err
	}
	return counters != nil && counters.RelationshipsDeleted() > 0, nil
}

func stringValue(rec *neo4j.Record, key string) string {
	v, _ := rec.Get(key)
	s, _ := v.(string)
	return s
}

func boolValue(rec *neo4j.Record, key string, fallback bool) bool {
	v, ok := rec.Get(key)
	if !ok {
		return fallback
	}
	b, ok := v.(bool)
	if !ok {
		return fallback
	}
	return b
}
