// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/invowk/guildhost/internal/catalog"
	"github.com/invowk/guildhost/internal/config"
	"github.com/invowk/guildhost/internal/gateway"
	"github.com/invowk/guildhost/internal/issue"
	"github.com/invowk/guildhost/internal/modules"
	"github.com/invowk/guildhost/internal/store"
	"github.com/invowk/guildhost/internal/store/graphdb"
	"github.com/invowk/guildhost/internal/store/sqlite"
	"github.com/invowk/guildhost/pkg/botmod"
)

// handlerRelay forwards gateway events to a handler installed after the
// connection was created. Events arriving before install are dropped.
type handlerRelay struct {
	target atomic.Pointer[gateway.Handler]
}

var _ gateway.Handler = (*handlerRelay)(nil)

func (r *handlerRelay) install(h gateway.Handler) { r.target.Store(&h) }

func (r *handlerRelay) Dispatch(msg botmod.Message) error {
	if h := r.target.Load(); h != nil {
		return (*h).Dispatch(msg)
	}
	return nil
}

func (r *handlerRelay) DispatchReaction(re botmod.Reaction) error {
	if h := r.target.Load(); h != nil {
		return (*h).DispatchReaction(re)
	}
	return nil
}

func (r *handlerRelay) HandleGuildAvailable(guildID botmod.GuildID) error {
	if h := r.target.Load(); h != nil {
		return (*h).HandleGuildAvailable(guildID)
	}
	return nil
}

// openStore opens the repository selected by cfg.
func openStore(ctx context.Context, cfg config.StoreConfig) (store.Repository, error) {
	var (
		repo     store.Repository
		err      error
		resource string
	)
	switch cfg.Driver {
	case config.StoreDriverMemory:
		return store.NewMemory(), nil
	case config.StoreDriverSQLite:
		resource = cfg.SQLite.Path
		repo, err = sqlite.Open(ctx, cfg.SQLite.Path)
	case config.StoreDriverNeo4j:
		resource = cfg.Neo4j.URI
		repo, err = graphdb.Open(ctx, graphdb.Config{
			URI:      cfg.Neo4j.URI,
			Username: cfg.Neo4j.User,
			Password: cfg.Neo4j.Password,
			Database: cfg.Neo4j.Database,
		})
	default:
		err = cfg.Driver.Validate()
	}
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation(fmt.Sprintf("open %s store", cfg.Driver)).
			WithResource(resource).
			WithIssue(issue.StoreOpenFailedId).
			Wrap(err).
			BuildError()
	}
	return repo, nil
}

// buildCatalog freezes the built-in modules into a catalog.
func buildCatalog() (*catalog.Catalog, error) {
	return modules.RegisterBuiltins(catalog.NewBuilder()).Build()
}
