// SPDX-License-Identifier: MPL-2.0

package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/invowk/guildhost/internal/store"
	"github.com/invowk/guildhost/internal/store/storetest"
)

func openTemp(t *testing.T) *Repository {
	t.Helper()
	repo, err := Open(context.Background(), filepath.Join(t.TempDir(), "guildhost.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestRepository(t *testing.T) {
	suite.Run(t, &storetest.Suite{
		NewRepo: func(t *testing.T) store.Repository { return openTemp(t) },
	})
}

func TestRepository_SurvivesReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "guildhost.db")

	repo, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, repo.SetCommandTerm(ctx, "g1", "admin", "admin.help", "aide"))
	require.NoError(t, repo.Close())

	repo, err = Open(ctx, path)
	require.NoError(t, err)
	defer repo.Close()

	term, found, err := repo.GetCommandTerm(ctx, "g1", "admin", "admin.help")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "aide", term)
}

func TestRepository_ClosedIsTransient(t *testing.T) {
	t.Parallel()

	repo, err := Open(context.Background(), filepath.Join(t.TempDir(), "guildhost.db"))
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	err = repo.SetModuleEnabled(context.Background(), "g1", "stats", true)
	assert.ErrorIs(t, err, store.ErrTransient)
}
