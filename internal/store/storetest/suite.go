// SPDX-License-Identifier: MPL-2.0

// Package storetest is the behavioral suite every store.Repository
// implementation runs in its own tests.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/invowk/guildhost/internal/store"
	"github.com/invowk/guildhost/pkg/botmod"
)

// Suite exercises a Repository created fresh for every test.
type Suite struct {
	suite.Suite

	// NewRepo returns an empty repository. Cleanup is registered on t.
	NewRepo func(t *testing.T) store.Repository

	repo store.Repository
	ctx  context.Context
}

func (s *Suite) SetupTest() {
	s.ctx = context.Background()
	s.repo = s.NewRepo(s.T())
}

func (s *Suite) TestGuildSettingsUpsert() {
	_, found, err := s.repo.GetGuildSettings(s.ctx, "g1")
	s.Require().NoError(err)
	s.False(found)

	s.Require().NoError(s.repo.UpsertGuildSettings(s.ctx, store.GuildSettings{GuildID: "g1", Prefix: "?", UnknownCommandReply: true}))
	s.Require().NoError(s.repo.UpsertGuildSettings(s.ctx, store.GuildSettings{GuildID: "g1", Prefix: "!", UnknownCommandReply: false}))

	got, found, err := s.repo.GetGuildSettings(s.ctx, "g1")
	s.Require().NoError(err)
	s.True(found)
	s.Equal(store.GuildSettings{GuildID: "g1", Prefix: "!", UnknownCommandReply: false}, got)
}

func (s *Suite) TestModuleEnabledPerGuild() {
	_, found, err := s.repo.GetModuleEnabled(s.ctx, "g1", "stats")
	s.Require().NoError(err)
	s.False(found)

	s.Require().NoError(s.repo.SetModuleEnabled(s.ctx, "g1", "stats", true))
	s.Require().NoError(s.repo.SetModuleEnabled(s.ctx, "g1", "board", true))
	s.Require().NoError(s.repo.SetModuleEnabled(s.ctx, "g1", "board", false))
	s.Require().NoError(s.repo.SetModuleEnabled(s.ctx, "g2", "stats", false))

	enabled, found, err := s.repo.GetModuleEnabled(s.ctx, "g1", "stats")
	s.Require().NoError(err)
	s.True(found)
	s.True(enabled)

	all, err := s.repo.ListModuleEnabled(s.ctx, "g1")
	s.Require().NoError(err)
	s.Equal(map[botmod.ModuleID]bool{"stats": true, "board": false}, all)
}

func (s *Suite) TestCommandTermAndEnabledAreIndependent() {
	_, found, err := s.repo.GetCommandTerm(s.ctx, "g1", "admin", "admin.help")
	s.Require().NoError(err)
	s.False(found)

	s.Require().NoError(s.repo.SetCommandEnabled(s.ctx, "g1", "admin", "admin.help", false))
	_, found, err = s.repo.GetCommandTerm(s.ctx, "g1", "admin", "admin.help")
	s.Require().NoError(err)
	s.False(found, "disabling a command must not invent a term")

	s.Require().NoError(s.repo.SetCommandTerm(s.ctx, "g1", "admin", "admin.help", "aide"))
	term, found, err := s.repo.GetCommandTerm(s.ctx, "g1", "admin", "admin.help")
	s.Require().NoError(err)
	s.True(found)
	s.Equal("aide", term)

	enabled, found, err := s.repo.GetCommandEnabled(s.ctx, "g1", "admin", "admin.help")
	s.Require().NoError(err)
	s.True(found)
	s.False(enabled, "setting a term must keep the enabled flag")

	_, found, err = s.repo.GetCommandTerm(s.ctx, "g2", "admin", "admin.help")
	s.Require().NoError(err)
	s.False(found)

	settings, err := s.repo.ListCommandSettings(s.ctx, "g1")
	s.Require().NoError(err)
	s.Equal([]store.CommandSetting{{ModuleID: "admin", CommandID: "admin.help", Term: "aide", Enabled: false}}, settings)
}

func (s *Suite) TestAdminUsers() {
	added, err := s.repo.AddAdminUser(s.ctx, "g1", "u2")
	s.Require().NoError(err)
	s.True(added)

	added, err = s.repo.AddAdminUser(s.ctx, "g1", "u2")
	s.Require().NoError(err)
	s.False(added)

	_, err = s.repo.AddAdminUser(s.ctx, "g1", "u1")
	s.Require().NoError(err)

	users, err := s.repo.ListAdminUsers(s.ctx, "g1")
	s.Require().NoError(err)
	s.Equal([]botmod.UserID{"u1", "u2"}, users)

	removed, err := s.repo.RemoveAdminUser(s.ctx, "g1", "u2")
	s.Require().NoError(err)
	s.True(removed)

	removed, err = s.repo.RemoveAdminUser(s.ctx, "g1", "u2")
	s.Require().NoError(err)
	s.False(removed)

	users, err = s.repo.ListAdminUsers(s.ctx, "g2")
	s.Require().NoError(err)
	s.Empty(users)
}
