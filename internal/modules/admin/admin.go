// SPDX-License-Identifier: MPL-2.0

// Package admin is the protected base module. It offers guild administration
// over chat plus the help and about commands.
package admin

import (
	"context"

	"github.com/invowk/guildhost/internal/guild"
	"github.com/invowk/guildhost/internal/lifecycle"
	"github.com/invowk/guildhost/internal/services"
	"github.com/invowk/guildhost/pkg/botmod"
)

// ID is the module id of the admin module.
const ID botmod.ModuleID = "guildhost.admin"

// Command ids.
const (
	AdminCommand botmod.CommandID = "guildhost.admin.admin"
	HelpCommand  botmod.CommandID = "guildhost.admin.help"
	AboutCommand botmod.CommandID = "guildhost.admin.about"
)

var (
	// ManagerKey resolves the guild administration backend.
	ManagerKey = services.NewKey[Manager]("guildhost.manager")
	// InfoKey resolves the bot identity shown by about.
	InfoKey = services.NewKey[Info]("guildhost.info")
)

type (
	// Manager is the administration surface the module drives.
	// *lifecycle.Manager implements it.
	Manager interface {
		ListModules(ctx context.Context, guildID botmod.GuildID) ([]lifecycle.ModuleStatus, error)
		EnableModule(ctx context.Context, guildID botmod.GuildID, id botmod.ModuleID) error
		DisableModule(ctx context.Context, guildID botmod.GuildID, id botmod.ModuleID) error

		FindCommand(ctx context.Context, guildID botmod.GuildID, ref string) (guild.Registration, error)
		Commands(ctx context.Context, guildID botmod.GuildID) ([]guild.Registration, error)
		RenameCommand(ctx context.Context, guildID botmod.GuildID, ref, newTerm string) (guild.Registration, error)
		SetCommandEnabled(ctx context.Context, guildID botmod.GuildID, ref string, enabled bool) (guild.Registration, bool, error)

		SetPrefix(ctx context.Context, guildID botmod.GuildID, prefix string) (bool, error)
		SetUnknownCommandReply(ctx context.Context, guildID botmod.GuildID, enabled bool) (bool, error)

		AdminUsers(ctx context.Context, guildID botmod.GuildID) ([]botmod.UserID, error)
		AddAdminUser(ctx context.Context, guildID botmod.GuildID, user botmod.UserID) (bool, error)
		RemoveAdminUser(ctx context.Context, guildID botmod.GuildID, user botmod.UserID) (bool, error)
		IsAdmin(ctx context.Context, msg botmod.Message) (bool, error)
	}

	// Info identifies the bot.
	Info struct {
		Name        string
		Version     string
		Author      string
		Description string
	}

	// Module is one guild's admin instance.
	Module struct {
		manager Manager
		info    Info
		host    botmod.Host
	}
)

var _ Manager = (*lifecycle.Manager)(nil)

// Descriptor describes the admin module.
func Descriptor() botmod.Descriptor {
	return botmod.Descriptor{
		ID:          ID,
		Name:        "Admin",
		Description: "Guild administration, help and about.",
		Author:      "guildhost",
		Version:     "1.0.0",
		Requires:    []string{ManagerKey.Name(), InfoKey.Name()},
		Factory:     New,
	}
}

// New resolves the module's services and creates an instance.
func New(r botmod.Resolver) (botmod.Module, error) {
	manager, err := services.Get(r, ManagerKey)
	if err != nil {
		return nil, err
	}
	info, err := services.Get(r, InfoKey)
	if err != nil {
		return nil, err
	}
	return &Module{manager: manager, info: info}, nil
}

// Startup registers admin, help and about.
func (m *Module) Startup(ctx context.Context, host botmod.Host) error {
	m.host = host
	commands := []botmod.Command{
		{
			ID:          AdminCommand,
			Term:        "admin",
			Description: "Manage bot admins, modules, commands and settings.",
			Usage:       "user|module|command|config ...",
			Handler:     m.handleAdmin,
		},
		{
			ID:          HelpCommand,
			Term:        "help",
			Description: "List commands, or show how to use one.",
			Usage:       "[command]",
			Handler:     m.handleHelp,
		},
		{
			ID:          AboutCommand,
			Term:        "about",
			Description: "Show what this bot is.",
			Handler:     m.handleAbout,
		},
	}
	for _, cmd := range commands {
		if _, err := host.RegisterCommand(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}

// Teardown is a no-op; the module holds no resources.
func (m *Module) Teardown(context.Context) {}
