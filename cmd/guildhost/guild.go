// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/invowk/guildhost/internal/store"
	"github.com/invowk/guildhost/pkg/botmod"
)

type (
	// GuildSnapshot is everything persisted for one guild.
	GuildSnapshot struct {
		Guild    store.GuildSettings    `toml:"guild"`
		Admins   []botmod.UserID        `toml:"admins"`
		Modules  []ModuleSetting        `toml:"modules"`
		Commands []store.CommandSetting `toml:"commands"`
	}

	// ModuleSetting is one persisted module flag.
	ModuleSetting struct {
		ID      botmod.ModuleID `toml:"id"`
		Enabled bool            `toml:"enabled"`
	}
)

func newGuildCommand(app *App) *cobra.Command {
	guildCmd := &cobra.Command{
		Use:   "guild",
		Short: "Inspect persisted guild settings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	var guildID string
	export := &cobra.Command{
		Use:   "export",
		Short: "Print one guild's persisted settings as TOML",
		Long: `Print the settings stored for one guild as TOML: prefix, unknown-command
reply, admins, module flags and command overrides. Only persisted state is
shown; modules and commands never touched in the guild are absent.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id := botmod.GuildID(guildID)
			if err := id.Validate(); err != nil {
				return err
			}
			cfg, err := app.LoadConfig(cmd.Context())
			if err != nil {
				return err
			}
			repo, err := openStore(cmd.Context(), cfg.Store)
			if err != nil {
				return err
			}
			defer repo.Close()

			snap, err := snapshotGuild(cmd.Context(), repo, id)
			if err != nil {
				return err
			}
			return writeSnapshot(app.stdout, snap)
		},
	}
	export.Flags().StringVar(&guildID, "guild", "", "guild id to export (required)")
	_ = export.MarkFlagRequired("guild")
	guildCmd.AddCommand(export)

	return guildCmd
}

// snapshotGuild reads every persisted setting of guildID. A guild never seen
// is an error rather than an empty snapshot.
func snapshotGuild(ctx context.Context, repo store.Repository, guildID botmod.GuildID) (*GuildSnapshot, error) {
	settings, found, err := repo.GetGuildSettings(ctx, guildID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("guild %s has no persisted settings", guildID)
	}

	admins, err := repo.ListAdminUsers(ctx, guildID)
	if err != nil {
		return nil, err
	}
	slices.Sort(admins)

	flags, err := repo.ListModuleEnabled(ctx, guildID)
	if err != nil {
		return nil, err
	}
	mods := make([]ModuleSetting, 0, len(flags))
	for id, enabled := range flags {
		mods = append(mods, ModuleSetting{ID: id, Enabled: enabled})
	}
	slices.SortFunc(mods, func(a, b ModuleSetting) int { return cmp.Compare(a.ID, b.ID) })

	commands, err := repo.ListCommandSettings(ctx, guildID)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(commands, func(a, b store.CommandSetting) int { return cmp.Compare(a.CommandID, b.CommandID) })

	return &GuildSnapshot{Guild: settings, Admins: admins, Modules: mods, Commands: commands}, nil
}

func writeSnapshot(w io.Writer, snap *GuildSnapshot) error {
	enc := toml.NewEncoder(w)
	enc.SetIndentTables(true)
	return enc.Encode(snap)
}
