// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"context"
	"fmt"
	"slices"

	"github.com/charmbracelet/log"

	"github.com/invowk/guildhost/internal/guild"
	"github.com/invowk/guildhost/pkg/botmod"
)

// moduleHost is the botmod.Host handed to one module instance.
type moduleHost struct {
	manager *Manager
	state   *guild.State
	inst    *guild.Instance
}

var _ botmod.Host = (*moduleHost)(nil)

func (h *moduleHost) GuildID() botmod.GuildID   { return h.state.ID() }
func (h *moduleHost) ModuleID() botmod.ModuleID { return h.inst.ModuleID() }
func (h *moduleHost) Prefix() string            { return h.state.Prefix() }
func (h *moduleHost) Sender() botmod.Sender     { return h.manager.sender }

func (h *moduleHost) RegisterCommand(ctx context.Context, cmd botmod.Command) (string, error) {
	return h.state.RegisterCommand(ctx, h.inst, cmd)
}

func (h *moduleHost) Term(id botmod.CommandID) (string, bool) {
	reg, ok := h.state.Registry().Get(id)
	if !ok || reg.ModuleID != h.inst.ModuleID() {
		return "", false
	}
	return reg.Term, true
}

func (h *moduleHost) AddMessageListener(l botmod.MessageListener) {
	h.state.AddMessageListener(h.inst.ModuleID(), l)
}

func (h *moduleHost) AddReactionListener(owner botmod.CommandID, message botmod.MessageID, l botmod.ReactionListener) error {
	if !slices.Contains(h.inst.Commands(), owner) {
		return fmt.Errorf("module %s does not own command %s: %w", h.inst.ModuleID(), owner, &guild.UnknownCommandError{Ref: string(owner)})
	}
	return h.state.Registry().AddReactionListener(owner, message, l)
}

func (h *moduleHost) RemoveReactionListeners(owner botmod.CommandID, message botmod.MessageID) {
	if slices.Contains(h.inst.Commands(), owner) {
		h.state.Registry().RemoveReactionListeners(owner, message)
	}
}

// Dependency only resolves modules the instance declared as dependencies.
func (h *moduleHost) Dependency(id botmod.ModuleID) (botmod.Module, bool) {
	if !slices.Contains(h.manager.graph.Dependencies(h.inst.ModuleID()), id) {
		return nil, false
	}
	inst, ok := h.state.Instance(id)
	if !ok {
		return nil, false
	}
	return inst.Module(), true
}

func (h *moduleHost) Logger() *log.Logger {
	return h.manager.logger.With("guild", h.state.ID(), "module", h.inst.ModuleID())
}
