// SPDX-License-Identifier: MPL-2.0

package guild

import (
	"context"
	"fmt"
	"slices"

	"github.com/invowk/guildhost/pkg/botmod"
)

type (
	// Settings is the guild configuration mirrored from the repository.
	Settings struct {
		Prefix              string
		UnknownCommandReply bool
	}

	// State is everything one guild has live. Exactly one exists per guild for
	// the life of the process.
	State struct {
		id       botmod.GuildID
		settings Settings
		registry *Registry
		// instances in instantiation order.
		instances []*Instance
		listeners []messageListener
	}

	messageListener struct {
		owner botmod.ModuleID
		fn    botmod.MessageListener
	}
)

// NewState creates the state of a guild seen for the first time.
func NewState(id botmod.GuildID, settings Settings, store TermStore) *State {
	return &State{
		id:       id,
		settings: settings,
		registry: NewRegistry(id, store),
	}
}

func (s *State) ID() botmod.GuildID        { return s.id }
func (s *State) Settings() Settings        { return s.settings }
func (s *State) Prefix() string            { return s.settings.Prefix }
func (s *State) Registry() *Registry       { return s.registry }
func (s *State) UnknownCommandReply() bool { return s.settings.UnknownCommandReply }

// ApplySettings replaces the in-memory settings. Callers persist first.
func (s *State) ApplySettings(settings Settings) { s.settings = settings }

// Instance returns the live instance of id.
func (s *State) Instance(id botmod.ModuleID) (*Instance, bool) {
	for _, inst := range s.instances {
		if inst.moduleID == id {
			return inst, true
		}
	}
	return nil, false
}

// Instances returns live instances in instantiation order.
func (s *State) Instances() []*Instance {
	return slices.Clone(s.instances)
}

// ModuleIDs returns the ids of live instances in instantiation order.
func (s *State) ModuleIDs() []botmod.ModuleID {
	out := make([]botmod.ModuleID, len(s.instances))
	for i, inst := range s.instances {
		out[i] = inst.moduleID
	}
	return out
}

// AddInstance records a module as live.
func (s *State) AddInstance(inst *Instance) error {
	if _, exists := s.Instance(inst.moduleID); exists {
		return fmt.Errorf("%w: %s", ErrDuplicateInstance, inst.moduleID)
	}
	s.instances = append(s.instances, inst)
	return nil
}

// RemoveInstance forgets a module.
func (s *State) RemoveInstance(id botmod.ModuleID) {
	s.instances = slices.DeleteFunc(s.instances, func(inst *Instance) bool { return inst.moduleID == id })
}

// RegisterCommand registers cmd on behalf of inst and records ownership.
func (s *State) RegisterCommand(ctx context.Context, inst *Instance, cmd botmod.Command) (string, error) {
	term, err := s.registry.Register(ctx, inst.moduleID, cmd)
	if err != nil {
		return "", err
	}
	inst.own(cmd.ID)
	return term, nil
}

// AddMessageListener adds fn to the guild's listener list, owned by module.
func (s *State) AddMessageListener(owner botmod.ModuleID, fn botmod.MessageListener) {
	s.listeners = append(s.listeners, messageListener{owner: owner, fn: fn})
}

// MessageListeners returns every listener in registration order.
func (s *State) MessageListeners() []botmod.MessageListener {
	out := make([]botmod.MessageListener, len(s.listeners))
	for i, l := range s.listeners {
		out[i] = l.fn
	}
	return out
}

// Release drops everything inst owns: its commands (and their reaction
// listeners) and its message listeners. It does not touch the instance list.
func (s *State) Release(inst *Instance) {
	for _, id := range inst.commands {
		_ = s.registry.Unregister(inst.moduleID, id)
	}
	inst.commands = nil
	s.listeners = slices.DeleteFunc(s.listeners, func(l messageListener) bool { return l.owner == inst.moduleID })
}
