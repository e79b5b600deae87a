// SPDX-License-Identifier: MPL-2.0

package guild

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/invowk/guildhost/pkg/botmod"
)

type (
	// TermStore is the slice of the settings repository the registry persists to.
	TermStore interface {
		GetCommandTerm(ctx context.Context, guildID botmod.GuildID, moduleID botmod.ModuleID, commandID botmod.CommandID) (string, bool, error)
		SetCommandTerm(ctx context.Context, guildID botmod.GuildID, moduleID botmod.ModuleID, commandID botmod.CommandID, term string) error
		GetCommandEnabled(ctx context.Context, guildID botmod.GuildID, moduleID botmod.ModuleID, commandID botmod.CommandID) (bool, bool, error)
		SetCommandEnabled(ctx context.Context, guildID botmod.GuildID, moduleID botmod.ModuleID, commandID botmod.CommandID, enabled bool) error
	}

	// Registration is a command bound to a term in one guild.
	Registration struct {
		ModuleID botmod.ModuleID
		Command  botmod.Command
		// Term is the assigned term, unique within the guild.
		Term    string
		Enabled bool
	}

	// Registry allocates, renames and resolves command terms within a guild.
	Registry struct {
		guildID botmod.GuildID
		store   TermStore
		byTerm  map[string]*Registration
		byID    map[botmod.CommandID]*Registration
		// reactions are keyed by message and owned by a command.
		reactions map[botmod.MessageID][]reactionListener
	}

	reactionListener struct {
		owner botmod.CommandID
		fn    botmod.ReactionListener
	}
)

// DesiredTerm returns the normalized term the command asked for.
func (r Registration) DesiredTerm() string {
	t, _ := botmod.NormalizeTerm(r.Command.Term)
	return t
}

// NewRegistry creates an empty registry for guildID.
func NewRegistry(guildID botmod.GuildID, store TermStore) *Registry {
	return &Registry{
		guildID:   guildID,
		store:     store,
		byTerm:    make(map[string]*Registration),
		byID:      make(map[botmod.CommandID]*Registration),
		reactions: make(map[botmod.MessageID][]reactionListener),
	}
}

// Register binds cmd to a term. A term persisted for this guild, module and
// command wins over the desired term; otherwise the desired term is used. If
// the chosen term is taken, "-2", "-3", ... is appended until it is unique.
// The outcome is persisted before the registry changes.
func (r *Registry) Register(ctx context.Context, moduleID botmod.ModuleID, cmd botmod.Command) (string, error) {
	if err := cmd.Validate(); err != nil {
		return "", err
	}
	if _, dup := r.byID[cmd.ID]; dup {
		return "", fmt.Errorf("%w: %s", ErrDuplicateCommand, cmd.ID)
	}

	base, _ := botmod.NormalizeTerm(cmd.Term)
	persisted, found, err := r.store.GetCommandTerm(ctx, r.guildID, moduleID, cmd.ID)
	if err != nil {
		return "", fmt.Errorf("register command %s: %w", cmd.ID, err)
	}
	if found {
		if t, nerr := botmod.NormalizeTerm(persisted); nerr == nil {
			base = t
		} else {
			found = false
		}
	}

	enabled, enabledFound, err := r.store.GetCommandEnabled(ctx, r.guildID, moduleID, cmd.ID)
	if err != nil {
		return "", fmt.Errorf("register command %s: %w", cmd.ID, err)
	}
	if !enabledFound {
		enabled = true
	}

	term := r.allocate(base)
	if !found || term != persisted {
		if err := r.store.SetCommandTerm(ctx, r.guildID, moduleID, cmd.ID, term); err != nil {
			return "", fmt.Errorf("register command %s: %w", cmd.ID, err)
		}
	}

	reg := &Registration{ModuleID: moduleID, Command: cmd, Term: term, Enabled: enabled}
	r.byTerm[term] = reg
	r.byID[cmd.ID] = reg
	return term, nil
}

func (r *Registry) allocate(base string) string {
	if _, taken := r.byTerm[base]; !taken {
		return base
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s-%d", base, n)
		if _, taken := r.byTerm[candidate]; !taken {
			return candidate
		}
	}
}

// Unregister removes the command's term and every reaction listener it owns.
// The persisted term is kept so that a later registration gets it back.
func (r *Registry) Unregister(moduleID botmod.ModuleID, commandID botmod.CommandID) error {
	reg, ok := r.byID[commandID]
	if !ok || reg.ModuleID != moduleID {
		return &UnknownCommandError{Ref: string(commandID)}
	}
	delete(r.byID, commandID)
	delete(r.byTerm, reg.Term)

	for msg := range r.reactions {
		r.dropReactions(commandID, msg)
	}
	return nil
}

// Rename moves a command to newTerm. It fails with *TermConflictError, and
// changes nothing, when another command already holds newTerm.
func (r *Registry) Rename(ctx context.Context, commandID botmod.CommandID, newTerm string) error {
	reg, ok := r.byID[commandID]
	if !ok {
		return &UnknownCommandError{Ref: string(commandID)}
	}
	term, err := botmod.NormalizeTerm(newTerm)
	if err != nil {
		return err
	}
	if term == reg.Term {
		return nil
	}
	if owner, taken := r.byTerm[term]; taken {
		return &TermConflictError{Term: term, Owner: owner.Command.ID}
	}

	if err := r.store.SetCommandTerm(ctx, r.guildID, reg.ModuleID, commandID, term); err != nil {
		return fmt.Errorf("rename command %s: %w", commandID, err)
	}
	delete(r.byTerm, reg.Term)
	reg.Term = term
	r.byTerm[term] = reg
	return nil
}

// SetEnabled toggles a command. It reports whether anything changed.
func (r *Registry) SetEnabled(ctx context.Context, commandID botmod.CommandID, enabled bool) (bool, error) {
	reg, ok := r.byID[commandID]
	if !ok {
		return false, &UnknownCommandError{Ref: string(commandID)}
	}
	if reg.Enabled == enabled {
		return false, nil
	}
	if err := r.store.SetCommandEnabled(ctx, r.guildID, reg.ModuleID, commandID, enabled); err != nil {
		return false, fmt.Errorf("toggle command %s: %w", commandID, err)
	}
	reg.Enabled = enabled
	return true, nil
}

// Lookup resolves an enabled command by term, case-insensitively.
func (r *Registry) Lookup(term string) (Registration, bool) {
	reg, ok := r.byTerm[strings.ToLower(term)]
	if !ok || !reg.Enabled {
		return Registration{}, false
	}
	return *reg, true
}

// LookupWithPrefixStripped resolves raw (the first token of a message) when
// it starts with prefix. The prefix comparison is case-insensitive.
func (r *Registry) LookupWithPrefixStripped(raw, prefix string) (Registration, bool) {
	term, ok := strings.CutPrefix(strings.ToLower(raw), strings.ToLower(prefix))
	if !ok || term == "" {
		return Registration{}, false
	}
	return r.Lookup(term)
}

// Find resolves a command by term, including disabled commands.
func (r *Registry) Find(term string) (Registration, bool) {
	reg, ok := r.byTerm[strings.ToLower(term)]
	if !ok {
		return Registration{}, false
	}
	return *reg, true
}

// Get returns the registration of commandID.
func (r *Registry) Get(commandID botmod.CommandID) (Registration, bool) {
	reg, ok := r.byID[commandID]
	if !ok {
		return Registration{}, false
	}
	return *reg, true
}

// Commands returns every registration ordered by term.
func (r *Registry) Commands() []Registration {
	out := make([]Registration, 0, len(r.byID))
	for _, reg := range r.byID {
		out = append(out, *reg)
	}
	slices.SortFunc(out, func(a, b Registration) int { return cmp.Compare(a.Term, b.Term) })
	return out
}

// Len returns the number of registered commands.
func (r *Registry) Len() int { return len(r.byID) }

// AddReactionListener attaches fn to msg on behalf of a registered command.
func (r *Registry) AddReactionListener(owner botmod.CommandID, msg botmod.MessageID, fn botmod.ReactionListener) error {
	if _, ok := r.byID[owner]; !ok {
		return &UnknownCommandError{Ref: string(owner)}
	}
	r.reactions[msg] = append(r.reactions[msg], reactionListener{owner: owner, fn: fn})
	return nil
}

// RemoveReactionListeners detaches every listener owner attached to msg.
func (r *Registry) RemoveReactionListeners(owner botmod.CommandID, msg botmod.MessageID) {
	r.dropReactions(owner, msg)
}

func (r *Registry) dropReactions(owner botmod.CommandID, msg botmod.MessageID) {
	kept := slices.DeleteFunc(r.reactions[msg], func(l reactionListener) bool { return l.owner == owner })
	if len(kept) == 0 {
		delete(r.reactions, msg)
		return
	}
	r.reactions[msg] = kept
}

// ReactionListeners returns the listeners attached to msg.
func (r *Registry) ReactionListeners(msg botmod.MessageID) []botmod.ReactionListener {
	listeners := r.reactions[msg]
	out := make([]botmod.ReactionListener, len(listeners))
	for i, l := range listeners {
		out[i] = l.fn
	}
	return out
}
