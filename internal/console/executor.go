// SPDX-License-Identifier: MPL-2.0

package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/invowk/guildhost/internal/lifecycle"
	"github.com/invowk/guildhost/pkg/botmod"
)

var (
	// ErrUsage is returned for a malformed command line.
	ErrUsage = errors.New("usage")
	// ErrUnknownVerb is returned for a command the console does not know.
	ErrUnknownVerb = errors.New("unknown console command")
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	mutedStyle  = lipgloss.NewStyle().Faint(true)
)

type (
	// Queue runs fn serialized with the other work of a guild.
	Queue interface {
		Do(ctx context.Context, guildID botmod.GuildID, fn func(ctx context.Context) error) error
	}

	// Executor runs console command lines against the lifecycle manager.
	Executor struct {
		manager *lifecycle.Manager
		queue   Queue
		verbs   map[string]verb
	}

	verb struct {
		usage string
		help  string
		// guild commands take the guild id as their first argument and run on
		// the guild's queue.
		guild bool
		nargs []int
		run   func(ctx context.Context, w io.Writer, g botmod.GuildID, args []string) error
	}
)

// NewExecutor creates an Executor.
func NewExecutor(manager *lifecycle.Manager, queue Queue) *Executor {
	e := &Executor{manager: manager, queue: queue}
	e.verbs = map[string]verb{
		"catalog":   {usage: "catalog", help: "list every module in instantiation order", nargs: []int{0}, run: e.catalog},
		"guilds":    {usage: "guilds", help: "list instantiated guilds", nargs: []int{0}, run: e.guilds},
		"modules":   {usage: "modules <guild>", help: "show module status", guild: true, nargs: []int{0}, run: e.modules},
		"enable":    {usage: "enable <guild> <module>", help: "enable a module", guild: true, nargs: []int{1}, run: e.enable},
		"disable":   {usage: "disable <guild> <module>", help: "disable a module", guild: true, nargs: []int{1}, run: e.disable},
		"commands":  {usage: "commands <guild>", help: "list registered commands", guild: true, nargs: []int{0}, run: e.commands},
		"rename":    {usage: "rename <guild> <command> <term>", help: "assign a new term", guild: true, nargs: []int{2}, run: e.rename},
		"toggle":    {usage: "toggle <guild> <command> on|off", help: "enable or disable a command", guild: true, nargs: []int{2}, run: e.toggle},
		"prefix":    {usage: "prefix <guild> [prefix]", help: "show or set the command prefix", guild: true, nargs: []int{0, 1}, run: e.prefix},
		"unknown":   {usage: "unknown <guild> [on|off]", help: "show or set the unknown-command reply", guild: true, nargs: []int{0, 1}, run: e.unknown},
		"admins":    {usage: "admins <guild>", help: "list bot admins", guild: true, nargs: []int{0}, run: e.admins},
		"admin-add": {usage: "admin-add <guild> <user>", help: "grant bot admin", guild: true, nargs: []int{1}, run: e.adminAdd},
		"admin-rm":  {usage: "admin-rm <guild> <user>", help: "revoke bot admin", guild: true, nargs: []int{1}, run: e.adminRemove},
	}
	return e
}

// Run executes one parsed command line, writing the result to w.
func (e *Executor) Run(ctx context.Context, w io.Writer, args []string) error {
	if len(args) == 0 {
		return nil
	}
	name, rest := args[0], args[1:]
	if name == "help" {
		e.help(w)
		return nil
	}
	v, ok := e.verbs[name]
	if !ok {
		return fmt.Errorf("%w %q (try help)", ErrUnknownVerb, name)
	}
	if !v.guild {
		if !slices.Contains(v.nargs, len(rest)) {
			return fmt.Errorf("%w: %s", ErrUsage, v.usage)
		}
		return v.run(ctx, w, "", rest)
	}
	if len(rest) == 0 || !slices.Contains(v.nargs, len(rest)-1) {
		return fmt.Errorf("%w: %s", ErrUsage, v.usage)
	}
	g := botmod.GuildID(rest[0])
	if err := g.Validate(); err != nil {
		return err
	}
	return e.queue.Do(ctx, g, func(ctx context.Context) error {
		return v.run(ctx, w, g, rest[1:])
	})
}

func (e *Executor) help(w io.Writer) {
	names := make([]string, 0, len(e.verbs))
	for name := range e.verbs {
		names = append(names, name)
	}
	slices.Sort(names)
	fmt.Fprintln(w, headerStyle.Render("commands"))
	for _, name := range names {
		v := e.verbs[name]
		fmt.Fprintf(w, "  %-34s %s\n", v.usage, mutedStyle.Render(v.help))
	}
}

func (e *Executor) catalog(_ context.Context, w io.Writer, _ botmod.GuildID, _ []string) error {
	for _, id := range e.manager.Graph().Order() {
		d, _ := e.manager.Catalog().Get(id)
		line := string(id)
		if deps := d.Dependencies; len(deps) > 0 {
			line += mutedStyle.Render(" <- " + joinIDs(deps))
		}
		if id == e.manager.Protected() {
			line += " (protected)"
		}
		fmt.Fprintln(w, line)
	}
	return nil
}

func (e *Executor) guilds(_ context.Context, w io.Writer, _ botmod.GuildID, _ []string) error {
	for _, g := range e.manager.Guilds() {
		fmt.Fprintln(w, g)
	}
	return nil
}

func (e *Executor) modules(ctx context.Context, w io.Writer, g botmod.GuildID, _ []string) error {
	statuses, err := e.manager.ListModules(ctx, g)
	if err != nil {
		return err
	}
	for _, st := range statuses {
		state := "off"
		if st.Live {
			state = "live"
		}
		line := fmt.Sprintf("%-6s %s", state, st.Descriptor.ID)
		if len(st.MissingDependencies) > 0 {
			line += mutedStyle.Render("  needs " + joinIDs(st.MissingDependencies))
		}
		if len(st.LiveDependents) > 0 {
			line += mutedStyle.Render("  required by " + joinIDs(st.LiveDependents))
		}
		fmt.Fprintln(w, line)
	}
	return nil
}

func (e *Executor) enable(ctx context.Context, w io.Writer, g botmod.GuildID, args []string) error {
	if err := e.manager.EnableModule(ctx, g, botmod.ModuleID(args[0])); err != nil {
		return err
	}
	fmt.Fprintf(w, "enabled %s in %s\n", args[0], g)
	return nil
}

func (e *Executor) disable(ctx context.Context, w io.Writer, g botmod.GuildID, args []string) error {
	if err := e.manager.DisableModule(ctx, g, botmod.ModuleID(args[0])); err != nil {
		return err
	}
	fmt.Fprintf(w, "disabled %s in %s\n", args[0], g)
	return nil
}

func (e *Executor) commands(ctx context.Context, w io.Writer, g botmod.GuildID, _ []string) error {
	regs, err := e.manager.Commands(ctx, g)
	if err != nil {
		return err
	}
	for _, r := range regs {
		line := fmt.Sprintf("%-16s %s", r.Term, r.Command.ID)
		if !r.Enabled {
			line += " (disabled)"
		}
		fmt.Fprintln(w, line)
	}
	return nil
}

func (e *Executor) rename(ctx context.Context, w io.Writer, g botmod.GuildID, args []string) error {
	r, err := e.manager.RenameCommand(ctx, g, args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s is now %s\n", r.Command.ID, r.Term)
	return nil
}

func (e *Executor) toggle(ctx context.Context, w io.Writer, g botmod.GuildID, args []string) error {
	on, err := parseSwitch(args[1])
	if err != nil {
		return err
	}
	r, changed, err := e.manager.SetCommandEnabled(ctx, g, args[0], on)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s %s\n", r.Command.ID, switchResult(on, changed, "enabled", "disabled"))
	return nil
}

func (e *Executor) prefix(ctx context.Context, w io.Writer, g botmod.GuildID, args []string) error {
	if len(args) == 0 {
		state, err := e.manager.InstantiateForGuild(ctx, g)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, state.Prefix())
		return nil
	}
	changed, err := e.manager.SetPrefix(ctx, g, args[0])
	if err != nil {
		return err
	}
	if !changed {
		fmt.Fprintf(w, "prefix is already %s\n", args[0])
		return nil
	}
	fmt.Fprintf(w, "prefix set to %s\n", args[0])
	return nil
}

func (e *Executor) unknown(ctx context.Context, w io.Writer, g botmod.GuildID, args []string) error {
	if len(args) == 0 {
		state, err := e.manager.InstantiateForGuild(ctx, g)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, onOff(state.UnknownCommandReply()))
		return nil
	}
	on, err := parseSwitch(args[0])
	if err != nil {
		return err
	}
	changed, err := e.manager.SetUnknownCommandReply(ctx, g, on)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "unknown-command reply %s\n", switchResult(on, changed, "on", "off"))
	return nil
}

func (e *Executor) admins(ctx context.Context, w io.Writer, g botmod.GuildID, _ []string) error {
	users, err := e.manager.AdminUsers(ctx, g)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("no admins; anyone may add the first one"))
		return nil
	}
	for _, u := range users {
		fmt.Fprintln(w, u)
	}
	return nil
}

func (e *Executor) adminAdd(ctx context.Context, w io.Writer, g botmod.GuildID, args []string) error {
	added, err := e.manager.AddAdminUser(ctx, g, botmod.UserID(args[0]))
	if err != nil {
		return err
	}
	if !added {
		fmt.Fprintf(w, "%s is already an admin\n", args[0])
		return nil
	}
	fmt.Fprintf(w, "%s is now an admin\n", args[0])
	return nil
}

func (e *Executor) adminRemove(ctx context.Context, w io.Writer, g botmod.GuildID, args []string) error {
	removed, err := e.manager.RemoveAdminUser(ctx, g, botmod.UserID(args[0]))
	if err != nil {
		return err
	}
	if !removed {
		fmt.Fprintf(w, "%s is not an admin\n", args[0])
		return nil
	}
	fmt.Fprintf(w, "%s is no longer an admin\n", args[0])
	return nil
}

func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "yes", "enable":
		return true, nil
	case "off", "false", "no", "disable":
		return false, nil
	default:
		return false, fmt.Errorf("%w: expected on or off, got %q", ErrUsage, s)
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func switchResult(on, changed bool, onWord, offWord string) string {
	word := offWord
	if on {
		word = onWord
	}
	if !changed {
		return "already " + word
	}
	return word
}

func joinIDs(ids []botmod.ModuleID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ", ")
}
