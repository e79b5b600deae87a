// SPDX-License-Identifier: MPL-2.0

package guild

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/invowk/guildhost/internal/store"
	"github.com/invowk/guildhost/pkg/botmod"
)

type nopModule struct{}

func (nopModule) Startup(context.Context, botmod.Host) error { return nil }
func (nopModule) Teardown(context.Context)                   {}

func TestInstance_Transitions(t *testing.T) {
	t.Parallel()

	inst := NewInstance("m", nopModule{})
	if inst.State() != InstanceUnregistered {
		t.Fatalf("new instance state = %s", inst.State())
	}
	if err := inst.MarkRunning(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("MarkRunning() from unregistered error = %v", err)
	}
	if err := inst.BeginStartup(); err != nil {
		t.Fatalf("BeginStartup() error = %v", err)
	}
	if err := inst.BeginStartup(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second BeginStartup() error = %v", err)
	}
	if err := inst.MarkRunning(); err != nil {
		t.Fatalf("MarkRunning() error = %v", err)
	}
	if !inst.BeginStopping() {
		t.Fatal("BeginStopping() = false for running instance")
	}
	if inst.BeginStopping() {
		t.Error("BeginStopping() = true while already stopping")
	}
	inst.MarkStopped()
	if inst.State() != InstanceUnregistered {
		t.Errorf("state after stop = %s", inst.State())
	}
}

func TestInstance_AbortStartup(t *testing.T) {
	t.Parallel()

	inst := NewInstance("m", nopModule{})
	if err := inst.BeginStartup(); err != nil {
		t.Fatal(err)
	}
	if err := inst.AbortStartup(); err != nil {
		t.Fatalf("AbortStartup() error = %v", err)
	}
	if inst.State() != InstanceUnregistered {
		t.Errorf("state after abort = %s", inst.State())
	}
}

func TestState_ReleaseDropsOwnedChildren(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := NewState("g1", Settings{Prefix: "?", UnknownCommandReply: true}, store.NewMemory())

	stats := NewInstance("stats", nopModule{})
	board := NewInstance("board", nopModule{})
	for _, inst := range []*Instance{stats, board} {
		if err := st.AddInstance(inst); err != nil {
			t.Fatal(err)
		}
	}
	if err := st.AddInstance(NewInstance("stats", nopModule{})); !errors.Is(err, ErrDuplicateInstance) {
		t.Errorf("AddInstance(duplicate) error = %v", err)
	}

	if _, err := st.RegisterCommand(ctx, stats, command("stats.stats", "stats")); err != nil {
		t.Fatal(err)
	}
	if _, err := st.RegisterCommand(ctx, board, command("board.top", "top")); err != nil {
		t.Fatal(err)
	}
	noop := func(context.Context, botmod.Message) error { return nil }
	st.AddMessageListener("stats", noop)
	st.AddMessageListener("board", noop)

	st.Release(stats)
	st.RemoveInstance("stats")

	if _, ok := st.Registry().Lookup("stats"); ok {
		t.Error("released command still registered")
	}
	if _, ok := st.Registry().Lookup("top"); !ok {
		t.Error("other module's command was released")
	}
	if n := len(st.MessageListeners()); n != 1 {
		t.Errorf("listeners after release = %d, want 1", n)
	}
	if len(stats.Commands()) != 0 {
		t.Errorf("released instance still owns %v", stats.Commands())
	}
	if want := []botmod.ModuleID{"board"}; !slices.Equal(st.ModuleIDs(), want) {
		t.Errorf("ModuleIDs() = %v, want %v", st.ModuleIDs(), want)
	}
}
