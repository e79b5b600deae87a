// SPDX-License-Identifier: MPL-2.0

package botmod

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
)

// ErrNilHandler is returned when a command is registered without a handler.
var ErrNilHandler = errors.New("command has no handler")

type (
	// Module is a live, per-guild feature instance.
	//
	// Startup registers the module's commands and listeners through the Host and
	// may perform I/O. A non-nil error leaves the module disabled in that guild
	// and every registration made during Startup is discarded.
	//
	// Teardown releases resources held by the instance. It cannot fail; the host
	// has already released the module's commands and listeners when it runs.
	Module interface {
		Startup(ctx context.Context, host Host) error
		Teardown(ctx context.Context)
	}

	// HandlerFunc runs a matched command.
	HandlerFunc func(ctx context.Context, inv *Invocation) error

	// MessageListener observes every non-bot message in a guild.
	MessageListener func(ctx context.Context, msg Message) error

	// ReactionListener observes reactions on one message.
	ReactionListener func(ctx context.Context, r Reaction) error

	// Command describes a chat command a module offers.
	Command struct {
		ID CommandID
		// Term is the desired invocation term. The assigned term may differ
		// when it collides with another command or was renamed by an admin.
		Term        string
		Description string
		Usage       string
		Handler     HandlerFunc
	}

	// Host is the module's view of its guild during and after Startup.
	Host interface {
		GuildID() GuildID
		ModuleID() ModuleID
		// Prefix returns the guild's current command prefix.
		Prefix() string
		// RegisterCommand allocates a unique term for cmd and returns it.
		RegisterCommand(ctx context.Context, cmd Command) (string, error)
		// Term returns the currently assigned term of one of the module's commands.
		Term(id CommandID) (string, bool)
		AddMessageListener(l MessageListener)
		// AddReactionListener attaches l to message, owned by the command owner.
		AddReactionListener(owner CommandID, message MessageID, l ReactionListener) error
		// RemoveReactionListeners detaches what owner attached to message.
		RemoveReactionListeners(owner CommandID, message MessageID)
		// Dependency returns the live instance of a declared dependency.
		Dependency(id ModuleID) (Module, bool)
		Sender() Sender
		Logger() *log.Logger
	}

	// Invocation is a single command call.
	Invocation struct {
		Message Message
		// Term is the assigned term that matched, without prefix.
		Term   string
		Prefix string
		Args   []string
		sender Sender
	}
)

// Validate checks the command id, term and handler.
func (c Command) Validate() error {
	if err := c.ID.Validate(); err != nil {
		return err
	}
	if _, err := NormalizeTerm(c.Term); err != nil {
		return fmt.Errorf("command %s: %w", c.ID, err)
	}
	if c.Handler == nil {
		return fmt.Errorf("command %s: %w", c.ID, ErrNilHandler)
	}
	return nil
}

// NewInvocation creates an Invocation whose replies go through sender.
func NewInvocation(msg Message, term, prefix string, args []string, sender Sender) *Invocation {
	return &Invocation{Message: msg, Term: term, Prefix: prefix, Args: args, sender: sender}
}

// Reply sends content to the channel the command was invoked from.
func (inv *Invocation) Reply(ctx context.Context, content string) error {
	if inv.sender == nil {
		return nil
	}
	_, err := inv.sender.Send(ctx, inv.Message.ChannelID, content)
	return err
}

// Invoked returns the prefixed term as the user typed it, e.g. "?help".
func (inv *Invocation) Invoked() string { return inv.Prefix + inv.Term }
