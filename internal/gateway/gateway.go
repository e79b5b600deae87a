// SPDX-License-Identifier: MPL-2.0

// Package gateway connects the host to the chat platform.
//
// A Conn delivers inbound events to a Handler and carries outbound messages.
// The Watchdog watches heartbeat acknowledgements and reconnects the Conn
// when they stop arriving. Transports live in subpackages.
package gateway

import (
	"context"

	"github.com/invowk/guildhost/pkg/botmod"
)

type (
	// Handler receives inbound events. *dispatch.Dispatcher implements it.
	Handler interface {
		Dispatch(msg botmod.Message) error
		DispatchReaction(r botmod.Reaction) error
		HandleGuildAvailable(guildID botmod.GuildID) error
	}

	// Reconnector re-establishes a lost connection. It must honour ctx
	// cancellation.
	Reconnector interface {
		Reconnect(ctx context.Context) error
	}

	// Conn is a live connection to the chat platform.
	Conn interface {
		botmod.Sender
		Reconnector
		Connect(ctx context.Context) error
		Close() error
	}
)
