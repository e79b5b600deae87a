// SPDX-License-Identifier: MPL-2.0

package botmod

import "context"

// MaxMessageLength is the longest outbound message, in runes, the gateway accepts.
const MaxMessageLength = 2000

type (
	// Message is an inbound chat message delivered by the gateway.
	Message struct {
		ID         MessageID
		GuildID    GuildID
		ChannelID  ChannelID
		AuthorID   UserID
		AuthorName string
		// AuthorIsBot marks messages written by bots, including this one.
		AuthorIsBot bool
		// AuthorIsAdmin carries the platform-level administrator permission.
		AuthorIsAdmin bool
		Content       string
		Mentions      []UserID
	}

	// Reaction is an inbound reaction added to or removed from a message.
	Reaction struct {
		GuildID   GuildID
		ChannelID ChannelID
		MessageID MessageID
		UserID    UserID
		// UserIsBot marks reactions added by bots, including this one.
		UserIsBot bool
		Emoji     string
		Removed   bool
	}

	// Sender delivers outbound content to a channel. It is the only outbound
	// path available to modules; the reply wire format is the sender's concern.
	Sender interface {
		Send(ctx context.Context, channel ChannelID, content string) (MessageID, error)
	}
)

// Truncate shortens content to at most MaxMessageLength runes.
func Truncate(content string) string {
	if len(content) <= MaxMessageLength {
		return content
	}
	runes := []rune(content)
	if len(runes) <= MaxMessageLength {
		return content
	}
	return string(runes[:MaxMessageLength])
}
