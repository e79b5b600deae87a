// SPDX-License-Identifier: MPL-2.0

package socketio

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/invowk/guildhost/pkg/botmod"
)

// Event names on the wire.
const (
	EventMessage        = "message"
	EventReaction       = "reaction"
	EventGuildAvailable = "guild_available"
	EventSend           = "send"
)

// ErrEmptyPayload is returned when an event carries no arguments.
var ErrEmptyPayload = errors.New("event has no payload")

type (
	messagePayload struct {
		ID            string   `json:"id"`
		GuildID       string   `json:"guild_id"`
		ChannelID     string   `json:"channel_id"`
		AuthorID      string   `json:"author_id"`
		AuthorName    string   `json:"author_name"`
		AuthorIsBot   bool     `json:"author_is_bot"`
		AuthorIsAdmin bool     `json:"author_is_admin"`
		Content       string   `json:"content"`
		Mentions      []string `json:"mentions,omitempty"`
	}

	reactionPayload struct {
		GuildID   string `json:"guild_id"`
		ChannelID string `json:"channel_id"`
		MessageID string `json:"message_id"`
		UserID    string `json:"user_id"`
		UserIsBot bool   `json:"user_is_bot"`
		Emoji     string `json:"emoji"`
		Removed   bool   `json:"removed"`
	}

	guildPayload struct {
		GuildID string `json:"guild_id"`
	}

	sendPayload struct {
		ChannelID string `json:"channel_id"`
		Content   string `json:"content"`
		Nonce     string `json:"nonce"`
	}
)

// decode re-encodes the first event argument, which the client library hands
// over as generic JSON values, into v.
func decode(args []any, v any) error {
	if len(args) == 0 || args[0] == nil {
		return ErrEmptyPayload
	}
	raw, err := json.Marshal(args[0])
	if err != nil {
		return fmt.Errorf("re-encode payload: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

func (p messagePayload) toMessage() botmod.Message {
	mentions := make([]botmod.UserID, 0, len(p.Mentions))
	for _, m := range p.Mentions {
		mentions = append(mentions, botmod.UserID(m))
	}
	return botmod.Message{
		ID:            botmod.MessageID(p.ID),
		GuildID:       botmod.GuildID(p.GuildID),
		ChannelID:     botmod.ChannelID(p.ChannelID),
		AuthorID:      botmod.UserID(p.AuthorID),
		AuthorName:    p.AuthorName,
		AuthorIsBot:   p.AuthorIsBot,
		AuthorIsAdmin: p.AuthorIsAdmin,
		Content:       p.Content,
		Mentions:      mentions,
	}
}

func (p reactionPayload) toReaction() botmod.Reaction {
	return botmod.Reaction{
		GuildID:   botmod.GuildID(p.GuildID),
		ChannelID: botmod.ChannelID(p.ChannelID),
		MessageID: botmod.MessageID(p.MessageID),
		UserID:    botmod.UserID(p.UserID),
		UserIsBot: p.UserIsBot,
		Emoji:     p.Emoji,
		Removed:   p.Removed,
	}
}
