// SPDX-License-Identifier: MPL-2.0

package botmod

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var (
	// ErrInvalidModuleID is the sentinel error wrapped by InvalidIDError for module ids.
	ErrInvalidModuleID = errors.New("invalid module id")
	// ErrInvalidCommandID is the sentinel error wrapped by InvalidIDError for command ids.
	ErrInvalidCommandID = errors.New("invalid command id")
	// ErrInvalidTerm is the sentinel error wrapped by InvalidIDError for command terms.
	ErrInvalidTerm = errors.New("invalid command term")
	// ErrInvalidGuildID is the sentinel error wrapped by InvalidIDError for guild ids.
	ErrInvalidGuildID = errors.New("invalid guild id")
)

type (
	// ModuleID uniquely identifies a module across the whole catalog,
	// e.g. "guildhost.admin". It must be non-empty and contain no whitespace.
	ModuleID string

	// CommandID uniquely identifies a command within a guild, e.g. "admin.help".
	// By convention it is prefixed with the short name of its module.
	CommandID string

	// GuildID identifies a tenant (chat server).
	GuildID string

	// ChannelID identifies a channel within a guild.
	ChannelID string

	// UserID identifies a chat user.
	UserID string

	// MessageID identifies a single chat message.
	MessageID string

	// InvalidIDError is returned when an identifier or term fails validation.
	InvalidIDError struct {
		Kind  string
		Value string
		// sentinel is the kind-specific error returned by Unwrap.
		sentinel error
	}
)

// String returns the string representation of the ModuleID.
func (id ModuleID) String() string { return string(id) }

// Validate returns nil if the ModuleID is non-empty and free of whitespace.
func (id ModuleID) Validate() error {
	if !isToken(string(id)) {
		return &InvalidIDError{Kind: "module id", Value: string(id), sentinel: ErrInvalidModuleID}
	}
	return nil
}

// String returns the string representation of the CommandID.
func (id CommandID) String() string { return string(id) }

// Validate returns nil if the CommandID is non-empty and free of whitespace.
func (id CommandID) Validate() error {
	if !isToken(string(id)) {
		return &InvalidIDError{Kind: "command id", Value: string(id), sentinel: ErrInvalidCommandID}
	}
	return nil
}

func (id GuildID) String() string { return string(id) }

// Validate returns nil if the GuildID is non-empty and free of whitespace.
func (id GuildID) Validate() error {
	if !isToken(string(id)) {
		return &InvalidIDError{Kind: "guild id", Value: string(id), sentinel: ErrInvalidGuildID}
	}
	return nil
}

func (id ChannelID) String() string { return string(id) }
func (id UserID) String() string    { return string(id) }
func (id MessageID) String() string { return string(id) }

// Mention renders the user id in the platform's mention syntax.
func (id UserID) Mention() string { return "<@" + string(id) + ">" }

// NormalizeTerm lower-cases and trims a command term and validates it.
// Terms are matched case-insensitively, so every stored term is normalized.
func NormalizeTerm(term string) (string, error) {
	t := strings.ToLower(strings.TrimSpace(term))
	if !isToken(t) {
		return "", &InvalidIDError{Kind: "command term", Value: term, sentinel: ErrInvalidTerm}
	}
	return t, nil
}

// Error implements the error interface for InvalidIDError.
func (e *InvalidIDError) Error() string {
	return fmt.Sprintf("invalid %s %q (must be non-empty and contain no whitespace)", e.Kind, e.Value)
}

// Unwrap returns the kind-specific sentinel for errors.Is() compatibility.
func (e *InvalidIDError) Unwrap() error { return e.sentinel }

func isToken(s string) bool {
	if s == "" {
		return false
	}
	return strings.IndexFunc(s, unicode.IsSpace) < 0
}
