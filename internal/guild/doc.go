// SPDX-License-Identifier: MPL-2.0

// Package guild holds the mutable per-guild state: live module instances,
// the command registry and listener lists.
//
// Nothing in this package locks. Each guild's State is mutated from a single
// serialized context (the dispatcher's per-guild queue), so two guilds never
// share mutable state and one guild never blocks another.
package guild
