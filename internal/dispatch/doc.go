// SPDX-License-Identifier: MPL-2.0

// Package dispatch routes inbound gateway events to guild state.
//
// Every guild gets a FIFO queue. At most one drain task per guild runs on the
// shared worker pool, so events for one guild are handled strictly in order
// while different guilds proceed concurrently. Admin surfaces submit their
// mutations through Do so that they share the same single-writer discipline.
package dispatch
