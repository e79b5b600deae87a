// SPDX-License-Identifier: MPL-2.0

// Package runner provides the single-use lifecycle shared by the host's
// background components: the liveness watchdog, the admin HTTP API and the
// operator console.
//
// A component embeds *Base and moves it through
// Created -> Starting -> Running -> Stopping -> Stopped, or to Failed from
// Starting. Reads of the state are lock-free.
package runner
