// SPDX-License-Identifier: MPL-2.0

// Package console is the operator SSH console.
//
// Operators log in with the configured token as password and either run one
// command per connection ("ssh -p 2222 host modules g1") or get a line prompt.
// Lines are split with POSIX shell quoting rules, so terms and prefixes with
// spaces or quotes can be passed literally.
package console
