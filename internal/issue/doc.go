// SPDX-License-Identifier: MPL-2.0

// Package issue provides actionable errors and a catalog of Markdown guidance
// for the failures an operator of guildhost is most likely to hit.
//
// ActionableError carries the failed operation, the resource involved and short
// suggestions; it may also point at a catalog Issue whose longer guidance the
// CLI renders with glamour.
package issue
