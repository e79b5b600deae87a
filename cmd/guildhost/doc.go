// SPDX-License-Identifier: MPL-2.0

// Package cmd contains the guildhost command line: serve, modules, config and
// guild.
package cmd
