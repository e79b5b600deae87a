// SPDX-License-Identifier: MPL-2.0

// Package botmod is the contract between guildhost and its feature modules.
//
// A module is described once by a Descriptor (stable id, metadata, declared
// dependency ids and a Factory). guildhost builds one live Module per guild from
// that descriptor and hands it a Host during Startup; through the Host the module
// registers commands and listeners that are owned by its instance and released
// when the module is disabled in that guild.
//
// This package is a leaf dependency for module authors: it never imports the
// host's internal packages.
package botmod
