// SPDX-License-Identifier: MPL-2.0

// Package modules lists the modules compiled into the host.
package modules

import (
	"github.com/invowk/guildhost/internal/catalog"
	"github.com/invowk/guildhost/internal/modules/admin"
	"github.com/invowk/guildhost/internal/modules/leaderboard"
	"github.com/invowk/guildhost/internal/modules/stats"
)

// RegisterBuiltins adds the built-in modules to b. The admin module is the
// protected base module.
func RegisterBuiltins(b *catalog.Builder) *catalog.Builder {
	return b.
		Add(admin.Descriptor()).
		Add(stats.Descriptor()).
		Add(leaderboard.Descriptor())
}

// Protected is the id of the base module every guild runs.
const Protected = admin.ID
