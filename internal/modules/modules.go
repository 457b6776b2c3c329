// Package modules lists the built-in feature modules.
package modules

import (
	"geik.xyz/farmer/internal/module"
	"geik.xyz/farmer/internal/modules/autoharvest"
	"geik.xyz/farmer/internal/modules/autoseller"
	"geik.xyz/farmer/internal/modules/production"
	"geik.xyz/farmer/internal/modules/spawnerkiller"
	"geik.xyz/farmer/internal/modules/voucher"
)

// Builtin returns fresh instances in registration order, which is also the
// order their listeners see each event.
func Builtin() []module.Module {
	return []module.Module{
		voucher.New(),
		production.New(),
		autoharvest.New(),
		autoseller.New(),
		spawnerkiller.New(),
	}
}
