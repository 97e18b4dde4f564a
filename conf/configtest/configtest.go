package configtest

import "github.com/ajaxbridge/ajaxbridge/conf"

// SetupConfig snapshots the current configuration. Call the returned func to restore it.
func SetupConfig() func() {
	oldValues := *conf.Server
	return func() {
		*conf.Server = oldValues
	}
}
