package util

// overridden at build time with -ldflags "-X github.com/fleetdns/querylogd/util.Version=..."
//
//nolint:gochecknoglobals
var (
	Version   = "undefined"
	BuildTime = "undefined"
)
