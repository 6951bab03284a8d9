package config

import (
	"github.com/sirupsen/logrus"
)

// ClientLookup configuration for the client hostname enrichment
type ClientLookup struct {
	// Upstream DNS server (host:port) used for reverse lookups, empty disables rDNS
	Upstream            string              `yaml:"upstream"`
	ClientnameIPMapping map[string][]string `yaml:"clients"`
	CachePeriod         Duration            `yaml:"cachePeriod" default:"1h"`
	Timeout             Duration            `yaml:"timeout" default:"2s"`
}

// IsEnabled implements `config.Configurable`.
func (c *ClientLookup) IsEnabled() bool {
	return c.Upstream != "" || len(c.ClientnameIPMapping) != 0
}

// LogConfig implements `config.Configurable`.
func (c *ClientLookup) LogConfig(logger *logrus.Entry) {
	if c.Upstream != "" {
		logger.Infof("upstream = %s", c.Upstream)
		logger.Infof("cachePeriod = %s", c.CachePeriod)
		logger.Debugf("timeout = %s", c.Timeout)
	}

	if len(c.ClientnameIPMapping) > 0 {
		logger.Infof("client IP mapping:")

		for k, v := range c.ClientnameIPMapping {
			logger.Infof("  %s = %s", k, v)
		}
	}
}
