package config

import (
	"github.com/sirupsen/logrus"
)

// HTTP configuration of the REST adapter
type HTTP struct {
	Addr       string     `yaml:"addr" default:":4000"`
	Prometheus Prometheus `yaml:"prometheus"`
	CORS       []string   `yaml:"corsAllowedOrigins"`
}

// Prometheus contains the config values for prometheus
type Prometheus struct {
	Enable bool   `yaml:"enable" default:"false"`
	Path   string `yaml:"path" default:"/metrics"`
}

// IsEnabled implements `config.Configurable`.
func (c *HTTP) IsEnabled() bool {
	return c.Addr != ""
}

// LogConfig implements `config.Configurable`.
func (c *HTTP) LogConfig(logger *logrus.Entry) {
	logger.Infof("addr = %s", c.Addr)

	if c.Prometheus.Enable {
		logger.Infof("prometheus path = %s", c.Prometheus.Path)
	}

	if len(c.CORS) > 0 {
		logger.Infof("cors allowed origins = %v", c.CORS)
	}
}
