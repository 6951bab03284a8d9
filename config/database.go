package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
)

// DatabaseType type of the relational store
type DatabaseType string

const (
	DatabaseTypeSqlite     DatabaseType = "sqlite"
	DatabaseTypeMysql      DatabaseType = "mysql"
	DatabaseTypePostgresql DatabaseType = "postgresql"

	secretObfuscator = "********"
)

// nolint:gochecknoglobals
var keywordPassword = regexp.MustCompile(`password=\S+`)

// Database configuration of the store holding the query log entries
type Database struct {
	Type             DatabaseType `yaml:"type" default:"sqlite"`
	Target           string       `yaml:"target" default:"querylog.db"`
	CreationAttempts int          `yaml:"creationAttempts" default:"3"`
	CreationCooldown Duration     `yaml:"creationCooldown" default:"2s"`
}

// IsEnabled implements `config.Configurable`.
func (c *Database) IsEnabled() bool {
	return true
}

// Validate checks type and target
func (c *Database) Validate() error {
	switch c.Type {
	case DatabaseTypeSqlite, DatabaseTypeMysql, DatabaseTypePostgresql:
	default:
		return fmt.Errorf("incorrect database type provided: '%s'", c.Type)
	}

	if strings.TrimSpace(c.Target) == "" {
		return fmt.Errorf("database target must be set")
	}

	return nil
}

// LogConfig implements `config.Configurable`.
func (c *Database) LogConfig(logger *logrus.Entry) {
	logger.Infof("type: %q", c.Type)
	logger.Infof("target: %q", c.censoredTarget())
	logger.Debugf("creationAttempts: %d", c.CreationAttempts)
	logger.Debugf("creationCooldown: %s", c.CreationCooldown)
}

func (c *Database) censoredTarget() string {
	target := keywordPassword.ReplaceAllString(c.Target, "password="+secretObfuscator)

	if u, err := url.Parse(target); err == nil && u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), secretObfuscator)

			return u.String()
		}
	}

	// DSN without scheme: user:password@tcp(host)/db
	if at := strings.LastIndex(target, "@"); at >= 0 {
		if colon := strings.Index(target[:at], ":"); colon >= 0 && !strings.Contains(target[:colon], "/") {
			return target[:colon+1] + secretObfuscator + target[at:]
		}
	}

	return target
}
