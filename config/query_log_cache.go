package config

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// QueryLogCache configuration for the query log ingestion and caching engine
type QueryLogCache struct {
	Enabled           bool     `yaml:"enabled" default:"true"`
	RetentionHours    int      `yaml:"retentionHours" default:"24"`
	PollInterval      Duration `yaml:"pollInterval" default:"30s"`
	Overlap           Duration `yaml:"overlap" default:"60s"`
	MaxEntriesPerPoll int      `yaml:"maxEntriesPerPoll" default:"20000"`
	FetchPageSize     int      `yaml:"fetchPageSize" default:"500"`
	CleanupInterval   Duration `yaml:"cleanupInterval" default:"1h"`
	CacheTTL          Duration `yaml:"cacheTTL" default:"15s"`
	CacheMaxEntries   int      `yaml:"cacheMaxEntries" default:"200"`
	MaxBackfillIPs    int      `yaml:"maxBackfillIPs" default:"200"`
	Concurrency       int      `yaml:"concurrency" default:"4"`
}

// IsEnabled implements `config.Configurable`.
func (c *QueryLogCache) IsEnabled() bool {
	return c.Enabled
}

// Retention returns the retention horizon as duration
func (c *QueryLogCache) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

// Validate checks the value ranges
func (c *QueryLogCache) Validate() error {
	switch {
	case c.RetentionHours <= 0:
		return errors.New("queryLogCache.retentionHours must be greater than 0")
	case !c.PollInterval.IsAboveZero():
		return errors.New("queryLogCache.pollInterval must be greater than 0")
	case !c.Overlap.IsAtLeastZero():
		return errors.New("queryLogCache.overlap must not be negative")
	case c.MaxEntriesPerPoll <= 0:
		return errors.New("queryLogCache.maxEntriesPerPoll must be greater than 0")
	case c.FetchPageSize <= 0:
		return errors.New("queryLogCache.fetchPageSize must be greater than 0")
	case !c.CleanupInterval.IsAboveZero():
		return errors.New("queryLogCache.cleanupInterval must be greater than 0")
	case !c.CacheTTL.IsAtLeastZero():
		return errors.New("queryLogCache.cacheTTL must not be negative")
	case c.CacheMaxEntries <= 0:
		return errors.New("queryLogCache.cacheMaxEntries must be greater than 0")
	case c.MaxBackfillIPs < 0:
		return errors.New("queryLogCache.maxBackfillIPs must not be negative")
	case c.Concurrency <= 0:
		return errors.New("queryLogCache.concurrency must be greater than 0")
	}

	return nil
}

// LogConfig implements `config.Configurable`.
func (c *QueryLogCache) LogConfig(logger *logrus.Entry) {
	logger.Infof("retentionHours = %d", c.RetentionHours)
	logger.Infof("pollInterval = %s", c.PollInterval)
	logger.Infof("overlap = %s", c.Overlap)
	logger.Infof("maxEntriesPerPoll = %d", c.MaxEntriesPerPoll)
	logger.Debugf("fetchPageSize = %d", c.FetchPageSize)
	logger.Infof("cleanupInterval = %s", c.CleanupInterval)

	if c.CacheTTL.IsAboveZero() {
		logger.Infof("cacheTTL = %s", c.CacheTTL)
		logger.Infof("cacheMaxEntries = %d", c.CacheMaxEntries)
	} else {
		logger.Info("response cache disabled")
	}

	logger.Debugf("maxBackfillIPs = %d", c.MaxBackfillIPs)
	logger.Debugf("concurrency = %d", c.Concurrency)
}
