package config

// QueueConfig holds reliable delivery queue settings.
type QueueConfig struct {
	// MaxAttempts bounds delivery tries per message before dead-lettering.
	MaxAttempts int `mapstructure:"max_attempts"`
	// RetryDelaysS is the escalating backoff ladder, one entry per retry.
	// Attempts beyond the ladder reuse the last entry.
	RetryDelaysS []int `mapstructure:"retry_delays_s"`
	// PollIntervalMS is the dispatch/retry promotion poll period.
	PollIntervalMS int `mapstructure:"poll_interval_ms"`
	// AuditRetentionS keeps terminal (sent/failed) messages queryable before
	// garbage collection.
	AuditRetentionS int `mapstructure:"audit_retention_s"`
}

// DefaultQueue returns queue defaults.
func DefaultQueue() QueueConfig {
	return QueueConfig{
		MaxAttempts:     3,
		RetryDelaysS:    []int{60, 300, 900},
		PollIntervalMS:  100,
		AuditRetentionS: 3600,
	}
}

func (c *QueueConfig) validate() error {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if len(c.RetryDelaysS) == 0 {
		c.RetryDelaysS = []int{60, 300, 900}
	}
	for i, d := range c.RetryDelaysS {
		if d <= 0 {
			c.RetryDelaysS[i] = 60
		}
	}
	if c.PollIntervalMS <= 0 {
		c.PollIntervalMS = 100
	}
	if c.AuditRetentionS <= 0 {
		c.AuditRetentionS = 3600
	}
	return nil
}
