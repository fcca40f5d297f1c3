package main

import (
	"os"
	"sync"

	"github.com/rs/zerolog"

	"photorestore/internal/config"
	"photorestore/internal/log"
)

// commandContext loads configuration once, on first use.
type commandContext struct {
	verbose *bool

	once   sync.Once
	cfg    *config.AppConfig
	err    error
	logger zerolog.Logger
}

func newCommandContext(verbose *bool) *commandContext {
	return &commandContext{verbose: verbose}
}

func (c *commandContext) ensureConfig() (*config.AppConfig, error) {
	c.once.Do(func() {
		c.cfg, c.err = config.Load()
		if c.err != nil {
			return
		}
		logging := c.cfg.Logging
		if c.verbose != nil && *c.verbose {
			logging.Debug = true
		} else if logging.Level == "" {
			logging.Level = "info"
		}
		c.logger = log.NewWithWriter(os.Stderr, logging, c.cfg.Environment)
	})
	return c.cfg, c.err
}

func (c *commandContext) log() zerolog.Logger {
	return c.logger
}
