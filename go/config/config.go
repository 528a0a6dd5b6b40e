// Package config holds the shared scanner configuration handle.
//
// One Config is shared by every in-flight task. It is reference
// counted: each task retains it at construction and releases it when
// freed, and it is read-only from the task side.
package config

import (
	"sync/atomic"

	"github.com/jessevdk/go-flags"
)

// Config is the scanner configuration.
type Config struct {
	// CheckAllFilters makes every task pass all filters even after a
	// verdict is reachable.
	CheckAllFilters bool `long:"check-all-filters" description:"Continue checking filters after a verdict is reached"`

	// LogFormat is the audit log format specification. An empty
	// format suppresses per-task log lines.
	LogFormat string `long:"log-format" description:"Per-task audit log format" default:"id: <$mid>, $?ip{ip: $, }$scores, action: $action, symbols: $symbols_scores, len: $len, time: ${time_real}s real"`

	// ClockRes is the number of fractional digits used when
	// formatting elapsed times.
	ClockRes int `long:"clock-resolution" description:"Fractional digits of logged task timings" default:"3"`

	refs int32
}

// New returns a Config with default values and one reference held by
// the caller.
func New() *Config {
	var cfg = &Config{refs: 1}

	// Apply the struct's flag defaults without consuming arguments.
	if _, err := flags.NewParser(cfg, flags.None).ParseArgs(nil); err != nil {
		panic(err)
	}
	return cfg
}

// Load parses configuration from command-line style arguments and
// returns the remaining positional arguments.
func Load(args []string) (*Config, []string, error) {
	var cfg = &Config{refs: 1}

	var rest, err = flags.NewParser(cfg, flags.Default).ParseArgs(args)
	if err != nil {
		return nil, nil, err
	}
	return cfg, rest, nil
}

// Retain acquires an additional reference.
func (c *Config) Retain() *Config {
	atomic.AddInt32(&c.refs, 1)
	return c
}

// Release drops one reference.
func (c *Config) Release() {
	atomic.AddInt32(&c.refs, -1)
}

// Refs returns the current reference count.
func (c *Config) Refs() int32 { return atomic.LoadInt32(&c.refs) }
