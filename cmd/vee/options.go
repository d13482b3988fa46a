package main

import (
	"github.com/spf13/cobra"

	"github.com/Operative-001/vee/internal/config"
)

// resolveConfig layers the config file, then changed flags, then positional
// arguments over the defaults, and validates the result.
func resolveConfig(cmd *cobra.Command, args []string) (config.Config, error) {
	f := cmd.Flags()

	path, _ := f.GetString("config")
	cfg, err := config.Load(config.Path(path))
	if err != nil {
		return config.Config{}, err
	}

	if f.Changed("log-level") {
		cfg.Log.Level, _ = f.GetString("log-level")
	}
	if f.Changed("log-format") {
		cfg.Log.Format, _ = f.GetString("log-format")
	}
	if f.Changed("status-addr") {
		cfg.Status.Addr, _ = f.GetString("status-addr")
	}
	for flag, dst := range map[string]*config.Duration{
		"broker-idle":   &cfg.Timing.BrokerIdle,
		"peer-interval": &cfg.Timing.PeerInterval,
		"reply-timeout": &cfg.Timing.ReplyTimeout,
	} {
		if f.Changed(flag) {
			d, _ := f.GetDuration(flag)
			*dst = config.Duration(d)
		}
	}

	positional := []*string{&cfg.Name, &cfg.Formation, &cfg.Address, &cfg.PairTo}
	for i, arg := range args {
		*positional[i] = arg
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
