// Package config holds vee's runtime configuration.
//
// Values are layered: Default, then an optional TOML file, then command-line
// flags, then positional arguments. Later layers are applied by the caller
// after Load.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// EnvPath names a config file used when no --config flag is given.
const EnvPath = "VEE_CONFIG"

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	Name      string `toml:"name"`
	Formation string `toml:"formation"`
	Address   string `toml:"address"`
	PairTo    string `toml:"pair_to"`

	Log    Log    `toml:"log"`
	Status Status `toml:"status"`
	Timing Timing `toml:"timing"`
}

type Log struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // console or json
}

type Status struct {
	Addr string `toml:"addr"` // empty disables the status server
}

type Timing struct {
	BrokerIdle   Duration `toml:"broker_idle"`
	PeerInterval Duration `toml:"peer_interval"`
	ReplyTimeout Duration `toml:"reply_timeout"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Log: Log{Level: "info", Format: "console"},
		Timing: Timing{
			BrokerIdle:   Duration(500 * time.Millisecond),
			PeerInterval: Duration(2 * time.Second),
			ReplyTimeout: Duration(5 * time.Second),
		},
	}
}

// Path returns explicit when set, otherwise the value of VEE_CONFIG.
func Path(explicit string) string {
	if explicit != "" {
		return explicit
	}
	return os.Getenv(EnvPath)
}

// Load reads the TOML file at path over Default. An empty path returns the
// defaults. Keys the file sets that Config does not know are an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("%w: %s: unknown keys %s", ErrInvalid, path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

// Validate checks that the node can be started with cfg.
func (c Config) Validate() error {
	var missing []string
	if c.Name == "" {
		missing = append(missing, "name")
	}
	if c.Formation == "" {
		missing = append(missing, "formation")
	}
	if c.Address == "" {
		missing = append(missing, "address")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalid, strings.Join(missing, ", "))
	}

	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("%w: log format %q", ErrInvalid, c.Log.Format)
	}

	for name, d := range map[string]Duration{
		"broker_idle":   c.Timing.BrokerIdle,
		"peer_interval": c.Timing.PeerInterval,
		"reply_timeout": c.Timing.ReplyTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %s", ErrInvalid, name, d)
		}
	}
	return nil
}
