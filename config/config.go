// Package config loads the nanorpcd server configuration from a TOML file.
//
//	network        = "tcp"
//	address        = ":7070"
//	advertise      = "10.0.0.5:7070"
//	max_frame_bytes = 8388608
//
//	[etcd]
//	endpoints   = ["127.0.0.1:2379"]
//	prefix      = "/nanorpc/"
//	ttl_seconds = 10
//
//	[log]
//	level       = "debug"
//	development = true
//
// Keys missing from the file keep their Default values.
package config

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/BurntSushi/toml"
	"go.uber.org/multierr"

	"nanorpc/discovery"
	"nanorpc/log"
	"nanorpc/protocol"
)

// Etcd configures service announcement. Announcement is off when Endpoints is empty.
type Etcd struct {
	Endpoints  []string `toml:"endpoints"`
	Prefix     string   `toml:"prefix"`
	TTLSeconds int64    `toml:"ttl_seconds"`
	Weight     int      `toml:"weight"`
}

// Enabled reports whether any etcd endpoint is configured.
func (e Etcd) Enabled() bool { return len(e.Endpoints) > 0 }

// Config is the full server configuration.
type Config struct {
	Network string `toml:"network"`
	Address string `toml:"address"`
	// Advertise is the address announced to etcd, Address when empty.
	Advertise     string     `toml:"advertise"`
	MaxFrameBytes int64      `toml:"max_frame_bytes"`
	Etcd          Etcd       `toml:"etcd"`
	Log           log.Config `toml:"log"`
}

// Default returns the configuration used for keys a file leaves out.
func Default() Config {
	return Config{
		Network:       "tcp",
		Address:       ":7070",
		MaxFrameBytes: int64(protocol.DefaultLimits().MaxPayloadBytes),
		Etcd: Etcd{
			Prefix:     discovery.DefaultPrefix,
			TTLSeconds: 10,
			Weight:     1,
		},
		Log: log.Config{Level: "info"},
	}
}

// Load reads path over Default and validates the result. Unknown keys are an error.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("config: load %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("config: %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	var err error
	if strings.TrimSpace(c.Network) == "" {
		err = multierr.Append(err, errors.New("network is empty"))
	}
	if strings.TrimSpace(c.Address) == "" {
		err = multierr.Append(err, errors.New("address is empty"))
	}
	if c.MaxFrameBytes <= 0 || c.MaxFrameBytes > math.MaxUint32 {
		err = multierr.Append(err, fmt.Errorf("max_frame_bytes %d out of range", c.MaxFrameBytes))
	}
	if c.Etcd.Enabled() {
		if c.Etcd.TTLSeconds <= 0 {
			err = multierr.Append(err, fmt.Errorf("etcd.ttl_seconds %d must be positive", c.Etcd.TTLSeconds))
		}
		if !strings.HasSuffix(c.Etcd.Prefix, "/") {
			err = multierr.Append(err, fmt.Errorf("etcd.prefix %q must end with a slash", c.Etcd.Prefix))
		}
	}
	return err
}

// Limits returns the frame limits for every channel of the server.
func (c Config) Limits() protocol.Limits {
	return protocol.Limits{MaxPayloadBytes: uint64(c.MaxFrameBytes)}
}

// Endpoint is what the server announces: Advertise, or Address when unset.
func (c Config) Endpoint() discovery.Endpoint {
	addr := c.Advertise
	if addr == "" {
		addr = c.Address
	}
	return discovery.Endpoint{Network: c.Network, Addr: addr, Weight: c.Etcd.Weight}
}
