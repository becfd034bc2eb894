// Package config holds process settings for a cosigner node.
package config

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"time"
)

var ErrInvalidConfig = errors.New("invalid config")

type (
	Config struct {
		// Host is the address peers reach this node on and the address the
		// listeners bind to.
		Host       string
		RPCPort    int
		ListenPort int

		// BeaconPort is shared by every member; beacons go to BeaconHost.
		BeaconPort     int
		BeaconHost     string
		BeaconInterval time.Duration

		HeartbeatInterval time.Duration
		PollInterval      time.Duration
		RPCTimeout        time.Duration

		// ServerSecret is hex; it salts every key this node derives.
		ServerSecret string

		MongoURI      string
		MongoDatabase string

		RedisAddr     string
		RedisPassword string
		RedisDB       int
		RosterTTL     time.Duration

		Debug bool
	}
)

func Default() Config {
	return Config{
		Host:              "127.0.0.1",
		RPCPort:           5000,
		ListenPort:        4000,
		BeaconPort:        3999,
		BeaconHost:        "255.255.255.255",
		BeaconInterval:    5 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		PollInterval:      10 * time.Millisecond,
		RPCTimeout:        1500 * time.Millisecond,
		MongoURI:          "mongodb://localhost:27017",
		MongoDatabase:     "cosigner",
		RedisAddr:         "localhost:6379",
		RosterTTL:         24 * time.Hour,
	}
}

// RegisterFlags binds every field to fs, using the current values as
// defaults.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Host, "host", c.Host, "advertised and bind host")
	fs.IntVar(&c.RPCPort, "rpc-port", c.RPCPort, "request/reply websocket port")
	fs.IntVar(&c.ListenPort, "listen-port", c.ListenPort, "advertised listen port")
	fs.IntVar(&c.BeaconPort, "beacon-port", c.BeaconPort, "UDP discovery port shared by the cluster")
	fs.StringVar(&c.BeaconHost, "beacon-host", c.BeaconHost, "UDP discovery broadcast address")
	fs.DurationVar(&c.BeaconInterval, "beacon-interval", c.BeaconInterval, "discovery beacon interval")
	fs.DurationVar(&c.HeartbeatInterval, "heartbeat-interval", c.HeartbeatInterval, "peer heartbeat interval")
	fs.DurationVar(&c.PollInterval, "poll-interval", c.PollInterval, "request processing poll interval")
	fs.DurationVar(&c.RPCTimeout, "rpc-timeout", c.RPCTimeout, "outbound request timeout")
	fs.StringVar(&c.ServerSecret, "server-secret", c.ServerSecret, "hex server secret for key derivation")
	fs.StringVar(&c.MongoURI, "mongo-uri", c.MongoURI, "MongoDB connection URI")
	fs.StringVar(&c.MongoDatabase, "mongo-db", c.MongoDatabase, "MongoDB database name")
	fs.StringVar(&c.RedisAddr, "redis-addr", c.RedisAddr, "Redis address")
	fs.StringVar(&c.RedisPassword, "redis-password", c.RedisPassword, "Redis password")
	fs.IntVar(&c.RedisDB, "redis-db", c.RedisDB, "Redis database")
	fs.DurationVar(&c.RosterTTL, "roster-ttl", c.RosterTTL, "lifetime of the stored roster snapshot")
	fs.BoolVar(&c.Debug, "debug", c.Debug, "development logging")
}

func (c Config) Validate() error {
	var errs []error
	if c.Host == "" {
		errs = append(errs, errors.New("host is empty"))
	}
	for name, port := range map[string]int{
		"rpc-port":    c.RPCPort,
		"listen-port": c.ListenPort,
		"beacon-port": c.BeaconPort,
	} {
		if port <= 0 || port > 65535 {
			errs = append(errs, fmt.Errorf("%s %d out of range", name, port))
		}
	}
	for name, d := range map[string]time.Duration{
		"beacon-interval":    c.BeaconInterval,
		"heartbeat-interval": c.HeartbeatInterval,
		"poll-interval":      c.PollInterval,
		"rpc-timeout":        c.RPCTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.RosterTTL < 0 {
		errs = append(errs, errors.New("roster-ttl is negative"))
	}
	if _, err := c.Secret(); err != nil {
		errs = append(errs, err)
	}
	if c.MongoURI == "" || c.MongoDatabase == "" {
		errs = append(errs, errors.New("mongo uri and database are required"))
	}
	if c.RedisAddr == "" {
		errs = append(errs, errors.New("redis-addr is empty"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Secret decodes ServerSecret.
func (c Config) Secret() ([]byte, error) {
	if c.ServerSecret == "" {
		return nil, errors.New("server-secret is empty")
	}
	secret, err := hex.DecodeString(c.ServerSecret)
	if err != nil {
		return nil, fmt.Errorf("server-secret: %w", err)
	}
	return secret, nil
}
