// Package config loads the fabric's YAML configuration tree, grounded
// on the key layout enumerated by the specification's external-interfaces
// section (location_manager.*, message_broker.*, location.*,
// outer_server.*, user.*). Kept on a bare yaml.v3 decoder rather than a
// config framework (viper and friends): the tree is small, static, and
// known at compile time — see DESIGN.md.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LocationManager addresses the location registry's three sockets and
// its sweeper timing.
type LocationManager struct {
	RepAddress              string `yaml:"rep_address"`
	PullAddress             string `yaml:"pull_address"`
	PubAddress              string `yaml:"pub_address"`
	HeartbeatsCheckerPeriod string `yaml:"heartbeats_checker_period"`
	MaxHeartbeatSilence     string `yaml:"max_heartbeat_silence"`
}

// MessageBroker addresses the pluggable broker backend.
type MessageBroker struct {
	Backend    string   `yaml:"backend"`
	SubAddress string   `yaml:"sub_address"`
	PubAddress string   `yaml:"pub_address"`
	Brokers    []string `yaml:"brokers"`
	Group      string   `yaml:"group"`
	URL        string   `yaml:"url"`
}

// Location configures a gateway process's own timing.
type Location struct {
	HeartbeatPeriod string `yaml:"heartbeat_period"`
}

// OuterServer configures a front-end process's dispatch path prefixes.
type OuterServer struct {
	LocationHandlerPath       string `yaml:"location_handler_path"`
	ClientLocationHandlerPath string `yaml:"client_location_handler_path"`
}

// User configures per-session defaults applied at sign_id time.
type User struct {
	StartLocations []string `yaml:"start_locations"`
}

// Config is the top-level tree shared by every cmd/* process; each
// binary reads only the sections it needs.
type Config struct {
	LocationManager LocationManager `yaml:"location_manager"`
	MessageBroker   MessageBroker   `yaml:"message_broker"`
	Location        Location        `yaml:"location"`
	OuterServer     OuterServer     `yaml:"outer_server"`
	User            User            `yaml:"user"`
}

// Load reads and parses the YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}
