// Package config loads the controller configuration from config.json or
// config.yaml in the working directory (or an explicit path).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/robertobru/netcl/pkg/model"
	"github.com/robertobru/netcl/pkg/util"
)

// MongoConfig locates the document store.
type MongoConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	DB       string `json:"db" yaml:"db"`
	User     string `json:"user,omitempty" yaml:"user,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
}

// VlanRange is an inclusive VLAN id interval.
type VlanRange struct {
	Min int `json:"min" yaml:"min"`
	Max int `json:"max" yaml:"max"`
}

// NetworkConfig carries the network-level settings the tenant allocator
// works from.
type NetworkConfig struct {
	VrfSwitchName          string              `json:"vrf_switch_name" yaml:"vrf_switch_name"`
	UplinkVlanPools        []VlanRange         `json:"uplink_vlans_pools" yaml:"uplink_vlans_pools"`
	UplinkIPPool           []string            `json:"uplink_ipaddr_pool" yaml:"uplink_ipaddr_pool"`
	UplinkIPNetMask        int                 `json:"uplink_ipnet_mask" yaml:"uplink_ipnet_mask"`
	PnfVlanPools           []VlanRange         `json:"pnf_vlans_pool" yaml:"pnf_vlans_pool"`
	PnfIPPool              []string            `json:"pnf_ip_pool" yaml:"pnf_ip_pool"`
	PnfIPNetMask           int                 `json:"pnf_ipnet_mask" yaml:"pnf_ipnet_mask"`
	PnfMergingVrfName      string              `json:"pnf_merging_vrf_name" yaml:"pnf_merging_vrf_name"`
	ASNumber               int                 `json:"as_number" yaml:"as_number"`
	FirewallUplinkVlanPort string              `json:"firewall_uplink_vlan_port" yaml:"firewall_uplink_vlan_port"`
	FirewallUplinkNeighbor *model.LldpNeighbor `json:"firewall_uplink_neighbor,omitempty" yaml:"firewall_uplink_neighbor,omitempty"`
	FirewallPortGroup      string              `json:"firewall_port_group" yaml:"firewall_port_group"`
}

// ServerConfig is the HTTP bind configuration.
type ServerConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

// Config is the full controller configuration.
type Config struct {
	Mongo    MongoConfig   `json:"mongodb" yaml:"mongodb"`
	Network  NetworkConfig `json:"network" yaml:"network"`
	Server   ServerConfig  `json:"server" yaml:"server"`
	LogLevel string        `json:"log_level,omitempty" yaml:"log_level,omitempty"`

	// InsecureSkipVerify disables TLS certificate verification on the
	// vendor REST drivers. Defaults to true: the managed devices ship
	// self-signed certificates.
	InsecureSkipVerify *bool `json:"insecure_skip_verify,omitempty" yaml:"insecure_skip_verify,omitempty"`
}

// SkipTLSVerify resolves the TLS policy knob.
func (c *Config) SkipTLSVerify() bool {
	if c.InsecureSkipVerify == nil {
		return true
	}
	return *c.InsecureSkipVerify
}

// UplinkVlans expands the uplink VLAN ranges into the flat pool.
func (c *NetworkConfig) UplinkVlans() []int {
	return expandRanges(c.UplinkVlanPools)
}

// PnfVlans expands the PNF VLAN ranges into the flat pool.
func (c *NetworkConfig) PnfVlans() []int {
	return expandRanges(c.PnfVlanPools)
}

// UplinkSubnets splits the uplink address pool into per-tenant subnets.
func (c *NetworkConfig) UplinkSubnets() ([]string, error) {
	return splitPools(c.UplinkIPPool, c.UplinkIPNetMask)
}

// PnfSubnets splits the PNF address pool into per-PNF subnets.
func (c *NetworkConfig) PnfSubnets() ([]string, error) {
	return splitPools(c.PnfIPPool, c.PnfIPNetMask)
}

func expandRanges(ranges []VlanRange) []int {
	var out []int
	for _, r := range ranges {
		for v := r.Min; v <= r.Max; v++ {
			out = append(out, v)
		}
	}
	return out
}

func splitPools(pools []string, mask int) ([]string, error) {
	var out []string
	for _, cidr := range pools {
		subnets, err := util.Subnets(cidr, mask)
		if err != nil {
			return nil, err
		}
		out = append(out, subnets...)
	}
	return out, nil
}

// Validate checks the parts of the configuration netcl cannot start without.
func (c *Config) Validate() error {
	if c.Mongo.Host == "" {
		return fmt.Errorf("mongodb host not set")
	}
	if c.Mongo.DB == "" {
		c.Mongo.DB = "netcl"
	}
	if c.Mongo.Port == 0 {
		c.Mongo.Port = 27017
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Network.ASNumber == 0 {
		c.Network.ASNumber = 1000
	}
	if c.Network.FirewallPortGroup == "" {
		c.Network.FirewallPortGroup = "projects"
	}
	return nil
}

// Load reads the configuration from the given path. With an empty path it
// tries config.json then config.yaml in the working directory.
func Load(path string) (*Config, error) {
	if path == "" {
		for _, candidate := range []string{"config.json", "config.yaml", "config.yml"} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
		if path == "" {
			return nil, fmt.Errorf("no config.json or config.yaml found")
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{}
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
