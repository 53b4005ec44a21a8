// Package model holds the value objects shared by the device adapters, the
// topology engine, and the persistence layer. Types here carry no
// back-references to their owning device; cross-entity relations are
// resolved by name lookups at read time so that documents serialize
// trivially.
package model

import "time"

// Family identifies the vendor OS family of a managed device. The set is
// closed: each value maps to one adapter constructor in the registry.
type Family string

const (
	FamilyComware  Family = "comware"
	FamilySonic    Family = "sonic"
	FamilyMellanox Family = "mellanox"
	FamilyRouterOS Family = "routeros"
	FamilyPfSense  Family = "pfsense"
)

// Known reports whether the family tag maps to an adapter.
func (f Family) Known() bool {
	switch f {
	case FamilyComware, FamilySonic, FamilyMellanox, FamilyRouterOS, FamilyPfSense:
		return true
	}
	return false
}

// DeviceState is the coarse lifecycle state of a managed device.
type DeviceState string

const (
	StateInit        DeviceState = "init"
	StateReinit      DeviceState = "reinit"
	StateReady       DeviceState = "ready"
	StateConfigError DeviceState = "config_error"
	StateAuthError   DeviceState = "auth_error"
	StateNetError    DeviceState = "net_error"
	StateExecuting   DeviceState = "executing"
)

// Credentials carries device access secrets: user+password for CLI/SSH
// transports, client id+key for token-authenticated REST APIs.
type Credentials struct {
	User      string `json:"user,omitempty" bson:"user,omitempty"`
	Password  string `json:"passwd,omitempty" bson:"passwd,omitempty"`
	ClientID  string `json:"client_id,omitempty" bson:"client_id,omitempty"`
	ClientKey string `json:"client_key,omitempty" bson:"client_key,omitempty"`
}

// DeviceInfo is the identity of a managed device as submitted at onboarding.
type DeviceInfo struct {
	Name        string `json:"name" bson:"name"`
	Family      Family `json:"family" bson:"family"`
	Address     string `json:"address" bson:"address"`
	Credentials `json:",inline" bson:",inline"`
}

// ConfigItem is one configuration snapshot.
type ConfigItem struct {
	Time   time.Time `json:"time" bson:"time"`
	Config string    `json:"config" bson:"config"`
}

// MaxConfigHistory bounds the per-device snapshot history; the oldest
// snapshot is evicted first.
const MaxConfigHistory = 100

// DeviceData is the persisted shape of a managed device: identity plus the
// last observed inventory.
type DeviceData struct {
	DeviceInfo    `json:",inline" bson:",inline"`
	PhyPorts      []PhyPort    `json:"phy_ports" bson:"phy_ports"`
	VlanL3Ports   []VlanL3Port `json:"vlan_l3_ports" bson:"vlan_l3_ports"`
	Vrfs          []Vrf        `json:"vrfs" bson:"vrfs"`
	Vlans         []int        `json:"vlans" bson:"vlans"`
	ConfigHistory []ConfigItem `json:"config_history" bson:"config_history"`
	LastConfig    *ConfigItem  `json:"last_config,omitempty" bson:"last_config,omitempty"`
	State         DeviceState  `json:"state" bson:"state"`
}
