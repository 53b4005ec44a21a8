package model

import (
	"fmt"
	"net"
	"strings"
)

// LinkMode is the VLAN membership mode of a physical port.
type LinkMode string

const (
	ModeAccess LinkMode = "ACCESS"
	ModeTrunk  LinkMode = "TRUNK"
	ModeHybrid LinkMode = "HYBRID"
	ModeRouted LinkMode = "ROUTED"
	ModeNA     LinkMode = "NA"
)

// LinkState is the operational state of a port.
type LinkState string

const (
	LinkUp   LinkState = "UP"
	LinkDown LinkState = "DOWN"
	LinkNA   LinkState = "NA"
)

// AdminState is the administrative state of a port.
type AdminState string

const (
	AdminEnabled  AdminState = "ENABLED"
	AdminDisabled AdminState = "DISABLED"
	AdminNA       AdminState = "NA"
)

// Reserved VLAN ids are kept for fabric-internal plumbing and refused to
// tenant operations. Tenant ids live in [TenantVlanMin, TenantVlanMax].
const (
	ReservedVlanMin = 4000
	ReservedVlanMax = 4020
	TenantVlanMin   = 20
	TenantVlanMax   = 4000
)

// IsReservedVlan reports whether the id falls in the fabric-reserved range.
func IsReservedVlan(vid int) bool {
	return vid >= ReservedVlanMin && vid <= ReservedVlanMax
}

// ValidateTenantVlan rejects ids outside the tenant-visible range.
func ValidateTenantVlan(vid int) error {
	if vid < TenantVlanMin || vid > TenantVlanMax || IsReservedVlan(vid) {
		return fmt.Errorf("vlan id %d outside tenant range %d-%d", vid, TenantVlanMin, TenantVlanMax)
	}
	return nil
}

// LldpNeighbor is the LLDP adjacency seen on a port.
type LldpNeighbor struct {
	Neighbor        string `json:"neighbor" bson:"neighbor"`
	RemoteInterface string `json:"remote_interface" bson:"remote_interface"`
}

// PhyPort is a physical switch or firewall port. AccessVlan of zero means
// no access VLAN is set.
type PhyPort struct {
	Index       string        `json:"index" bson:"index"`
	Name        string        `json:"name" bson:"name"`
	TrunkVlans  []int         `json:"trunk_vlans" bson:"trunk_vlans"`
	AccessVlan  int           `json:"access_vlan,omitempty" bson:"access_vlan,omitempty"`
	Neighbor    *LldpNeighbor `json:"neighbor,omitempty" bson:"neighbor,omitempty"`
	Speed       int           `json:"speed,omitempty" bson:"speed,omitempty"`
	Duplex      string        `json:"duplex" bson:"duplex"`
	Mode        LinkMode      `json:"mode" bson:"mode"`
	Status      LinkState     `json:"status" bson:"status"`
	AdminStatus AdminState    `json:"admin_status" bson:"admin_status"`
}

// HasVlan reports whether the port carries the VLAN, tagged or untagged.
func (p *PhyPort) HasVlan(vid int) bool {
	if p.AccessVlan == vid {
		return true
	}
	for _, v := range p.TrunkVlans {
		if v == vid {
			return true
		}
	}
	return false
}

// IsUp reports whether the port is operationally up.
func (p *PhyPort) IsUp() bool { return p.Status == LinkUp }

// NeighborName returns the LLDP neighbor system name, or "" without one.
func (p *PhyPort) NeighborName() string {
	if p.Neighbor == nil {
		return ""
	}
	return p.Neighbor.Neighbor
}

// VlanL3Port is an L3 VLAN interface.
type VlanL3Port struct {
	Index       string `json:"index" bson:"index"`
	Name        string `json:"name,omitempty" bson:"name,omitempty"`
	Vlan        int    `json:"vlan" bson:"vlan"`
	IPAddress   string `json:"ipaddress,omitempty" bson:"ipaddress,omitempty"`
	CIDR        string `json:"cidr,omitempty" bson:"cidr,omitempty"`
	Vrf         string `json:"vrf" bson:"vrf"`
	Description string `json:"description,omitempty" bson:"description,omitempty"`
}

// IPv4Route is a static route entry.
type IPv4Route struct {
	Prefix  string `json:"prefix" bson:"prefix"`
	Nexthop string `json:"nexthop" bson:"nexthop"`
}

// PrefixAndMask splits the route prefix into address and dotted netmask.
func (r IPv4Route) PrefixAndMask() (string, string, error) {
	_, network, err := net.ParseCIDR(r.Prefix)
	if err != nil {
		return "", "", fmt.Errorf("invalid route prefix %q: %w", r.Prefix, err)
	}
	return network.IP.String(), net.IP(network.Mask).String(), nil
}

// BGP session states as reported by the devices.
const (
	BGPStateIdle        = "idle"
	BGPStateConnect     = "connect"
	BGPStateActive      = "active"
	BGPStateOpenSent    = "opensent"
	BGPStateOpenConfirm = "openconfirm"
	BGPStateEstablished = "established"
)

// BGPNeighbor is a BGP peering, configuration plus runtime counters.
type BGPNeighbor struct {
	IP           string `json:"ip" bson:"ip"`
	RemoteAS     int    `json:"remote_as" bson:"remote_as"`
	UpdateSource string `json:"ip_source,omitempty" bson:"ip_source,omitempty"`
	Description  string `json:"description,omitempty" bson:"description,omitempty"`

	MsgRcvd    int    `json:"msgrcvd,omitempty" bson:"msgrcvd,omitempty"`
	MsgSent    int    `json:"msgsent,omitempty" bson:"msgsent,omitempty"`
	OutQ       int    `json:"outq,omitempty" bson:"outq,omitempty"`
	PrefixRcvd int    `json:"prefrcv,omitempty" bson:"prefrcv,omitempty"`
	UpDownTime string `json:"updowntime,omitempty" bson:"updowntime,omitempty"`
	Status     string `json:"status,omitempty" bson:"status,omitempty"`
}

// BGPAddressFamily groups redistribution and VRF-import settings.
type BGPAddressFamily struct {
	Protocol     string   `json:"protocol" bson:"protocol"`
	Type         string   `json:"protocol_type" bson:"protocol_type"`
	Redistribute []string `json:"redistribute" bson:"redistribute"`
	Imports      []string `json:"imports" bson:"imports"`
}

// BGPInstance is one BGP routing instance inside a VRF.
type BGPInstance struct {
	ASNumber        int                `json:"as_number" bson:"as_number"`
	RouterID        string             `json:"router_id,omitempty" bson:"router_id,omitempty"`
	Neighbors       []BGPNeighbor      `json:"neighbors" bson:"neighbors"`
	AddressFamilies []BGPAddressFamily `json:"address_families" bson:"address_families"`
}

// Neighbor returns the peering with the given ip, or nil.
func (b *BGPInstance) Neighbor(ip string) *BGPNeighbor {
	for i := range b.Neighbors {
		if b.Neighbors[i].IP == ip {
			return &b.Neighbors[i]
		}
	}
	return nil
}

// RoutingProtocols is the per-VRF routing configuration.
type RoutingProtocols struct {
	BGP *BGPInstance `json:"bgp,omitempty" bson:"bgp,omitempty"`
}

// Vrf is a virtual routing and forwarding instance on one device.
type Vrf struct {
	Name        string           `json:"name" bson:"name"`
	RD          string           `json:"rd" bson:"rd"`
	Description string           `json:"description,omitempty" bson:"description,omitempty"`
	RDExport    []string         `json:"rd_export" bson:"rd_export"`
	RDImport    []string         `json:"rd_import" bson:"rd_import"`
	Ports       []VlanL3Port     `json:"ports" bson:"ports"`
	Routes      []IPv4Route      `json:"routes,omitempty" bson:"routes,omitempty"`
	Protocols   RoutingProtocols `json:"protocols,omitempty" bson:"protocols,omitempty"`
}

// Equal compares VRFs by identity (name and route distinguisher).
func (v *Vrf) Equal(other *Vrf) bool {
	return other != nil && v.Name == other.Name && v.RD == other.RD
}

// PortByVlan returns the VRF's L3 interface for a VLAN id, or nil.
func (v *Vrf) PortByVlan(vid int) *VlanL3Port {
	for i := range v.Ports {
		if v.Ports[i].Vlan == vid {
			return &v.Ports[i]
		}
	}
	return nil
}

// Imports reports whether the VRF imports the given route target.
func (v *Vrf) Imports(rd string) bool {
	for _, item := range v.RDImport {
		if item == rd {
			return true
		}
	}
	return false
}

// DefaultVrfName is the implicit VRF every device exposes.
const DefaultVrfName = "default"

// NetworkVrf is a VRF annotated with the device hosting it, as returned by
// the fabric-level read API.
type NetworkVrf struct {
	Vrf    `json:",inline" bson:",inline"`
	Device string `json:"device" bson:"device"`
}

// ProjectVrfPrefix marks the VRFs on the VRF-switch that the tenant
// allocator may hand out.
const ProjectVrfPrefix = "proj"

// IsProjectVrf reports whether a VRF name belongs to the tenant pool.
func IsProjectVrf(name string) bool {
	return strings.HasPrefix(name, ProjectVrfPrefix)
}
