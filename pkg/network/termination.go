package network

import "sort"

// VlanInterfaceTermination locates the single L3 interface of a VLAN.
type VlanInterfaceTermination struct {
	Name       string `json:"name"`
	SwitchName string `json:"switch_name"`
}

// VlanTermination records where one VLAN terminates: its L3 interface (at
// most one fabric-wide) and the server-facing ports (tagged or untagged)
// per switch,
// plus the derived overlay restricted to managed nodes. Terminations are
// derived from device reads, never persisted.
type VlanTermination struct {
	Vid           int                       `json:"vid"`
	VlanInterface *VlanInterfaceTermination `json:"vlan_interface,omitempty"`
	ServerPorts   map[string][]string       `json:"server_ports"`
	Topology      *Graph                    `json:"-"`
}

// SwitchNames returns every switch holding a termination for the VLAN.
func (t *VlanTermination) SwitchNames() map[string]bool {
	out := map[string]bool{}
	if t.VlanInterface != nil {
		out[t.VlanInterface.SwitchName] = true
	}
	for name, ports := range t.ServerPorts {
		if len(ports) > 0 {
			out[name] = true
		}
	}
	return out
}

// TaggedPortsOn returns the server-facing ports carrying the VLAN on one
// switch.
func (t *VlanTermination) TaggedPortsOn(switchName string) []string {
	return t.ServerPorts[switchName]
}

// AddServerPort records a server-facing port carrying the VLAN.
func (t *VlanTermination) AddServerPort(switchName, portName string) {
	if t.ServerPorts == nil {
		t.ServerPorts = map[string][]string{}
	}
	for _, p := range t.ServerPorts[switchName] {
		if p == portName {
			return
		}
	}
	t.ServerPorts[switchName] = append(t.ServerPorts[switchName], portName)
}

// StillNeededOn reports whether the switch must keep the VLAN: it hosts
// server ports or the L3 interface for it.
func (t *VlanTermination) StillNeededOn(switchName string) bool {
	if len(t.ServerPorts[switchName]) > 0 {
		return true
	}
	return t.VlanInterface != nil && t.VlanInterface.SwitchName == switchName
}

// VlanTerminations indexes the termination records by VLAN id.
type VlanTerminations map[int]*VlanTermination

// Get returns the record for a VLAN id, or nil.
func (v VlanTerminations) Get(vid int) *VlanTermination {
	return v[vid]
}

// Ensure returns the record for a VLAN id, creating it when missing.
func (v VlanTerminations) Ensure(vid int) *VlanTermination {
	t, ok := v[vid]
	if !ok {
		t = &VlanTermination{Vid: vid, ServerPorts: map[string][]string{}}
		v[vid] = t
	}
	return t
}

// Vids returns the recorded VLAN ids in ascending order.
func (v VlanTerminations) Vids() []int {
	out := make([]int, 0, len(v))
	for vid := range v {
		out = append(out, vid)
	}
	sort.Ints(out)
	return out
}
