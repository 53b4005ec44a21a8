package model

// Group is a tenant group bound to exactly one VRF on the VRF-switch.
type Group struct {
	Name    string `json:"name" bson:"name"`
	VrfName string `json:"vrf_name" bson:"vrf_name"`
	VlanIDs []int  `json:"vlan_ids" bson:"vlan_ids"`
}

// Pnf is a physical network function attached to the fabric: an external
// device given its own VRF and bound to tenant VRFs through controlled
// route imports.
type Pnf struct {
	Name        string   `json:"name" bson:"name"`
	SwitchName  string   `json:"switch_name" bson:"switch_name"`
	PortName    string   `json:"port_name" bson:"port_name"`
	Vlan        int      `json:"vlan" bson:"vlan"`
	IPAddress   string   `json:"ip_address" bson:"ip_address"`
	Gateway     string   `json:"ip_gateway" bson:"ip_gateway"`
	BoundGroups []string `json:"bound_groups" bson:"bound_groups"`
}
