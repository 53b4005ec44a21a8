package network

import (
	"github.com/robertobru/netcl/pkg/model"
	"github.com/robertobru/netcl/pkg/util"
)

// Assert predicates re-read the relevant model state after an intent ran
// and check the post-condition. They return a VerificationError when the
// fabric disagrees with the intent; the worker marks the operation Failed
// without rolling back.

// AssertAddSwitch verifies the switch joined the fabric in ready state.
func (n *Network) AssertAddSwitch(name string) error {
	sw := n.Registry.Get(name)
	if sw == nil {
		return util.NewVerificationError(OpAddSwitch, "switch %s not in the live set", name)
	}
	if sw.State != model.StateReady {
		return util.NewVerificationError(OpAddSwitch, "switch %s is in %s state", name, sw.State)
	}
	if !n.Graph.HasNode(name) {
		return util.NewVerificationError(OpAddSwitch, "switch %s missing from the topology", name)
	}
	return nil
}

// AssertDelSwitch verifies the switch left the fabric.
func (n *Network) AssertDelSwitch(name string) error {
	if n.Registry.Get(name) != nil {
		return util.NewVerificationError(OpDelSwitch, "switch %s still in the live set", name)
	}
	return nil
}

// AssertAddFirewall verifies the firewall joined in ready state.
func (n *Network) AssertAddFirewall(name string) error {
	fw := n.Firewall()
	if fw == nil || fw.Name != name {
		return util.NewVerificationError(OpAddFirewall, "firewall %s not in the live set", name)
	}
	if fw.State != model.StateReady {
		return util.NewVerificationError(OpAddFirewall, "firewall %s is in %s state", name, fw.State)
	}
	return nil
}

// AssertDelFirewall verifies no firewall remains.
func (n *Network) AssertDelFirewall() error {
	if n.Firewall() != nil {
		return util.NewVerificationError(OpDelFirewall, "firewall still in the live set")
	}
	return nil
}

// AssertNetVlan verifies a tenant-network intent against the hub switch
// state re-read during the operation.
func (n *Network) AssertNetVlan(msg *NetVlanMsg) error {
	switch msg.Operation {
	case OpAddNetVlan, OpModNetVlan:
		group := n.Groups.Get(msg.Group)
		if group == nil {
			return util.NewVerificationError(msg.Operation, "group %s not existing", msg.Group)
		}
		sw := n.SwitchByVrf(group.VrfName)
		if sw == nil {
			return util.NewVerificationError(msg.Operation, "vrf %s not found", group.VrfName)
		}
		vrf := sw.GetVrfByName(group.VrfName)
		itf := vrf.PortByVlan(msg.Vid)
		if itf == nil {
			return util.NewVerificationError(msg.Operation,
				"interface with vlan %d on vrf %s not found", msg.Vid, group.VrfName)
		}
		if msg.Gateway != "" && itf.IPAddress != msg.Gateway {
			return util.NewVerificationError(msg.Operation,
				"interface with vlan %d on vrf %s does not have address %s", msg.Vid, group.VrfName, msg.Gateway)
		}
		return nil

	case OpDelNetVlan:
		group := n.Groups.Get(msg.Group)
		if group == nil {
			// The group was freed with its VRF: no interface for the VLAN
			// may survive anywhere.
			if sw := n.SwitchByVlanInterface(msg.Vid); sw != nil {
				return util.NewVerificationError(msg.Operation,
					"a vlan interface with vlan id %d is still existing on %s", msg.Vid, sw.Name)
			}
			return nil
		}
		sw := n.SwitchByVrf(group.VrfName)
		if sw == nil {
			return util.NewVerificationError(msg.Operation, "vrf %s not found", group.VrfName)
		}
		if sw.GetVrfByName(group.VrfName).PortByVlan(msg.Vid) != nil {
			return util.NewVerificationError(msg.Operation,
				"a vlan interface with vlan id %d is still existing in vrf %s", msg.Vid, group.VrfName)
		}
		return nil
	}
	util.Logger.Warnf("config assert not supported for msg type %s", msg.Operation)
	return nil
}

// assertBackboneClosure checks the §backbone invariant: every switch
// holding a termination for the VLAN is reachable inside the VLAN's
// managed overlay.
func (n *Network) assertBackboneClosure(vid int) error {
	t := n.Terminations.Get(vid)
	if t == nil {
		return nil
	}
	var holders []string
	for name := range t.SwitchNames() {
		if n.Registry.Get(name) != nil && !n.Registry.Get(name).IsFirewall() {
			holders = append(holders, name)
		}
	}
	if len(holders) < 2 {
		return nil
	}
	overlay := n.VlanOverlay(vid, true)
	usable := func(name string) bool {
		d := n.Registry.Get(name)
		return d != nil && d.State == model.StateReady
	}
	root := holders[0]
	for _, other := range holders[1:] {
		if path := overlay.ShortestPath(root, other, usable); path == nil {
			return util.NewVerificationError(OpAddPortVlan,
				"vlan %d not carried between %s and %s", vid, root, other)
		}
	}
	return nil
}

// AssertPortVlan verifies a port-attachment intent: requested VLANs on
// (or off) the port, plus backbone closure where the VLAN spans switches.
func (n *Network) AssertPortVlan(msg *PortVlanMsg) error {
	node, port, err := n.PortNode(msg.Switch, msg.Port)
	if err != nil {
		return util.NewVerificationError(msg.Operation, "port lookup failed: %v", err)
	}

	switch msg.Operation {
	case OpAddPortVlan, OpModPortVlan:
		var missing []int
		for _, vid := range msg.Vids {
			if !port.HasVlan(vid) {
				missing = append(missing, vid)
			}
		}
		if len(missing) > 0 {
			return util.NewVerificationError(msg.Operation,
				"vlans %v missing on port %s of %s", missing, port.Name, node.Name)
		}
		for _, vid := range msg.Vids {
			if err := n.assertBackboneClosure(vid); err != nil {
				return err
			}
		}
		return nil

	case OpDelPortVlan:
		var left []int
		for _, vid := range msg.Vids {
			if port.HasVlan(vid) {
				left = append(left, vid)
			}
		}
		if len(left) > 0 {
			return util.NewVerificationError(msg.Operation,
				"vlans %v still configured on port %s of %s", left, port.Name, node.Name)
		}
		return nil
	}
	return nil
}

// AssertPnf verifies the PNF intents against the registry and hub state.
func (n *Network) AssertPnf(operation, pnfName string) error {
	pnf := n.Pnfs.Get(pnfName)
	switch operation {
	case OpAddPnf:
		if pnf == nil {
			return util.NewVerificationError(operation, "pnf %s not recorded", pnfName)
		}
		vrfSwitch := n.VrfSwitch()
		if vrfSwitch == nil || vrfSwitch.GetVrfByName(pnfName) == nil {
			return util.NewVerificationError(operation, "vrf for pnf %s not present on the hub", pnfName)
		}
		return nil
	case OpDelPnf:
		if pnf != nil {
			return util.NewVerificationError(operation, "pnf %s still recorded", pnfName)
		}
		return nil
	}
	return nil
}

// AssertBindGroups verifies the symmetric binding between each group's
// VRF and the PNF's VRF.
func (n *Network) AssertBindGroups(msg *BindGroupsMsg, expectBound bool) error {
	vrfSwitch := n.VrfSwitch()
	if vrfSwitch == nil {
		return util.NewVerificationError(msg.Operation, "vrf switch not onboarded")
	}
	pnfVrf := vrfSwitch.GetVrfByName(msg.PnfName)
	if pnfVrf == nil {
		return util.NewVerificationError(msg.Operation, "vrf for pnf %s not found", msg.PnfName)
	}
	for _, groupName := range msg.Groups {
		group := n.Groups.Get(groupName)
		if group == nil {
			return util.NewVerificationError(msg.Operation, "group %s not found", groupName)
		}
		groupVrf := vrfSwitch.GetVrfByName(group.VrfName)
		if groupVrf == nil {
			return util.NewVerificationError(msg.Operation, "vrf %s not found", group.VrfName)
		}
		bound, err := vrfSwitch.CheckVrfsBinding(groupVrf, pnfVrf)
		if err != nil {
			return err
		}
		if bound != expectBound {
			return util.NewVerificationError(msg.Operation,
				"binding between %s and %s is %v, expected %v", group.VrfName, msg.PnfName, bound, expectBound)
		}
	}
	return nil
}

// AssertRoute verifies a static route intent against the re-read VRF
// routing table.
func (n *Network) AssertRoute(msg *RouteMsg, expectPresent bool) error {
	group := n.Groups.Get(msg.Group)
	if group == nil {
		return util.NewVerificationError(msg.Operation, "group %s not found", msg.Group)
	}
	sw := n.SwitchByVrf(group.VrfName)
	if sw == nil {
		return util.NewVerificationError(msg.Operation, "vrf %s not found", group.VrfName)
	}
	vrf := sw.GetVrfByName(group.VrfName)
	present := false
	for _, route := range vrf.Routes {
		if route.Prefix == msg.Prefix && route.Nexthop == msg.Nexthop {
			present = true
			break
		}
	}
	if present != expectPresent {
		return util.NewVerificationError(msg.Operation,
			"route %s via %s present=%v in vrf %s, expected %v",
			msg.Prefix, msg.Nexthop, present, group.VrfName, expectPresent)
	}
	return nil
}
