package network

import (
	"fmt"
	"strings"

	"github.com/robertobru/netcl/pkg/device"
	"github.com/robertobru/netcl/pkg/model"
	"github.com/robertobru/netcl/pkg/util"
)

// ============================================================================
// Device lifecycle intents
// ============================================================================

// OnboardSwitch creates the switch and folds it into the fabric model.
func (n *Network) OnboardSwitch(info model.DeviceInfo) error {
	if info.Family == model.FamilyPfSense {
		return util.NewPreconditionError(OpAddSwitch, info.Name,
			"device family must be a switch", "use the firewall onboarding for pfsense devices")
	}
	sw, err := n.Registry.Create(info)
	if err != nil {
		return err
	}
	if sw.State != model.StateReady {
		util.WithDevice(sw.Name).Warnf("switch is in %s state", sw.State)
	}
	n.Rebuild()
	return n.RebuildState()
}

// DeleteSwitch removes the switch from the fabric.
func (n *Network) DeleteSwitch(name string) error {
	if err := n.Registry.Delete(name); err != nil {
		return err
	}
	n.Rebuild()
	return nil
}

// OnboardFirewall creates the firewall. The fabric holds at most one.
func (n *Network) OnboardFirewall(info model.DeviceInfo) error {
	if n.Firewall() != nil {
		return fmt.Errorf("%w: firewall already declared, remove the current one first",
			util.ErrAlreadyExists)
	}
	info.Family = model.FamilyPfSense
	fw, err := n.Registry.Create(info)
	if err != nil {
		return err
	}
	if fw.State != model.StateReady {
		util.WithDevice(fw.Name).Warnf("firewall is in %s state", fw.State)
	}
	n.Rebuild()
	return nil
}

// DeleteFirewall removes the firewall.
func (n *Network) DeleteFirewall() error {
	fw := n.Firewall()
	if fw == nil {
		return fmt.Errorf("%w: no firewall onboarded", util.ErrNotFound)
	}
	if err := n.Registry.Delete(fw.Name); err != nil {
		return err
	}
	n.Rebuild()
	return nil
}

// SetConfig replaces the network-level configuration and re-derives the
// allocation pools.
func (n *Network) SetConfig(msg *SetConfigMsg) error {
	cfg := msg.Config
	*n.Config = cfg
	if err := n.SaveConfig(); err != nil {
		return err
	}
	return n.RebuildState()
}

// ============================================================================
// Tenant network intents
// ============================================================================

// requireVrfSwitch resolves the VRF hub and fails cleanly when it is not
// usable.
func (n *Network) requireVrfSwitch(operation string) (*device.Device, error) {
	vrfSwitch := n.VrfSwitch()
	if vrfSwitch == nil {
		return nil, util.NewPreconditionError(operation, n.Config.VrfSwitchName,
			"vrf switch must be onboarded", "")
	}
	return vrfSwitch, nil
}

// canManageFirewallUplinks checks that everything a new tenant VRF needs
// is in place: the hub switch, the firewall, its uplink port, and the
// switch port facing it.
func (n *Network) canManageFirewallUplinks() bool {
	if n.Config.FirewallUplinkNeighbor == nil || n.Config.FirewallUplinkVlanPort == "" {
		return false
	}
	if n.VrfSwitch() == nil || n.Firewall() == nil {
		return false
	}
	if n.Firewall().GetPortByName(n.Config.FirewallUplinkVlanPort) == nil {
		return false
	}
	uplinkSwitch := n.Registry.Get(n.Config.FirewallUplinkNeighbor.Neighbor)
	if uplinkSwitch == nil {
		return false
	}
	return uplinkSwitch.GetPortByName(n.Config.FirewallUplinkNeighbor.RemoteInterface) != nil
}

// findAvailableVrf picks a free project VRF for the group, instantiating a
// fresh one (uplink VLAN, interfaces on both ends, BGP peering) when the
// pool is dry.
func (n *Network) findAvailableVrf(groupName string) (string, error) {
	vrfSwitch, err := n.requireVrfSwitch(OpAddNetVlan)
	if err != nil {
		return "", err
	}

	reserved := n.Groups.ReservedVrfNames()
	for i := range vrfSwitch.Vrfs {
		v := &vrfSwitch.Vrfs[i]
		if reserved[v.Name] || !model.IsProjectVrf(v.Name) {
			continue
		}
		if len(v.Ports) < 2 {
			util.Logger.Infof("VRF %s selected for group %s", v.Name, groupName)
			n.Groups.Add(groupName, v.Name)
			return v.Name, n.SaveGroups()
		}
	}

	if !n.canManageFirewallUplinks() {
		return "", util.NewPreconditionError(OpAddNetVlan, groupName,
			"a free project VRF or a configured firewall uplink", "no VRFs available")
	}
	return n.configureNewVrf(groupName)
}

// configureNewVrf reserves the next uplink (VLAN, subnet) pair and builds
// a complete tenant VRF: the VRF on the hub switch, the uplink VLAN on
// the firewall-facing switch port, the VLAN interface on both the hub
// (.1) and the firewall (.2), backbone transport between them, and the
// BGP peering over the uplink.
func (n *Network) configureNewVrf(groupName string) (string, error) {
	vrfSwitch, err := n.requireVrfSwitch(OpAddNetVlan)
	if err != nil {
		return "", err
	}
	firewall := n.Firewall()

	vid, subnet, err := n.Status.ReserveUplink()
	if err != nil {
		return "", err
	}
	if err := n.SaveStatus(); err != nil {
		return "", err
	}
	switchAddr, err := util.NthAddress(subnet, 1)
	if err != nil {
		return "", err
	}
	firewallAddr, err := util.NthAddress(subnet, 2)
	if err != nil {
		return "", err
	}

	vrfName := groupName
	n.Groups.Add(groupName, vrfName)
	if err := n.SaveGroups(); err != nil {
		return "", err
	}

	// Step 1: the VRF itself.
	if err := vrfSwitch.AddVrf(model.VrfRequest{
		Name:        vrfName,
		Description: fmt.Sprintf("vrf for %s", groupName),
	}); err != nil {
		return "", err
	}

	// Step 2: the uplink VLAN on the switch port facing the firewall.
	uplink := n.Config.FirewallUplinkNeighbor
	uplinkSwitch := n.Registry.Get(uplink.Neighbor)
	if err := uplinkSwitch.SetPortMode(uplink.RemoteInterface, model.ModeTrunk); err != nil {
		return "", err
	}
	if err := uplinkSwitch.AddVlan([]int{vid}); err != nil {
		return "", err
	}
	if err := uplinkSwitch.AddVlanToPort(vid, uplink.RemoteInterface, model.ModeTrunk, false); err != nil {
		return "", err
	}

	// Step 3: re-read the hub so the fresh VRF is visible, then install
	// the uplink VLAN interface in it.
	if err := vrfSwitch.UpdateInfo(); err != nil {
		return "", err
	}
	if err := vrfSwitch.AddVlanToVrf(vrfName, model.VlanInterfaceRequest{
		Vlan:        vid,
		IPAddress:   switchAddr,
		CIDR:        subnet,
		Vrf:         vrfName,
		Description: fmt.Sprintf("uplink for %s", groupName),
	}); err != nil {
		return "", err
	}

	// Step 4: the firewall end of the uplink.
	fwRequest := model.FirewallL3PortRequest{
		Vlan:        vid,
		Interface:   n.Config.FirewallUplinkVlanPort,
		IPAddress:   firewallAddr,
		CIDR:        subnet,
		Vrf:         model.DefaultVrfName,
		Description: fmt.Sprintf("uplink for %s", groupName),
	}
	if err := firewall.AddL3PortToVrf(model.DefaultVrfName, fwRequest); err != nil {
		return "", err
	}
	if err := firewall.AddPortToGroup(fwRequest, n.Config.FirewallPortGroup); err != nil {
		return "", err
	}

	// Step 5: backbone transport when the hub is not the switch facing
	// the firewall.
	if vrfSwitch.Name != uplink.Neighbor {
		if err := n.ensureVlanBackboneConnectivity(vid); err != nil {
			return "", err
		}
	}

	// Step 6: the BGP peering across the uplink. The router id doubles as
	// the switch-side uplink address, unique per VRF by construction.
	asNumber := n.Config.ASNumber
	if err := vrfSwitch.AddBgpInstance(model.VrfRequest{
		Name: vrfName,
		Protocols: model.RoutingProtocols{BGP: &model.BGPInstance{
			ASNumber: asNumber,
			RouterID: switchAddr,
			Neighbors: []model.BGPNeighbor{{
				IP:          firewallAddr,
				RemoteAS:    asNumber,
				Description: fmt.Sprintf("uplink for vrf %s", vrfName),
			}},
			AddressFamilies: []model.BGPAddressFamily{{
				Protocol:     "ipv4",
				Type:         "unicast",
				Redistribute: []string{"connected", "static"},
			}},
		}},
	}); err != nil {
		return "", err
	}
	if err := firewall.AddBgpPeer(model.BGPNeighbor{
		IP:           switchAddr,
		RemoteAS:     asNumber,
		UpdateSource: firewallAddr,
		Description:  groupName,
	}, model.DefaultVrfName); err != nil {
		return "", err
	}

	if err := vrfSwitch.UpdateInfo(); err != nil {
		return "", err
	}
	if err := firewall.UpdateInfo(); err != nil {
		return "", err
	}
	n.Rebuild()
	return vrfName, nil
}

// CreateNetVlan materializes a tenant network: the L3 VLAN interface in
// the group's VRF on the hub switch.
func (n *Network) CreateNetVlan(msg *NetVlanMsg) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if sw := n.SwitchByVlanInterface(msg.Vid); sw != nil {
		return fmt.Errorf("%w: vlan interface for vlan id %d already existing on %s",
			util.ErrAlreadyExists, msg.Vid, sw.Name)
	}

	var vrfName string
	if group := n.Groups.Get(msg.Group); group != nil {
		util.Logger.Infof("group %s is mapped to VRF %s", msg.Group, group.VrfName)
		vrfName = group.VrfName
	} else {
		util.Logger.Infof("group %s is not mapped to any VRF, trying to select an available one", msg.Group)
		name, err := n.findAvailableVrf(msg.Group)
		if err != nil {
			return err
		}
		vrfName = name
	}

	vrfSwitch, err := n.requireVrfSwitch(OpAddNetVlan)
	if err != nil {
		return err
	}
	if err := vrfSwitch.AddVlanToVrf(vrfName, msg.InterfaceRequest(vrfName)); err != nil {
		return err
	}

	if group := n.Groups.Get(msg.Group); group != nil && !util.ContainsInt(group.VlanIDs, msg.Vid) {
		group.VlanIDs = append(group.VlanIDs, msg.Vid)
		if err := n.SaveGroups(); err != nil {
			return err
		}
	}

	if err := vrfSwitch.UpdateInfo(); err != nil {
		return err
	}
	n.Rebuild()

	if n.vlanBackboneNeeded(msg.Vid, vrfSwitch.Name, backboneAsIs) {
		if err := n.ensureVlanBackboneConnectivity(msg.Vid); err != nil {
			return err
		}
	}
	if err := n.RebuildState(); err != nil {
		return err
	}
	return nil
}

// DeleteNetVlan removes a tenant network and releases the VRF when only
// the uplink pair remains on it.
func (n *Network) DeleteNetVlan(msg *NetVlanMsg) error {
	group := n.Groups.Get(msg.Group)
	if group == nil {
		return fmt.Errorf("%w: group %q not existing", util.ErrNotFound, msg.Group)
	}

	sw := n.SwitchByVrf(group.VrfName)
	if sw == nil {
		return fmt.Errorf("%w: vrf %q not found on any switch", util.ErrNotFound, group.VrfName)
	}
	vrf := sw.GetVrfByName(group.VrfName)

	if err := sw.DelVlanToVrf(group.VrfName, msg.Vid); err != nil {
		return err
	}
	group.VlanIDs = util.RemoveInt(group.VlanIDs, msg.Vid)

	// The device inventory is not refreshed yet: below three ports only
	// the uplink pair remains, so the VRF/group mapping is freed.
	if len(vrf.Ports) < 3 {
		util.Logger.Infof("group %s has no tenant interfaces left, freeing vrf %s",
			msg.Group, vrf.Name)
		n.Groups.Delete(msg.Group)
	}
	if err := n.SaveGroups(); err != nil {
		return err
	}

	if err := sw.UpdateInfo(); err != nil {
		return err
	}
	n.Rebuild()

	if !n.vlanBackboneNeeded(msg.Vid, sw.Name, backboneDelete) {
		if err := n.pruneVlanBackbone(msg.Vid); err != nil {
			return err
		}
		n.Rebuild()
	}
	return n.RebuildState()
}

// ModifyNetVlan is delete followed by create in one unit of work.
func (n *Network) ModifyNetVlan(msg *NetVlanMsg) error {
	if err := n.DeleteNetVlan(msg); err != nil {
		return err
	}
	return n.CreateNetVlan(msg)
}

// ============================================================================
// Port attachment intents
// ============================================================================

// AddPortVlan attaches VLANs to a port, incrementally: existing VLANs on
// the port are kept. Backbone transport follows where a VLAN now spans
// several switches.
func (n *Network) AddPortVlan(msg *PortVlanMsg) error {
	if len(msg.Vids) < 1 {
		return util.NewPreconditionError(OpAddPortVlan, msg.Port, "at least one vlan id", "")
	}
	node, port, err := n.PortNode(msg.Switch, msg.Port)
	if err != nil {
		return err
	}

	if !node.IsFirewall() {
		if err := node.SetPortMode(port.Name, model.ModeTrunk); err != nil {
			return err
		}
	}
	if err := node.AddVlan(msg.Vids); err != nil {
		return err
	}

	util.WithOperation(msg.OperationID).Infof("setting TRUNK VLANs %v on port %s of %s",
		msg.Vids, port.Name, node.Name)
	for _, vid := range msg.Vids {
		if err := node.AddVlanToPort(vid, port.Name, model.ModeTrunk, false); err != nil {
			return err
		}
	}

	if err := node.UpdateInfo(); err != nil {
		return err
	}
	n.Rebuild()

	for _, vid := range msg.Vids {
		if n.vlanBackboneNeeded(vid, node.Name, backboneAdd) {
			util.WithOperation(msg.OperationID).Infof("backbone connectivity needed for VLAN %d", vid)
			if err := n.ensureVlanBackboneConnectivity(vid); err != nil {
				return err
			}
		}
	}
	n.Rebuild()
	return nil
}

// DelPortVlan detaches VLANs from a port, incrementally, then prunes the
// backbone where a VLAN no longer needs transit.
func (n *Network) DelPortVlan(msg *PortVlanMsg) error {
	if len(msg.Vids) < 1 {
		return util.NewPreconditionError(OpDelPortVlan, msg.Port, "at least one vlan id", "")
	}
	node, port, err := n.PortNode(msg.Switch, msg.Port)
	if err != nil {
		return err
	}

	var toRemove []int
	for _, vid := range msg.Vids {
		if util.ContainsInt(port.TrunkVlans, vid) {
			toRemove = append(toRemove, vid)
		}
	}
	util.WithOperation(msg.OperationID).Infof("deleting TRUNK VLANs %v on port %s of %s",
		toRemove, port.Name, node.Name)
	if len(toRemove) > 0 {
		if err := node.DelVlanToPort(toRemove, port.Name, model.ModeTrunk); err != nil {
			return err
		}
	}

	if err := node.UpdateInfo(); err != nil {
		return err
	}
	n.Rebuild()

	for _, vid := range msg.Vids {
		t := n.Terminations.Get(vid)
		if t != nil && len(t.TaggedPortsOn(node.Name)) > 0 {
			// Other terminations keep the switch in the VLAN.
			continue
		}
		if !n.vlanBackboneNeeded(vid, node.Name, backboneDelete) {
			util.WithOperation(msg.OperationID).Infof(
				"backbone connectivity not needed anymore for VLAN %d", vid)
			if err := n.pruneVlanBackbone(vid); err != nil {
				return err
			}
		}
	}
	n.Rebuild()
	return nil
}

// ModPortVlan reconciles the tenant VLAN set of a port to exactly the
// requested list: extra tenant VLANs are detached, missing ones attached.
func (n *Network) ModPortVlan(msg *PortVlanMsg) error {
	_, port, err := n.PortNode(msg.Switch, msg.Port)
	if err != nil {
		return err
	}

	var extras []int
	for _, vid := range port.TrunkVlans {
		if model.ValidateTenantVlan(vid) == nil && !util.ContainsInt(msg.Vids, vid) {
			extras = append(extras, vid)
		}
	}

	if len(extras) > 0 {
		del := &PortVlanMsg{WorkerMsg: msg.WorkerMsg, Switch: msg.Switch, Port: msg.Port, Vids: extras}
		if err := n.DelPortVlan(del); err != nil {
			return err
		}
	}
	return n.AddPortVlan(msg)
}

// ============================================================================
// PNF intents
// ============================================================================

// AddPnf onboards a physical network function: its own VRF and gateway
// interface on the hub switch, attachment of the PNF-facing port, and the
// binding to the merging VRF.
func (n *Network) AddPnf(msg *AddPnfMsg) error {
	if n.Pnfs.Get(msg.Name) != nil {
		return fmt.Errorf("%w: pnf %q already existing", util.ErrAlreadyExists, msg.Name)
	}
	vrfSwitch, err := n.requireVrfSwitch(OpAddPnf)
	if err != nil {
		return err
	}

	vid, err := n.Status.ReservePnfVlan(msg.Vid)
	if err != nil {
		return err
	}
	msg.Vid = vid
	gatewayCIDR := msg.IPAddress
	if msg.IPAddress == "" {
		subnet, err := n.Status.ReservePnfSubnet()
		if err != nil {
			return err
		}
		if msg.Gateway, err = util.NthAddress(subnet, 1); err != nil {
			return err
		}
		host, err := util.NthAddress(subnet, 2)
		if err != nil {
			return err
		}
		msg.IPAddress = fmt.Sprintf("%s/%s", host, strings.SplitN(subnet, "/", 2)[1])
		gatewayCIDR = subnet
	}
	if err := n.SaveStatus(); err != nil {
		return err
	}

	if err := vrfSwitch.AddVrf(model.VrfRequest{
		Name:        msg.Name,
		Description: fmt.Sprintf("vrf for pnf %s", msg.Name),
	}); err != nil {
		return err
	}
	if err := vrfSwitch.UpdateInfo(); err != nil {
		return err
	}

	if err := vrfSwitch.AddVlanToVrf(msg.Name, model.VlanInterfaceRequest{
		Vlan:        msg.Vid,
		IPAddress:   msg.Gateway,
		CIDR:        gatewayCIDR,
		Vrf:         msg.Name,
		Description: fmt.Sprintf("vrf for pnf %s", msg.Name),
	}); err != nil {
		return err
	}

	if err := vrfSwitch.BindVrf(msg.Name, n.Config.PnfMergingVrfName); err != nil {
		return err
	}

	// Refresh the hub before the port attachment so the gateway
	// termination is visible to the backbone decision.
	if err := vrfSwitch.UpdateInfo(); err != nil {
		return err
	}
	n.Rebuild()

	portMsg := &PortVlanMsg{
		WorkerMsg: msg.WorkerMsg,
		Fqdn:      msg.Name,
		Switch:    msg.SwitchName,
		Port:      msg.SwitchPort,
		Vids:      []int{msg.Vid},
	}
	if err := n.AddPortVlan(portMsg); err != nil {
		return err
	}

	n.Pnfs.Add(&model.Pnf{
		Name:       msg.Name,
		SwitchName: msg.SwitchName,
		PortName:   msg.SwitchPort,
		Vlan:       msg.Vid,
		IPAddress:  msg.IPAddress,
		Gateway:    msg.Gateway,
	})
	return n.SaveGroups()
}

// DelPnf tears the PNF down in reverse order and releases its resources.
func (n *Network) DelPnf(msg *DelPnfMsg) error {
	pnf := n.Pnfs.Get(msg.PnfName)
	if pnf == nil {
		return fmt.Errorf("%w: pnf %q not found", util.ErrNotFound, msg.PnfName)
	}
	vrfSwitch, err := n.requireVrfSwitch(OpDelPnf)
	if err != nil {
		return err
	}

	for _, groupName := range pnf.BoundGroups {
		if group := n.Groups.Get(groupName); group != nil {
			if err := vrfSwitch.UnbindVrf(group.VrfName, pnf.Name); err != nil {
				return err
			}
		}
	}
	if err := vrfSwitch.UnbindVrf(pnf.Name, n.Config.PnfMergingVrfName); err != nil {
		return err
	}

	portMsg := &PortVlanMsg{
		WorkerMsg: msg.WorkerMsg,
		Switch:    pnf.SwitchName,
		Port:      pnf.PortName,
		Vids:      []int{pnf.Vlan},
	}
	if err := n.DelPortVlan(portMsg); err != nil {
		return err
	}

	if err := vrfSwitch.DelVlanToVrf(pnf.Name, pnf.Vlan); err != nil {
		return err
	}
	if err := vrfSwitch.DelVrf(pnf.Name); err != nil {
		return err
	}
	if err := vrfSwitch.UpdateInfo(); err != nil {
		return err
	}
	n.Rebuild()

	n.Pnfs.Delete(pnf.Name)
	if err := n.SaveGroups(); err != nil {
		return err
	}
	return n.RebuildState()
}

// BindGroups imports the PNF's VRF into each group's VRF (and back).
func (n *Network) BindGroups(msg *BindGroupsMsg) error {
	pnf := n.Pnfs.Get(msg.PnfName)
	if pnf == nil {
		return fmt.Errorf("%w: pnf %q not found", util.ErrNotFound, msg.PnfName)
	}
	vrfSwitch, err := n.requireVrfSwitch(OpBindGroups)
	if err != nil {
		return err
	}

	for _, groupName := range msg.Groups {
		group := n.Groups.Get(groupName)
		if group == nil {
			return fmt.Errorf("%w: group %q not found", util.ErrNotFound, groupName)
		}
		if err := vrfSwitch.BindVrf(group.VrfName, pnf.Name); err != nil {
			return err
		}
		if !contains(pnf.BoundGroups, groupName) {
			pnf.BoundGroups = append(pnf.BoundGroups, groupName)
		}
	}
	if err := vrfSwitch.UpdateInfo(); err != nil {
		return err
	}
	return n.SaveGroups()
}

// UnbindGroups removes the mutual import between each group's VRF and the
// PNF's VRF.
func (n *Network) UnbindGroups(msg *BindGroupsMsg) error {
	pnf := n.Pnfs.Get(msg.PnfName)
	if pnf == nil {
		return fmt.Errorf("%w: pnf %q not found", util.ErrNotFound, msg.PnfName)
	}
	vrfSwitch, err := n.requireVrfSwitch(OpUnbindGroups)
	if err != nil {
		return err
	}

	for _, groupName := range msg.Groups {
		group := n.Groups.Get(groupName)
		if group == nil {
			return fmt.Errorf("%w: group %q not found", util.ErrNotFound, groupName)
		}
		if err := vrfSwitch.UnbindVrf(group.VrfName, pnf.Name); err != nil {
			return err
		}
		pnf.BoundGroups = removeString(pnf.BoundGroups, groupName)
	}
	if err := vrfSwitch.UpdateInfo(); err != nil {
		return err
	}
	return n.SaveGroups()
}

// ============================================================================
// Static route intents
// ============================================================================

func (n *Network) groupVrf(operation, groupName string) (*device.Device, string, error) {
	group := n.Groups.Get(groupName)
	if group == nil {
		return nil, "", fmt.Errorf("%w: group %q not found", util.ErrNotFound, groupName)
	}
	vrfSwitch, err := n.requireVrfSwitch(operation)
	if err != nil {
		return nil, "", err
	}
	if vrfSwitch.GetVrfByName(group.VrfName) == nil {
		return nil, "", fmt.Errorf("%w: vrf %q not found", util.ErrNotFound, group.VrfName)
	}
	return vrfSwitch, group.VrfName, nil
}

// AddRoute installs a static route in the group's VRF.
func (n *Network) AddRoute(msg *RouteMsg) error {
	vrfSwitch, vrfName, err := n.groupVrf(OpAddRoute, msg.Group)
	if err != nil {
		return err
	}
	if err := vrfSwitch.AddStaticRoute(vrfName, msg.Route()); err != nil {
		return err
	}
	return vrfSwitch.UpdateInfo()
}

// DelRoute removes a static route from the group's VRF.
func (n *Network) DelRoute(msg *RouteMsg) error {
	vrfSwitch, vrfName, err := n.groupVrf(OpDelRoute, msg.Group)
	if err != nil {
		return err
	}
	if err := vrfSwitch.DelStaticRoute(vrfName, msg.Route()); err != nil {
		return err
	}
	return vrfSwitch.UpdateInfo()
}

func contains(values []string, v string) bool {
	for _, item := range values {
		if item == v {
			return true
		}
	}
	return false
}

func removeString(values []string, v string) []string {
	out := values[:0:0]
	for _, item := range values {
		if item != v {
			out = append(out, item)
		}
	}
	return out
}
