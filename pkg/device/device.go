// Package device implements the uniform device contract over the vendor
// families. The Device type owns shared state, precondition checks, and
// persistence; one Driver per family translates contract calls into the
// vendor dialect and parses vendor output back into the data model.
package device

import (
	"errors"
	"fmt"
	"time"

	"github.com/juju/mgo/v3/bson"

	"github.com/robertobru/netcl/pkg/model"
	"github.com/robertobru/netcl/pkg/store"
	"github.com/robertobru/netcl/pkg/util"
)

// Driver is the vendor dialect behind a Device. Implementations mutate the
// owning Device's inventory while reading and issue SBI calls while
// mutating; the base layer runs preconditions before and re-reads state
// after each call.
type Driver interface {
	// InitDrivers creates the SBI sessions lazily. Called before every
	// inventory read so a reloaded device can rebuild its transports.
	InitDrivers() error
	// RetrieveInfo performs a full inventory read into the owning device.
	RetrieveInfo() error

	AddVlan(vids []int) error
	DelVlan(vids []int) error
	AddVlanToPort(vid int, port *model.PhyPort, pvid bool) error
	DelVlanToPort(vids []int, port *model.PhyPort) error
	SetPortMode(port *model.PhyPort, mode model.LinkMode) error

	AddVlanToVrf(vrf *model.Vrf, req model.VlanInterfaceRequest) error
	DelVlanToVrf(vrf *model.Vrf, itf *model.VlanL3Port) error
	AddVrf(req model.VrfRequest) error
	DelVrf(vrf *model.Vrf) error
	BindVrf(a, b *model.Vrf) error
	UnbindVrf(a, b *model.Vrf) error

	AddStaticRoute(vrf *model.Vrf, route model.IPv4Route) error
	DelStaticRoute(vrf *model.Vrf, route model.IPv4Route) error
	AddBgpInstance(req model.VrfRequest) error
	DelBgpInstance(vrf *model.Vrf) error
	AddBgpPeer(peer model.BGPNeighbor, vrf *model.Vrf) error
	DelBgpPeer(peer model.BGPNeighbor, vrf *model.Vrf) error

	CommitAndSave() error
}

// FirewallDriver is the extra surface the firewall family implements on
// top of the common contract.
type FirewallDriver interface {
	Driver
	AddL3PortToVrf(vrf *model.Vrf, req model.FirewallL3PortRequest) error
	AddPortToGroup(req model.FirewallL3PortRequest, group string) error
	DelPortFromGroup(req model.FirewallL3PortRequest, group string) error
}

// Device is one managed device: shared inventory plus the family driver.
// All mutations run on the intent worker; the only concurrent access is
// the read-only HTTP surface, tolerated on the plain value fields.
type Device struct {
	model.DeviceData

	driver Driver
	db     *store.DB
}

// Driver exposes the family driver, mainly for adapter-specific tests.
func (d *Device) Driver() Driver { return d.driver }

// IsFirewall reports whether the device is the fabric firewall.
func (d *Device) IsFirewall() bool { return d.Family == model.FamilyPfSense }

func (d *Device) collection() string {
	if d.IsFirewall() {
		return store.ColFirewall
	}
	return store.ColSwitches
}

// Persist upserts the device document into the store. A nil store (unit
// tests) is a no-op.
func (d *Device) Persist() error {
	if d.db == nil {
		return nil
	}
	return d.db.Upsert(d.collection(), bson.M{"name": d.Name}, d.DeviceData)
}

// clearInventory resets all cached state fields ahead of a full read.
func (d *Device) clearInventory() {
	d.PhyPorts = nil
	d.VlanL3Ports = nil
	d.Vrfs = nil
	d.Vlans = nil
}

// RetrieveInfo clears the cached inventory, performs a full read through
// the driver, and persists the result.
func (d *Device) RetrieveInfo() error {
	if err := d.driver.InitDrivers(); err != nil {
		return err
	}
	d.clearInventory()
	if err := d.driver.RetrieveInfo(); err != nil {
		return err
	}
	return d.Persist()
}

// UpdateInfo re-reads the device after a mutating call, tagging the
// lifecycle state when the read itself fails on the transport.
func (d *Device) UpdateInfo() error {
	return d.fail(d.RetrieveInfo())
}

// ApplyError classifies a transport failure into the device lifecycle
// state. Other errors leave the state untouched.
func (d *Device) ApplyError(err error) {
	switch {
	case errors.Is(err, util.ErrUnreachable):
		d.State = model.StateNetError
	case errors.Is(err, util.ErrUnauthenticated):
		d.State = model.StateAuthError
	}
}

// fail tags the device state for classifiable transport errors before
// handing the error back. The tag is sticky until the next successful
// refresh.
func (d *Device) fail(err error) error {
	if err != nil {
		prev := d.State
		d.ApplyError(err)
		if d.State != prev {
			d.Persist()
		}
	}
	return err
}

// StoreConfig appends a new snapshot if the configuration text changed,
// trims the history, and backs the snapshot up in the lastconfig
// collection. Returns true when a new snapshot was taken.
func (d *Device) StoreConfig(cfg string) bool {
	if d.LastConfig != nil && d.LastConfig.Config == cfg {
		return false
	}
	util.WithDevice(d.Name).Info("device changed its configuration, storing new snapshot")
	item := model.ConfigItem{Time: time.Now(), Config: cfg}
	d.LastConfig = &item
	d.ConfigHistory = append(d.ConfigHistory, item)
	if len(d.ConfigHistory) > model.MaxConfigHistory {
		d.ConfigHistory = d.ConfigHistory[len(d.ConfigHistory)-model.MaxConfigHistory:]
	}
	if d.db != nil {
		backup := bson.M{"device": d.Name, "time": item.Time, "config": item.Config}
		if err := d.db.Upsert(store.ColLastConfig, bson.M{"device": d.Name}, backup); err != nil {
			util.WithDevice(d.Name).Warnf("backing up snapshot: %v", err)
		}
	}
	return true
}

// ============================================================================
// State inspectors
// ============================================================================

// GetPortByName finds a physical port by display name or stable index.
func (d *Device) GetPortByName(name string) *model.PhyPort {
	for i := range d.PhyPorts {
		if d.PhyPorts[i].Name == name || d.PhyPorts[i].Index == name {
			return &d.PhyPorts[i]
		}
	}
	return nil
}

// GetVrfByName returns the VRF with the given name.
func (d *Device) GetVrfByName(name string) *model.Vrf {
	for i := range d.Vrfs {
		if d.Vrfs[i].Name == name {
			return &d.Vrfs[i]
		}
	}
	return nil
}

// GetVrfByRD returns the VRF with the given route distinguisher.
func (d *Device) GetVrfByRD(rd string) *model.Vrf {
	for i := range d.Vrfs {
		if d.Vrfs[i].RD == rd {
			return &d.Vrfs[i]
		}
	}
	return nil
}

// GetVlanInterface returns the L3 interface for a VLAN id.
func (d *Device) GetVlanInterface(vid int) *model.VlanL3Port {
	for i := range d.VlanL3Ports {
		if d.VlanL3Ports[i].Vlan == vid {
			return &d.VlanL3Ports[i]
		}
	}
	return nil
}

// GetNeighbor returns the LLDP neighbor seen on the named port.
func (d *Device) GetNeighbor(portName string) *model.LldpNeighbor {
	port := d.GetPortByName(portName)
	if port == nil {
		return nil
	}
	return port.Neighbor
}

// HasVlan reports whether the VLAN id is configured on the device.
func (d *Device) HasVlan(vid int) bool {
	return util.ContainsInt(d.Vlans, vid)
}

// GetLastConfig returns the most recent configuration snapshot text.
func (d *Device) GetLastConfig() string {
	if d.LastConfig == nil {
		return ""
	}
	return d.LastConfig.Config
}

// ============================================================================
// Preconditions
// ============================================================================

func (d *Device) requireReady(operation string) error {
	if d.State != model.StateReady {
		return util.NewPreconditionError(operation, d.Name,
			"device must be in ready state", fmt.Sprintf("current state is %s", d.State))
	}
	return nil
}

func validateVlanIDs(operation, resource string, vids []int) error {
	for _, vid := range vids {
		if err := util.ValidateVLANID(vid); err != nil {
			return util.NewPreconditionError(operation, resource, "vlan id in range 1-4094", err.Error())
		}
	}
	return nil
}

// ============================================================================
// Mutations
// ============================================================================

// AddVlan creates the VLANs not already configured. A call with only
// existing VLANs is a no-op success.
func (d *Device) AddVlan(vids []int) error {
	if err := d.requireReady("add_vlan"); err != nil {
		return err
	}
	if err := validateVlanIDs("add_vlan", d.Name, vids); err != nil {
		return err
	}

	var toAdd []int
	for _, vid := range vids {
		if !d.HasVlan(vid) {
			toAdd = append(toAdd, vid)
		}
	}
	if len(toAdd) == 0 {
		util.WithDevice(d.Name).Debug("all requested vlans already configured")
		return nil
	}
	if err := d.driver.AddVlan(toAdd); err != nil {
		return d.fail(err)
	}
	d.Vlans = append(d.Vlans, toAdd...)
	return nil
}

// DelVlan removes the VLANs. Without force, a VLAN missing from the device
// aborts the call.
func (d *Device) DelVlan(vids []int, force bool) error {
	if err := d.requireReady("del_vlan"); err != nil {
		return err
	}

	var existing, missing []int
	for _, vid := range vids {
		if d.HasVlan(vid) {
			existing = append(existing, vid)
		} else {
			missing = append(missing, vid)
		}
	}
	if len(missing) > 0 && !force {
		return util.NewPreconditionError("del_vlan", d.Name,
			"vlans must exist on the device", fmt.Sprintf("missing: %v", missing))
	}
	if len(existing) == 0 {
		return nil
	}
	if err := d.driver.DelVlan(existing); err != nil {
		return d.fail(err)
	}
	for _, vid := range existing {
		d.Vlans = util.RemoveInt(d.Vlans, vid)
	}
	return nil
}

// AddVlanToPort attaches a VLAN to a port already in the requested mode.
// The VLAN is created on the device first when missing. Re-adding a VLAN
// the port already carries is a no-op success.
func (d *Device) AddVlanToPort(vid int, portName string, mode model.LinkMode, pvid bool) error {
	if err := d.requireReady("add_vlan_to_port"); err != nil {
		return err
	}
	if err := validateVlanIDs("add_vlan_to_port", d.Name, []int{vid}); err != nil {
		return err
	}
	port := d.GetPortByName(portName)
	if port == nil {
		return util.NewPreconditionError("add_vlan_to_port", d.Name,
			"port must exist", fmt.Sprintf("port %q not found", portName))
	}
	if port.Mode != mode {
		return util.NewPreconditionError("add_vlan_to_port", d.Name,
			fmt.Sprintf("port must be in %s mode", mode),
			fmt.Sprintf("port %s is in %s mode", port.Name, port.Mode))
	}
	if port.HasVlan(vid) && (!pvid || port.AccessVlan == vid) {
		return nil
	}
	if !d.HasVlan(vid) {
		util.WithDevice(d.Name).Warnf("vlan %d not found, adding to the device vlans", vid)
		if err := d.AddVlan([]int{vid}); err != nil {
			return err
		}
	}
	if err := d.driver.AddVlanToPort(vid, port, pvid); err != nil {
		return d.fail(err)
	}
	if pvid || mode == model.ModeAccess {
		port.AccessVlan = vid
	} else if !util.ContainsInt(port.TrunkVlans, vid) {
		port.TrunkVlans = append(port.TrunkVlans, vid)
	}
	return nil
}

// DelVlanToPort removes VLANs from a port in the given mode.
func (d *Device) DelVlanToPort(vids []int, portName string, mode model.LinkMode) error {
	if err := d.requireReady("del_vlan_to_port"); err != nil {
		return err
	}
	port := d.GetPortByName(portName)
	if port == nil {
		return util.NewPreconditionError("del_vlan_to_port", d.Name,
			"port must exist", fmt.Sprintf("port %q not found", portName))
	}
	if port.Mode != mode {
		return util.NewPreconditionError("del_vlan_to_port", d.Name,
			fmt.Sprintf("port must be in %s mode", mode),
			fmt.Sprintf("port %s is in %s mode", port.Name, port.Mode))
	}
	for _, vid := range vids {
		if !d.HasVlan(vid) {
			return util.NewPreconditionError("del_vlan_to_port", d.Name,
				"vlans must exist on the device", fmt.Sprintf("vlan %d not found", vid))
		}
	}
	if err := d.driver.DelVlanToPort(vids, port); err != nil {
		return d.fail(err)
	}
	for _, vid := range vids {
		port.TrunkVlans = util.RemoveInt(port.TrunkVlans, vid)
		if port.AccessVlan == vid {
			port.AccessVlan = 0
		}
	}
	return nil
}

// SetPortMode switches the VLAN membership mode of a port. Setting the
// current mode is a no-op success.
func (d *Device) SetPortMode(portName string, mode model.LinkMode) error {
	if err := d.requireReady("set_port_mode"); err != nil {
		return err
	}
	port := d.GetPortByName(portName)
	if port == nil {
		return util.NewPreconditionError("set_port_mode", d.Name,
			"port must exist", fmt.Sprintf("port %q not found", portName))
	}
	if port.Mode == mode {
		util.WithDevice(d.Name).Debugf("port %s already in %s mode", port.Name, mode)
		return nil
	}
	if err := d.driver.SetPortMode(port, mode); err != nil {
		return d.fail(err)
	}
	port.Mode = mode
	if mode == model.ModeAccess {
		port.TrunkVlans = nil
	}
	if mode == model.ModeTrunk {
		port.AccessVlan = 0
	}
	return nil
}

// AddVlanToVrf creates an L3 VLAN interface and attaches it to the VRF.
func (d *Device) AddVlanToVrf(vrfName string, req model.VlanInterfaceRequest) error {
	if err := d.requireReady("add_vlan_to_vrf"); err != nil {
		return err
	}
	if err := validateVlanIDs("add_vlan_to_vrf", d.Name, []int{req.Vlan}); err != nil {
		return err
	}
	vrf := d.GetVrfByName(vrfName)
	if vrf == nil {
		return util.NewPreconditionError("add_vlan_to_vrf", d.Name,
			"vrf must exist", fmt.Sprintf("vrf %q not found", vrfName))
	}
	if existing := d.GetVlanInterface(req.Vlan); existing != nil {
		return util.NewPreconditionError("add_vlan_to_vrf", d.Name,
			"vlan interface must not exist",
			fmt.Sprintf("vlan %d already has interface %s", req.Vlan, existing.Index))
	}
	req.Vrf = vrf.Name
	return d.fail(d.driver.AddVlanToVrf(vrf, req))
}

// DelVlanToVrf removes the L3 interface of a VLAN from the VRF.
func (d *Device) DelVlanToVrf(vrfName string, vid int) error {
	if err := d.requireReady("del_vlan_to_vrf"); err != nil {
		return err
	}
	vrf := d.GetVrfByName(vrfName)
	if vrf == nil {
		return util.NewPreconditionError("del_vlan_to_vrf", d.Name,
			"vrf must exist", fmt.Sprintf("vrf %q not found", vrfName))
	}
	itf := vrf.PortByVlan(vid)
	if itf == nil {
		return util.NewPreconditionError("del_vlan_to_vrf", d.Name,
			"vlan interface must belong to the vrf",
			fmt.Sprintf("no interface for vlan %d in vrf %s", vid, vrfName))
	}
	return d.fail(d.driver.DelVlanToVrf(vrf, itf))
}

// AddVrf instantiates a VRF. An existing VRF with the same name is a
// no-op success.
func (d *Device) AddVrf(req model.VrfRequest) error {
	if err := d.requireReady("add_vrf"); err != nil {
		return err
	}
	if d.GetVrfByName(req.Name) != nil {
		util.WithDevice(d.Name).Debugf("vrf %s already configured", req.Name)
		return nil
	}
	return d.fail(d.driver.AddVrf(req))
}

// DelVrf removes a VRF.
func (d *Device) DelVrf(name string) error {
	if err := d.requireReady("del_vrf"); err != nil {
		return err
	}
	vrf := d.GetVrfByName(name)
	if vrf == nil {
		return util.NewPreconditionError("del_vrf", d.Name,
			"vrf must exist", fmt.Sprintf("vrf %q not found", name))
	}
	return d.fail(d.driver.DelVrf(vrf))
}

// CheckVrfsBinding reports whether the two VRFs import each other. An
// asymmetric relation is a fatal device configuration inconsistency.
func (d *Device) CheckVrfsBinding(vrf1, vrf2 *model.Vrf) (bool, error) {
	if vrf1.Equal(vrf2) {
		return true, nil
	}
	oneImportsTwo := false
	for _, rd := range vrf2.RDExport {
		if vrf1.Imports(rd) {
			oneImportsTwo = true
		}
	}
	twoImportsOne := false
	for _, rd := range vrf1.RDExport {
		if vrf2.Imports(rd) {
			twoImportsOne = true
		}
	}
	switch {
	case oneImportsTwo && twoImportsOne:
		return true, nil
	case !oneImportsTwo && !twoImportsOne:
		return false, nil
	default:
		return false, fmt.Errorf("%w: VRFs %s and %s are asymmetrically bound",
			util.ErrMisconfigured, vrf1.Name, vrf2.Name)
	}
}

// BindVrf installs a symmetric route-target import between the two VRFs.
// Already-bound VRFs are a no-op success.
func (d *Device) BindVrf(name1, name2 string) error {
	if err := d.requireReady("bind_vrf"); err != nil {
		return err
	}
	vrf1 := d.GetVrfByName(name1)
	vrf2 := d.GetVrfByName(name2)
	if vrf1 == nil || vrf2 == nil {
		return util.NewPreconditionError("bind_vrf", d.Name,
			"both vrfs must exist", fmt.Sprintf("%q / %q", name1, name2))
	}
	bound, err := d.CheckVrfsBinding(vrf1, vrf2)
	if err != nil {
		return err
	}
	if bound {
		return nil
	}
	return d.fail(d.driver.BindVrf(vrf1, vrf2))
}

// UnbindVrf removes the symmetric route-target import between the VRFs.
func (d *Device) UnbindVrf(name1, name2 string) error {
	if err := d.requireReady("unbind_vrf"); err != nil {
		return err
	}
	vrf1 := d.GetVrfByName(name1)
	vrf2 := d.GetVrfByName(name2)
	if vrf1 == nil || vrf2 == nil {
		return util.NewPreconditionError("unbind_vrf", d.Name,
			"both vrfs must exist", fmt.Sprintf("%q / %q", name1, name2))
	}
	bound, err := d.CheckVrfsBinding(vrf1, vrf2)
	if err != nil {
		return err
	}
	if !bound {
		return nil
	}
	return d.fail(d.driver.UnbindVrf(vrf1, vrf2))
}

// AddStaticRoute installs a static route in the VRF.
func (d *Device) AddStaticRoute(vrfName string, route model.IPv4Route) error {
	if err := d.requireReady("add_static_route"); err != nil {
		return err
	}
	vrf := d.GetVrfByName(vrfName)
	if vrf == nil {
		return util.NewPreconditionError("add_static_route", d.Name,
			"vrf must exist", fmt.Sprintf("vrf %q not found", vrfName))
	}
	return d.fail(d.driver.AddStaticRoute(vrf, route))
}

// DelStaticRoute removes a static route from the VRF.
func (d *Device) DelStaticRoute(vrfName string, route model.IPv4Route) error {
	if err := d.requireReady("del_static_route"); err != nil {
		return err
	}
	vrf := d.GetVrfByName(vrfName)
	if vrf == nil {
		return util.NewPreconditionError("del_static_route", d.Name,
			"vrf must exist", fmt.Sprintf("vrf %q not found", vrfName))
	}
	return d.fail(d.driver.DelStaticRoute(vrf, route))
}

// AddBgpInstance configures a BGP instance inside a VRF.
func (d *Device) AddBgpInstance(req model.VrfRequest) error {
	if err := d.requireReady("add_bgp_instance"); err != nil {
		return err
	}
	if req.Protocols.BGP == nil {
		return util.NewPreconditionError("add_bgp_instance", d.Name,
			"request must carry a BGP instance", "")
	}
	return d.fail(d.driver.AddBgpInstance(req))
}

// DelBgpInstance removes the BGP instance of a VRF.
func (d *Device) DelBgpInstance(vrfName string) error {
	if err := d.requireReady("del_bgp_instance"); err != nil {
		return err
	}
	vrf := d.GetVrfByName(vrfName)
	if vrf == nil {
		return util.NewPreconditionError("del_bgp_instance", d.Name,
			"vrf must exist", fmt.Sprintf("vrf %q not found", vrfName))
	}
	if vrf.Protocols.BGP == nil {
		return util.NewPreconditionError("del_bgp_instance", d.Name,
			"vrf must run BGP", fmt.Sprintf("vrf %s has no BGP instance", vrfName))
	}
	return d.fail(d.driver.DelBgpInstance(vrf))
}

// AddBgpPeer adds a peering to the VRF's BGP instance.
func (d *Device) AddBgpPeer(peer model.BGPNeighbor, vrfName string) error {
	if err := d.requireReady("add_bgp_peer"); err != nil {
		return err
	}
	vrf := d.GetVrfByName(vrfName)
	if vrf == nil {
		return util.NewPreconditionError("add_bgp_peer", d.Name,
			"vrf must exist", fmt.Sprintf("vrf %q not found", vrfName))
	}
	if vrf.Protocols.BGP != nil && vrf.Protocols.BGP.Neighbor(peer.IP) != nil {
		return nil
	}
	return d.fail(d.driver.AddBgpPeer(peer, vrf))
}

// DelBgpPeer removes a peering from the VRF's BGP instance.
func (d *Device) DelBgpPeer(peer model.BGPNeighbor, vrfName string) error {
	if err := d.requireReady("del_bgp_peer"); err != nil {
		return err
	}
	vrf := d.GetVrfByName(vrfName)
	if vrf == nil {
		return util.NewPreconditionError("del_bgp_peer", d.Name,
			"vrf must exist", fmt.Sprintf("vrf %q not found", vrfName))
	}
	return d.fail(d.driver.DelBgpPeer(peer, vrf))
}

// CommitAndSave persists the running configuration on the device.
func (d *Device) CommitAndSave() error {
	if err := d.requireReady("commit_and_save"); err != nil {
		return err
	}
	return d.fail(d.driver.CommitAndSave())
}

// ============================================================================
// Firewall surface
// ============================================================================

func (d *Device) firewallDriver(operation string) (FirewallDriver, error) {
	fw, ok := d.driver.(FirewallDriver)
	if !ok {
		return nil, util.NewPreconditionError(operation, d.Name, "device must be a firewall", "")
	}
	return fw, nil
}

// AddL3PortToVrf creates a VLAN subinterface on the firewall and attaches
// it to the (default) VRF.
func (d *Device) AddL3PortToVrf(vrfName string, req model.FirewallL3PortRequest) error {
	fw, err := d.firewallDriver("add_l3port_to_vrf")
	if err != nil {
		return err
	}
	if err := d.requireReady("add_l3port_to_vrf"); err != nil {
		return err
	}
	vrf := d.GetVrfByName(vrfName)
	if vrf == nil {
		return util.NewPreconditionError("add_l3port_to_vrf", d.Name,
			"vrf must exist", fmt.Sprintf("vrf %q not found", vrfName))
	}
	port := d.GetPortByName(req.Interface)
	if port == nil {
		return util.NewPreconditionError("add_l3port_to_vrf", d.Name,
			"parent interface must exist", fmt.Sprintf("interface %q not found", req.Interface))
	}
	return fw.AddL3PortToVrf(vrf, req)
}

// AddPortToGroup adds the firewall interface for the request to an
// interface group.
func (d *Device) AddPortToGroup(req model.FirewallL3PortRequest, group string) error {
	fw, err := d.firewallDriver("add_port_to_group")
	if err != nil {
		return err
	}
	return fw.AddPortToGroup(req, group)
}

// DelPortFromGroup removes the firewall interface from an interface group.
func (d *Device) DelPortFromGroup(req model.FirewallL3PortRequest, group string) error {
	fw, err := d.firewallDriver("del_port_from_group")
	if err != nil {
		return err
	}
	return fw.DelPortFromGroup(req, group)
}
