package network

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/robertobru/netcl/pkg/config"
	"github.com/robertobru/netcl/pkg/device"
	"github.com/robertobru/netcl/pkg/model"
)

// simDriver is an in-memory device: mutations edit an authoritative
// inventory, RetrieveInfo copies it into the owning Device. This mirrors
// the mutate-then-re-read cycle the real adapters run against hardware.
type simDriver struct {
	dev  *device.Device
	inv  model.DeviceData
	fail map[string]error

	// silentDrop makes port attachments report success without touching
	// the inventory, emulating a device that acknowledges a change it
	// never applies.
	silentDrop bool
}

func (s *simDriver) failFor(op string) error {
	if s.fail == nil {
		return nil
	}
	return s.fail[op]
}

func (s *simDriver) InitDrivers() error { return nil }

func (s *simDriver) RetrieveInfo() error {
	if err := s.failFor("retrieve"); err != nil {
		return err
	}
	raw, err := json.Marshal(s.inv)
	if err != nil {
		return err
	}
	var copied model.DeviceData
	if err := json.Unmarshal(raw, &copied); err != nil {
		return err
	}
	s.dev.PhyPorts = copied.PhyPorts
	s.dev.VlanL3Ports = copied.VlanL3Ports
	s.dev.Vrfs = copied.Vrfs
	s.dev.Vlans = copied.Vlans
	return nil
}

func (s *simDriver) AddVlan(vids []int) error {
	if err := s.failFor("add_vlan"); err != nil {
		return err
	}
	s.inv.Vlans = append(s.inv.Vlans, vids...)
	return nil
}

func (s *simDriver) DelVlan(vids []int) error {
	if err := s.failFor("del_vlan"); err != nil {
		return err
	}
	for _, vid := range vids {
		out := s.inv.Vlans[:0:0]
		for _, v := range s.inv.Vlans {
			if v != vid {
				out = append(out, v)
			}
		}
		s.inv.Vlans = out
	}
	return nil
}

func (s *simDriver) invPort(name string) *model.PhyPort {
	for i := range s.inv.PhyPorts {
		if s.inv.PhyPorts[i].Name == name {
			return &s.inv.PhyPorts[i]
		}
	}
	return nil
}

func (s *simDriver) invVrf(name string) *model.Vrf {
	for i := range s.inv.Vrfs {
		if s.inv.Vrfs[i].Name == name {
			return &s.inv.Vrfs[i]
		}
	}
	return nil
}

func (s *simDriver) AddVlanToPort(vid int, port *model.PhyPort, pvid bool) error {
	if err := s.failFor("add_vlan_to_port"); err != nil {
		return err
	}
	if s.silentDrop {
		return nil
	}
	p := s.invPort(port.Name)
	if p == nil {
		return fmt.Errorf("sim: port %s not found", port.Name)
	}
	if pvid {
		p.AccessVlan = vid
	} else {
		p.TrunkVlans = append(p.TrunkVlans, vid)
	}
	return nil
}

func (s *simDriver) DelVlanToPort(vids []int, port *model.PhyPort) error {
	if err := s.failFor("del_vlan_to_port"); err != nil {
		return err
	}
	p := s.invPort(port.Name)
	if p == nil {
		return fmt.Errorf("sim: port %s not found", port.Name)
	}
	for _, vid := range vids {
		out := p.TrunkVlans[:0:0]
		for _, v := range p.TrunkVlans {
			if v != vid {
				out = append(out, v)
			}
		}
		p.TrunkVlans = out
		if p.AccessVlan == vid {
			p.AccessVlan = 0
		}
	}
	return nil
}

func (s *simDriver) SetPortMode(port *model.PhyPort, mode model.LinkMode) error {
	if p := s.invPort(port.Name); p != nil {
		p.Mode = mode
	}
	return nil
}

func (s *simDriver) AddVlanToVrf(vrf *model.Vrf, req model.VlanInterfaceRequest) error {
	if err := s.failFor("add_vlan_to_vrf"); err != nil {
		return err
	}
	itf := model.VlanL3Port{
		Index:       fmt.Sprintf("Vlan%d", req.Vlan),
		Name:        fmt.Sprintf("Vlan%d", req.Vlan),
		Vlan:        req.Vlan,
		IPAddress:   req.IPAddress,
		CIDR:        req.CIDR,
		Vrf:         req.Vrf,
		Description: req.Description,
	}
	s.inv.VlanL3Ports = append(s.inv.VlanL3Ports, itf)
	if v := s.invVrf(req.Vrf); v != nil {
		v.Ports = append(v.Ports, itf)
	}
	if !containsInt(s.inv.Vlans, req.Vlan) {
		s.inv.Vlans = append(s.inv.Vlans, req.Vlan)
	}
	return nil
}

func (s *simDriver) DelVlanToVrf(vrf *model.Vrf, itf *model.VlanL3Port) error {
	if err := s.failFor("del_vlan_to_vrf"); err != nil {
		return err
	}
	keepPorts := s.inv.VlanL3Ports[:0:0]
	for _, p := range s.inv.VlanL3Ports {
		if p.Vlan != itf.Vlan {
			keepPorts = append(keepPorts, p)
		}
	}
	s.inv.VlanL3Ports = keepPorts
	if v := s.invVrf(vrf.Name); v != nil {
		keep := v.Ports[:0:0]
		for _, p := range v.Ports {
			if p.Vlan != itf.Vlan {
				keep = append(keep, p)
			}
		}
		v.Ports = keep
	}
	return nil
}

func (s *simDriver) AddVrf(req model.VrfRequest) error {
	if err := s.failFor("add_vrf"); err != nil {
		return err
	}
	rd := req.RD
	if rd == "" {
		rd = fmt.Sprintf("1000:%d", len(s.inv.Vrfs)+1)
	}
	s.inv.Vrfs = append(s.inv.Vrfs, model.Vrf{
		Name:        req.Name,
		RD:          rd,
		Description: req.Description,
	})
	return nil
}

func (s *simDriver) DelVrf(vrf *model.Vrf) error {
	keep := s.inv.Vrfs[:0:0]
	for _, v := range s.inv.Vrfs {
		if v.Name != vrf.Name {
			keep = append(keep, v)
		}
	}
	s.inv.Vrfs = keep
	return nil
}

func (s *simDriver) BindVrf(a, b *model.Vrf) error {
	bind := func(x, y *model.Vrf) {
		if !containsStr(x.RDExport, x.RD) {
			x.RDExport = append(x.RDExport, x.RD)
		}
		if !containsStr(y.RDImport, x.RD) {
			y.RDImport = append(y.RDImport, x.RD)
		}
	}
	ia, ib := s.invVrf(a.Name), s.invVrf(b.Name)
	if ia == nil || ib == nil {
		return fmt.Errorf("sim: vrf missing")
	}
	bind(ia, ib)
	bind(ib, ia)
	bind(a, b)
	bind(b, a)
	return nil
}

func (s *simDriver) UnbindVrf(a, b *model.Vrf) error {
	unbind := func(x, y *model.Vrf) {
		out := y.RDImport[:0:0]
		for _, rd := range y.RDImport {
			if rd != x.RD {
				out = append(out, rd)
			}
		}
		y.RDImport = out
	}
	ia, ib := s.invVrf(a.Name), s.invVrf(b.Name)
	if ia == nil || ib == nil {
		return fmt.Errorf("sim: vrf missing")
	}
	unbind(ia, ib)
	unbind(ib, ia)
	unbind(a, b)
	unbind(b, a)
	return nil
}

func (s *simDriver) AddStaticRoute(vrf *model.Vrf, route model.IPv4Route) error {
	if v := s.invVrf(vrf.Name); v != nil {
		v.Routes = append(v.Routes, route)
	}
	return nil
}

func (s *simDriver) DelStaticRoute(vrf *model.Vrf, route model.IPv4Route) error {
	if v := s.invVrf(vrf.Name); v != nil {
		keep := v.Routes[:0:0]
		for _, r := range v.Routes {
			if r.Prefix != route.Prefix || r.Nexthop != route.Nexthop {
				keep = append(keep, r)
			}
		}
		v.Routes = keep
	}
	return nil
}

func (s *simDriver) AddBgpInstance(req model.VrfRequest) error {
	if v := s.invVrf(req.Name); v != nil {
		v.Protocols = req.Protocols
	}
	return nil
}

func (s *simDriver) DelBgpInstance(vrf *model.Vrf) error {
	if v := s.invVrf(vrf.Name); v != nil {
		v.Protocols = model.RoutingProtocols{}
	}
	return nil
}

func (s *simDriver) AddBgpPeer(peer model.BGPNeighbor, vrf *model.Vrf) error {
	v := s.invVrf(vrf.Name)
	if v == nil {
		return fmt.Errorf("sim: vrf missing")
	}
	if v.Protocols.BGP == nil {
		v.Protocols.BGP = &model.BGPInstance{ASNumber: peer.RemoteAS}
	}
	v.Protocols.BGP.Neighbors = append(v.Protocols.BGP.Neighbors, peer)
	return nil
}

func (s *simDriver) DelBgpPeer(peer model.BGPNeighbor, vrf *model.Vrf) error {
	v := s.invVrf(vrf.Name)
	if v == nil || v.Protocols.BGP == nil {
		return nil
	}
	keep := v.Protocols.BGP.Neighbors[:0:0]
	for _, n := range v.Protocols.BGP.Neighbors {
		if n.IP != peer.IP {
			keep = append(keep, n)
		}
	}
	v.Protocols.BGP.Neighbors = keep
	return nil
}

func (s *simDriver) CommitAndSave() error { return nil }

// Firewall surface of the simulator.

func (s *simDriver) AddL3PortToVrf(vrf *model.Vrf, req model.FirewallL3PortRequest) error {
	if err := s.failFor("add_l3port_to_vrf"); err != nil {
		return err
	}
	if p := s.invPort(req.Interface); p != nil && !containsInt(p.TrunkVlans, req.Vlan) {
		p.TrunkVlans = append(p.TrunkVlans, req.Vlan)
	}
	itf := model.VlanL3Port{
		Index:       fmt.Sprintf("opt%d", len(s.inv.VlanL3Ports)+1),
		Name:        req.Description,
		Vlan:        req.Vlan,
		IPAddress:   req.IPAddress,
		CIDR:        req.CIDR,
		Vrf:         model.DefaultVrfName,
		Description: req.Description,
	}
	s.inv.VlanL3Ports = append(s.inv.VlanL3Ports, itf)
	if v := s.invVrf(model.DefaultVrfName); v != nil {
		v.Ports = append(v.Ports, itf)
	}
	return nil
}

func (s *simDriver) AddPortToGroup(model.FirewallL3PortRequest, string) error   { return nil }
func (s *simDriver) DelPortFromGroup(model.FirewallL3PortRequest, string) error { return nil }

func containsInt(values []int, v int) bool {
	for _, item := range values {
		if item == v {
			return true
		}
	}
	return false
}

func containsStr(values []string, v string) bool {
	for _, item := range values {
		if item == v {
			return true
		}
	}
	return false
}

// ============================================================================
// Fabric fixture
// ============================================================================

// simDevice registers a simulated device built from the inventory.
func simDevice(t *testing.T, registry *device.Registry, inv model.DeviceData) (*device.Device, *simDriver) {
	t.Helper()
	driver := &simDriver{inv: inv}
	dev := device.NewWithDriver(model.DeviceData{DeviceInfo: inv.DeviceInfo, State: model.StateReady}, driver, nil)
	driver.dev = dev
	if err := dev.RetrieveInfo(); err != nil {
		t.Fatalf("initial sim read for %s: %v", inv.Name, err)
	}
	registry.Insert(dev)
	return dev, driver
}

func upTrunkPort(name string, speed int, neighbor *model.LldpNeighbor, vlans ...int) model.PhyPort {
	return model.PhyPort{
		Index:       name,
		Name:        name,
		Mode:        model.ModeTrunk,
		Status:      model.LinkUp,
		AdminStatus: model.AdminEnabled,
		Speed:       speed,
		Duplex:      "FULL",
		Neighbor:    neighbor,
		TrunkVlans:  vlans,
	}
}

// testFabric builds the standard fixture: hub switch "core" (the VRF
// switch, with a free project VRF), leaf switch "sw2", and firewall
// "fw1" uplinked on core Eth2.
func testFabric(t *testing.T) (*Network, map[string]*simDriver) {
	t.Helper()
	registry := device.NewRegistry(nil, device.AdapterOptions{})
	drivers := map[string]*simDriver{}

	_, coreDriver := simDevice(t, registry, model.DeviceData{
		DeviceInfo: model.DeviceInfo{Name: "core", Family: model.FamilyComware, Address: "10.0.0.1"},
		Vlans:      []int{},
		PhyPorts: []model.PhyPort{
			upTrunkPort("Eth1", 10000, &model.LldpNeighbor{Neighbor: "sw2", RemoteInterface: "Eth1"}),
			upTrunkPort("Eth2", 10000, &model.LldpNeighbor{Neighbor: "fw1", RemoteInterface: "igb1"}),
		},
		Vrfs: []model.Vrf{
			{Name: model.DefaultVrfName, RD: model.DefaultVrfName},
			{Name: "proj01", RD: "1000:1"},
			{Name: "vrf_router", RD: "1000:9"},
		},
	})
	drivers["core"] = coreDriver

	_, sw2Driver := simDevice(t, registry, model.DeviceData{
		DeviceInfo: model.DeviceInfo{Name: "sw2", Family: model.FamilySonic, Address: "10.0.0.2"},
		Vlans:      []int{},
		PhyPorts: []model.PhyPort{
			upTrunkPort("Eth1", 10000, &model.LldpNeighbor{Neighbor: "core", RemoteInterface: "Eth1"}),
			upTrunkPort("Eth4", 1000, &model.LldpNeighbor{Neighbor: "server-7", RemoteInterface: "eno1"}),
		},
		Vrfs: []model.Vrf{{Name: model.DefaultVrfName, RD: model.DefaultVrfName}},
	})
	drivers["sw2"] = sw2Driver

	_, fwDriver := simDevice(t, registry, model.DeviceData{
		DeviceInfo: model.DeviceInfo{Name: "fw1", Family: model.FamilyPfSense, Address: "10.0.0.254"},
		Vlans:      []int{},
		PhyPorts:   []model.PhyPort{upTrunkPort("igb1", 10000, nil)},
		Vrfs: []model.Vrf{{Name: model.DefaultVrfName, RD: model.DefaultVrfName,
			Protocols: model.RoutingProtocols{BGP: &model.BGPInstance{ASNumber: 1000}}}},
	})
	drivers["fw1"] = fwDriver

	cfg := &config.NetworkConfig{
		VrfSwitchName:          "core",
		UplinkVlanPools:        []config.VlanRange{{Min: 3900, Max: 3910}},
		UplinkIPPool:           []string{"10.30.0.0/24"},
		UplinkIPNetMask:        30,
		PnfVlanPools:           []config.VlanRange{{Min: 3800, Max: 3810}},
		PnfIPPool:              []string{"10.40.0.0/24"},
		PnfIPNetMask:           29,
		PnfMergingVrfName:      "vrf_router",
		ASNumber:               1000,
		FirewallUplinkVlanPort: "igb1",
		FirewallUplinkNeighbor: &model.LldpNeighbor{Neighbor: "core", RemoteInterface: "Eth2"},
		FirewallPortGroup:      "projects",
	}

	net, err := New(nil, registry, cfg)
	if err != nil {
		t.Fatalf("building network: %v", err)
	}
	return net, drivers
}
