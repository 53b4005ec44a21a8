package device

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/robertobru/netcl/pkg/model"
	"github.com/robertobru/netcl/pkg/sbi"
	"github.com/robertobru/netcl/pkg/util"
)

const mlnxTreeRoot = "/mlnxos/v1/vsr/vsr-default"

// mellanoxDriver drives MLNX-OS-style switches through the XML gateway
// tree plus a CLI channel for the configuration text and LLDP. The family
// has no VRF support: a single synthetic VRF exposes the L3 interfaces.
type mellanoxDriver struct {
	dev  *Device
	xg   *sbi.XGDriver
	cli  *sbi.CLIDriver
	opts AdapterOptions
}

func newMellanoxDriver(d *Device, opts AdapterOptions) Driver {
	return &mellanoxDriver{dev: d, opts: opts}
}

func (m *mellanoxDriver) InitDrivers() error {
	if m.xg == nil {
		m.xg = sbi.NewXGDriver(m.dev.DeviceInfo, m.opts.SkipTLSVerify)
	}
	if m.cli == nil {
		m.cli = sbi.NewCLIDriver(m.dev.DeviceInfo)
	}
	return nil
}

func (m *mellanoxDriver) RetrieveInfo() error {
	if err := m.retrieveVlans(); err != nil {
		return err
	}
	if err := m.retrievePorts(); err != nil {
		return err
	}
	m.buildSyntheticVrf()
	if err := m.retrieveConfig(); err != nil {
		return err
	}
	return m.retrieveNeighbors()
}

func (m *mellanoxDriver) retrieveConfig() error {
	cfg, err := m.cli.GetInfo("show configuration")
	if err != nil {
		return err
	}
	m.dev.StoreConfig(cfg)
	return nil
}

func (m *mellanoxDriver) retrieveVlans() error {
	nodes, err := m.xg.Post(sbi.GetNodes(mlnxTreeRoot+"/vlans/%s", "*"))
	if err != nil {
		return err
	}
	for _, node := range nodes {
		if node.Value == "" {
			continue
		}
		vid, err := strconv.Atoi(node.Value)
		if err != nil {
			return fmt.Errorf("%w: bad vlan node value %q", util.ErrMisconfigured, node.Value)
		}
		m.dev.Vlans = append(m.dev.Vlans, vid)
	}
	return nil
}

// retrievePorts walks the interface subtree: one pass to enumerate the
// interface indexes, a multi-node request for their attributes, then
// per-port VLAN membership and per-VLAN-interface addressing.
func (m *mellanoxDriver) retrievePorts() error {
	indexNodes, err := m.xg.Post(sbi.GetNodes(mlnxTreeRoot+"/interfaces/%s", "*"))
	if err != nil {
		return err
	}
	var indexes []string
	for _, node := range indexNodes {
		if node.Value != "" {
			indexes = append(indexes, node.Value)
		}
	}

	attrNodes, err := m.xg.Post(sbi.GetNodes(mlnxTreeRoot+"/interfaces/%s/*", indexes...))
	if err != nil {
		return err
	}

	type portInfo struct {
		index       string
		ifType      string
		location    string
		status      model.LinkState
		adminStatus model.AdminState
		speed       int
		description string
	}
	ports := map[string]*portInfo{}
	order := []string{}

	info := func(index string) *portInfo {
		p, ok := ports[index]
		if !ok {
			p = &portInfo{index: index, status: model.LinkNA, adminStatus: model.AdminNA}
			ports[index] = p
			order = append(order, index)
		}
		return p
	}

	for _, node := range attrNodes {
		parts := strings.Split(node.Name, "/")
		if len(parts) < 8 {
			continue
		}
		index, attr := parts[6], parts[7]
		p := info(index)
		switch attr {
		case "type":
			p.ifType = node.Value
		case "physical_location":
			p.location = node.Value
		case "enabled":
			if node.Value == "true" {
				p.adminStatus = model.AdminEnabled
			} else {
				p.adminStatus = model.AdminDisabled
			}
		case "operational_state":
			if node.Value == "Up" {
				p.status = model.LinkUp
			} else {
				p.status = model.LinkDown
			}
		case "actual_speed":
			if v, err := strconv.Atoi(node.Value); err == nil {
				p.speed = v
			}
		case "description":
			p.description = node.Value
		}
	}

	for _, index := range order {
		p := ports[index]
		switch p.ifType {
		case "eth", "splitter":
			port := model.PhyPort{
				Index:       p.index,
				Name:        "Eth" + p.location,
				Duplex:      "NA",
				Mode:        model.ModeNA,
				Speed:       p.speed,
				Status:      p.status,
				AdminStatus: p.adminStatus,
			}
			if err := m.retrievePortVlans(&port); err != nil {
				return err
			}
			m.dev.PhyPorts = append(m.dev.PhyPorts, port)
		case "vlan":
			itf := model.VlanL3Port{
				Index:       p.index,
				Name:        p.location,
				Vrf:         "vsr-default",
				Description: p.description,
			}
			fields := strings.Fields(p.location)
			if len(fields) > 0 {
				if vid, err := strconv.Atoi(fields[len(fields)-1]); err == nil {
					itf.Vlan = vid
				}
			}
			if err := m.retrieveVlanInterfaceIP(&itf); err != nil {
				return err
			}
			m.dev.VlanL3Ports = append(m.dev.VlanL3Ports, itf)
		default:
			util.WithDevice(m.dev.Name).Warnf(
				"unclassified interface with index %s and type %s", p.index, p.ifType)
		}
	}
	return nil
}

func (m *mellanoxDriver) retrievePortVlans(port *model.PhyPort) error {
	nodes, err := m.xg.Post(sbi.GetNodes(mlnxTreeRoot+"/interfaces/%s/vlans/**", port.Index))
	if err != nil {
		return err
	}
	for _, node := range nodes {
		switch {
		case strings.Contains(node.Name, "/"+port.Index+"/vlans/allowed/"):
			if vid, err := strconv.Atoi(node.Value); err == nil {
				port.TrunkVlans = append(port.TrunkVlans, vid)
			}
		case strings.Contains(node.Name, "/"+port.Index+"/vlans/mode"):
			port.Mode = model.LinkMode(strings.ToUpper(node.Value))
		case strings.Contains(node.Name, "/"+port.Index+"/vlans/pvid"):
			if vid, err := strconv.Atoi(node.Value); err == nil {
				port.AccessVlan = vid
			}
		}
	}
	return nil
}

func (m *mellanoxDriver) retrieveVlanInterfaceIP(itf *model.VlanL3Port) error {
	nodes, err := m.xg.Post(sbi.GetNodes(mlnxTreeRoot+"/interfaces/%s/ipv4/**", itf.Index))
	if err != nil {
		return err
	}
	var address, netmask string
	for _, node := range nodes {
		switch {
		case strings.Contains(node.Name, "/"+itf.Index+"/ipv4/ip_address"):
			if node.Value != "0.0.0.0" {
				address = node.Value
			}
		case strings.Contains(node.Name, "/"+itf.Index+"/ipv4/net_mask"):
			netmask = node.Value
		}
	}
	if address != "" && netmask != "" {
		itf.IPAddress = address
		if prefixLen, err := util.DottedToPrefixLen(netmask); err == nil {
			itf.CIDR = fmt.Sprintf("%s/%d", address, prefixLen)
		}
	}
	return nil
}

// buildSyntheticVrf exposes the L3 interfaces through the single implicit
// routing table of the family.
func (m *mellanoxDriver) buildSyntheticVrf() {
	m.dev.Vrfs = []model.Vrf{{
		Name:        "vsr-default",
		RD:          "vsr-default",
		Description: "implicit routing instance",
		Ports:       m.dev.VlanL3Ports,
	}}
}

func (m *mellanoxDriver) retrieveNeighbors() error {
	out, err := m.cli.GetInfo("show lldp remote")
	if err != nil {
		return err
	}
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) < 4 || !strings.HasPrefix(fields[0], "Eth") {
			continue
		}
		port := m.dev.GetPortByName(fields[0])
		if port == nil {
			continue
		}
		port.Neighbor = &model.LldpNeighbor{
			Neighbor:        fields[len(fields)-1],
			RemoteInterface: fields[2],
		}
	}
	return nil
}

// ============================================================================
// Mutations
// ============================================================================

func (m *mellanoxDriver) AddVlan(vids []int) error {
	ids := make([]string, len(vids))
	for i, vid := range vids {
		ids[i] = strconv.Itoa(vid)
	}
	_, err := m.xg.Post(sbi.ActionNodes(mlnxTreeRoot+"/vlans/add|vlan_id=%s", ids...))
	return err
}

func (m *mellanoxDriver) DelVlan(vids []int) error {
	ids := make([]string, len(vids))
	for i, vid := range vids {
		ids[i] = strconv.Itoa(vid)
	}
	_, err := m.xg.Post(sbi.ActionNodes(mlnxTreeRoot+"/vlans/delete|vlan_id=%s", ids...))
	return err
}

func (m *mellanoxDriver) AddVlanToPort(vid int, port *model.PhyPort, pvid bool) error {
	if pvid {
		if port.Mode == model.ModeTrunk {
			return util.NewPreconditionError("add_vlan_to_port", m.dev.Name,
				"pvid cannot be set in TRUNK mode", "switch the port to HYBRID first")
		}
		_, err := m.xg.Post(sbi.ActionNodes(
			mlnxTreeRoot+"/interfaces/"+port.Index+"/vlans/pvid=%s", strconv.Itoa(vid)))
		return err
	}
	if port.Mode == model.ModeAccess {
		return util.NewPreconditionError("add_vlan_to_port", m.dev.Name,
			"tagged vlans cannot be added in ACCESS mode", "switch the port to TRUNK or HYBRID first")
	}
	_, err := m.xg.Post(sbi.ActionNodes(
		mlnxTreeRoot+"/interfaces/"+port.Index+"/vlans/allowed/add|vlan_ids=%s", strconv.Itoa(vid)))
	return err
}

func (m *mellanoxDriver) DelVlanToPort(vids []int, port *model.PhyPort) error {
	ids := make([]string, len(vids))
	for i, vid := range vids {
		ids[i] = strconv.Itoa(vid)
	}
	_, err := m.xg.Post(sbi.ActionNodes(
		mlnxTreeRoot+"/interfaces/"+port.Index+"/vlans/allowed/delete|vlan_ids=%s", ids...))
	return err
}

func (m *mellanoxDriver) SetPortMode(port *model.PhyPort, mode model.LinkMode) error {
	_, err := m.xg.Post(sbi.ActionNodes(
		mlnxTreeRoot+"/interfaces/"+port.Index+"/vlans/mode=%s", strings.ToLower(string(mode))))
	return err
}

func (m *mellanoxDriver) AddVlanToVrf(_ *model.Vrf, req model.VlanInterfaceRequest) error {
	if _, err := m.xg.Post(sbi.ActionNodes(
		mlnxTreeRoot+"/vlans/%s/create_vlan_interface", strconv.Itoa(req.Vlan))); err != nil {
		return err
	}
	prefixLen := 24
	if idx := strings.IndexByte(req.CIDR, '/'); idx >= 0 {
		if v, err := strconv.Atoi(req.CIDR[idx+1:]); err == nil {
			prefixLen = v
		}
	}
	_, err := m.xg.Post(sbi.ActionNodes(
		fmt.Sprintf("%s/interfaces/vlan %d/ipv4/address|ip=%%s,mask=%s",
			mlnxTreeRoot, req.Vlan, util.MaskToDotted(prefixLen)), req.IPAddress))
	return err
}

func (m *mellanoxDriver) DelVlanToVrf(_ *model.Vrf, itf *model.VlanL3Port) error {
	_, err := m.xg.Post(sbi.ActionNodes(
		mlnxTreeRoot+"/interfaces/%s/delete", itf.Index))
	return err
}

func (m *mellanoxDriver) vrfUnsupported(operation string) error {
	return util.NewPreconditionError(operation, m.dev.Name,
		"device family supports no VRFs", "")
}

func (m *mellanoxDriver) AddVrf(model.VrfRequest) error   { return m.vrfUnsupported("add_vrf") }
func (m *mellanoxDriver) DelVrf(*model.Vrf) error         { return m.vrfUnsupported("del_vrf") }
func (m *mellanoxDriver) BindVrf(_, _ *model.Vrf) error   { return m.vrfUnsupported("bind_vrf") }
func (m *mellanoxDriver) UnbindVrf(_, _ *model.Vrf) error { return m.vrfUnsupported("unbind_vrf") }

func (m *mellanoxDriver) AddStaticRoute(vrf *model.Vrf, route model.IPv4Route) error {
	_, err := m.cli.SendCommands([]string{
		"enable",
		"configure terminal",
		fmt.Sprintf("ip route %s %s", route.Prefix, route.Nexthop),
		"exit",
	})
	return err
}

func (m *mellanoxDriver) DelStaticRoute(vrf *model.Vrf, route model.IPv4Route) error {
	_, err := m.cli.SendCommands([]string{
		"enable",
		"configure terminal",
		fmt.Sprintf("no ip route %s %s", route.Prefix, route.Nexthop),
		"exit",
	})
	return err
}

func (m *mellanoxDriver) AddBgpInstance(model.VrfRequest) error {
	return m.vrfUnsupported("add_bgp_instance")
}
func (m *mellanoxDriver) DelBgpInstance(*model.Vrf) error {
	return m.vrfUnsupported("del_bgp_instance")
}
func (m *mellanoxDriver) AddBgpPeer(model.BGPNeighbor, *model.Vrf) error {
	return m.vrfUnsupported("add_bgp_peer")
}
func (m *mellanoxDriver) DelBgpPeer(model.BGPNeighbor, *model.Vrf) error {
	return m.vrfUnsupported("del_bgp_peer")
}

func (m *mellanoxDriver) CommitAndSave() error {
	_, err := m.cli.SendCommands([]string{"enable", "configuration write"})
	return err
}
