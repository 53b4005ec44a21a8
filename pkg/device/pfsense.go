package device

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/robertobru/netcl/pkg/model"
	"github.com/robertobru/netcl/pkg/sbi"
	"github.com/robertobru/netcl/pkg/util"
)

// pfsenseDriver drives the pfSense-style firewall: the REST API for
// interfaces, VLAN subinterfaces, and interface groups; FRR vtysh over SSH
// for BGP, which only exists in the default VRF. L3 interfaces are
// identified by synthetic assignment keys (wan, lan, opt1, ...).
type pfsenseDriver struct {
	dev  *Device
	rest *sbi.RESTDriver
	ssh  *sbi.RawSSHDriver
	opts AdapterOptions
}

func newPfSenseDriver(d *Device, opts AdapterOptions) FirewallDriver {
	return &pfsenseDriver{dev: d, opts: opts}
}

func (p *pfsenseDriver) InitDrivers() error {
	if p.rest == nil {
		p.rest = sbi.NewRESTDriver(p.dev.DeviceInfo, sbi.RESTOptions{
			BasePath:      "api/v2",
			SkipTLSVerify: p.opts.SkipTLSVerify,
		})
	}
	if p.ssh == nil {
		p.ssh = sbi.NewRawSSHDriver(p.dev.DeviceInfo)
	}
	return nil
}

// ============================================================================
// REST message shapes
// ============================================================================

type pfInterface struct {
	If     string `json:"if"`
	Descr  string `json:"descr"`
	IPAddr string `json:"ipaddr"`
	Subnet string `json:"subnet"`
	Enable bool   `json:"enable"`
}

type pfAvailableInterface struct {
	If     string `json:"if"`
	IsVlan bool   `json:"isvlan"`
	Tag    int    `json:"tag"`
	VlanIf string `json:"vlanif"`
	Up     bool   `json:"up"`
}

type pfInterfaceGroup struct {
	IfName  string `json:"ifname"`
	Descr   string `json:"descr"`
	Members string `json:"members"`
}

type pfVlan struct {
	ID    string `json:"id"`
	If    string `json:"if"`
	Tag   int    `json:"tag"`
	Descr string `json:"descr"`
}

func (p *pfsenseDriver) RetrieveInfo() error {
	if err := p.retrieveData(); err != nil {
		return err
	}
	return p.retrieveConfig()
}

func (p *pfsenseDriver) retrieveConfig() error {
	var cfg map[string]json.RawMessage
	if err := p.rest.Get("system/config", &cfg); err != nil {
		return err
	}
	// rrddata is multi-megabyte graph history; it would churn every
	// snapshot.
	delete(cfg, "rrddata")
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("serializing firewall config: %w", err)
	}
	p.dev.StoreConfig(string(raw))
	return nil
}

func (p *pfsenseDriver) retrieveData() error {
	var available map[string]pfAvailableInterface
	if err := p.rest.Get("interface/available", &available); err != nil {
		return err
	}
	for name, item := range available {
		if item.IsVlan {
			continue
		}
		status := model.LinkDown
		if item.Up {
			status = model.LinkUp
		}
		p.dev.PhyPorts = append(p.dev.PhyPorts, model.PhyPort{
			Index:       name,
			Name:        name,
			Duplex:      "NA",
			Mode:        model.ModeNA,
			Status:      status,
			AdminStatus: model.AdminEnabled,
		})
	}

	var assigned map[string]pfInterface
	if err := p.rest.Get("interface", &assigned); err != nil {
		return err
	}
	for key, itf := range assigned {
		vlan := 1
		if avail, ok := available[itf.If]; ok && avail.IsVlan {
			vlan = avail.Tag
			parentName := strings.SplitN(avail.VlanIf, ".", 2)[0]
			parent := p.dev.GetPortByName(parentName)
			if parent == nil {
				return fmt.Errorf("%w: vlan interface %q references unknown parent %q",
					util.ErrMisconfigured, avail.VlanIf, parentName)
			}
			if !util.ContainsInt(parent.TrunkVlans, vlan) {
				parent.TrunkVlans = append(parent.TrunkVlans, vlan)
			}
			if !util.ContainsInt(p.dev.Vlans, vlan) {
				p.dev.Vlans = append(p.dev.Vlans, vlan)
			}
		}

		port := model.VlanL3Port{
			Index: key,
			Name:  itf.Descr,
			Vlan:  vlan,
			Vrf:   model.DefaultVrfName,
		}
		if itf.IPAddr != "" {
			port.IPAddress = itf.IPAddr
			port.CIDR = fmt.Sprintf("%s/%s", itf.IPAddr, itf.Subnet)
		}
		p.dev.VlanL3Ports = append(p.dev.VlanL3Ports, port)
	}

	for i := range p.dev.PhyPorts {
		if len(p.dev.PhyPorts[i].TrunkVlans) > 0 {
			p.dev.PhyPorts[i].Mode = model.ModeTrunk
		}
	}

	p.dev.Vrfs = []model.Vrf{{
		Name:        model.DefaultVrfName,
		RD:          model.DefaultVrfName,
		Description: "Default VRF",
		Ports:       p.dev.VlanL3Ports,
	}}

	return p.retrieveRouting()
}

func (p *pfsenseDriver) retrieveRouting() error {
	res, err := p.ssh.SendCommands([]string{`vtysh -c "show running-config"`}, false)
	if err != nil {
		return err
	}
	frrCfg, err := sbi.ParseFrrConfig(res[0].Stdout)
	if err != nil {
		return fmt.Errorf("%w: %v", util.ErrMisconfigured, err)
	}
	defaultVrf := p.dev.GetVrfByName(model.DefaultVrfName)
	if router := frrCfg.Router(model.DefaultVrfName); router != nil {
		defaultVrf.Protocols = model.RoutingProtocols{BGP: &model.BGPInstance{
			ASNumber:        router.ASNumber,
			RouterID:        router.RouterID,
			Neighbors:       router.Neighbors,
			AddressFamilies: router.AddressFamilies,
		}}
	}
	defaultVrf.Routes = frrCfg.StaticRoutes[model.DefaultVrfName]
	return nil
}

// ============================================================================
// Mutations
// ============================================================================

func (p *pfsenseDriver) AddVlan(vids []int) error {
	// Bare VLANs carry no meaning on the firewall: they materialize when a
	// subinterface is created on a port.
	return nil
}

func (p *pfsenseDriver) DelVlan(vids []int) error {
	return nil
}

func (p *pfsenseDriver) AddVlanToPort(vid int, port *model.PhyPort, _ bool) error {
	body := map[string]interface{}{
		"if":    port.Name,
		"tag":   vid,
		"descr": fmt.Sprintf("vlan %d", vid),
	}
	return p.rest.Post("interface/vlan", body, nil)
}

func (p *pfsenseDriver) DelVlanToPort(vids []int, port *model.PhyPort) error {
	var vlans []pfVlan
	if err := p.rest.Get("interface/vlan", &vlans); err != nil {
		return err
	}
	for _, vid := range vids {
		for _, row := range vlans {
			if row.If == port.Name && row.Tag == vid {
				if err := p.rest.Delete("interface/vlan?id=" + row.ID); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// SetPortMode is a no-op: firewall ports carry tagged subinterfaces only.
func (p *pfsenseDriver) SetPortMode(_ *model.PhyPort, _ model.LinkMode) error {
	return nil
}

func (p *pfsenseDriver) AddVlanToVrf(vrf *model.Vrf, req model.VlanInterfaceRequest) error {
	return util.NewPreconditionError("add_vlan_to_vrf", p.dev.Name,
		"firewall interfaces are created with add_l3port_to_vrf", "")
}

func (p *pfsenseDriver) DelVlanToVrf(_ *model.Vrf, itf *model.VlanL3Port) error {
	return p.rest.Delete("interface?id=" + itf.Index)
}

func (p *pfsenseDriver) vrfUnsupported(operation string) error {
	return util.NewPreconditionError(operation, p.dev.Name,
		"firewall supports the default VRF only", "")
}

func (p *pfsenseDriver) AddVrf(model.VrfRequest) error   { return p.vrfUnsupported("add_vrf") }
func (p *pfsenseDriver) DelVrf(*model.Vrf) error         { return p.vrfUnsupported("del_vrf") }
func (p *pfsenseDriver) BindVrf(_, _ *model.Vrf) error   { return p.vrfUnsupported("bind_vrf") }
func (p *pfsenseDriver) UnbindVrf(_, _ *model.Vrf) error { return p.vrfUnsupported("unbind_vrf") }

func (p *pfsenseDriver) AddStaticRoute(vrf *model.Vrf, route model.IPv4Route) error {
	_, err := p.ssh.SendCommands([]string{sbi.FrrAddStaticRouteCmd(route, model.DefaultVrfName)}, false)
	return err
}

func (p *pfsenseDriver) DelStaticRoute(vrf *model.Vrf, route model.IPv4Route) error {
	_, err := p.ssh.SendCommands([]string{sbi.FrrDelStaticRouteCmd(route, model.DefaultVrfName)}, false)
	return err
}

func (p *pfsenseDriver) AddBgpInstance(req model.VrfRequest) error {
	if req.Name != model.DefaultVrfName {
		return p.vrfUnsupported("add_bgp_instance")
	}
	bgp := req.Protocols.BGP
	cmd := sbi.FrrAddBgpInstanceCmd(model.DefaultVrfName, bgp.ASNumber, bgp.RouterID, bgp.AddressFamilies)
	if _, err := p.ssh.SendCommands([]string{cmd}, false); err != nil {
		return err
	}
	for _, peer := range bgp.Neighbors {
		if _, err := p.ssh.SendCommands(
			[]string{sbi.FrrAddBgpPeerCmd(peer, model.DefaultVrfName, bgp.ASNumber)}, false); err != nil {
			return err
		}
	}
	return nil
}

func (p *pfsenseDriver) DelBgpInstance(vrf *model.Vrf) error {
	if vrf.Name != model.DefaultVrfName {
		return p.vrfUnsupported("del_bgp_instance")
	}
	cmd := sbi.FrrDelBgpInstanceCmd(model.DefaultVrfName, vrf.Protocols.BGP.ASNumber)
	_, err := p.ssh.SendCommands([]string{cmd}, false)
	return err
}

func (p *pfsenseDriver) AddBgpPeer(peer model.BGPNeighbor, vrf *model.Vrf) error {
	asNumber := 1000
	if vrf.Protocols.BGP != nil {
		asNumber = vrf.Protocols.BGP.ASNumber
	}
	_, err := p.ssh.SendCommands([]string{sbi.FrrAddBgpPeerCmd(peer, model.DefaultVrfName, asNumber)}, false)
	return err
}

func (p *pfsenseDriver) DelBgpPeer(peer model.BGPNeighbor, vrf *model.Vrf) error {
	asNumber := 1000
	if vrf.Protocols.BGP != nil {
		asNumber = vrf.Protocols.BGP.ASNumber
	}
	_, err := p.ssh.SendCommands([]string{sbi.FrrDelBgpPeerCmd(peer, model.DefaultVrfName, asNumber)}, false)
	return err
}

func (p *pfsenseDriver) CommitAndSave() error {
	// The REST API applies and persists each change; FRR writes memory in
	// every vtysh batch.
	return nil
}

// ============================================================================
// Firewall-specific surface
// ============================================================================

// AddL3PortToVrf creates the VLAN subinterface and assigns it as a new
// firewall interface with a static address.
func (p *pfsenseDriver) AddL3PortToVrf(vrf *model.Vrf, req model.FirewallL3PortRequest) error {
	if vrf.Name != model.DefaultVrfName {
		return p.vrfUnsupported("add_l3port_to_vrf")
	}

	parent := p.dev.GetPortByName(req.Interface)
	if parent == nil {
		return util.NewPreconditionError("add_l3port_to_vrf", p.dev.Name,
			"parent interface must exist", req.Interface)
	}
	if !parent.HasVlan(req.Vlan) {
		util.WithDevice(p.dev.Name).Warnf("vlan %d not configured on port %s, adding it",
			req.Vlan, parent.Name)
		if err := p.AddVlanToPort(req.Vlan, parent, false); err != nil {
			return err
		}
	}

	prefixLen := 24
	if idx := strings.IndexByte(req.CIDR, '/'); idx >= 0 {
		if v, err := strconv.Atoi(req.CIDR[idx+1:]); err == nil {
			prefixLen = v
		}
	}
	body := map[string]interface{}{
		"if":       fmt.Sprintf("%s.%d", req.Interface, req.Vlan),
		"ipaddr":   req.IPAddress,
		"subnet":   prefixLen,
		"descr":    req.Description,
		"type":     "staticv4",
		"spoofmac": "",
		"enable":   true,
		"apply":    true,
	}
	return p.rest.Post("interface", body, nil)
}

func (p *pfsenseDriver) groupByName(name string) (*pfInterfaceGroup, error) {
	var groups []pfInterfaceGroup
	if err := p.rest.Get("interface/group", &groups); err != nil {
		return nil, err
	}
	for i := range groups {
		if groups[i].IfName == name {
			return &groups[i], nil
		}
	}
	return nil, nil
}

// interfaceKeyForVlan resolves the synthetic assignment key (opt*) of the
// interface created for a VLAN subinterface.
func (p *pfsenseDriver) interfaceKeyForVlan(req model.FirewallL3PortRequest) (string, error) {
	var assigned map[string]pfInterface
	if err := p.rest.Get("interface", &assigned); err != nil {
		return "", err
	}
	target := fmt.Sprintf("%s.%d", req.Interface, req.Vlan)
	for key, itf := range assigned {
		if itf.If == target {
			return key, nil
		}
	}
	return "", fmt.Errorf("%w: no interface assignment for %s", util.ErrMisconfigured, target)
}

// AddPortToGroup adds the interface backing the request to the named
// interface group, creating the group when missing.
func (p *pfsenseDriver) AddPortToGroup(req model.FirewallL3PortRequest, group string) error {
	key, err := p.interfaceKeyForVlan(req)
	if err != nil {
		return err
	}
	existing, err := p.groupByName(group)
	if err != nil {
		return err
	}
	if existing == nil {
		body := map[string]interface{}{
			"ifname":  group,
			"descr":   "managed by netcl",
			"members": key,
		}
		return p.rest.Post("interface/group", body, nil)
	}
	members := strings.Fields(existing.Members)
	if contains(members, key) {
		return nil
	}
	members = append(members, key)
	body := map[string]interface{}{
		"ifname":  group,
		"members": strings.Join(members, " "),
	}
	return p.rest.Patch("interface/group?id="+group, body, nil)
}

// DelPortFromGroup removes the interface backing the request from the
// named interface group.
func (p *pfsenseDriver) DelPortFromGroup(req model.FirewallL3PortRequest, group string) error {
	key, err := p.interfaceKeyForVlan(req)
	if err != nil {
		return err
	}
	existing, err := p.groupByName(group)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}
	members := removeString(strings.Fields(existing.Members), key)
	body := map[string]interface{}{
		"ifname":  group,
		"members": strings.Join(members, " "),
	}
	return p.rest.Patch("interface/group?id="+group, body, nil)
}
