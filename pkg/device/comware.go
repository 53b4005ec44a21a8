package device

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"github.com/robertobru/netcl/pkg/model"
	"github.com/robertobru/netcl/pkg/sbi"
	"github.com/robertobru/netcl/pkg/util"
)

// comwareDriver drives comware-style CLI switches over SSH. Inventory comes
// from "display" commands parsed line-wise; mutations are configuration
// command lists closed by "save force".
type comwareDriver struct {
	dev *Device
	cli *sbi.CLIDriver
}

func newComwareDriver(d *Device, _ AdapterOptions) Driver {
	return &comwareDriver{dev: d}
}

func (c *comwareDriver) InitDrivers() error {
	if c.cli == nil {
		c.cli = sbi.NewCLIDriver(c.dev.DeviceInfo)
	}
	return nil
}

func (c *comwareDriver) RetrieveInfo() error {
	if err := c.retrieveConfig(); err != nil {
		return err
	}
	if err := c.parseConfig(c.dev.GetLastConfig()); err != nil {
		return err
	}
	if err := c.retrieveRuntimePorts(); err != nil {
		return err
	}
	if err := c.retrieveBgpPeerStatus(); err != nil {
		return err
	}
	if err := c.retrieveNeighbors(); err != nil {
		return err
	}
	util.WithDevice(c.dev.Name).Info("retrieved all the information for the switch")
	return nil
}

func (c *comwareDriver) retrieveConfig() error {
	cfg, err := c.cli.GetInfo("display current-configuration")
	if err != nil {
		return err
	}
	c.dev.StoreConfig(cfg)
	return nil
}

// sendConfig runs configuration commands in one session, entering
// system-view first and saving at the end.
func (c *comwareDriver) sendConfig(commands []string) error {
	script := append([]string{"system-view"}, commands...)
	if !strings.Contains(script[len(script)-1], "save") {
		script = append(script, "save force")
	}
	_, err := c.cli.SendCommands([]string{strings.Join(script, "\n")})
	return err
}

// portByShortName resolves the abbreviated interface names used by brief
// and LLDP outputs into the full port index.
func (c *comwareDriver) portByShortName(short string) (*model.PhyPort, error) {
	var full string
	switch {
	case strings.HasPrefix(short, "M-GE"):
		full = "M-GigabitEthernet" + short[4:]
	case strings.HasPrefix(short, "XGE"):
		full = "Ten-GigabitEthernet" + short[3:]
	case strings.HasPrefix(short, "FGE"):
		full = "FortyGigE" + short[3:]
	case strings.HasPrefix(short, "GE"):
		full = "GigabitEthernet" + short[2:]
	default:
		full = short
	}
	port := c.dev.GetPortByName(full)
	if port == nil {
		return nil, fmt.Errorf("%w: interface %q not found", util.ErrMisconfigured, short)
	}
	return port, nil
}

// retrieveRuntimePorts parses "display interface brief" for link state,
// speed, and duplex.
func (c *comwareDriver) retrieveRuntimePorts() error {
	out, err := c.cli.GetInfo("display interface brief")
	if err != nil {
		return err
	}
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		if !strings.HasPrefix(fields[0], "GE") && !strings.HasPrefix(fields[0], "XGE") &&
			!strings.HasPrefix(fields[0], "FGE") && !strings.HasPrefix(fields[0], "M-GE") {
			continue
		}
		port, err := c.portByShortName(fields[0])
		if err != nil {
			util.WithDevice(c.dev.Name).Warnf("interface brief: %v", err)
			continue
		}

		link := fields[1]
		if link == "ADM" {
			port.Status = model.LinkDown
			port.AdminStatus = model.AdminDisabled
		} else {
			port.Status = model.LinkState(link)
			port.AdminStatus = model.AdminEnabled
		}

		if port.Status == model.LinkDown {
			port.Speed = 0
		} else {
			port.Speed = parseComwareSpeed(fields[2])
		}

		switch {
		case strings.HasPrefix(fields[3], "F"):
			port.Duplex = "FULL"
		case strings.HasPrefix(fields[3], "H"):
			port.Duplex = "HALF"
		}
	}
	return nil
}

// parseComwareSpeed converts "1G(a)", "10G", "100M" into Mb/s.
func parseComwareSpeed(raw string) int {
	raw = strings.TrimSuffix(raw, "(a)")
	multiplier := 1
	switch {
	case strings.HasSuffix(raw, "G"):
		multiplier = 1000
		raw = strings.TrimSuffix(raw, "G")
	case strings.HasSuffix(raw, "M"):
		raw = strings.TrimSuffix(raw, "M")
	default:
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return v * multiplier
}

// parseConfig walks the running configuration and rebuilds interfaces,
// VLANs, VRFs, and the BGP sections.
func (c *comwareDriver) parseConfig(cfg string) error {
	var currentPort *model.PhyPort
	var currentVlanItf *model.VlanL3Port
	var currentVrf *model.Vrf

	for _, raw := range strings.Split(cfg, "\n") {
		line := strings.TrimRight(raw, "\r")
		trimmed := strings.TrimSpace(line)
		parts := strings.Fields(trimmed)
		if trimmed == "" || trimmed == "#" {
			currentPort, currentVlanItf, currentVrf = nil, nil, nil
			continue
		}

		switch {
		case strings.HasPrefix(trimmed, "interface Vlan-interface"):
			vid, err := strconv.Atoi(strings.TrimPrefix(trimmed, "interface Vlan-interface"))
			if err != nil {
				return fmt.Errorf("%w: bad vlan interface line %q", util.ErrMisconfigured, trimmed)
			}
			c.dev.VlanL3Ports = append(c.dev.VlanL3Ports, model.VlanL3Port{
				Index: strings.TrimPrefix(trimmed, "interface "),
				Name:  strings.TrimPrefix(trimmed, "interface "),
				Vlan:  vid,
			})
			currentVlanItf = &c.dev.VlanL3Ports[len(c.dev.VlanL3Ports)-1]

		case strings.HasPrefix(trimmed, "interface "):
			name := parts[1]
			c.dev.PhyPorts = append(c.dev.PhyPorts, model.PhyPort{
				Index:       name,
				Name:        name,
				Mode:        model.ModeAccess,
				AccessVlan:  1,
				Duplex:      "NA",
				Status:      model.LinkNA,
				AdminStatus: model.AdminNA,
			})
			currentPort = &c.dev.PhyPorts[len(c.dev.PhyPorts)-1]

		// vpn-instance definitions sit at column zero; the indented ones
		// inside the bgp section belong to parseBgpConfig.
		case strings.HasPrefix(line, "ip vpn-instance "):
			c.dev.Vrfs = append(c.dev.Vrfs, model.Vrf{Name: parts[2]})
			currentVrf = &c.dev.Vrfs[len(c.dev.Vrfs)-1]

		case strings.HasPrefix(line, "vlan "):
			vlans, err := util.ExpandCLIVLANRange(strings.TrimPrefix(trimmed, "vlan "))
			if err != nil {
				return fmt.Errorf("%w: %v", util.ErrMisconfigured, err)
			}
			c.dev.Vlans = append(c.dev.Vlans, vlans...)

		case currentVrf != nil:
			switch {
			case strings.HasPrefix(trimmed, "route-distinguisher "):
				currentVrf.RD = parts[1]
			case strings.HasPrefix(trimmed, "description "):
				currentVrf.Description = strings.TrimPrefix(trimmed, "description ")
			case strings.HasPrefix(trimmed, "vpn-target ") && strings.Contains(trimmed, "export-extcommunity"):
				currentVrf.RDExport = append(currentVrf.RDExport, parts[1])
			case strings.HasPrefix(trimmed, "vpn-target ") && strings.Contains(trimmed, "import-extcommunity"):
				currentVrf.RDImport = append(currentVrf.RDImport, parts[1])
			}

		case currentVlanItf != nil:
			switch {
			case strings.HasPrefix(trimmed, "ip binding vpn-instance "):
				currentVlanItf.Vrf = parts[3]
			case strings.HasPrefix(trimmed, "ip address "):
				currentVlanItf.IPAddress = parts[2]
				if prefixLen, err := util.DottedToPrefixLen(parts[3]); err == nil {
					currentVlanItf.CIDR = fmt.Sprintf("%s/%d", parts[2], prefixLen)
				}
			case strings.HasPrefix(trimmed, "description "):
				currentVlanItf.Description = strings.TrimPrefix(trimmed, "description ")
			}

		case currentPort != nil:
			switch {
			case strings.HasPrefix(trimmed, "port link-type "):
				currentPort.Mode = model.LinkMode(strings.ToUpper(parts[2]))
				if currentPort.Mode != model.ModeAccess {
					currentPort.AccessVlan = 0
				}
			case strings.HasPrefix(trimmed, "port access vlan "):
				if v, err := strconv.Atoi(parts[3]); err == nil {
					currentPort.AccessVlan = v
				}
			case strings.HasPrefix(trimmed, "port trunk permit vlan "),
				strings.HasPrefix(trimmed, "port hybrid vlan "):
				spec := strings.TrimPrefix(trimmed, "port trunk permit vlan ")
				spec = strings.TrimPrefix(spec, "port hybrid vlan ")
				vlans, err := util.ExpandCLIVLANRange(spec)
				if err != nil {
					return fmt.Errorf("%w: %v", util.ErrMisconfigured, err)
				}
				currentPort.TrunkVlans = append(currentPort.TrunkVlans, vlans...)
			}
		}
	}

	// The default VRF is implicit; VLAN interfaces without a vpn-instance
	// binding belong to it.
	c.dev.Vrfs = append(c.dev.Vrfs, model.Vrf{Name: model.DefaultVrfName, RD: model.DefaultVrfName})
	for i := range c.dev.Vrfs {
		vrf := &c.dev.Vrfs[i]
		for _, itf := range c.dev.VlanL3Ports {
			switch {
			case itf.Vrf == vrf.Name:
				vrf.Ports = append(vrf.Ports, itf)
			case itf.Vrf == "" && vrf.Name == model.DefaultVrfName:
				vrf.Ports = append(vrf.Ports, itf)
			}
		}
	}

	return c.parseBgpConfig(cfg)
}

// parseBgpConfig extracts the BGP sections of the running configuration:
// the default-VRF instance and the per-vpn-instance blocks nested in it.
func (c *comwareDriver) parseBgpConfig(cfg string) error {
	var localAS int
	inBgpSection := false
	var currentVrf *model.Vrf
	var currentAF *model.BGPAddressFamily

	ensureBGP := func(vrf *model.Vrf) *model.BGPInstance {
		if vrf.Protocols.BGP == nil {
			vrf.Protocols.BGP = &model.BGPInstance{ASNumber: localAS}
		}
		return vrf.Protocols.BGP
	}

	defaultVrf := c.dev.GetVrfByName(model.DefaultVrfName)

	for _, raw := range strings.Split(cfg, "\n") {
		line := strings.TrimRight(raw, "\r")
		trimmed := strings.TrimSpace(line)
		parts := strings.Fields(trimmed)
		if trimmed == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "bgp ") && !inBgpSection:
			inBgpSection = true
			v, err := strconv.Atoi(parts[1])
			if err != nil {
				return fmt.Errorf("%w: bad bgp AS line %q", util.ErrMisconfigured, trimmed)
			}
			localAS = v
			ensureBGP(defaultVrf)

		case !inBgpSection:
			continue

		case trimmed == "#":
			inBgpSection = false
			currentVrf, currentAF = nil, nil

		case strings.HasPrefix(trimmed, "ip vpn-instance "):
			currentVrf = c.dev.GetVrfByName(parts[2])
			currentAF = nil
			if currentVrf == nil {
				return fmt.Errorf("%w: bgp references unknown vpn-instance %q", util.ErrMisconfigured, parts[2])
			}
			ensureBGP(currentVrf)

		case strings.HasPrefix(trimmed, "peer ") && len(parts) >= 4 && parts[2] == "as-number":
			target := defaultVrf
			if currentVrf != nil {
				target = currentVrf
			}
			remoteAS, err := strconv.Atoi(parts[3])
			if err != nil {
				return fmt.Errorf("%w: bad peer line %q", util.ErrMisconfigured, trimmed)
			}
			bgp := ensureBGP(target)
			if bgp.Neighbor(parts[1]) == nil {
				bgp.Neighbors = append(bgp.Neighbors, model.BGPNeighbor{IP: parts[1], RemoteAS: remoteAS})
			}

		case strings.HasPrefix(trimmed, "address-family ") || strings.HasPrefix(trimmed, "ipv4-family "):
			target := defaultVrf
			if currentVrf != nil {
				target = currentVrf
			}
			bgp := ensureBGP(target)
			af := model.BGPAddressFamily{Protocol: "ipv4", Type: "unicast"}
			if strings.HasPrefix(trimmed, "address-family ") && len(parts) >= 3 {
				af.Protocol, af.Type = parts[1], parts[2]
			}
			bgp.AddressFamilies = append(bgp.AddressFamilies, af)
			currentAF = &bgp.AddressFamilies[len(bgp.AddressFamilies)-1]

		case currentAF != nil && strings.HasPrefix(trimmed, "import-route "):
			redistributed := parts[1]
			if redistributed == "direct" {
				redistributed = "connected"
			}
			currentAF.Redistribute = append(currentAF.Redistribute, redistributed)
		}
	}
	return nil
}

// retrieveBgpPeerStatus reads the runtime BGP counters per VRF.
func (c *comwareDriver) retrieveBgpPeerStatus() error {
	for i := range c.dev.Vrfs {
		vrf := &c.dev.Vrfs[i]
		if vrf.Protocols.BGP == nil || len(vrf.Protocols.BGP.Neighbors) == 0 {
			continue
		}
		out, err := c.cli.GetInfo(fmt.Sprintf("display bgp peer ipv4 vpn-instance %s", vrf.Name))
		if err != nil {
			return err
		}
		c.parseBgpPeerStatus(vrf, out)
	}
	return nil
}

func (c *comwareDriver) parseBgpPeerStatus(vrf *model.Vrf, out string) {
	bgp := vrf.Protocols.BGP
	for _, line := range strings.Split(out, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "BGP local router ID") {
			fields := strings.Fields(trimmed)
			if bgp.RouterID == "" && len(fields) > 0 {
				bgp.RouterID = strings.TrimSuffix(fields[len(fields)-1], ":")
			}
			continue
		}
		fields := strings.Fields(trimmed)
		if len(fields) < 8 {
			continue
		}
		peer := bgp.Neighbor(fields[0])
		if peer == nil {
			continue
		}
		remoteAS, err := strconv.Atoi(fields[1])
		if err != nil || remoteAS != peer.RemoteAS {
			continue
		}
		peer.MsgRcvd, _ = strconv.Atoi(fields[2])
		peer.MsgSent, _ = strconv.Atoi(fields[3])
		peer.OutQ, _ = strconv.Atoi(fields[4])
		peer.PrefixRcvd, _ = strconv.Atoi(fields[5])
		peer.UpDownTime = fields[6]
		peer.Status = strings.ToLower(fields[7])
	}
}

// retrieveNeighbors reads the LLDP adjacency list.
func (c *comwareDriver) retrieveNeighbors() error {
	out, err := c.cli.GetInfo("display lldp neighbor-information list")
	if err != nil {
		return err
	}
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) < 4 {
			continue
		}
		if !strings.HasPrefix(fields[0], "GE") && !strings.HasPrefix(fields[0], "XGE") &&
			!strings.HasPrefix(fields[0], "FGE") && !strings.HasPrefix(fields[0], "M-GE") {
			continue
		}
		port, err := c.portByShortName(fields[0])
		if err != nil {
			util.WithDevice(c.dev.Name).Warnf("lldp list: %v", err)
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

func (c *comwareDriver) AddVlan(vids []int) error {
	var cmds []string
	for _, vid := range vids {
		cmds = append(cmds,
			fmt.Sprintf("vlan %d", vid),
			fmt.Sprintf("name vlan %d", vid),
			fmt.Sprintf("description vlan %d", vid),
			"quit",
		)
	}
	return c.sendConfig(cmds)
}

func (c *comwareDriver) DelVlan(vids []int) error {
	var cmds []string
	for _, vid := range vids {
		cmds = append(cmds, fmt.Sprintf("undo vlan %d", vid))
	}
	return c.sendConfig(cmds)
}

func (c *comwareDriver) AddVlanToPort(vid int, port *model.PhyPort, pvid bool) error {
	cmds := []string{
		fmt.Sprintf("vlan %d", vid),
		"quit",
		fmt.Sprintf("interface %s", port.Index),
	}
	switch port.Mode {
	case model.ModeAccess:
		cmds = append(cmds, "port link-type access", fmt.Sprintf("port access vlan %d", vid))
	case model.ModeTrunk:
		cmds = append(cmds, "port link-type trunk", fmt.Sprintf("port trunk permit vlan %d", vid))
	case model.ModeHybrid:
		cmds = append(cmds, "port link-type hybrid", fmt.Sprintf("port hybrid vlan %d", vid))
		if pvid {
			cmds = append(cmds, fmt.Sprintf("port hybrid pvid vlan %d", vid))
		}
	default:
		return util.NewPreconditionError("add_vlan_to_port", c.dev.Name,
			"port must have a vlan membership mode", string(port.Mode))
	}
	cmds = append(cmds, "quit")
	return c.sendConfig(cmds)
}

func (c *comwareDriver) DelVlanToPort(vids []int, port *model.PhyPort) error {
	cmds := []string{fmt.Sprintf("interface %s", port.Index)}
	switch port.Mode {
	case model.ModeAccess:
		if len(vids) > 1 {
			return util.NewPreconditionError("del_vlan_to_port", c.dev.Name,
				"access port carries a single vlan", fmt.Sprintf("%d requested", len(vids)))
		}
		cmds = append(cmds, "undo port access vlan")
	case model.ModeTrunk:
		for _, vid := range vids {
			cmds = append(cmds, fmt.Sprintf("undo port trunk permit vlan %d", vid))
		}
	case model.ModeHybrid:
		for _, vid := range vids {
			cmds = append(cmds, fmt.Sprintf("undo port hybrid vlan %d", vid))
		}
	default:
		return util.NewPreconditionError("del_vlan_to_port", c.dev.Name,
			"port must have a vlan membership mode", string(port.Mode))
	}
	cmds = append(cmds, "quit")
	return c.sendConfig(cmds)
}

func (c *comwareDriver) SetPortMode(port *model.PhyPort, mode model.LinkMode) error {
	var linkType string
	switch mode {
	case model.ModeAccess:
		linkType = "access"
	case model.ModeTrunk:
		linkType = "trunk"
	case model.ModeHybrid:
		linkType = "hybrid"
	default:
		return util.NewPreconditionError("set_port_mode", c.dev.Name,
			"mode must be ACCESS, TRUNK, or HYBRID", string(mode))
	}
	return c.sendConfig([]string{
		fmt.Sprintf("interface %s", port.Index),
		fmt.Sprintf("port link-type %s", linkType),
		"quit",
	})
}

func (c *comwareDriver) AddVlanToVrf(vrf *model.Vrf, req model.VlanInterfaceRequest) error {
	prefixLen := 24
	if idx := strings.IndexByte(req.CIDR, '/'); idx >= 0 {
		if v, err := strconv.Atoi(req.CIDR[idx+1:]); err == nil {
			prefixLen = v
		}
	}
	cmds := []string{
		fmt.Sprintf("vlan %d", req.Vlan),
		"quit",
		fmt.Sprintf("interface Vlan-interface%d", req.Vlan),
		fmt.Sprintf("ip binding vpn-instance %s", vrf.Name),
		fmt.Sprintf("ip address %s %s", req.IPAddress, util.MaskToDotted(prefixLen)),
	}
	if req.Description != "" {
		cmds = append(cmds, fmt.Sprintf("description %s", req.Description))
	}
	cmds = append(cmds, "quit")
	return c.sendConfig(cmds)
}

func (c *comwareDriver) DelVlanToVrf(_ *model.Vrf, itf *model.VlanL3Port) error {
	return c.sendConfig([]string{
		fmt.Sprintf("undo interface Vlan-interface%d", itf.Vlan),
	})
}

func (c *comwareDriver) AddVrf(req model.VrfRequest) error {
	if req.RD == "" {
		req.RD = c.newRD()
	}
	asNumber := 1000
	if req.Protocols.BGP != nil {
		asNumber = req.Protocols.BGP.ASNumber
	}
	cmds := []string{
		fmt.Sprintf("ip vpn-instance %s", req.Name),
		fmt.Sprintf("description %s", req.Description),
		fmt.Sprintf("route-distinguisher %s", req.RD),
		"quit",
		fmt.Sprintf("bgp %d", asNumber),
		fmt.Sprintf("ip vpn-instance %s", req.Name),
		"ipv4-family unicast",
		"import-route direct",
		"import-route static",
		"quit",
		"quit",
		"quit",
	}
	return c.sendConfig(cmds)
}

// newRD picks a route distinguisher not yet allocated on the device.
func (c *comwareDriver) newRD() string {
	allocated := make(map[string]bool, len(c.dev.Vrfs))
	for _, vrf := range c.dev.Vrfs {
		allocated[vrf.RD] = true
	}
	for {
		rd := fmt.Sprintf("%d:00", rand.Intn(65000)+1)
		if !allocated[rd] {
			return rd
		}
	}
}

func (c *comwareDriver) DelVrf(vrf *model.Vrf) error {
	return c.sendConfig([]string{fmt.Sprintf("undo ip vpn-instance %s", vrf.Name)})
}

func (c *comwareDriver) BindVrf(vrf1, vrf2 *model.Vrf) error {
	exports := func(vrf *model.Vrf) []string {
		out := vrf.RDExport
		if !contains(out, vrf.RD) {
			out = append(out, vrf.RD)
		}
		return out
	}
	vrf1Export := exports(vrf1)
	vrf2Export := exports(vrf2)

	cmds := []string{fmt.Sprintf("ip vpn-instance %s", vrf1.Name)}
	for _, rd := range vrf1Export {
		cmds = append(cmds, fmt.Sprintf("vpn-target %s export-extcommunity", rd))
	}
	for _, rd := range vrf2Export {
		cmds = append(cmds, fmt.Sprintf("vpn-target %s import-extcommunity", rd))
	}
	cmds = append(cmds, "quit", fmt.Sprintf("ip vpn-instance %s", vrf2.Name))
	for _, rd := range vrf2Export {
		cmds = append(cmds, fmt.Sprintf("vpn-target %s export-extcommunity", rd))
	}
	for _, rd := range vrf1Export {
		cmds = append(cmds, fmt.Sprintf("vpn-target %s import-extcommunity", rd))
	}
	cmds = append(cmds, "quit")

	if err := c.sendConfig(cmds); err != nil {
		return err
	}
	vrf1.RDExport = vrf1Export
	vrf2.RDExport = vrf2Export
	for _, rd := range vrf2Export {
		if !vrf1.Imports(rd) {
			vrf1.RDImport = append(vrf1.RDImport, rd)
		}
	}
	for _, rd := range vrf1Export {
		if !vrf2.Imports(rd) {
			vrf2.RDImport = append(vrf2.RDImport, rd)
		}
	}
	return nil
}

func (c *comwareDriver) UnbindVrf(vrf1, vrf2 *model.Vrf) error {
	if vrf1.RD == vrf2.RD {
		return fmt.Errorf("%w: VRFs %s and %s share route distinguisher %s",
			util.ErrMisconfigured, vrf1.Name, vrf2.Name, vrf1.RD)
	}
	var cmds []string
	if vrf1.Imports(vrf2.RD) {
		cmds = append(cmds,
			fmt.Sprintf("ip vpn-instance %s", vrf1.Name),
			fmt.Sprintf("undo vpn-target %s import-extcommunity", vrf2.RD),
			"quit",
		)
	}
	if vrf2.Imports(vrf1.RD) {
		cmds = append(cmds,
			fmt.Sprintf("ip vpn-instance %s", vrf2.Name),
			fmt.Sprintf("undo vpn-target %s import-extcommunity", vrf1.RD),
			"quit",
		)
	}
	if len(cmds) == 0 {
		return nil
	}
	if err := c.sendConfig(cmds); err != nil {
		return err
	}
	vrf1.RDImport = remove(vrf1.RDImport, vrf2.RD)
	vrf2.RDImport = remove(vrf2.RDImport, vrf1.RD)
	return nil
}

func (c *comwareDriver) AddStaticRoute(vrf *model.Vrf, route model.IPv4Route) error {
	prefix, mask, err := route.PrefixAndMask()
	if err != nil {
		return err
	}
	vpnInstance := ""
	if vrf.Name != model.DefaultVrfName {
		vpnInstance = fmt.Sprintf("vpn-instance %s ", vrf.Name)
	}
	return c.sendConfig([]string{
		fmt.Sprintf("ip route-static %s%s %s %s permanent", vpnInstance, prefix, mask, route.Nexthop),
	})
}

func (c *comwareDriver) DelStaticRoute(vrf *model.Vrf, route model.IPv4Route) error {
	prefix, mask, err := route.PrefixAndMask()
	if err != nil {
		return err
	}
	vpnInstance := ""
	if vrf.Name != model.DefaultVrfName {
		vpnInstance = fmt.Sprintf("vpn-instance %s ", vrf.Name)
	}
	return c.sendConfig([]string{
		fmt.Sprintf("undo ip route-static %s%s %s", vpnInstance, prefix, mask),
	})
}

func (c *comwareDriver) AddBgpInstance(req model.VrfRequest) error {
	bgp := req.Protocols.BGP
	cmds := []string{fmt.Sprintf("bgp %d", bgp.ASNumber)}
	if req.Name != model.DefaultVrfName {
		cmds = append(cmds, fmt.Sprintf("ip vpn-instance %s", req.Name))
	}
	if bgp.RouterID != "" {
		cmds = append(cmds, fmt.Sprintf("router-id %s", bgp.RouterID))
	}
	for _, peer := range bgp.Neighbors {
		cmds = append(cmds, fmt.Sprintf("peer %s as-number %d", peer.IP, peer.RemoteAS))
		if peer.UpdateSource != "" {
			if itf := c.dev.vlanInterfaceByAddress(peer.UpdateSource); itf != nil {
				cmds = append(cmds, fmt.Sprintf("peer %s connect-interface %s", peer.IP, itf.Name))
			}
		}
	}
	for _, family := range bgp.AddressFamilies {
		if family.Protocol != "ipv4" {
			continue
		}
		cmds = append(cmds, fmt.Sprintf("ipv4-family %s", family.Type))
		for _, red := range family.Redistribute {
			if red == "connected" {
				red = "direct"
			}
			cmds = append(cmds, fmt.Sprintf("import-route %s", red))
		}
		cmds = append(cmds, "quit")
	}
	for _, peer := range bgp.Neighbors {
		cmds = append(cmds, fmt.Sprintf("peer %s enable", peer.IP))
	}
	if req.Name != model.DefaultVrfName {
		cmds = append(cmds, "quit")
	}
	cmds = append(cmds, "quit")
	return c.sendConfig(cmds)
}

func (c *comwareDriver) DelBgpInstance(vrf *model.Vrf) error {
	bgp := vrf.Protocols.BGP
	if vrf.Name == model.DefaultVrfName {
		return c.sendConfig([]string{fmt.Sprintf("undo bgp %d", bgp.ASNumber)})
	}
	return c.sendConfig([]string{
		fmt.Sprintf("bgp %d", bgp.ASNumber),
		fmt.Sprintf("undo ip vpn-instance %s", vrf.Name),
		"quit",
	})
}

func (c *comwareDriver) AddBgpPeer(peer model.BGPNeighbor, vrf *model.Vrf) error {
	asNumber := 1000
	if vrf.Protocols.BGP != nil {
		asNumber = vrf.Protocols.BGP.ASNumber
	}
	cmds := []string{fmt.Sprintf("bgp %d", asNumber)}
	if vrf.Name != model.DefaultVrfName {
		cmds = append(cmds, fmt.Sprintf("ip vpn-instance %s", vrf.Name))
	}
	cmds = append(cmds,
		fmt.Sprintf("peer %s as-number %d", peer.IP, peer.RemoteAS),
		fmt.Sprintf("peer %s enable", peer.IP),
	)
	if vrf.Name != model.DefaultVrfName {
		cmds = append(cmds, "quit")
	}
	cmds = append(cmds, "quit")
	return c.sendConfig(cmds)
}

func (c *comwareDriver) DelBgpPeer(peer model.BGPNeighbor, vrf *model.Vrf) error {
	asNumber := 1000
	if vrf.Protocols.BGP != nil {
		asNumber = vrf.Protocols.BGP.ASNumber
	}
	cmds := []string{fmt.Sprintf("bgp %d", asNumber)}
	if vrf.Name != model.DefaultVrfName {
		cmds = append(cmds, fmt.Sprintf("ip vpn-instance %s", vrf.Name))
	}
	cmds = append(cmds, fmt.Sprintf("undo peer %s", peer.IP))
	if vrf.Name != model.DefaultVrfName {
		cmds = append(cmds, "quit")
	}
	cmds = append(cmds, "quit")
	return c.sendConfig(cmds)
}

func (c *comwareDriver) CommitAndSave() error {
	_, err := c.cli.SendCommands([]string{"save force"})
	return err
}

// vlanInterfaceByAddress finds the L3 interface holding the IP address.
func (d *Device) vlanInterfaceByAddress(addr string) *model.VlanL3Port {
	for i := range d.VlanL3Ports {
		if d.VlanL3Ports[i].IPAddress == addr {
			return &d.VlanL3Ports[i]
		}
	}
	return nil
}

func contains(values []string, v string) bool {
	for _, item := range values {
		if item == v {
			return true
		}
	}
	return false
}

func remove(values []string, v string) []string {
	out := values[:0:0]
	for _, item := range values {
		if item != v {
			out = append(out, item)
		}
	}
	return out
}
