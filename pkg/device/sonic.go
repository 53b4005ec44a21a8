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

const sonicRestPath = "restconf/data"

// sonicDriver drives SONiC-style switches: RESTCONF for ports, VLANs, and
// VRFs; FRR vtysh over a raw SSH channel for everything routing.
type sonicDriver struct {
	dev  *Device
	rest *sbi.RESTDriver
	ssh  *sbi.RawSSHDriver
	opts AdapterOptions
}

func newSonicDriver(d *Device, opts AdapterOptions) Driver {
	return &sonicDriver{dev: d, opts: opts}
}

func (s *sonicDriver) InitDrivers() error {
	if s.rest == nil {
		s.rest = sbi.NewRESTDriver(s.dev.DeviceInfo, sbi.RESTOptions{
			BasicAuth:     true,
			SkipTLSVerify: s.opts.SkipTLSVerify,
			Headers:       map[string]string{"Accept": "application/yang-data+json"},
		})
	}
	if s.ssh == nil {
		s.ssh = sbi.NewRawSSHDriver(s.dev.DeviceInfo)
	}
	return nil
}

// ============================================================================
// RESTCONF message shapes
// ============================================================================

type sonicVlanMsg struct {
	Root struct {
		VLAN struct {
			List []sonicVlanItem `json:"VLAN_LIST"`
		} `json:"VLAN"`
		VLANMember struct {
			List []sonicVlanMemberItem `json:"VLAN_MEMBER_LIST"`
		} `json:"VLAN_MEMBER"`
	} `json:"sonic-vlan:sonic-vlan"`
}

type sonicVlanItem struct {
	Name   string `json:"name"`
	VlanID int    `json:"vlanid"`
}

type sonicVlanMemberItem struct {
	Name        string `json:"name"`
	IfName      string `json:"ifname"`
	TaggingMode string `json:"tagging_mode"`
}

type sonicVlanItfMsg struct {
	Root struct {
		VlanInterface struct {
			List   []sonicVlanItfItem   `json:"VLAN_INTERFACE_LIST"`
			IPList []sonicVlanItfIPItem `json:"VLAN_INTERFACE_IPADDR_LIST"`
		} `json:"VLAN_INTERFACE"`
	} `json:"sonic-vlan-interface:sonic-vlan-interface"`
}

type sonicVlanItfItem struct {
	VlanName string `json:"vlanName"`
	VrfName  string `json:"vrf_name,omitempty"`
}

type sonicVlanItfIPItem struct {
	VlanName string `json:"vlanName"`
	IPPrefix string `json:"ip_prefix"`
}

type sonicPortMsg struct {
	Root struct {
		Port struct {
			List []sonicPortItem `json:"PORT_LIST"`
		} `json:"PORT"`
	} `json:"sonic-port:sonic-port"`
}

type sonicPortItem struct {
	IfName      string `json:"ifname"`
	Index       int    `json:"index"`
	Speed       string `json:"speed,omitempty"`
	AdminStatus string `json:"admin_status,omitempty"`
	OperStatus  string `json:"oper_status,omitempty"`
}

type sonicPortchannelMsg struct {
	Root struct {
		Member struct {
			List []sonicPortchannelMemberItem `json:"PORTCHANNEL_MEMBER_LIST"`
		} `json:"PORTCHANNEL_MEMBER"`
	} `json:"sonic-portchannel:sonic-portchannel"`
}

type sonicPortchannelMemberItem struct {
	Name   string `json:"name"`
	IfName string `json:"ifname"`
}

type sonicVrfMsg struct {
	Root struct {
		Vrf struct {
			List []sonicVrfItem `json:"VRF_LIST"`
		} `json:"VRF"`
	} `json:"sonic-vrf:sonic-vrf"`
}

type sonicVrfItem struct {
	VrfName string `json:"vrf_name"`
	VNI     int    `json:"vni,omitempty"`
}

type sonicLldpMsg struct {
	Root struct {
		Interface []struct {
			Name      string `json:"name"`
			Neighbors struct {
				Neighbor []struct {
					State struct {
						SystemName      string `json:"system-name"`
						PortDescription string `json:"port-description"`
					} `json:"state"`
				} `json:"neighbor"`
			} `json:"neighbors"`
		} `json:"interface"`
	} `json:"openconfig-lldp:interfaces"`
}

// ============================================================================
// Inventory
// ============================================================================

func (s *sonicDriver) RetrieveInfo() error {
	cfg := map[string]json.RawMessage{}
	if err := s.retrievePorts(cfg); err != nil {
		return err
	}
	if err := s.retrieveVlans(cfg); err != nil {
		return err
	}
	if err := s.retrieveVrfs(cfg); err != nil {
		return err
	}
	if err := s.retrieveRouting(); err != nil {
		return err
	}
	if err := s.retrieveNeighbors(); err != nil {
		return err
	}

	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("serializing configuration snapshot: %w", err)
	}
	s.dev.StoreConfig(string(raw))
	return nil
}

func (s *sonicDriver) retrievePorts(cfg map[string]json.RawMessage) error {
	var pcMsg sonicPortchannelMsg
	if err := s.rest.Get(sonicRestPath+"/sonic-portchannel:sonic-portchannel", &pcMsg); err != nil {
		return err
	}
	portChannels := map[string]string{}
	for _, member := range pcMsg.Root.Member.List {
		portChannels[member.IfName] = member.Name
	}

	var portMsg sonicPortMsg
	if err := s.rest.Get(sonicRestPath+"/sonic-port:sonic-port", &portMsg); err != nil {
		return err
	}

	for _, itf := range portMsg.Root.Port.List {
		name := itf.IfName
		if pc, ok := portChannels[itf.IfName]; ok {
			name = pc
		}

		speed := 0
		if itf.Speed != "" {
			if v, err := strconv.Atoi(itf.Speed); err == nil {
				speed = v
			}
		}
		status := model.LinkDown
		if itf.OperStatus == "up" {
			status = model.LinkUp
		}
		admin := model.AdminDisabled
		if itf.AdminStatus == "up" {
			admin = model.AdminEnabled
		}

		s.dev.PhyPorts = append(s.dev.PhyPorts, model.PhyPort{
			Index:       strconv.Itoa(itf.Index),
			Name:        name,
			Mode:        model.ModeTrunk,
			Duplex:      "NA",
			Speed:       speed,
			Status:      status,
			AdminStatus: admin,
		})
	}

	marshalInto(cfg, "sonic-port", portMsg)
	marshalInto(cfg, "sonic-portchannel", pcMsg)
	return nil
}

func (s *sonicDriver) retrieveVlans(cfg map[string]json.RawMessage) error {
	var vlanMsg sonicVlanMsg
	if err := s.rest.Get(sonicRestPath+"/sonic-vlan:sonic-vlan", &vlanMsg); err != nil {
		return err
	}

	vlanByName := map[string]int{}
	for _, item := range vlanMsg.Root.VLAN.List {
		s.dev.Vlans = append(s.dev.Vlans, item.VlanID)
		vlanByName[item.Name] = item.VlanID
	}

	for _, member := range vlanMsg.Root.VLANMember.List {
		vid, ok := vlanByName[member.Name]
		if !ok {
			return fmt.Errorf("%w: vlan %q not in the VLAN list", util.ErrMisconfigured, member.Name)
		}
		port := s.dev.GetPortByName(member.IfName)
		if port == nil {
			return fmt.Errorf("%w: vlan member references unknown port %q", util.ErrMisconfigured, member.IfName)
		}
		switch member.TaggingMode {
		case "untagged":
			port.AccessVlan = vid
		case "tagged":
			if !util.ContainsInt(port.TrunkVlans, vid) {
				port.TrunkVlans = append(port.TrunkVlans, vid)
			}
		default:
			return fmt.Errorf("%w: tagging mode %q not supported", util.ErrMisconfigured, member.TaggingMode)
		}
	}

	var itfMsg sonicVlanItfMsg
	if err := s.rest.Get(sonicRestPath+"/sonic-vlan-interface:sonic-vlan-interface", &itfMsg); err != nil {
		return err
	}
	for _, itf := range itfMsg.Root.VlanInterface.List {
		vid, ok := vlanByName[itf.VlanName]
		if !ok {
			continue
		}
		port := model.VlanL3Port{
			Index: itf.VlanName,
			Name:  itf.VlanName,
			Vlan:  vid,
			Vrf:   itf.VrfName,
		}
		for _, ipItem := range itfMsg.Root.VlanInterface.IPList {
			if ipItem.VlanName != itf.VlanName {
				continue
			}
			parts := strings.SplitN(ipItem.IPPrefix, "/", 2)
			port.IPAddress = parts[0]
			port.CIDR = ipItem.IPPrefix
			break
		}
		s.dev.VlanL3Ports = append(s.dev.VlanL3Ports, port)
	}

	marshalInto(cfg, "sonic-vlan", vlanMsg)
	marshalInto(cfg, "sonic-vlan-interface", itfMsg)
	return nil
}

func (s *sonicDriver) retrieveVrfs(cfg map[string]json.RawMessage) error {
	var vrfMsg sonicVrfMsg
	if err := s.rest.Get(sonicRestPath+"/sonic-vrf:sonic-vrf", &vrfMsg); err != nil {
		return err
	}
	for _, item := range vrfMsg.Root.Vrf.List {
		vrf := model.Vrf{
			Name: item.VrfName,
			RD:   strconv.Itoa(item.VNI),
		}
		for _, itf := range s.dev.VlanL3Ports {
			if itf.Vrf == item.VrfName {
				vrf.Ports = append(vrf.Ports, itf)
			}
		}
		s.dev.Vrfs = append(s.dev.Vrfs, vrf)
	}
	if s.dev.GetVrfByName(model.DefaultVrfName) == nil {
		vrf := model.Vrf{Name: model.DefaultVrfName, RD: model.DefaultVrfName}
		for _, itf := range s.dev.VlanL3Ports {
			if itf.Vrf == "" {
				vrf.Ports = append(vrf.Ports, itf)
			}
		}
		s.dev.Vrfs = append(s.dev.Vrfs, vrf)
	}
	marshalInto(cfg, "sonic-vrf", vrfMsg)
	return nil
}

// retrieveRouting reads the FRR running configuration over the vtysh
// channel and folds the parsed BGP instances and static routes into the
// VRFs.
func (s *sonicDriver) retrieveRouting() error {
	res, err := s.ssh.SendCommands([]string{`vtysh -c "show running-config"`}, false)
	if err != nil {
		return err
	}
	frrCfg, err := sbi.ParseFrrConfig(res[0].Stdout)
	if err != nil {
		return fmt.Errorf("%w: %v", util.ErrMisconfigured, err)
	}
	for vrfName, protocols := range frrCfg.VrfProtocols() {
		vrf := s.dev.GetVrfByName(vrfName)
		if vrf == nil {
			return fmt.Errorf("%w: FRR references vrf %q not present on the switch",
				util.ErrMisconfigured, vrfName)
		}
		vrf.Protocols = protocols
	}
	for vrfName, routes := range frrCfg.StaticRoutes {
		if vrf := s.dev.GetVrfByName(vrfName); vrf != nil {
			vrf.Routes = routes
		}
	}
	return nil
}

func (s *sonicDriver) retrieveNeighbors() error {
	var lldp sonicLldpMsg
	if err := s.rest.Get(sonicRestPath+"/openconfig-lldp:lldp/interfaces", &lldp); err != nil {
		return err
	}
	for _, itf := range lldp.Root.Interface {
		port := s.dev.GetPortByName(itf.Name)
		if port == nil {
			util.WithDevice(s.dev.Name).Warnf("lldp reports unknown port %q", itf.Name)
			continue
		}
		if len(itf.Neighbors.Neighbor) == 0 {
			continue
		}
		state := itf.Neighbors.Neighbor[0].State
		port.Neighbor = &model.LldpNeighbor{
			Neighbor:        state.SystemName,
			RemoteInterface: state.PortDescription,
		}
	}
	return nil
}

func marshalInto(cfg map[string]json.RawMessage, key string, v interface{}) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	cfg[key] = raw
}

// ============================================================================
// Mutations
// ============================================================================

func (s *sonicDriver) AddVlan(vids []int) error {
	for _, vid := range vids {
		body := map[string]interface{}{
			"sonic-vlan:VLAN_LIST": []sonicVlanItem{{Name: fmt.Sprintf("Vlan%d", vid), VlanID: vid}},
		}
		if err := s.rest.Post(sonicRestPath+"/sonic-vlan:sonic-vlan/VLAN", body, nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *sonicDriver) DelVlan(vids []int) error {
	for _, vid := range vids {
		path := fmt.Sprintf("%s/sonic-vlan:sonic-vlan/VLAN/VLAN_LIST=Vlan%d", sonicRestPath, vid)
		if err := s.rest.Delete(path); err != nil {
			return err
		}
	}
	return nil
}

func (s *sonicDriver) AddVlanToPort(vid int, port *model.PhyPort, pvid bool) error {
	mode := "tagged"
	if pvid {
		mode = "untagged"
	}
	body := map[string]interface{}{
		"sonic-vlan:VLAN_MEMBER_LIST": []sonicVlanMemberItem{{
			Name:        fmt.Sprintf("Vlan%d", vid),
			IfName:      port.Name,
			TaggingMode: mode,
		}},
	}
	return s.rest.Post(sonicRestPath+"/sonic-vlan:sonic-vlan/VLAN_MEMBER", body, nil)
}

func (s *sonicDriver) DelVlanToPort(vids []int, port *model.PhyPort) error {
	for _, vid := range vids {
		path := fmt.Sprintf("%s/sonic-vlan:sonic-vlan/VLAN_MEMBER/VLAN_MEMBER_LIST=Vlan%d,%s",
			sonicRestPath, vid, port.Name)
		if err := s.rest.Delete(path); err != nil {
			return err
		}
	}
	return nil
}

// SetPortMode is a no-op: SONiC derives the port mode from its VLAN
// memberships.
func (s *sonicDriver) SetPortMode(_ *model.PhyPort, _ model.LinkMode) error {
	return nil
}

func (s *sonicDriver) AddVlanToVrf(vrf *model.Vrf, req model.VlanInterfaceRequest) error {
	vlanName := fmt.Sprintf("Vlan%d", req.Vlan)
	itf := sonicVlanItfItem{VlanName: vlanName}
	if vrf.Name != model.DefaultVrfName {
		itf.VrfName = vrf.Name
	}
	body := map[string]interface{}{
		"sonic-vlan-interface:VLAN_INTERFACE_LIST": []sonicVlanItfItem{itf},
	}
	if err := s.rest.Post(
		sonicRestPath+"/sonic-vlan-interface:sonic-vlan-interface/VLAN_INTERFACE", body, nil); err != nil {
		return err
	}

	prefixLen := 24
	if idx := strings.IndexByte(req.CIDR, '/'); idx >= 0 {
		if v, err := strconv.Atoi(req.CIDR[idx+1:]); err == nil {
			prefixLen = v
		}
	}
	ipBody := map[string]interface{}{
		"sonic-vlan-interface:VLAN_INTERFACE_IPADDR_LIST": []sonicVlanItfIPItem{{
			VlanName: vlanName,
			IPPrefix: fmt.Sprintf("%s/%d", req.IPAddress, prefixLen),
		}},
	}
	return s.rest.Post(
		sonicRestPath+"/sonic-vlan-interface:sonic-vlan-interface/VLAN_INTERFACE", ipBody, nil)
}

func (s *sonicDriver) DelVlanToVrf(_ *model.Vrf, itf *model.VlanL3Port) error {
	if itf.CIDR != "" {
		path := fmt.Sprintf(
			"%s/sonic-vlan-interface:sonic-vlan-interface/VLAN_INTERFACE/VLAN_INTERFACE_IPADDR_LIST=%s,%s",
			sonicRestPath, itf.Index, strings.ReplaceAll(itf.CIDR, "/", "%2F"))
		if err := s.rest.Delete(path); err != nil {
			return err
		}
	}
	path := fmt.Sprintf("%s/sonic-vlan-interface:sonic-vlan-interface/VLAN_INTERFACE/VLAN_INTERFACE_LIST=%s",
		sonicRestPath, itf.Index)
	return s.rest.Delete(path)
}

func (s *sonicDriver) AddVrf(req model.VrfRequest) error {
	body := map[string]interface{}{
		"sonic-vrf:VRF_LIST": []sonicVrfItem{{VrfName: req.Name}},
	}
	return s.rest.Post(sonicRestPath+"/sonic-vrf:sonic-vrf/VRF", body, nil)
}

func (s *sonicDriver) DelVrf(vrf *model.Vrf) error {
	path := fmt.Sprintf("%s/sonic-vrf:sonic-vrf/VRF/VRF_LIST=%s", sonicRestPath, vrf.Name)
	return s.rest.Delete(path)
}

// BindVrf installs the mutual BGP vrf import through FRR: SONiC has no
// vpn-target surface of its own.
func (s *sonicDriver) BindVrf(vrf1, vrf2 *model.Vrf) error {
	cmd, err := sbi.FrrBindVrfsCmd(vrf1.Name, vrf2.Name, s.asNumber(vrf1))
	if err != nil {
		return err
	}
	_, err = s.ssh.SendCommands([]string{cmd}, false)
	return err
}

func (s *sonicDriver) UnbindVrf(vrf1, vrf2 *model.Vrf) error {
	cmd, err := sbi.FrrUnbindVrfsCmd(vrf1.Name, vrf2.Name, s.asNumber(vrf1))
	if err != nil {
		return err
	}
	_, err = s.ssh.SendCommands([]string{cmd}, false)
	return err
}

func (s *sonicDriver) asNumber(vrf *model.Vrf) int {
	if vrf.Protocols.BGP != nil {
		return vrf.Protocols.BGP.ASNumber
	}
	return 1000
}

func (s *sonicDriver) AddStaticRoute(vrf *model.Vrf, route model.IPv4Route) error {
	_, err := s.ssh.SendCommands([]string{sbi.FrrAddStaticRouteCmd(route, vrf.Name)}, false)
	return err
}

func (s *sonicDriver) DelStaticRoute(vrf *model.Vrf, route model.IPv4Route) error {
	_, err := s.ssh.SendCommands([]string{sbi.FrrDelStaticRouteCmd(route, vrf.Name)}, false)
	return err
}

func (s *sonicDriver) AddBgpInstance(req model.VrfRequest) error {
	bgp := req.Protocols.BGP
	cmd := sbi.FrrAddBgpInstanceCmd(req.Name, bgp.ASNumber, bgp.RouterID, bgp.AddressFamilies)
	if _, err := s.ssh.SendCommands([]string{cmd}, false); err != nil {
		return err
	}
	for _, peer := range bgp.Neighbors {
		if _, err := s.ssh.SendCommands(
			[]string{sbi.FrrAddBgpPeerCmd(peer, req.Name, bgp.ASNumber)}, false); err != nil {
			return err
		}
	}
	return nil
}

func (s *sonicDriver) DelBgpInstance(vrf *model.Vrf) error {
	cmd := sbi.FrrDelBgpInstanceCmd(vrf.Name, s.asNumber(vrf))
	_, err := s.ssh.SendCommands([]string{cmd}, false)
	return err
}

func (s *sonicDriver) AddBgpPeer(peer model.BGPNeighbor, vrf *model.Vrf) error {
	_, err := s.ssh.SendCommands([]string{sbi.FrrAddBgpPeerCmd(peer, vrf.Name, s.asNumber(vrf))}, false)
	return err
}

func (s *sonicDriver) DelBgpPeer(peer model.BGPNeighbor, vrf *model.Vrf) error {
	_, err := s.ssh.SendCommands([]string{sbi.FrrDelBgpPeerCmd(peer, vrf.Name, s.asNumber(vrf))}, false)
	return err
}

func (s *sonicDriver) CommitAndSave() error {
	_, err := s.ssh.SendCommands([]string{"sudo config save -y"}, false)
	return err
}
