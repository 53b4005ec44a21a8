package device

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/robertobru/netcl/pkg/model"
	"github.com/robertobru/netcl/pkg/sbi"
	"github.com/robertobru/netcl/pkg/util"
)

// rosBridgeName is the single bridge all managed VLANs live on.
const rosBridgeName = "tnt"

// rosDummyVrfName is the synthetic VRF exposing the bridge VLAN interfaces:
// the family has no VRF support the controller relies on.
const rosDummyVrfName = "proj"

// routerosDriver drives RouterOS devices over the native API protocol,
// with a CLI channel for the configuration export. The bridge VLAN table
// packs several VLAN ids per row, so mutations may split or merge rows.
type routerosDriver struct {
	dev *Device
	ros *sbi.ROSDriver
	cli *sbi.CLIDriver
}

func newRouterOSDriver(d *Device, _ AdapterOptions) Driver {
	return &routerosDriver{dev: d}
}

func (r *routerosDriver) InitDrivers() error {
	if r.ros == nil {
		r.ros = sbi.NewROSDriver(r.dev.DeviceInfo)
	}
	if r.cli == nil {
		r.cli = sbi.NewCLIDriver(r.dev.DeviceInfo)
	}
	return nil
}

func (r *routerosDriver) RetrieveInfo() error {
	if err := r.retrievePorts(); err != nil {
		return err
	}
	if err := r.retrieveVlans(); err != nil {
		return err
	}
	if err := r.retrievePortVlans(); err != nil {
		return err
	}
	if err := r.retrieveVlanInterfaces(); err != nil {
		return err
	}
	r.buildDummyVrf()
	if err := r.retrieveConfig(); err != nil {
		return err
	}
	return r.retrieveNeighbors()
}

func (r *routerosDriver) retrieveConfig() error {
	out, err := r.cli.GetInfo("/export")
	if err != nil {
		return err
	}
	// The first line carries the export timestamp and would make every
	// snapshot look changed.
	lines := strings.SplitN(out, "\n", 2)
	if len(lines) == 2 {
		out = lines[1]
	}
	r.dev.StoreConfig(out)
	return nil
}

func (r *routerosDriver) retrievePorts() error {
	rows, err := r.ros.Print("/interface", "?type=ether")
	if err != nil {
		return err
	}
	for _, row := range rows {
		monitor, err := r.ros.Command("/interface/ethernet/monitor", map[string]string{
			"once":    "",
			"numbers": row[".id"],
		})
		if err != nil {
			return err
		}
		var data map[string]string
		for _, m := range monitor {
			if m["name"] == row["name"] {
				data = m
				break
			}
		}
		if data == nil {
			data = map[string]string{}
		}

		speed := 0
		if rate := data["rate"]; rate != "" {
			switch {
			case strings.HasSuffix(rate, "Gbps"):
				if v, err := strconv.Atoi(strings.TrimSuffix(rate, "Gbps")); err == nil {
					speed = v * 1000
				}
			case strings.HasSuffix(rate, "Mbps"):
				if v, err := strconv.Atoi(strings.TrimSuffix(rate, "Mbps")); err == nil {
					speed = v
				}
			}
		}

		duplex := "NA"
		switch data["full-duplex"] {
		case "true":
			duplex = "FULL"
		case "false":
			duplex = "HALF"
		}

		status := model.LinkDown
		if data["status"] == "link-ok" {
			status = model.LinkUp
		}
		admin := model.AdminEnabled
		if row["disabled"] == "true" {
			admin = model.AdminDisabled
		}

		r.dev.PhyPorts = append(r.dev.PhyPorts, model.PhyPort{
			Index:       row[".id"],
			Name:        row["name"],
			Speed:       speed,
			Duplex:      duplex,
			Mode:        model.ModeNA,
			Status:      status,
			AdminStatus: admin,
		})
	}
	return nil
}

func (r *routerosDriver) retrieveVlans() error {
	rows, err := r.ros.Print("/interface/bridge/vlan", "?bridge="+rosBridgeName)
	if err != nil {
		return err
	}
	for _, row := range rows {
		vids, err := splitRosVlanIDs(row["vlan-ids"])
		if err != nil {
			return err
		}
		for _, vid := range vids {
			if !util.ContainsInt(r.dev.Vlans, vid) {
				r.dev.Vlans = append(r.dev.Vlans, vid)
			}
		}
		for _, portName := range splitRosList(row["tagged"]) {
			if portName == rosBridgeName {
				continue
			}
			port := r.dev.GetPortByName(portName)
			if port == nil {
				util.WithDevice(r.dev.Name).Warnf(
					"port %s not found while retrieving vlans %v", portName, vids)
				continue
			}
			for _, vid := range vids {
				if !util.ContainsInt(port.TrunkVlans, vid) {
					port.TrunkVlans = append(port.TrunkVlans, vid)
				}
			}
		}
	}
	return nil
}

func (r *routerosDriver) retrievePortVlans() error {
	rows, err := r.ros.Print("/interface/bridge/port")
	if err != nil {
		return err
	}
	for _, row := range rows {
		port := r.dev.GetPortByName(row["interface"])
		if port == nil {
			continue
		}
		if pvid := row["pvid"]; pvid != "" {
			if v, err := strconv.Atoi(pvid); err == nil {
				port.AccessVlan = v
			}
		}
		switch row["frame-types"] {
		case "admit-all":
			port.Mode = model.ModeHybrid
		case "admit-only-untagged-and-priority-tagged":
			port.Mode = model.ModeAccess
		case "admit-only-vlan-tagged":
			port.Mode = model.ModeTrunk
		}
	}
	return nil
}

func (r *routerosDriver) retrieveVlanInterfaces() error {
	itfRows, err := r.ros.Print("/interface/vlan")
	if err != nil {
		return err
	}
	ipRows, err := r.ros.Print("/ip/address")
	if err != nil {
		return err
	}

	for _, itf := range itfRows {
		if itf["interface"] != rosBridgeName {
			continue
		}
		vid, err := strconv.Atoi(itf["vlan-id"])
		if err != nil {
			return fmt.Errorf("%w: bad vlan-id %q", util.ErrMisconfigured, itf["vlan-id"])
		}
		port := model.VlanL3Port{
			Index: itf[".id"],
			Name:  itf["name"],
			Vlan:  vid,
			Vrf:   rosDummyVrfName,
		}
		for _, ip := range ipRows {
			if ip["interface"] != itf["name"] {
				continue
			}
			parts := strings.SplitN(ip["address"], "/", 2)
			port.IPAddress = parts[0]
			if len(parts) == 2 && ip["network"] != "" {
				port.CIDR = fmt.Sprintf("%s/%s", ip["network"], parts[1])
			}
			break
		}
		r.dev.VlanL3Ports = append(r.dev.VlanL3Ports, port)
	}
	return nil
}

func (r *routerosDriver) buildDummyVrf() {
	r.dev.Vrfs = []model.Vrf{{
		Name:        rosDummyVrfName,
		RD:          rosBridgeName,
		Description: "implicit routing instance on the managed bridge",
		Ports:       r.dev.VlanL3Ports,
	}}
}

func (r *routerosDriver) retrieveNeighbors() error {
	rows, err := r.ros.Print("/ip/neighbor")
	if err != nil {
		return err
	}
	for _, neigh := range rows {
		if neigh["interface"] == "" || neigh["identity"] == "" {
			continue
		}
		remote := neigh["interface-name"]
		if remote == "" {
			remote = neigh["mac-address"]
		}
		for _, itfName := range splitRosList(neigh["interface"]) {
			port := r.dev.GetPortByName(itfName)
			if port == nil {
				continue
			}
			port.Neighbor = &model.LldpNeighbor{
				Neighbor:        neigh["identity"],
				RemoteInterface: remote,
			}
		}
	}
	return nil
}

// vlanRow finds the bridge VLAN table row carrying the id.
func (r *routerosDriver) vlanRow(vid int) (map[string]string, []int, error) {
	rows, err := r.ros.Print("/interface/bridge/vlan", "?bridge="+rosBridgeName)
	if err != nil {
		return nil, nil, err
	}
	for _, row := range rows {
		vids, err := splitRosVlanIDs(row["vlan-ids"])
		if err != nil {
			return nil, nil, err
		}
		if util.ContainsInt(vids, vid) {
			return row, vids, nil
		}
	}
	return nil, nil, nil
}

// ============================================================================
// Mutations
// ============================================================================

func (r *routerosDriver) AddVlan(vids []int) error {
	for _, vid := range vids {
		_, err := r.ros.Add("/interface/bridge/vlan", map[string]string{
			"vlan-ids": strconv.Itoa(vid),
			"bridge":   rosBridgeName,
			"tagged":   rosBridgeName,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *routerosDriver) DelVlan(vids []int) error {
	for _, vid := range vids {
		row, rowVids, err := r.vlanRow(vid)
		if err != nil {
			return err
		}
		if row == nil {
			util.WithDevice(r.dev.Name).Warnf("vlan %d not present in the bridge table", vid)
			continue
		}
		if len(rowVids) == 1 {
			if err := r.ros.Remove("/interface/bridge/vlan", row[".id"]); err != nil {
				return err
			}
			continue
		}
		// The row packs several VLANs: drop only this id.
		remaining := util.RemoveInt(rowVids, vid)
		err = r.ros.Set("/interface/bridge/vlan", row[".id"], map[string]string{
			"vlan-ids": joinRosVlanIDs(remaining),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *routerosDriver) AddVlanToPort(vid int, port *model.PhyPort, pvid bool) error {
	row, rowVids, err := r.vlanRow(vid)
	if err != nil {
		return err
	}
	if row == nil {
		return util.NewPreconditionError("add_vlan_to_port", r.dev.Name,
			"vlan must exist in the bridge table", fmt.Sprintf("vlan %d", vid))
	}

	rowID := row[".id"]
	tagged := splitRosList(row["tagged"])
	untagged := splitRosList(row["untagged"])

	if len(rowVids) > 1 {
		// Split: shrink the shared row, then give this VLAN its own row
		// inheriting the current memberships.
		if err := r.ros.Set("/interface/bridge/vlan", rowID, map[string]string{
			"vlan-ids": joinRosVlanIDs(util.RemoveInt(rowVids, vid)),
		}); err != nil {
			return err
		}
		props := map[string]string{
			"vlan-ids": strconv.Itoa(vid),
			"bridge":   rosBridgeName,
			"tagged":   strings.Join(tagged, ","),
		}
		if len(untagged) > 0 {
			props["untagged"] = strings.Join(untagged, ",")
		}
		newID, err := r.ros.Add("/interface/bridge/vlan", props)
		if err != nil {
			return err
		}
		rowID = newID
	}

	if pvid {
		if contains(tagged, port.Name) {
			return util.NewPreconditionError("add_vlan_to_port", r.dev.Name,
				"vlan must not be in the tagged set of the port",
				fmt.Sprintf("remove vlan %d from the tagged set of %s first", vid, port.Name))
		}
		untagged = append(untagged, port.Name)
		if err := r.ros.Set("/interface/bridge/vlan", rowID, map[string]string{
			"untagged": strings.Join(untagged, ","),
		}); err != nil {
			return err
		}
		bridgePort, err := r.bridgePortRow(port.Name)
		if err != nil {
			return err
		}
		if bridgePort != nil {
			return r.ros.Set("/interface/bridge/port", bridgePort[".id"], map[string]string{
				"pvid": strconv.Itoa(vid),
			})
		}
		return nil
	}

	if contains(untagged, port.Name) {
		return util.NewPreconditionError("add_vlan_to_port", r.dev.Name,
			"vlan must not be in the untagged set of the port",
			fmt.Sprintf("remove vlan %d from the untagged set of %s first", vid, port.Name))
	}
	tagged = append(tagged, port.Name)
	return r.ros.Set("/interface/bridge/vlan", rowID, map[string]string{
		"tagged": strings.Join(tagged, ","),
	})
}

func (r *routerosDriver) DelVlanToPort(vids []int, port *model.PhyPort) error {
	for _, vid := range vids {
		row, rowVids, err := r.vlanRow(vid)
		if err != nil {
			return err
		}
		if row == nil {
			continue
		}
		rowID := row[".id"]
		tagged := splitRosList(row["tagged"])
		untagged := splitRosList(row["untagged"])

		if len(rowVids) > 1 {
			// Split the shared row so the other VLANs keep the port.
			if err := r.ros.Set("/interface/bridge/vlan", rowID, map[string]string{
				"vlan-ids": joinRosVlanIDs(util.RemoveInt(rowVids, vid)),
			}); err != nil {
				return err
			}
			props := map[string]string{
				"vlan-ids": strconv.Itoa(vid),
				"bridge":   rosBridgeName,
				"tagged":   strings.Join(removeString(tagged, port.Name), ","),
			}
			if len(untagged) > 0 {
				props["untagged"] = strings.Join(removeString(untagged, port.Name), ",")
			}
			if _, err := r.ros.Add("/interface/bridge/vlan", props); err != nil {
				return err
			}
			continue
		}

		props := map[string]string{
			"tagged": strings.Join(removeString(tagged, port.Name), ","),
		}
		if contains(untagged, port.Name) {
			props["untagged"] = strings.Join(removeString(untagged, port.Name), ",")
		}
		if err := r.ros.Set("/interface/bridge/vlan", rowID, props); err != nil {
			return err
		}
	}
	return nil
}

func (r *routerosDriver) bridgePortRow(portName string) (map[string]string, error) {
	rows, err := r.ros.Print("/interface/bridge/port", "?interface="+portName)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r *routerosDriver) SetPortMode(port *model.PhyPort, mode model.LinkMode) error {
	var frameTypes string
	switch mode {
	case model.ModeAccess:
		frameTypes = "admit-only-untagged-and-priority-tagged"
	case model.ModeTrunk:
		frameTypes = "admit-only-vlan-tagged"
	case model.ModeHybrid:
		frameTypes = "admit-all"
	default:
		return util.NewPreconditionError("set_port_mode", r.dev.Name,
			"mode must be ACCESS, TRUNK, or HYBRID", string(mode))
	}
	bridgePort, err := r.bridgePortRow(port.Name)
	if err != nil {
		return err
	}
	if bridgePort == nil {
		return util.NewPreconditionError("set_port_mode", r.dev.Name,
			"port must be a bridge member", port.Name)
	}
	return r.ros.Set("/interface/bridge/port", bridgePort[".id"], map[string]string{
		"frame-types": frameTypes,
	})
}

func (r *routerosDriver) AddVlanToVrf(_ *model.Vrf, req model.VlanInterfaceRequest) error {
	name := fmt.Sprintf("vlan%d", req.Vlan)
	if _, err := r.ros.Add("/interface/vlan", map[string]string{
		"name":      name,
		"vlan-id":   strconv.Itoa(req.Vlan),
		"interface": rosBridgeName,
	}); err != nil {
		return err
	}
	prefixLen := "24"
	if idx := strings.IndexByte(req.CIDR, '/'); idx >= 0 {
		prefixLen = req.CIDR[idx+1:]
	}
	_, err := r.ros.Add("/ip/address", map[string]string{
		"address":   fmt.Sprintf("%s/%s", req.IPAddress, prefixLen),
		"interface": name,
	})
	return err
}

func (r *routerosDriver) DelVlanToVrf(_ *model.Vrf, itf *model.VlanL3Port) error {
	ipRows, err := r.ros.Print("/ip/address", "?interface="+itf.Name)
	if err != nil {
		return err
	}
	for _, row := range ipRows {
		if err := r.ros.Remove("/ip/address", row[".id"]); err != nil {
			return err
		}
	}
	return r.ros.Remove("/interface/vlan", itf.Index)
}

func (r *routerosDriver) vrfUnsupported(operation string) error {
	return util.NewPreconditionError(operation, r.dev.Name,
		"device family supports no VRFs", "")
}

func (r *routerosDriver) AddVrf(model.VrfRequest) error   { return r.vrfUnsupported("add_vrf") }
func (r *routerosDriver) DelVrf(*model.Vrf) error         { return r.vrfUnsupported("del_vrf") }
func (r *routerosDriver) BindVrf(_, _ *model.Vrf) error   { return r.vrfUnsupported("bind_vrf") }
func (r *routerosDriver) UnbindVrf(_, _ *model.Vrf) error { return r.vrfUnsupported("unbind_vrf") }

func (r *routerosDriver) AddStaticRoute(_ *model.Vrf, route model.IPv4Route) error {
	_, err := r.ros.Add("/ip/route", map[string]string{
		"dst-address": route.Prefix,
		"gateway":     route.Nexthop,
	})
	return err
}

func (r *routerosDriver) DelStaticRoute(_ *model.Vrf, route model.IPv4Route) error {
	rows, err := r.ros.Print("/ip/route", "?dst-address="+route.Prefix, "?gateway="+route.Nexthop)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := r.ros.Remove("/ip/route", row[".id"]); err != nil {
			return err
		}
	}
	return nil
}

func (r *routerosDriver) AddBgpInstance(model.VrfRequest) error {
	return r.vrfUnsupported("add_bgp_instance")
}
func (r *routerosDriver) DelBgpInstance(*model.Vrf) error {
	return r.vrfUnsupported("del_bgp_instance")
}
func (r *routerosDriver) AddBgpPeer(model.BGPNeighbor, *model.Vrf) error {
	return r.vrfUnsupported("add_bgp_peer")
}
func (r *routerosDriver) DelBgpPeer(model.BGPNeighbor, *model.Vrf) error {
	return r.vrfUnsupported("del_bgp_peer")
}

// CommitAndSave is a no-op: RouterOS persists every change immediately.
func (r *routerosDriver) CommitAndSave() error { return nil }

func splitRosVlanIDs(raw string) ([]int, error) {
	var out []int
	for _, item := range splitRosList(raw) {
		v, err := strconv.Atoi(item)
		if err != nil {
			return nil, fmt.Errorf("%w: bad vlan id %q in bridge table", util.ErrMisconfigured, item)
		}
		out = append(out, v)
	}
	return out, nil
}

func joinRosVlanIDs(vids []int) string {
	parts := make([]string, len(vids))
	for i, vid := range vids {
		parts[i] = strconv.Itoa(vid)
	}
	return strings.Join(parts, ",")
}

func splitRosList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
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
