package network

import (
	"errors"
	"testing"

	"github.com/robertobru/netcl/pkg/model"
	"github.com/robertobru/netcl/pkg/util"
)

func TestCreateNetVlanMapsGroupToFreeVrf(t *testing.T) {
	net, _ := testFabric(t)

	msg := &NetVlanMsg{
		WorkerMsg: NewWorkerMsg(OpAddNetVlan),
		Vid:       100, CIDR: "10.100.0.0/24", Gateway: "10.100.0.1", Group: "projA",
	}
	if err := net.CreateNetVlan(msg); err != nil {
		t.Fatalf("CreateNetVlan: %v", err)
	}

	group := net.Groups.Get("projA")
	if group == nil {
		t.Fatal("group not mapped")
	}
	if group.VrfName != "proj01" {
		t.Fatalf("group mapped to %s, want the free project VRF", group.VrfName)
	}

	core := net.Registry.Get("core")
	itf := core.GetVlanInterface(100)
	if itf == nil {
		t.Fatal("vlan interface not created on the hub")
	}
	if itf.Vrf != "proj01" || itf.IPAddress != "10.100.0.1" {
		t.Fatalf("vlan interface = %+v", itf)
	}

	if err := net.AssertNetVlan(msg); err != nil {
		t.Fatalf("AssertNetVlan: %v", err)
	}
}

func TestCreateNetVlanDuplicateInterface(t *testing.T) {
	net, _ := testFabric(t)

	msg := &NetVlanMsg{
		WorkerMsg: NewWorkerMsg(OpAddNetVlan),
		Vid:       100, CIDR: "10.100.0.0/24", Gateway: "10.100.0.1", Group: "projA",
	}
	if err := net.CreateNetVlan(msg); err != nil {
		t.Fatalf("CreateNetVlan: %v", err)
	}

	dup := &NetVlanMsg{
		WorkerMsg: NewWorkerMsg(OpAddNetVlan),
		Vid:       100, CIDR: "10.100.0.0/24", Gateway: "10.100.0.1", Group: "projB",
	}
	err := net.CreateNetVlan(dup)
	if err == nil {
		t.Fatal("duplicate vlan interface expected error")
	}
	if !errors.Is(err, util.ErrAlreadyExists) {
		t.Fatalf("expected already-exists, got %v", err)
	}
}

func TestNetVlanReservedRange(t *testing.T) {
	msg := &NetVlanMsg{
		WorkerMsg: NewWorkerMsg(OpAddNetVlan),
		Vid:       4005, CIDR: "10.100.0.0/24", Gateway: "10.100.0.1", Group: "projA",
	}
	err := msg.Validate()
	if err == nil {
		t.Fatal("reserved vlan id expected error")
	}
	if !errors.Is(err, util.ErrPreconditionFailed) {
		t.Fatalf("expected precondition error, got %v", err)
	}

	low := &NetVlanMsg{WorkerMsg: NewWorkerMsg(OpAddNetVlan), Vid: 10, CIDR: "10.0.0.0/24", Group: "g"}
	if low.Validate() == nil {
		t.Fatal("vlan id below tenant range expected error")
	}
}

func TestNetVlanGatewayOutsideCIDR(t *testing.T) {
	msg := &NetVlanMsg{
		WorkerMsg: NewWorkerMsg(OpAddNetVlan),
		Vid:       100, CIDR: "10.100.0.0/24", Gateway: "10.200.0.1", Group: "projA",
	}
	if msg.Validate() == nil {
		t.Fatal("gateway outside CIDR expected error")
	}
}

func TestDeleteNetVlanFreesGroup(t *testing.T) {
	net, _ := testFabric(t)

	add := &NetVlanMsg{
		WorkerMsg: NewWorkerMsg(OpAddNetVlan),
		Vid:       100, CIDR: "10.100.0.0/24", Gateway: "10.100.0.1", Group: "projA",
	}
	if err := net.CreateNetVlan(add); err != nil {
		t.Fatalf("CreateNetVlan: %v", err)
	}

	del := &NetVlanMsg{
		WorkerMsg: NewWorkerMsg(OpDelNetVlan),
		Vid:       100, CIDR: "10.100.0.0/24", Gateway: "10.100.0.1", Group: "projA",
	}
	if err := net.DeleteNetVlan(del); err != nil {
		t.Fatalf("DeleteNetVlan: %v", err)
	}

	if net.Groups.Exists("projA") {
		t.Fatal("group still mapped after its last vlan was removed")
	}
	if net.Registry.Get("core").GetVlanInterface(100) != nil {
		t.Fatal("vlan interface survives deletion")
	}
	if err := net.AssertNetVlan(del); err != nil {
		t.Fatalf("AssertNetVlan: %v", err)
	}
}

func TestAddPortVlanSetsTrunkAndBackbone(t *testing.T) {
	net, _ := testFabric(t)

	// A tenant network terminates on the hub first.
	add := &NetVlanMsg{
		WorkerMsg: NewWorkerMsg(OpAddNetVlan),
		Vid:       100, CIDR: "10.100.0.0/24", Gateway: "10.100.0.1", Group: "projA",
	}
	if err := net.CreateNetVlan(add); err != nil {
		t.Fatalf("CreateNetVlan: %v", err)
	}

	// Attaching a server port on the leaf spans the VLAN over two
	// switches: the backbone link must carry it afterwards.
	msg := &PortVlanMsg{
		WorkerMsg: NewWorkerMsg(OpAddPortVlan),
		Switch:    "sw2", Port: "Eth4", Vids: []int{100, 101},
	}
	if err := net.AddPortVlan(msg); err != nil {
		t.Fatalf("AddPortVlan: %v", err)
	}

	sw2 := net.Registry.Get("sw2")
	port := sw2.GetPortByName("Eth4")
	if port.Mode != model.ModeTrunk {
		t.Fatalf("port mode = %s, want TRUNK", port.Mode)
	}
	for _, vid := range msg.Vids {
		if !port.HasVlan(vid) {
			t.Fatalf("port missing vlan %d", vid)
		}
	}

	edge := net.Graph.FindEdge("core", "sw2", map[string]string{"core": "Eth1", "sw2": "Eth1"})
	if edge == nil {
		t.Fatal("backbone edge missing")
	}
	if !edge.HasVlan(100) {
		t.Fatal("backbone edge does not carry vlan 100")
	}

	if err := net.AssertPortVlan(msg); err != nil {
		t.Fatalf("AssertPortVlan: %v", err)
	}
}

func TestAddPortVlanIdempotent(t *testing.T) {
	net, _ := testFabric(t)

	msg := &PortVlanMsg{
		WorkerMsg: NewWorkerMsg(OpAddPortVlan),
		Switch:    "sw2", Port: "Eth4", Vids: []int{150},
	}
	if err := net.AddPortVlan(msg); err != nil {
		t.Fatalf("AddPortVlan: %v", err)
	}
	// Re-applying the same attachment is a no-op success.
	if err := net.AddPortVlan(msg); err != nil {
		t.Fatalf("AddPortVlan repeat: %v", err)
	}
	if err := net.AssertPortVlan(msg); err != nil {
		t.Fatalf("AssertPortVlan: %v", err)
	}

	port := net.Registry.Get("sw2").GetPortByName("Eth4")
	count := 0
	for _, vid := range port.TrunkVlans {
		if vid == 150 {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("vlan 150 recorded %d times on the port", count)
	}
}

func TestDelPortVlan(t *testing.T) {
	net, _ := testFabric(t)

	add := &PortVlanMsg{
		WorkerMsg: NewWorkerMsg(OpAddPortVlan),
		Switch:    "sw2", Port: "Eth4", Vids: []int{150},
	}
	if err := net.AddPortVlan(add); err != nil {
		t.Fatalf("AddPortVlan: %v", err)
	}

	del := &PortVlanMsg{
		WorkerMsg: NewWorkerMsg(OpDelPortVlan),
		Switch:    "sw2", Port: "Eth4", Vids: []int{150},
	}
	if err := net.DelPortVlan(del); err != nil {
		t.Fatalf("DelPortVlan: %v", err)
	}
	if net.Registry.Get("sw2").GetPortByName("Eth4").HasVlan(150) {
		t.Fatal("vlan 150 still attached")
	}
	if err := net.AssertPortVlan(del); err != nil {
		t.Fatalf("AssertPortVlan: %v", err)
	}
}

func TestConfigureNewVrfFullPath(t *testing.T) {
	net, _ := testFabric(t)

	// Occupy the free project VRF so the allocator must build a new one.
	net.Groups.Add("existing", "proj01")

	msg := &NetVlanMsg{
		WorkerMsg: NewWorkerMsg(OpAddNetVlan),
		Vid:       100, CIDR: "10.100.0.0/24", Gateway: "10.100.0.1", Group: "projB",
	}
	if err := net.CreateNetVlan(msg); err != nil {
		t.Fatalf("CreateNetVlan: %v", err)
	}

	group := net.Groups.Get("projB")
	if group == nil || group.VrfName != "projB" {
		t.Fatalf("group mapping = %+v", group)
	}

	core := net.Registry.Get("core")
	vrf := core.GetVrfByName("projB")
	if vrf == nil {
		t.Fatal("new vrf not created on the hub")
	}
	// Uplink interface (.1) plus the tenant interface.
	if len(vrf.Ports) != 2 {
		t.Fatalf("vrf ports = %d, want uplink + tenant", len(vrf.Ports))
	}
	uplink := vrf.PortByVlan(3900)
	if uplink == nil {
		t.Fatal("uplink vlan interface missing")
	}
	if uplink.IPAddress != "10.30.0.1" {
		t.Fatalf("uplink address = %s, want 10.30.0.1", uplink.IPAddress)
	}
	if vrf.Protocols.BGP == nil {
		t.Fatal("new vrf has no BGP instance")
	}
	if vrf.Protocols.BGP.Neighbor("10.30.0.2") == nil {
		t.Fatal("BGP peering towards the firewall missing")
	}

	fw := net.Firewall()
	fwVrf := fw.GetVrfByName(model.DefaultVrfName)
	if fwVrf.PortByVlan(3900) == nil {
		t.Fatal("firewall uplink interface missing")
	}
	if fwVrf.Protocols.BGP == nil || fwVrf.Protocols.BGP.Neighbor("10.30.0.1") == nil {
		t.Fatal("firewall BGP peering towards the hub missing")
	}

	// The uplink pair left the pools.
	if containsInt(net.Status.AvailableUplinkVlans, 3900) {
		t.Fatal("uplink vlan still in the free pool")
	}
}

func TestAddPnfBindsMergingVrf(t *testing.T) {
	net, _ := testFabric(t)

	msg := &AddPnfMsg{
		WorkerMsg:  NewWorkerMsg(OpAddPnf),
		Name:       "dpi1",
		SwitchName: "sw2",
		SwitchPort: "Eth4",
	}
	if err := net.AddPnf(msg); err != nil {
		t.Fatalf("AddPnf: %v", err)
	}

	pnf := net.Pnfs.Get("dpi1")
	if pnf == nil {
		t.Fatal("pnf not recorded")
	}
	if pnf.Vlan != 3800 {
		t.Fatalf("pnf vlan = %d, want the first pool id", pnf.Vlan)
	}

	core := net.Registry.Get("core")
	pnfVrf := core.GetVrfByName("dpi1")
	if pnfVrf == nil {
		t.Fatal("pnf vrf missing on the hub")
	}
	merging := core.GetVrfByName("vrf_router")
	bound, err := core.CheckVrfsBinding(pnfVrf, merging)
	if err != nil {
		t.Fatalf("CheckVrfsBinding: %v", err)
	}
	if !bound {
		t.Fatal("pnf vrf not bound to the merging vrf")
	}

	if err := net.AssertPnf(OpAddPnf, "dpi1"); err != nil {
		t.Fatalf("AssertPnf: %v", err)
	}
}

func TestRoutesInGroupVrf(t *testing.T) {
	net, _ := testFabric(t)

	add := &NetVlanMsg{
		WorkerMsg: NewWorkerMsg(OpAddNetVlan),
		Vid:       100, CIDR: "10.100.0.0/24", Gateway: "10.100.0.1", Group: "projA",
	}
	if err := net.CreateNetVlan(add); err != nil {
		t.Fatalf("CreateNetVlan: %v", err)
	}

	route := &RouteMsg{
		WorkerMsg: NewWorkerMsg(OpAddRoute),
		Group:     "projA", Prefix: "192.168.50.0/24", Nexthop: "10.100.0.254",
	}
	if err := net.AddRoute(route); err != nil {
		t.Fatalf("AddRoute: %v", err)
	}
	if err := net.AssertRoute(route, true); err != nil {
		t.Fatalf("AssertRoute add: %v", err)
	}

	del := &RouteMsg{
		WorkerMsg: NewWorkerMsg(OpDelRoute),
		Group:     "projA", Prefix: "192.168.50.0/24", Nexthop: "10.100.0.254",
	}
	if err := net.DelRoute(del); err != nil {
		t.Fatalf("DelRoute: %v", err)
	}
	if err := net.AssertRoute(del, false); err != nil {
		t.Fatalf("AssertRoute del: %v", err)
	}
}

func TestUniqueVlanInterfaceAcrossFabric(t *testing.T) {
	net, _ := testFabric(t)

	add := &NetVlanMsg{
		WorkerMsg: NewWorkerMsg(OpAddNetVlan),
		Vid:       100, CIDR: "10.100.0.0/24", Gateway: "10.100.0.1", Group: "projA",
	}
	if err := net.CreateNetVlan(add); err != nil {
		t.Fatalf("CreateNetVlan: %v", err)
	}

	holders := 0
	for _, sw := range net.Registry.Switches() {
		if sw.GetVlanInterface(100) != nil {
			holders++
		}
	}
	if holders != 1 {
		t.Fatalf("vlan 100 has %d L3 interfaces across the fabric, want 1", holders)
	}
}
