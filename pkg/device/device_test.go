package device

import (
	"errors"
	"fmt"
	"testing"

	"github.com/robertobru/netcl/pkg/model"
	"github.com/robertobru/netcl/pkg/util"
)

// fakeDriver records contract calls and lets tests inject failures.
type fakeDriver struct {
	calls   []string
	failOn  string
	failErr error
}

func (f *fakeDriver) record(name string) error {
	f.calls = append(f.calls, name)
	if f.failOn == name {
		return f.failErr
	}
	return nil
}

func (f *fakeDriver) InitDrivers() error   { return f.record("init") }
func (f *fakeDriver) RetrieveInfo() error  { return f.record("retrieve") }
func (f *fakeDriver) AddVlan([]int) error  { return f.record("add_vlan") }
func (f *fakeDriver) DelVlan([]int) error  { return f.record("del_vlan") }
func (f *fakeDriver) CommitAndSave() error { return f.record("commit") }

func (f *fakeDriver) AddVlanToPort(int, *model.PhyPort, bool) error {
	return f.record("add_vlan_to_port")
}
func (f *fakeDriver) DelVlanToPort([]int, *model.PhyPort) error { return f.record("del_vlan_to_port") }
func (f *fakeDriver) SetPortMode(*model.PhyPort, model.LinkMode) error {
	return f.record("set_port_mode")
}
func (f *fakeDriver) AddVlanToVrf(*model.Vrf, model.VlanInterfaceRequest) error {
	return f.record("add_vlan_to_vrf")
}
func (f *fakeDriver) DelVlanToVrf(*model.Vrf, *model.VlanL3Port) error {
	return f.record("del_vlan_to_vrf")
}
func (f *fakeDriver) AddVrf(model.VrfRequest) error { return f.record("add_vrf") }
func (f *fakeDriver) DelVrf(*model.Vrf) error       { return f.record("del_vrf") }
func (f *fakeDriver) BindVrf(a, b *model.Vrf) error {
	if err := f.record("bind_vrf"); err != nil {
		return err
	}
	a.RDExport = appendMissing(a.RDExport, a.RD)
	b.RDExport = appendMissing(b.RDExport, b.RD)
	a.RDImport = appendMissing(a.RDImport, b.RD)
	b.RDImport = appendMissing(b.RDImport, a.RD)
	return nil
}
func (f *fakeDriver) UnbindVrf(a, b *model.Vrf) error { return f.record("unbind_vrf") }
func (f *fakeDriver) AddStaticRoute(*model.Vrf, model.IPv4Route) error {
	return f.record("add_static_route")
}
func (f *fakeDriver) DelStaticRoute(*model.Vrf, model.IPv4Route) error {
	return f.record("del_static_route")
}
func (f *fakeDriver) AddBgpInstance(model.VrfRequest) error { return f.record("add_bgp_instance") }
func (f *fakeDriver) DelBgpInstance(*model.Vrf) error       { return f.record("del_bgp_instance") }
func (f *fakeDriver) AddBgpPeer(model.BGPNeighbor, *model.Vrf) error {
	return f.record("add_bgp_peer")
}
func (f *fakeDriver) DelBgpPeer(model.BGPNeighbor, *model.Vrf) error {
	return f.record("del_bgp_peer")
}

func appendMissing(values []string, v string) []string {
	for _, item := range values {
		if item == v {
			return values
		}
	}
	return append(values, v)
}

// testDevice builds a ready switch with one trunk port, one access port,
// and two VRFs.
func testDevice() (*Device, *fakeDriver) {
	driver := &fakeDriver{}
	dev := NewWithDriver(model.DeviceData{
		DeviceInfo: model.DeviceInfo{Name: "sw1", Family: model.FamilyComware, Address: "10.0.0.10"},
		State:      model.StateReady,
		Vlans:      []int{100, 200},
		PhyPorts: []model.PhyPort{
			{Index: "GigabitEthernet1/0/1", Name: "GigabitEthernet1/0/1", Mode: model.ModeTrunk,
				TrunkVlans: []int{100}, Status: model.LinkUp},
			{Index: "GigabitEthernet1/0/2", Name: "GigabitEthernet1/0/2", Mode: model.ModeAccess,
				AccessVlan: 200, Status: model.LinkUp},
		},
		Vrfs: []model.Vrf{
			{Name: "projA", RD: "1000:1"},
			{Name: "projB", RD: "1000:2"},
		},
	}, driver, nil)
	return dev, driver
}

func TestAddVlanIdempotent(t *testing.T) {
	dev, driver := testDevice()

	// All requested VLANs exist: no driver call, success.
	if err := dev.AddVlan([]int{100, 200}); err != nil {
		t.Fatalf("AddVlan existing: %v", err)
	}
	if len(driver.calls) != 0 {
		t.Fatalf("AddVlan existing issued driver calls: %v", driver.calls)
	}

	// Mixed: only the missing VLAN reaches the driver.
	if err := dev.AddVlan([]int{100, 300}); err != nil {
		t.Fatalf("AddVlan mixed: %v", err)
	}
	if len(driver.calls) != 1 || driver.calls[0] != "add_vlan" {
		t.Fatalf("unexpected driver calls: %v", driver.calls)
	}
	if !dev.HasVlan(300) {
		t.Fatal("vlan 300 not recorded after AddVlan")
	}
}

func TestAddVlanRange(t *testing.T) {
	dev, _ := testDevice()
	if err := dev.AddVlan([]int{0}); err == nil {
		t.Fatal("AddVlan(0) expected error")
	}
	if err := dev.AddVlan([]int{5000}); err == nil {
		t.Fatal("AddVlan(5000) expected error")
	}
}

func TestMutationRequiresReady(t *testing.T) {
	dev, _ := testDevice()
	dev.State = model.StateNetError
	err := dev.AddVlan([]int{300})
	if err == nil {
		t.Fatal("AddVlan on net_error device expected error")
	}
	if !errors.Is(err, util.ErrPreconditionFailed) {
		t.Fatalf("expected precondition error, got %v", err)
	}
}

func TestDelVlanMissingWithoutForce(t *testing.T) {
	dev, driver := testDevice()
	if err := dev.DelVlan([]int{100, 999}, false); err == nil {
		t.Fatal("DelVlan with missing vlan expected error")
	}
	if len(driver.calls) != 0 {
		t.Fatalf("DelVlan issued driver calls before precondition: %v", driver.calls)
	}
	if err := dev.DelVlan([]int{100, 999}, true); err != nil {
		t.Fatalf("DelVlan force: %v", err)
	}
	if dev.HasVlan(100) {
		t.Fatal("vlan 100 still recorded after DelVlan")
	}
}

func TestAddVlanToPortModeMismatch(t *testing.T) {
	dev, _ := testDevice()
	err := dev.AddVlanToPort(100, "GigabitEthernet1/0/2", model.ModeTrunk, false)
	if err == nil {
		t.Fatal("AddVlanToPort on access port with TRUNK mode expected error")
	}
	if !errors.Is(err, util.ErrPreconditionFailed) {
		t.Fatalf("expected precondition error, got %v", err)
	}
}

func TestAddVlanToPortIdempotent(t *testing.T) {
	dev, driver := testDevice()
	if err := dev.AddVlanToPort(100, "GigabitEthernet1/0/1", model.ModeTrunk, false); err != nil {
		t.Fatalf("AddVlanToPort existing: %v", err)
	}
	if len(driver.calls) != 0 {
		t.Fatalf("re-adding an attached vlan issued driver calls: %v", driver.calls)
	}
}

func TestAddVlanToPortCreatesVlan(t *testing.T) {
	dev, driver := testDevice()
	if err := dev.AddVlanToPort(300, "GigabitEthernet1/0/1", model.ModeTrunk, false); err != nil {
		t.Fatalf("AddVlanToPort new vlan: %v", err)
	}
	want := []string{"add_vlan", "add_vlan_to_port"}
	if fmt.Sprint(driver.calls) != fmt.Sprint(want) {
		t.Fatalf("driver calls = %v, want %v", driver.calls, want)
	}
	port := dev.GetPortByName("GigabitEthernet1/0/1")
	if !port.HasVlan(300) {
		t.Fatal("vlan 300 not recorded on port")
	}
}

func TestPortModeConsistency(t *testing.T) {
	dev, _ := testDevice()

	// TRUNK clears the access VLAN.
	if err := dev.SetPortMode("GigabitEthernet1/0/2", model.ModeTrunk); err != nil {
		t.Fatalf("SetPortMode: %v", err)
	}
	port := dev.GetPortByName("GigabitEthernet1/0/2")
	if port.AccessVlan != 0 {
		t.Fatalf("access vlan %d survives TRUNK mode", port.AccessVlan)
	}

	// ACCESS clears the trunk set.
	if err := dev.SetPortMode("GigabitEthernet1/0/1", model.ModeAccess); err != nil {
		t.Fatalf("SetPortMode: %v", err)
	}
	port = dev.GetPortByName("GigabitEthernet1/0/1")
	if len(port.TrunkVlans) != 0 {
		t.Fatalf("trunk vlans %v survive ACCESS mode", port.TrunkVlans)
	}
}

func TestBindVrfSymmetry(t *testing.T) {
	dev, driver := testDevice()

	if err := dev.BindVrf("projA", "projB"); err != nil {
		t.Fatalf("BindVrf: %v", err)
	}
	if len(driver.calls) != 1 {
		t.Fatalf("driver calls = %v", driver.calls)
	}

	// Second bind is a no-op.
	if err := dev.BindVrf("projA", "projB"); err != nil {
		t.Fatalf("BindVrf repeat: %v", err)
	}
	if len(driver.calls) != 1 {
		t.Fatalf("re-binding bound VRFs issued driver calls: %v", driver.calls)
	}
}

func TestBindVrfAsymmetryIsFatal(t *testing.T) {
	dev, _ := testDevice()
	vrfA := dev.GetVrfByName("projA")
	vrfB := dev.GetVrfByName("projB")
	vrfB.RDExport = []string{vrfB.RD}
	vrfA.RDImport = []string{vrfB.RD} // one direction only

	_, err := dev.CheckVrfsBinding(vrfA, vrfB)
	if err == nil {
		t.Fatal("asymmetric binding expected error")
	}
	if !errors.Is(err, util.ErrMisconfigured) {
		t.Fatalf("expected device_config_invalid, got %v", err)
	}
}

func TestStoreConfigSnapshots(t *testing.T) {
	dev, _ := testDevice()

	if !dev.StoreConfig("config v1") {
		t.Fatal("first snapshot not stored")
	}
	if dev.StoreConfig("config v1") {
		t.Fatal("identical snapshot stored again")
	}
	if !dev.StoreConfig("config v2") {
		t.Fatal("changed snapshot not stored")
	}
	if len(dev.ConfigHistory) != 2 {
		t.Fatalf("history length = %d, want 2", len(dev.ConfigHistory))
	}

	for i := 0; i < 150; i++ {
		dev.StoreConfig(fmt.Sprintf("config %d", i))
	}
	if len(dev.ConfigHistory) != model.MaxConfigHistory {
		t.Fatalf("history length = %d, want %d", len(dev.ConfigHistory), model.MaxConfigHistory)
	}
	if dev.ConfigHistory[len(dev.ConfigHistory)-1].Config != dev.LastConfig.Config {
		t.Fatal("last history entry does not match the most recent snapshot")
	}
	if dev.GetLastConfig() != "config 149" {
		t.Fatalf("last config = %q", dev.GetLastConfig())
	}
}

func TestFailTagsDeviceState(t *testing.T) {
	dev, driver := testDevice()
	driver.failOn = "add_vlan"
	driver.failErr = fmt.Errorf("%w: connect timeout", util.ErrUnreachable)

	if err := dev.AddVlan([]int{300}); err == nil {
		t.Fatal("AddVlan with failing driver expected error")
	}
	if dev.State != model.StateNetError {
		t.Fatalf("device state = %s, want net_error", dev.State)
	}

	dev.State = model.StateReady
	driver.failErr = fmt.Errorf("%w: bad credentials", util.ErrUnauthenticated)
	if err := dev.AddVlan([]int{301}); err == nil {
		t.Fatal("AddVlan with auth failure expected error")
	}
	if dev.State != model.StateAuthError {
		t.Fatalf("device state = %s, want auth_error", dev.State)
	}
}

func TestRegistryCreateCollision(t *testing.T) {
	r := NewRegistry(nil, AdapterOptions{})
	dev, _ := testDevice()
	r.Insert(dev)

	_, err := r.Create(model.DeviceInfo{Name: "sw1", Family: model.FamilyComware})
	if err == nil {
		t.Fatal("Create with existing name expected error")
	}
	if !errors.Is(err, util.ErrAlreadyExists) {
		t.Fatalf("expected already-exists error, got %v", err)
	}
}

func TestRegistryUnknownFamily(t *testing.T) {
	r := NewRegistry(nil, AdapterOptions{})
	_, err := r.Create(model.DeviceInfo{Name: "swX", Family: "unknown-os"})
	if err == nil {
		t.Fatal("Create with unknown family expected error")
	}
}
