package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/robertobru/netcl/pkg/config"
	"github.com/robertobru/netcl/pkg/device"
	"github.com/robertobru/netcl/pkg/model"
	"github.com/robertobru/netcl/pkg/network"
)

// nullDriver satisfies the device contract without any transport; the API
// tests never let intents reach a device.
type nullDriver struct{ dev *device.Device }

func (n *nullDriver) InitDrivers() error  { return nil }
func (n *nullDriver) RetrieveInfo() error { return nil }

func (n *nullDriver) AddVlan([]int) error                                       { return nil }
func (n *nullDriver) DelVlan([]int) error                                       { return nil }
func (n *nullDriver) AddVlanToPort(int, *model.PhyPort, bool) error             { return nil }
func (n *nullDriver) DelVlanToPort([]int, *model.PhyPort) error                 { return nil }
func (n *nullDriver) SetPortMode(*model.PhyPort, model.LinkMode) error          { return nil }
func (n *nullDriver) AddVlanToVrf(*model.Vrf, model.VlanInterfaceRequest) error { return nil }
func (n *nullDriver) DelVlanToVrf(*model.Vrf, *model.VlanL3Port) error          { return nil }
func (n *nullDriver) AddVrf(model.VrfRequest) error                             { return nil }
func (n *nullDriver) DelVrf(*model.Vrf) error                                   { return nil }
func (n *nullDriver) BindVrf(*model.Vrf, *model.Vrf) error                      { return nil }
func (n *nullDriver) UnbindVrf(*model.Vrf, *model.Vrf) error                    { return nil }
func (n *nullDriver) AddStaticRoute(*model.Vrf, model.IPv4Route) error          { return nil }
func (n *nullDriver) DelStaticRoute(*model.Vrf, model.IPv4Route) error          { return nil }
func (n *nullDriver) AddBgpInstance(model.VrfRequest) error                     { return nil }
func (n *nullDriver) DelBgpInstance(*model.Vrf) error                           { return nil }
func (n *nullDriver) AddBgpPeer(model.BGPNeighbor, *model.Vrf) error            { return nil }
func (n *nullDriver) DelBgpPeer(model.BGPNeighbor, *model.Vrf) error            { return nil }
func (n *nullDriver) CommitAndSave() error                                      { return nil }

// testServer builds an API server over one switch with a VLAN-100 L3
// interface. The worker is not started: intents stay queued, which is all
// the handler tests need.
func testServer(t *testing.T) *Server {
	t.Helper()
	registry := device.NewRegistry(nil, device.AdapterOptions{})

	dev := device.NewWithDriver(model.DeviceData{
		DeviceInfo: model.DeviceInfo{Name: "sw1", Family: model.FamilyComware, Address: "10.0.0.1"},
		State:      model.StateReady,
		Vlans:      []int{100},
		PhyPorts: []model.PhyPort{{
			Index: "Eth4", Name: "Eth4", Mode: model.ModeTrunk,
			TrunkVlans: []int{100}, Status: model.LinkUp,
		}},
		VlanL3Ports: []model.VlanL3Port{{
			Index: "Vlan100", Name: "Vlan100", Vlan: 100,
			IPAddress: "10.100.0.1", CIDR: "10.100.0.0/24", Vrf: "projA",
		}},
		Vrfs: []model.Vrf{{Name: "projA", RD: "1000:1"}},
	}, &nullDriver{}, nil)
	registry.Insert(dev)

	cfg := &config.NetworkConfig{VrfSwitchName: "sw1", ASNumber: 1000}
	net, err := network.New(nil, registry, cfg)
	if err != nil {
		t.Fatalf("building network: %v", err)
	}
	net.Groups.Add("projA", "projA")

	return NewServer(network.NewWorker(net, nil), nil)
}

func doRequest(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encoding request: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestGetSwitch(t *testing.T) {
	s := testServer(t)

	rec := doRequest(t, s, http.MethodGet, "/v1/api/device/sw1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET device = %d", rec.Code)
	}
	var data model.DeviceData
	if err := json.Unmarshal(rec.Body.Bytes(), &data); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if data.Name != "sw1" || data.State != model.StateReady {
		t.Fatalf("device = %+v", data)
	}

	rec = doRequest(t, s, http.MethodGet, "/v1/api/device/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("GET missing device = %d, want 404", rec.Code)
	}
}

func TestOnboardSwitchAccepted(t *testing.T) {
	s := testServer(t)

	rec := doRequest(t, s, http.MethodPost, "/v1/api/device", map[string]interface{}{
		"name": "sw2", "family": "sonic", "address": "10.0.0.2", "user": "admin", "passwd": "secret",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("POST device = %d: %s", rec.Code, rec.Body.String())
	}
	var accepted Accepted
	if err := json.Unmarshal(rec.Body.Bytes(), &accepted); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if accepted.Status != network.StatusInProgress || len(accepted.Links) != 1 {
		t.Fatalf("accepted = %+v", accepted)
	}
	if accepted.Links[0].Href == "" {
		t.Fatal("missing polling link")
	}
}

func TestOnboardSwitchCollision(t *testing.T) {
	s := testServer(t)
	rec := doRequest(t, s, http.MethodPost, "/v1/api/device", map[string]interface{}{
		"name": "sw1", "family": "sonic", "address": "10.0.0.2",
	})
	if rec.Code != http.StatusNotAcceptable {
		t.Fatalf("POST duplicate device = %d, want 406", rec.Code)
	}
}

func TestCreateNetVlanReservedRange(t *testing.T) {
	s := testServer(t)
	rec := doRequest(t, s, http.MethodPost, "/v1/api/network/vlan", map[string]interface{}{
		"vid": 4005, "cidr": "10.100.0.0/24", "gateway": "10.100.0.1", "group": "projX",
	})
	if rec.Code != http.StatusNotAcceptable {
		t.Fatalf("POST reserved vlan = %d, want 406", rec.Code)
	}
}

func TestCreateNetVlanConflict(t *testing.T) {
	s := testServer(t)
	rec := doRequest(t, s, http.MethodPost, "/v1/api/network/vlan", map[string]interface{}{
		"vid": 100, "cidr": "10.100.0.0/24", "gateway": "10.100.0.1", "group": "projX",
	})
	if rec.Code != http.StatusNotAcceptable {
		t.Fatalf("POST existing vlan = %d, want 406", rec.Code)
	}
}

func TestCreateNetVlanAccepted(t *testing.T) {
	s := testServer(t)
	rec := doRequest(t, s, http.MethodPost, "/v1/api/network/vlan", map[string]interface{}{
		"vid": 200, "cidr": "10.200.0.0/24", "gateway": "10.200.0.1", "group": "projX",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("POST vlan = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGetNetVlan(t *testing.T) {
	s := testServer(t)

	rec := doRequest(t, s, http.MethodGet, "/v1/api/network/vlan/100", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET vlan = %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if body["gateway"] != "10.100.0.1" {
		t.Fatalf("vlan body = %v", body)
	}

	rec = doRequest(t, s, http.MethodGet, "/v1/api/network/vlan/999", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("GET missing vlan = %d, want 404", rec.Code)
	}
}

func TestGetPortVlans(t *testing.T) {
	s := testServer(t)

	rec := doRequest(t, s, http.MethodGet, "/v1/api/network/vlan/port/sw1/Eth4", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET port vlans = %d", rec.Code)
	}
	var report portVlanReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if report.Mode != string(model.ModeTrunk) || len(report.Trunk) != 1 {
		t.Fatalf("report = %+v", report)
	}

	rec = doRequest(t, s, http.MethodGet, "/v1/api/network/vlan/port/sw1/Eth99", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("GET missing port = %d, want 404", rec.Code)
	}
}

func TestPortVlanRejectsReservedRange(t *testing.T) {
	s := testServer(t)
	rec := doRequest(t, s, http.MethodPost, "/v1/api/network/vlan/port", map[string]interface{}{
		"switch": "sw1", "port": "Eth4", "vids": []int{4010},
	})
	if rec.Code != http.StatusNotAcceptable {
		t.Fatalf("POST reserved port vlan = %d, want 406", rec.Code)
	}
}

func TestRouteUnknownGroup(t *testing.T) {
	s := testServer(t)
	rec := doRequest(t, s, http.MethodPost, "/v1/api/network/route", map[string]interface{}{
		"group": "ghost", "prefix": "10.9.0.0/24", "nexthop": "10.100.0.254",
	})
	if rec.Code != http.StatusNotAcceptable {
		t.Fatalf("POST route for unknown group = %d, want 406", rec.Code)
	}
}

func TestTopologyRead(t *testing.T) {
	s := testServer(t)
	rec := doRequest(t, s, http.MethodGet, "/v1/api/network/topology/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET topology = %d", rec.Code)
	}
	var topo map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &topo); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if _, ok := topo["sw1"]; !ok {
		t.Fatalf("topology missing sw1: %v", topo)
	}
}

func TestVrfRead(t *testing.T) {
	s := testServer(t)

	rec := doRequest(t, s, http.MethodGet, "/v1/api/network/vrf?name=projA", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET vrf = %d", rec.Code)
	}
	var vrf model.NetworkVrf
	if err := json.Unmarshal(rec.Body.Bytes(), &vrf); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if vrf.Device != "sw1" || vrf.Name != "projA" {
		t.Fatalf("vrf = %+v", vrf)
	}

	rec = doRequest(t, s, http.MethodGet, "/v1/api/network/vrf?name=ghost", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("GET missing vrf = %d, want 404", rec.Code)
	}
}

func TestPnfNotFound(t *testing.T) {
	s := testServer(t)
	rec := doRequest(t, s, http.MethodGet, "/v1/api/pnf/ghost", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("GET missing pnf = %d, want 404", rec.Code)
	}
	rec = doRequest(t, s, http.MethodDelete, "/v1/api/pnf/ghost", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("DELETE missing pnf = %d, want 404", rec.Code)
	}
}

func TestPingRejectsBadAddress(t *testing.T) {
	s := testServer(t)
	rec := doRequest(t, s, http.MethodPost, "/v1/api/tools/ping", map[string]interface{}{
		"ip": "not-an-ip",
	})
	if rec.Code != http.StatusNotAcceptable {
		t.Fatalf("POST ping bad ip = %d, want 406", rec.Code)
	}
}

func TestSetConfigAccepted(t *testing.T) {
	s := testServer(t)

	rec := doRequest(t, s, http.MethodPost, "/v1/api/network/config", map[string]interface{}{
		"vrf_switch_name": "sw1",
		"as_number":       65000,
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("POST config = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, s, http.MethodPost, "/v1/api/network/config", map[string]interface{}{
		"as_number": 65000,
	})
	if rec.Code != http.StatusNotAcceptable {
		t.Fatalf("POST config without vrf switch = %d, want 406", rec.Code)
	}

	rec = doRequest(t, s, http.MethodGet, "/v1/api/network/config", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET config = %d", rec.Code)
	}
}
