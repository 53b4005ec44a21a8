package network

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/juju/mgo/v3/bson"

	"github.com/robertobru/netcl/pkg/config"
	"github.com/robertobru/netcl/pkg/model"
	"github.com/robertobru/netcl/pkg/store"
	"github.com/robertobru/netcl/pkg/util"
)

// Operation kinds: the closed set of intents the worker processes.
const (
	OpAddSwitch    = "add_switch"
	OpDelSwitch    = "del_switch"
	OpAddFirewall  = "add_firewall"
	OpDelFirewall  = "del_firewall"
	OpSetConfig    = "set_config"
	OpAddNetVlan   = "add_net_vlan"
	OpDelNetVlan   = "del_net_vlan"
	OpModNetVlan   = "mod_net_vlan"
	OpAddPortVlan  = "add_port_vlan"
	OpDelPortVlan  = "del_port_vlan"
	OpModPortVlan  = "mod_port_vlan"
	OpAddPnf       = "add_pnf"
	OpDelPnf       = "del_pnf"
	OpBindGroups   = "bind_groups"
	OpUnbindGroups = "unbind_groups"
	OpAddRoute     = "add_route"
	OpDelRoute     = "del_route"
	OpStop         = "stop"
)

// Operation states.
const (
	StatusInProgress = "InProgress"
	StatusFailed     = "Failed"
	StatusSuccess    = "Success"
)

// WorkerMsg is the base of every intent message: the server-assigned
// operation id, its lifecycle, and the optional completion callback.
type WorkerMsg struct {
	OperationID   string     `json:"operation_id" bson:"operation_id"`
	Operation     string     `json:"operation" bson:"operation"`
	Status        string     `json:"status" bson:"status"`
	ErrorCategory string     `json:"error_category,omitempty" bson:"error_category,omitempty"`
	StartTime     time.Time  `json:"start_time" bson:"start_time"`
	EndTime       *time.Time `json:"end_time,omitempty" bson:"end_time,omitempty"`
	Callback      string     `json:"callback,omitempty" bson:"callback,omitempty"`
}

// NewWorkerMsg stamps a fresh message for the operation kind.
func NewWorkerMsg(operation string) WorkerMsg {
	return WorkerMsg{
		OperationID: uuid.NewString(),
		Operation:   operation,
		Status:      StatusInProgress,
		StartTime:   time.Now(),
	}
}

// Base gives the worker uniform access to the message envelope.
func (m *WorkerMsg) Base() *WorkerMsg { return m }

// ToDB upserts the operation document.
func (m *WorkerMsg) ToDB(db *store.DB) error {
	if db == nil {
		return nil
	}
	return db.Upsert(store.ColOperations, bson.M{"operation_id": m.OperationID}, m)
}

// UpdateStatus records the terminal state, persists it, and notifies the
// callback URL when one was supplied.
func (m *WorkerMsg) UpdateStatus(db *store.DB, status, category string) {
	now := time.Now()
	m.Status = status
	m.ErrorCategory = category
	m.EndTime = &now
	if err := m.ToDB(db); err != nil {
		util.WithOperation(m.OperationID).Errorf("persisting operation status: %v", err)
	}
	if m.Callback != "" {
		m.notify()
	}
}

// callbackBody is the completion notification shape.
type callbackBody struct {
	ID             string `json:"id"`
	Operation      string `json:"operation"`
	Status         string `json:"status"`
	DetailedStatus string `json:"detailed_status"`
}

func (m *WorkerMsg) notify() {
	body, err := json.Marshal(callbackBody{
		ID:             m.OperationID,
		Operation:      m.Operation,
		Status:         m.Status,
		DetailedStatus: m.ErrorCategory,
	})
	if err != nil {
		return
	}
	resp, err := http.Post(m.Callback, "application/json", bytes.NewReader(body))
	if err != nil {
		util.WithOperation(m.OperationID).Warnf("callback to %s failed: %v", m.Callback, err)
		return
	}
	resp.Body.Close()
}

// Message is one queued intent.
type Message interface {
	Base() *WorkerMsg
}

// AddSwitchMsg onboards a switch.
type AddSwitchMsg struct {
	WorkerMsg        `json:",inline" bson:",inline"`
	model.DeviceInfo `json:",inline" bson:",inline"`
}

// DelSwitchMsg removes a switch.
type DelSwitchMsg struct {
	WorkerMsg  `json:",inline" bson:",inline"`
	SwitchName string `json:"switch_name" bson:"switch_name"`
}

// AddFirewallMsg onboards the firewall.
type AddFirewallMsg struct {
	WorkerMsg        `json:",inline" bson:",inline"`
	model.DeviceInfo `json:",inline" bson:",inline"`
}

// DelFirewallMsg removes the firewall.
type DelFirewallMsg struct {
	WorkerMsg `json:",inline" bson:",inline"`
}

// SetConfigMsg replaces the network-level configuration.
type SetConfigMsg struct {
	WorkerMsg `json:",inline" bson:",inline"`
	Config    config.NetworkConfig `json:"config" bson:"config"`
}

// NetVlanMsg creates, deletes, or modifies a tenant network VLAN.
type NetVlanMsg struct {
	WorkerMsg   `json:",inline" bson:",inline"`
	Vid         int    `json:"vid" bson:"vid"`
	CIDR        string `json:"cidr" bson:"cidr"`
	Gateway     string `json:"gateway,omitempty" bson:"gateway,omitempty"`
	Group       string `json:"group" bson:"group"`
	Description string `json:"description,omitempty" bson:"description,omitempty"`
}

// Validate applies the tenant-visible checks: id range and gateway inside
// the CIDR.
func (m *NetVlanMsg) Validate() error {
	if err := model.ValidateTenantVlan(m.Vid); err != nil {
		return util.NewPreconditionError(m.Operation, "vlan", "vlan identifier in tenant range", err.Error())
	}
	if m.Gateway != "" {
		inside, err := util.CIDRContains(m.CIDR, m.Gateway)
		if err != nil {
			return util.NewPreconditionError(m.Operation, "vlan", "valid cidr and gateway", err.Error())
		}
		if !inside {
			return util.NewPreconditionError(m.Operation, "vlan",
				"gateway address inside the network CIDR", "")
		}
	}
	return nil
}

// InterfaceRequest converts the message into the switch-side L3 interface
// request.
func (m *NetVlanMsg) InterfaceRequest(vrfName string) model.VlanInterfaceRequest {
	return model.VlanInterfaceRequest{
		Vlan:        m.Vid,
		IPAddress:   m.Gateway,
		CIDR:        m.CIDR,
		Vrf:         vrfName,
		Description: m.Description,
	}
}

// PortVlanMsg attaches or detaches VLANs on a physical port.
type PortVlanMsg struct {
	WorkerMsg `json:",inline" bson:",inline"`
	Fqdn      string `json:"fqdn,omitempty" bson:"fqdn,omitempty"`
	Interface string `json:"interface,omitempty" bson:"interface,omitempty"`
	Switch    string `json:"switch" bson:"switch"`
	Port      string `json:"port" bson:"port"`
	Vids      []int  `json:"vids" bson:"vids"`
}

// AddPnfMsg onboards a physical network function.
type AddPnfMsg struct {
	WorkerMsg  `json:",inline" bson:",inline"`
	Name       string `json:"name" bson:"name"`
	SwitchName string `json:"switch_name" bson:"switch_name"`
	SwitchPort string `json:"switch_port" bson:"switch_port"`
	Vid        int    `json:"vid,omitempty" bson:"vid,omitempty"`
	IPAddress  string `json:"ip_address,omitempty" bson:"ip_address,omitempty"`
	Gateway    string `json:"ip_gateway,omitempty" bson:"ip_gateway,omitempty"`
}

// DelPnfMsg removes a physical network function.
type DelPnfMsg struct {
	WorkerMsg `json:",inline" bson:",inline"`
	PnfName   string `json:"pnf_name" bson:"pnf_name"`
}

// BindGroupsMsg binds or unbinds tenant groups to a PNF's VRF.
type BindGroupsMsg struct {
	WorkerMsg `json:",inline" bson:",inline"`
	PnfName   string   `json:"pnf_name" bson:"pnf_name"`
	Groups    []string `json:"groups" bson:"groups"`
}

// RouteMsg installs or removes a static route in a group's VRF.
type RouteMsg struct {
	WorkerMsg `json:",inline" bson:",inline"`
	Group     string `json:"group" bson:"group"`
	Prefix    string `json:"prefix" bson:"prefix"`
	Nexthop   string `json:"nexthop" bson:"nexthop"`
}

// Route converts the message into the route model.
func (m *RouteMsg) Route() model.IPv4Route {
	return model.IPv4Route{Prefix: m.Prefix, Nexthop: m.Nexthop}
}

// StopMsg drains the worker and terminates it.
type StopMsg struct {
	WorkerMsg `json:",inline" bson:",inline"`
}
