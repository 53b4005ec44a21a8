// Package api exposes the controller's REST surface. All mutating
// endpoints enqueue an intent and answer 202 with a polling link; reads
// answer synchronously from the fabric model.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/juju/mgo/v3/bson"

	"github.com/robertobru/netcl/pkg/model"
	"github.com/robertobru/netcl/pkg/network"
	"github.com/robertobru/netcl/pkg/store"
	"github.com/robertobru/netcl/pkg/util"
)

// Server wires the routers over the fabric model and the worker.
type Server struct {
	worker *network.Worker
	db     *store.DB
}

// NewServer creates the API server.
func NewServer(worker *network.Worker, db *store.DB) *Server {
	return &Server{worker: worker, db: db}
}

// Router builds the full route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/v1/api").Subrouter()

	api.HandleFunc("/device", s.listSwitches).Methods(http.MethodGet)
	api.HandleFunc("/device", s.addSwitch).Methods(http.MethodPost)
	api.HandleFunc("/device/{name}", s.getSwitch).Methods(http.MethodGet)
	api.HandleFunc("/device/{name}", s.delSwitch).Methods(http.MethodDelete)

	api.HandleFunc("/firewall", s.getFirewall).Methods(http.MethodGet)
	api.HandleFunc("/firewall", s.addFirewall).Methods(http.MethodPost)
	api.HandleFunc("/firewall", s.delFirewall).Methods(http.MethodDelete)

	api.HandleFunc("/network/vrf", s.getVrfs).Methods(http.MethodGet)
	api.HandleFunc("/network/topology/", s.getTopology).Methods(http.MethodGet)
	api.HandleFunc("/network/topology/vrf/{name}", s.getVrfTopology).Methods(http.MethodGet)
	api.HandleFunc("/network/topology/vlan/{vid}", s.getVlanTopology).Methods(http.MethodGet)

	api.HandleFunc("/network/vlan", s.netVlan(network.OpAddNetVlan)).Methods(http.MethodPost)
	api.HandleFunc("/network/vlan", s.netVlan(network.OpDelNetVlan)).Methods(http.MethodDelete)
	api.HandleFunc("/network/vlan", s.netVlan(network.OpModNetVlan)).Methods(http.MethodPut)
	api.HandleFunc("/network/vlan/port", s.portVlan(network.OpAddPortVlan)).Methods(http.MethodPost)
	api.HandleFunc("/network/vlan/port", s.portVlan(network.OpDelPortVlan)).Methods(http.MethodDelete)
	api.HandleFunc("/network/vlan/port", s.portVlan(network.OpModPortVlan)).Methods(http.MethodPut)
	api.HandleFunc("/network/vlan/port/{switch}/{port}", s.getPortVlans).Methods(http.MethodGet)
	api.HandleFunc("/network/vlan/{vid}", s.getNetVlan).Methods(http.MethodGet)

	api.HandleFunc("/network/route", s.route(network.OpAddRoute)).Methods(http.MethodPost)
	api.HandleFunc("/network/route", s.route(network.OpDelRoute)).Methods(http.MethodDelete)

	api.HandleFunc("/network/config", s.getConfig).Methods(http.MethodGet)
	api.HandleFunc("/network/config", s.setConfig).Methods(http.MethodPost)

	api.HandleFunc("/pnf", s.listPnfs).Methods(http.MethodGet)
	api.HandleFunc("/pnf", s.addPnf).Methods(http.MethodPost)
	api.HandleFunc("/pnf/{name}", s.getPnf).Methods(http.MethodGet)
	api.HandleFunc("/pnf/{name}", s.delPnf).Methods(http.MethodDelete)
	api.HandleFunc("/pnf/{name}/bind", s.bindGroups(network.OpBindGroups)).Methods(http.MethodPost)
	api.HandleFunc("/pnf/{name}/unbind", s.bindGroups(network.OpUnbindGroups)).Methods(http.MethodPost)

	api.HandleFunc("/operation/{id}", s.getOperation).Methods(http.MethodGet)
	api.HandleFunc("/tools/ping", s.ping).Methods(http.MethodPost)

	return r
}

// ============================================================================
// Response helpers
// ============================================================================

// PollingLink points the caller at the operation status resource.
type PollingLink struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method"`
}

// Accepted is the 202 body of every accepted intent.
type Accepted struct {
	Status string        `json:"status"`
	Links  []PollingLink `json:"links"`
}

type errorBody struct {
	Status      string `json:"status"`
	Resource    string `json:"resource"`
	Description string `json:"description"`
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

func writeError(w http.ResponseWriter, code int, resource, description string) {
	writeJSON(w, code, errorBody{Status: "error", Resource: resource, Description: description})
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, util.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, util.ErrAlreadyExists), errors.Is(err, util.ErrPreconditionFailed):
		return http.StatusNotAcceptable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) accept(w http.ResponseWriter, resource string, msg network.Message) {
	if err := s.worker.Submit(msg); err != nil {
		util.Logger.Errorf("submitting intent: %v", err)
		writeError(w, http.StatusInternalServerError, resource, "intent submission failed")
		return
	}
	writeJSON(w, http.StatusAccepted, Accepted{
		Status: network.StatusInProgress,
		Links: []PollingLink{{
			Href:   fmt.Sprintf("/v1/api/operation/%s", msg.Base().OperationID),
			Rel:    "self",
			Method: http.MethodGet,
		}},
	})
}

func decode(w http.ResponseWriter, r *http.Request, resource string, out interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, resource, "invalid request body")
		return false
	}
	return true
}

// ============================================================================
// Switch and firewall endpoints
// ============================================================================

func (s *Server) listSwitches(w http.ResponseWriter, r *http.Request) {
	var out []model.DeviceData
	for _, sw := range s.worker.Net.Registry.Switches() {
		out = append(out, sw.DeviceData)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getSwitch(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	sw := s.worker.Net.Registry.Get(name)
	if sw == nil || sw.IsFirewall() {
		writeError(w, http.StatusNotFound, "switch", fmt.Sprintf("switch %s not found", name))
		return
	}
	writeJSON(w, http.StatusOK, sw.DeviceData)
}

func (s *Server) addSwitch(w http.ResponseWriter, r *http.Request) {
	var info model.DeviceInfo
	if !decode(w, r, "switch", &info) {
		return
	}
	if !info.Family.Known() || info.Family == model.FamilyPfSense {
		writeError(w, http.StatusNotAcceptable, "switch",
			fmt.Sprintf("switch family %q not supported", info.Family))
		return
	}
	if s.worker.Net.Registry.Get(info.Name) != nil {
		writeError(w, http.StatusNotAcceptable, "switch",
			fmt.Sprintf("switch %s already onboarded", info.Name))
		return
	}
	msg := &network.AddSwitchMsg{
		WorkerMsg:  network.NewWorkerMsg(network.OpAddSwitch),
		DeviceInfo: info,
	}
	s.accept(w, "switch", msg)
}

func (s *Server) delSwitch(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	sw := s.worker.Net.Registry.Get(name)
	if sw == nil || sw.IsFirewall() {
		writeError(w, http.StatusNotFound, "switch", fmt.Sprintf("switch %s not found", name))
		return
	}
	msg := &network.DelSwitchMsg{
		WorkerMsg:  network.NewWorkerMsg(network.OpDelSwitch),
		SwitchName: name,
	}
	s.accept(w, "switch", msg)
}

func (s *Server) getFirewall(w http.ResponseWriter, r *http.Request) {
	fw := s.worker.Net.Firewall()
	if fw == nil {
		writeError(w, http.StatusNotFound, "firewall", "no firewall onboarded")
		return
	}
	writeJSON(w, http.StatusOK, fw.DeviceData)
}

func (s *Server) addFirewall(w http.ResponseWriter, r *http.Request) {
	var info model.DeviceInfo
	if !decode(w, r, "firewall", &info) {
		return
	}
	if s.worker.Net.Firewall() != nil {
		writeError(w, http.StatusNotAcceptable, "firewall", "firewall already onboarded")
		return
	}
	info.Family = model.FamilyPfSense
	msg := &network.AddFirewallMsg{
		WorkerMsg:  network.NewWorkerMsg(network.OpAddFirewall),
		DeviceInfo: info,
	}
	s.accept(w, "firewall", msg)
}

func (s *Server) delFirewall(w http.ResponseWriter, r *http.Request) {
	if s.worker.Net.Firewall() == nil {
		writeError(w, http.StatusNotFound, "firewall", "no firewall onboarded")
		return
	}
	msg := &network.DelFirewallMsg{WorkerMsg: network.NewWorkerMsg(network.OpDelFirewall)}
	s.accept(w, "firewall", msg)
}

// ============================================================================
// Network reads
// ============================================================================

func (s *Server) getVrfs(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	var out []model.NetworkVrf
	for _, sw := range s.worker.Net.Registry.Switches() {
		for _, vrf := range sw.Vrfs {
			if name != "" && vrf.Name != name {
				continue
			}
			out = append(out, model.NetworkVrf{Vrf: vrf, Device: sw.Name})
		}
	}
	if name != "" {
		if len(out) == 0 {
			writeError(w, http.StatusNotFound, "vrf", fmt.Sprintf("vrf %s not found", name))
			return
		}
		writeJSON(w, http.StatusOK, out[0])
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getTopology(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.worker.Net.Graph.ToDict())
}

func (s *Server) getVrfTopology(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	overlay := s.worker.Net.VrfOverlay(name)
	if len(overlay.Nodes()) == 0 {
		writeError(w, http.StatusNotFound, "vrf", fmt.Sprintf("vrf %s not found", name))
		return
	}
	writeJSON(w, http.StatusOK, overlay.ToDict())
}

func (s *Server) getVlanTopology(w http.ResponseWriter, r *http.Request) {
	vid, err := strconv.Atoi(mux.Vars(r)["vid"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "vlan", "invalid vlan id")
		return
	}
	writeJSON(w, http.StatusOK, s.worker.Net.VlanOverlay(vid, false).ToDict())
}

// ============================================================================
// Tenant network intents
// ============================================================================

// netVlanRequest is the request body of the tenant VLAN endpoints.
type netVlanRequest struct {
	Vid         int    `json:"vid"`
	CIDR        string `json:"cidr"`
	Gateway     string `json:"gateway,omitempty"`
	Group       string `json:"group"`
	Description string `json:"description,omitempty"`
	Callback    string `json:"callback,omitempty"`
}

func (s *Server) netVlan(operation string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req netVlanRequest
		if !decode(w, r, "vlan", &req) {
			return
		}

		msg := &network.NetVlanMsg{
			WorkerMsg:   network.NewWorkerMsg(operation),
			Vid:         req.Vid,
			CIDR:        req.CIDR,
			Gateway:     req.Gateway,
			Group:       req.Group,
			Description: req.Description,
		}
		msg.Callback = req.Callback

		// Reject what the worker would certainly fail on, before the
		// intent is enqueued: bad tenant range, or the wrong existence
		// state of the VLAN interface.
		if err := msg.Validate(); err != nil {
			writeError(w, http.StatusNotAcceptable, "vlan", err.Error())
			return
		}
		existing := s.worker.Net.SwitchByVlanInterface(req.Vid)
		switch operation {
		case network.OpAddNetVlan:
			if existing != nil {
				writeError(w, http.StatusNotAcceptable, "vlan",
					fmt.Sprintf("vlan %d already existing", req.Vid))
				return
			}
		case network.OpDelNetVlan, network.OpModNetVlan:
			if existing == nil {
				writeError(w, http.StatusNotFound, "vlan",
					fmt.Sprintf("vlan %d not existing", req.Vid))
				return
			}
		}
		s.accept(w, "vlan", msg)
	}
}

func (s *Server) getNetVlan(w http.ResponseWriter, r *http.Request) {
	vid, err := strconv.Atoi(mux.Vars(r)["vid"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "vlan", "invalid vlan id")
		return
	}
	sw := s.worker.Net.SwitchByVlanInterface(vid)
	if sw == nil {
		writeError(w, http.StatusNotFound, "vlan", fmt.Sprintf("vlan %d not existing", vid))
		return
	}
	itf := sw.GetVlanInterface(vid)
	writeJSON(w, http.StatusOK, netVlanRequest{
		Vid:         vid,
		CIDR:        itf.CIDR,
		Gateway:     itf.IPAddress,
		Group:       itf.Vrf,
		Description: itf.Description,
	})
}

// portVlanRequest is the request body of the port attachment endpoints.
type portVlanRequest struct {
	Fqdn      string `json:"fqdn,omitempty"`
	Interface string `json:"interface,omitempty"`
	Switch    string `json:"switch"`
	Port      string `json:"port"`
	Vids      []int  `json:"vids"`
	Callback  string `json:"callback,omitempty"`
}

func (s *Server) portVlan(operation string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req portVlanRequest
		if !decode(w, r, "port", &req) {
			return
		}
		if _, _, err := s.worker.Net.PortNode(req.Switch, req.Port); err != nil {
			writeError(w, statusFor(err), "port", err.Error())
			return
		}
		for _, vid := range req.Vids {
			if err := model.ValidateTenantVlan(vid); err != nil {
				writeError(w, http.StatusNotAcceptable, "port", err.Error())
				return
			}
		}
		msg := &network.PortVlanMsg{
			WorkerMsg: network.NewWorkerMsg(operation),
			Fqdn:      req.Fqdn,
			Interface: req.Interface,
			Switch:    req.Switch,
			Port:      req.Port,
			Vids:      req.Vids,
		}
		msg.Callback = req.Callback
		s.accept(w, "port", msg)
	}
}

// portVlanReport is the synchronous read of a port's VLAN attachment.
type portVlanReport struct {
	Trunk []int  `json:"trunk"`
	Pvid  int    `json:"pvid"`
	Mode  string `json:"mode"`
}

func (s *Server) getPortVlans(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	_, port, err := s.worker.Net.PortNode(vars["switch"], vars["port"])
	if err != nil {
		writeError(w, statusFor(err), "port", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, portVlanReport{
		Trunk: port.TrunkVlans,
		Pvid:  port.AccessVlan,
		Mode:  string(port.Mode),
	})
}

// ============================================================================
// Route intents
// ============================================================================

type routeRequest struct {
	Group    string `json:"group"`
	Prefix   string `json:"prefix"`
	Nexthop  string `json:"nexthop"`
	Callback string `json:"callback,omitempty"`
}

func (s *Server) route(operation string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req routeRequest
		if !decode(w, r, "route", &req) {
			return
		}
		if !s.worker.Net.Groups.Exists(req.Group) {
			writeError(w, http.StatusNotAcceptable, "route",
				fmt.Sprintf("group %s not mapped", req.Group))
			return
		}
		msg := &network.RouteMsg{
			WorkerMsg: network.NewWorkerMsg(operation),
			Group:     req.Group,
			Prefix:    req.Prefix,
			Nexthop:   req.Nexthop,
		}
		msg.Callback = req.Callback
		s.accept(w, "route", msg)
	}
}

// ============================================================================
// Network configuration
// ============================================================================

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.worker.Net.Config)
}

func (s *Server) setConfig(w http.ResponseWriter, r *http.Request) {
	msg := &network.SetConfigMsg{WorkerMsg: network.NewWorkerMsg(network.OpSetConfig)}
	if !decode(w, r, "config", &msg.Config) {
		return
	}
	if msg.Config.VrfSwitchName == "" {
		writeError(w, http.StatusNotAcceptable, "config", "vrf_switch_name not set")
		return
	}
	s.accept(w, "config", msg)
}

// ============================================================================
// PNF endpoints
// ============================================================================

func (s *Server) listPnfs(w http.ResponseWriter, r *http.Request) {
	out := make([]*model.Pnf, 0, len(s.worker.Net.Pnfs))
	for _, pnf := range s.worker.Net.Pnfs {
		out = append(out, pnf)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getPnf(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	pnf := s.worker.Net.Pnfs.Get(name)
	if pnf == nil {
		writeError(w, http.StatusNotFound, "pnf", fmt.Sprintf("pnf %s not found", name))
		return
	}
	writeJSON(w, http.StatusOK, pnf)
}

type pnfRequest struct {
	Name       string `json:"name"`
	SwitchName string `json:"switch_name"`
	SwitchPort string `json:"switch_port"`
	Vid        int    `json:"vid,omitempty"`
	IPAddress  string `json:"ip_address,omitempty"`
	Gateway    string `json:"ip_gateway,omitempty"`
	Callback   string `json:"callback,omitempty"`
}

func (s *Server) addPnf(w http.ResponseWriter, r *http.Request) {
	var req pnfRequest
	if !decode(w, r, "pnf", &req) {
		return
	}
	if s.worker.Net.Pnfs.Get(req.Name) != nil {
		writeError(w, http.StatusNotAcceptable, "pnf",
			fmt.Sprintf("pnf %s already existing", req.Name))
		return
	}
	msg := &network.AddPnfMsg{
		WorkerMsg:  network.NewWorkerMsg(network.OpAddPnf),
		Name:       req.Name,
		SwitchName: req.SwitchName,
		SwitchPort: req.SwitchPort,
		Vid:        req.Vid,
		IPAddress:  req.IPAddress,
		Gateway:    req.Gateway,
	}
	msg.Callback = req.Callback
	s.accept(w, "pnf", msg)
}

func (s *Server) delPnf(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if s.worker.Net.Pnfs.Get(name) == nil {
		writeError(w, http.StatusNotFound, "pnf", fmt.Sprintf("pnf %s not found", name))
		return
	}
	msg := &network.DelPnfMsg{
		WorkerMsg: network.NewWorkerMsg(network.OpDelPnf),
		PnfName:   name,
	}
	s.accept(w, "pnf", msg)
}

type bindGroupsRequest struct {
	Groups   []string `json:"groups"`
	Callback string   `json:"callback,omitempty"`
}

func (s *Server) bindGroups(operation string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]
		if s.worker.Net.Pnfs.Get(name) == nil {
			writeError(w, http.StatusNotFound, "pnf", fmt.Sprintf("pnf %s not found", name))
			return
		}
		var req bindGroupsRequest
		if !decode(w, r, "pnf", &req) {
			return
		}
		for _, group := range req.Groups {
			if !s.worker.Net.Groups.Exists(group) {
				writeError(w, http.StatusNotAcceptable, "pnf",
					fmt.Sprintf("group %s not mapped", group))
				return
			}
		}
		msg := &network.BindGroupsMsg{
			WorkerMsg: network.NewWorkerMsg(operation),
			PnfName:   name,
			Groups:    req.Groups,
		}
		msg.Callback = req.Callback
		s.accept(w, "pnf", msg)
	}
}

// ============================================================================
// Operation polling
// ============================================================================

func (s *Server) getOperation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var op network.WorkerMsg
	if err := s.db.FindOne(store.ColOperations, bson.M{"operation_id": id}, &op); err != nil {
		if store.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "operation",
				fmt.Sprintf("operation %s not found", id))
			return
		}
		writeError(w, http.StatusInternalServerError, "operation", "operation lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, op)
}
