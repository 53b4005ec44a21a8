package network

import (
	"fmt"

	"github.com/juju/mgo/v3/bson"

	"github.com/robertobru/netcl/pkg/config"
	"github.com/robertobru/netcl/pkg/device"
	"github.com/robertobru/netcl/pkg/model"
	"github.com/robertobru/netcl/pkg/store"
	"github.com/robertobru/netcl/pkg/util"
)

// backboneVlanOp selects the membership test used when deciding whether a
// VLAN needs backbone transport.
type backboneVlanOp int

const (
	backboneAsIs backboneVlanOp = iota
	backboneAdd
	backboneDelete
)

// Network is the live fabric model: the registry of devices, the derived
// graph and termination records, the tenant mappings, and the allocation
// pools. Only the intent worker mutates it.
type Network struct {
	Registry     *device.Registry
	Config       *config.NetworkConfig
	Status       *AllocationState
	Groups       Groups
	Pnfs         Pnfs
	Terminations VlanTerminations
	Graph        *Graph

	db *store.DB
}

// groupsDoc is the singleton document shape of the groups collection.
type groupsDoc struct {
	Type   string                  `bson:"type"`
	Groups map[string]*model.Group `bson:"groups"`
}

// pnfsDoc is the singleton document shape holding the PNFs.
type pnfsDoc struct {
	Type string                `bson:"type"`
	Pnfs map[string]*model.Pnf `bson:"pnfs"`
}

// New builds the fabric model: loads the tenant mappings and allocation
// state from the store and derives the graph and termination records from
// the current device inventories.
func New(db *store.DB, registry *device.Registry, cfg *config.NetworkConfig) (*Network, error) {
	n := &Network{
		Registry:     registry,
		Config:       cfg,
		Groups:       Groups{},
		Pnfs:         Pnfs{},
		Terminations: VlanTerminations{},
		Graph:        NewGraph(),
		db:           db,
	}

	if db != nil {
		var groups groupsDoc
		if err := db.FindOne(store.ColGroups, bson.M{"type": "groups"}, &groups); err == nil {
			for name, group := range groups.Groups {
				n.Groups[name] = group
			}
		} else if !store.IsNotFound(err) {
			return nil, err
		}
		var pnfs pnfsDoc
		if err := db.FindOne(store.ColGroups, bson.M{"type": "pnfs"}, &pnfs); err == nil {
			for _, pnf := range pnfs.Pnfs {
				n.Pnfs.Add(pnf)
			}
		} else if !store.IsNotFound(err) {
			return nil, err
		}
	}

	if err := n.RebuildState(); err != nil {
		return nil, err
	}
	n.Rebuild()
	return n, nil
}

// RebuildState re-derives the allocation pools: configuration pools minus
// every VLAN id and subnet the device reads show as used.
func (n *Network) RebuildState() error {
	status, err := NewAllocationState(n.Config)
	if err != nil {
		return err
	}
	for _, sw := range n.Registry.Switches() {
		for _, vid := range sw.Vlans {
			status.RemoveUsedVid(vid)
		}
		for _, itf := range sw.VlanL3Ports {
			if itf.CIDR != "" {
				status.RemoveUsedSubnet(itf.CIDR)
			}
		}
	}
	n.Status = status
	return n.SaveStatus()
}

// VrfSwitch returns the designated VRF hub switch, or nil when it is not
// onboarded.
func (n *Network) VrfSwitch() *device.Device {
	if n.Config.VrfSwitchName == "" {
		return nil
	}
	return n.Registry.Get(n.Config.VrfSwitchName)
}

// Firewall returns the fabric firewall, or nil.
func (n *Network) Firewall() *device.Device { return n.Registry.Firewall() }

// managedNames returns the names of every managed device.
func (n *Network) managedNames() map[string]bool {
	out := map[string]bool{}
	for _, d := range n.Registry.All() {
		out[d.Name] = true
	}
	return out
}

// switchNames returns the names of the managed switches.
func (n *Network) switchNames() []string {
	var out []string
	for _, sw := range n.Registry.Switches() {
		out = append(out, sw.Name)
	}
	return out
}

// Rebuild recomputes the graph and the VLAN termination records from
// scratch. Called after every topology-affecting intent: a full rebuild
// is cheap at this scale and cannot carry partial-update bugs.
func (n *Network) Rebuild() {
	n.buildGraph()
	n.buildVlanData()
}

func (n *Network) buildGraph() {
	g := NewGraph()

	for _, d := range n.Registry.All() {
		g.AddNode(d.Name, NodeAttrs{Vlans: d.Vlans, Managed: true})
	}

	for _, d := range n.Registry.All() {
		for i := range d.PhyPorts {
			p := &d.PhyPorts[i]
			if p.Neighbor == nil {
				continue
			}
			ports := map[string]string{
				d.Name:              p.Name,
				p.Neighbor.Neighbor: p.Neighbor.RemoteInterface,
			}
			carried := append([]int{}, p.TrunkVlans...)
			if p.AccessVlan != 0 {
				carried = append(carried, p.AccessVlan)
			}

			if edge := g.FindEdge(d.Name, p.Neighbor.Neighbor, ports); edge != nil {
				// Same adjacency discovered from the other endpoint:
				// merge the VLAN sets and record the asymmetry.
				var onlyHere, onlyThere []int
				for _, vid := range carried {
					if !edge.HasVlan(vid) {
						onlyHere = append(onlyHere, vid)
					}
				}
				for _, vid := range edge.Vlans {
					if !util.ContainsInt(carried, vid) {
						onlyThere = append(onlyThere, vid)
					}
				}
				if len(onlyHere) > 0 {
					edge.MissingVlans[p.Neighbor.Neighbor] = onlyHere
				}
				if len(onlyThere) > 0 {
					edge.MissingVlans[d.Name] = onlyThere
				}
				for _, vid := range onlyHere {
					edge.Vlans = append(edge.Vlans, vid)
				}
				continue
			}

			if p.Speed == 0 {
				util.Logger.Warnf("link %s-%s ports=%v has not a valid speed",
					d.Name, p.Neighbor.Neighbor, ports)
			}
			g.AddEdge(&Edge{
				A:            d.Name,
				B:            p.Neighbor.Neighbor,
				Ports:        ports,
				Vlans:        carried,
				MissingVlans: map[string][]int{},
				Weight:       LinkWeight(p.Speed),
			})
		}
	}

	n.Graph = g
}

func (n *Network) buildVlanData() {
	managed := n.managedNames()
	terminations := VlanTerminations{}

	for _, sw := range n.Registry.Switches() {
		for _, vid := range sw.Vlans {
			if itf := sw.GetVlanInterface(vid); itf != nil {
				t := terminations.Ensure(vid)
				t.VlanInterface = &VlanInterfaceTermination{Name: itf.Index, SwitchName: sw.Name}
			}
			for i := range sw.PhyPorts {
				p := &sw.PhyPorts[i]
				if !p.IsUp() || !p.HasVlan(vid) {
					continue
				}
				if p.Neighbor != nil && managed[p.Neighbor.Neighbor] {
					continue
				}
				terminations.Ensure(vid).AddServerPort(sw.Name, p.Name)
			}
		}
	}

	for vid, t := range terminations {
		t.Topology = n.VlanOverlay(vid, true)
	}

	n.Terminations = terminations
}

// BackboneTopology returns the subgraph spanning the managed switches.
func (n *Network) BackboneTopology() *Graph {
	return n.Graph.Subgraph(n.switchNames())
}

// PathBetween returns the minimum-weight path between two managed
// switches. Transit is only allowed through devices in ready state.
func (n *Network) PathBetween(from, to string) []string {
	return n.BackboneTopology().ShortestPath(from, to, func(name string) bool {
		d := n.Registry.Get(name)
		return d != nil && d.State == model.StateReady
	})
}

// VlanOverlay returns the subgraph of the fabric carrying a VLAN: edges
// whose VLAN set contains it plus every switch whose VLAN table lists it.
// Termination records are not consulted, so a switch that declares the
// VLAN without an L3 interface or server-facing port for it is a node too.
func (n *Network) VlanOverlay(vid int, onlyManaged bool) *Graph {
	managed := n.managedNames()
	overlay := NewGraph()

	for _, sw := range n.Registry.Switches() {
		if !sw.HasVlan(vid) {
			continue
		}
		overlay.AddNode(sw.Name, NodeAttrs{Vlans: []int{vid}, Managed: true})
	}

	for _, e := range n.Graph.Edges() {
		if !e.HasVlan(vid) {
			continue
		}
		if onlyManaged && (!managed[e.A] || !managed[e.B]) {
			continue
		}
		overlay.AddEdge(&Edge{
			A:      e.A,
			B:      e.B,
			Ports:  e.Ports,
			Vlans:  []int{vid},
			Weight: e.Weight,
		})
	}
	return overlay
}

// VrfOverlay returns the union of the VLAN overlays of a VRF's interfaces,
// with edge VLAN sets intersected with the VRF's VLAN set.
func (n *Network) VrfOverlay(vrfName string) *Graph {
	overlay := NewGraph()

	var owner *device.Device
	var vrf *model.Vrf
	for _, sw := range n.Registry.Switches() {
		if v := sw.GetVrfByName(vrfName); v != nil {
			owner, vrf = sw, v
			break
		}
	}
	if vrf == nil {
		return overlay
	}

	vrfVlans := make([]int, 0, len(vrf.Ports))
	for _, itf := range vrf.Ports {
		vrfVlans = append(vrfVlans, itf.Vlan)
	}
	overlay.AddNode(owner.Name, NodeAttrs{Vlans: vrfVlans, Managed: true})

	for _, vid := range vrfVlans {
		vlanOverlay := n.VlanOverlay(vid, false)
		for _, name := range vlanOverlay.Nodes() {
			if !overlay.HasNode(name) {
				overlay.AddNode(name, *vlanOverlay.Node(name))
			}
		}
		for _, e := range vlanOverlay.Edges() {
			if existing := overlay.FindEdge(e.A, e.B, e.Ports); existing != nil {
				for _, v := range e.Vlans {
					if util.ContainsInt(vrfVlans, v) && !existing.HasVlan(v) {
						existing.Vlans = append(existing.Vlans, v)
					}
				}
				continue
			}
			var carried []int
			for _, v := range e.Vlans {
				if util.ContainsInt(vrfVlans, v) {
					carried = append(carried, v)
				}
			}
			overlay.AddEdge(&Edge{
				A:      e.A,
				B:      e.B,
				Ports:  e.Ports,
				Vlans:  carried,
				Weight: e.Weight,
			})
		}
	}
	return overlay
}

// SwitchByVlanInterface returns the switch holding the L3 interface of a
// VLAN, or nil. The data-model invariant keeps it unique fabric-wide.
func (n *Network) SwitchByVlanInterface(vid int) *device.Device {
	for _, sw := range n.Registry.Switches() {
		if sw.GetVlanInterface(vid) != nil {
			return sw
		}
	}
	return nil
}

// SwitchByVrf returns the switch hosting the named VRF, or nil.
func (n *Network) SwitchByVrf(vrfName string) *device.Device {
	for _, sw := range n.Registry.Switches() {
		if sw.GetVrfByName(vrfName) != nil {
			return sw
		}
	}
	return nil
}

// PortNode resolves a (device, port) reference against switches and the
// firewall.
func (n *Network) PortNode(nodeName, portName string) (*device.Device, *model.PhyPort, error) {
	d := n.Registry.Get(nodeName)
	if d == nil {
		return nil, nil, fmt.Errorf("%w: device %q not onboarded", util.ErrNotFound, nodeName)
	}
	port := d.GetPortByName(portName)
	if port == nil {
		return nil, nil, fmt.Errorf("%w: port %q not found on %s", util.ErrNotFound, portName, nodeName)
	}
	return d, port, nil
}

// vlanBackboneNeeded decides whether the VLAN must be carried on the
// backbone, given the operation about to run on switchName.
func (n *Network) vlanBackboneNeeded(vid int, switchName string, op backboneVlanOp) bool {
	t := n.Terminations.Get(vid)
	if t == nil {
		return false
	}
	names := t.SwitchNames()
	switch op {
	case backboneAdd:
		names[switchName] = true
		return len(names) > 1
	case backboneDelete:
		delete(names, switchName)
		return len(names) >= 1
	default:
		return len(names) > 1
	}
}

// backboneLinksMissingVlan returns the backbone edges not yet carrying the
// VLAN.
func (n *Network) backboneLinksMissingVlan(vid int) []*Edge {
	var missing []*Edge
	for _, e := range n.BackboneTopology().Edges() {
		if !e.HasVlan(vid) {
			missing = append(missing, e)
		}
	}
	return missing
}

// edgeEndpoints resolves both (switch, port) endpoints of a backbone edge.
func (n *Network) edgeEndpoints(e *Edge) ([]*device.Device, []*model.PhyPort, error) {
	var devices []*device.Device
	var ports []*model.PhyPort
	for _, name := range []string{e.A, e.B} {
		d, p, err := n.PortNode(name, e.Ports[name])
		if err != nil {
			return nil, nil, err
		}
		devices = append(devices, d)
		ports = append(ports, p)
	}
	return devices, ports, nil
}

// ensureVlanBackboneConnectivity walks the backbone and adds the VLAN to
// every edge missing it, on both endpoints.
func (n *Network) ensureVlanBackboneConnectivity(vid int) error {
	for _, e := range n.backboneLinksMissingVlan(vid) {
		util.Logger.Infof("adding VLAN %d to backbone link %s-%s", vid, e.A, e.B)
		devices, ports, err := n.edgeEndpoints(e)
		if err != nil {
			return err
		}
		for i, d := range devices {
			if err := d.AddVlanToPort(vid, ports[i].Name, ports[i].Mode, false); err != nil {
				return err
			}
		}
		e.Vlans = append(e.Vlans, vid)
	}
	return nil
}

// pruneVlanBackbone removes the VLAN from backbone links once it no
// longer needs transit, keeping it where an endpoint still holds a
// termination.
func (n *Network) pruneVlanBackbone(vid int) error {
	t := n.Terminations.Get(vid)
	for _, e := range n.BackboneTopology().Edges() {
		if !e.HasVlan(vid) {
			continue
		}
		devices, ports, err := n.edgeEndpoints(e)
		if err != nil {
			return err
		}
		for i, d := range devices {
			if t != nil && t.StillNeededOn(d.Name) {
				continue
			}
			if err := d.DelVlanToPort([]int{vid}, ports[i].Name, ports[i].Mode); err != nil {
				return err
			}
			if t != nil && !t.StillNeededOn(d.Name) {
				if err := d.DelVlan([]int{vid}, true); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// SaveGroups persists the tenant-group singleton document.
func (n *Network) SaveGroups() error {
	if n.db == nil {
		return nil
	}
	doc := groupsDoc{Type: "groups", Groups: n.Groups}
	if err := n.db.Upsert(store.ColGroups, bson.M{"type": "groups"}, doc); err != nil {
		return err
	}
	pnfs := pnfsDoc{Type: "pnfs", Pnfs: n.Pnfs}
	return n.db.Upsert(store.ColGroups, bson.M{"type": "pnfs"}, pnfs)
}

// SaveStatus persists the allocation pools.
func (n *Network) SaveStatus() error {
	if n.db == nil {
		return nil
	}
	return n.db.Upsert(store.ColStatus, bson.M{"type": "status"}, n.Status)
}

// SaveConfig persists the network configuration document.
func (n *Network) SaveConfig() error {
	if n.db == nil {
		return nil
	}
	return n.db.Upsert(store.ColConfig, bson.M{"type": "config"}, n.Config)
}
