package network

import (
	"reflect"
	"testing"
)

func lineGraph() *Graph {
	g := NewGraph()
	g.AddNode("a", NodeAttrs{Managed: true})
	g.AddNode("b", NodeAttrs{Managed: true})
	g.AddNode("c", NodeAttrs{Managed: true})
	g.AddEdge(&Edge{A: "a", B: "b", Ports: map[string]string{"a": "p1", "b": "p1"}, Weight: 100})
	g.AddEdge(&Edge{A: "b", B: "c", Ports: map[string]string{"b": "p2", "c": "p1"}, Weight: 100})
	return g
}

func TestShortestPathLine(t *testing.T) {
	g := lineGraph()
	got := g.ShortestPath("a", "c", nil)
	if !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("ShortestPath = %v", got)
	}
}

func TestShortestPathPrefersFastLinks(t *testing.T) {
	g := lineGraph()
	// A direct but slow link: heavier than the two-hop path.
	g.AddEdge(&Edge{A: "a", B: "c", Ports: map[string]string{"a": "p9", "c": "p9"}, Weight: 1000})

	got := g.ShortestPath("a", "c", nil)
	if !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("ShortestPath = %v, want the lighter two-hop path", got)
	}
}

func TestShortestPathUsableFilter(t *testing.T) {
	g := lineGraph()
	got := g.ShortestPath("a", "c", func(name string) bool { return name != "b" })
	if got != nil {
		t.Errorf("ShortestPath through unusable node = %v, want nil", got)
	}
}

func TestSubgraph(t *testing.T) {
	g := lineGraph()
	sub := g.Subgraph([]string{"a", "b"})
	if len(sub.Nodes()) != 2 {
		t.Errorf("subgraph nodes = %v", sub.Nodes())
	}
	if len(sub.Edges()) != 1 {
		t.Errorf("subgraph edges = %d, want 1", len(sub.Edges()))
	}
}

func TestFindEdgeMatchesPorts(t *testing.T) {
	g := NewGraph()
	// Parallel links between the same pair of devices.
	g.AddEdge(&Edge{A: "a", B: "b", Ports: map[string]string{"a": "p1", "b": "p1"}})
	g.AddEdge(&Edge{A: "a", B: "b", Ports: map[string]string{"a": "p2", "b": "p2"}})

	e := g.FindEdge("b", "a", map[string]string{"a": "p2", "b": "p2"})
	if e == nil || e.Ports["a"] != "p2" {
		t.Fatalf("FindEdge returned %+v", e)
	}
	if g.FindEdge("a", "b", map[string]string{"a": "p3", "b": "p3"}) != nil {
		t.Error("FindEdge matched a non-existing link")
	}
}

func TestLinkWeight(t *testing.T) {
	if got := LinkWeight(10000); got != 100 {
		t.Errorf("LinkWeight(10000) = %v", got)
	}
	if got := LinkWeight(0); got != defaultEdgeWeight {
		t.Errorf("LinkWeight(0) = %v", got)
	}
}

func TestBuildGraphMergesAdjacency(t *testing.T) {
	net, drivers := testFabric(t)

	// Both endpoints discover the same core-sw2 link: one edge.
	var coreSw2 []*Edge
	for _, e := range net.Graph.Edges() {
		if e.Endpoints("core", "sw2") {
			coreSw2 = append(coreSw2, e)
		}
	}
	if len(coreSw2) != 1 {
		t.Fatalf("core-sw2 edges = %d, want 1", len(coreSw2))
	}

	// An asymmetric VLAN shows up in the diagnostic and the union.
	drivers["sw2"].invPort("Eth1").TrunkVlans = []int{100}
	if err := net.Registry.Get("sw2").UpdateInfo(); err != nil {
		t.Fatalf("sw2 refresh: %v", err)
	}
	net.Rebuild()

	edge := net.Graph.FindEdge("core", "sw2", map[string]string{"core": "Eth1", "sw2": "Eth1"})
	if edge == nil {
		t.Fatal("core-sw2 edge not rebuilt")
	}
	if !edge.HasVlan(100) {
		t.Error("merged edge missing vlan 100")
	}
	found := false
	for _, vids := range edge.MissingVlans {
		for _, vid := range vids {
			if vid == 100 {
				found = true
			}
		}
	}
	if !found {
		t.Errorf("missing-vlan diagnostic not recorded: %+v", edge.MissingVlans)
	}
}

func TestVrfOverlaySubsetOfVlanOverlays(t *testing.T) {
	net, _ := testFabric(t)

	// Materialize a tenant network so proj01 owns a VLAN.
	msg := &NetVlanMsg{
		WorkerMsg: NewWorkerMsg(OpAddNetVlan),
		Vid:       100, CIDR: "10.100.0.0/24", Gateway: "10.100.0.1", Group: "projA",
	}
	if err := net.CreateNetVlan(msg); err != nil {
		t.Fatalf("CreateNetVlan: %v", err)
	}

	vrfName := net.Groups.Get("projA").VrfName
	vrfOverlay := net.VrfOverlay(vrfName)

	core := net.Registry.Get("core")
	vrf := core.GetVrfByName(vrfName)
	union := map[string]bool{}
	for _, itf := range vrf.Ports {
		for _, node := range net.VlanOverlay(itf.Vlan, false).Nodes() {
			union[node] = true
		}
	}
	// The owning node is always part of the VRF overlay.
	union["core"] = true

	for _, node := range vrfOverlay.Nodes() {
		if !union[node] {
			t.Errorf("vrf overlay node %s not in any vlan overlay", node)
		}
	}
}

func TestPathBetweenManagedSwitches(t *testing.T) {
	net, _ := testFabric(t)

	path := net.PathBetween("core", "sw2")
	if !reflect.DeepEqual(path, []string{"core", "sw2"}) {
		t.Errorf("PathBetween = %v", path)
	}
	if net.PathBetween("core", "ghost") != nil {
		t.Error("PathBetween to unknown switch should be nil")
	}
}
