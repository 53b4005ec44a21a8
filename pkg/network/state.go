package network

import (
	"fmt"
	"sort"

	"github.com/robertobru/netcl/pkg/config"
	"github.com/robertobru/netcl/pkg/model"
	"github.com/robertobru/netcl/pkg/util"
)

// AllocationState tracks the free uplink and PNF pools. It is derived from
// the configuration minus everything the device reads show as used, and
// persisted in the status collection.
type AllocationState struct {
	AvailableUplinkVlans   []int    `json:"available_vrf_uplink_vlans" bson:"available_vrf_uplink_vlans"`
	AvailableUplinkSubnets []string `json:"available_vrf_uplink_subnets" bson:"available_vrf_uplink_subnets"`
	AvailablePnfVlans      []int    `json:"available_pnf_vlans" bson:"available_pnf_vlans"`
	AvailablePnfSubnets    []string `json:"available_pnf_subnets" bson:"available_pnf_subnets"`
}

// NewAllocationState seeds the pools from the network configuration.
func NewAllocationState(cfg *config.NetworkConfig) (*AllocationState, error) {
	uplinkSubnets, err := cfg.UplinkSubnets()
	if err != nil {
		return nil, fmt.Errorf("building uplink subnet pool: %w", err)
	}
	pnfSubnets, err := cfg.PnfSubnets()
	if err != nil {
		return nil, fmt.Errorf("building pnf subnet pool: %w", err)
	}
	return &AllocationState{
		AvailableUplinkVlans:   cfg.UplinkVlans(),
		AvailableUplinkSubnets: uplinkSubnets,
		AvailablePnfVlans:      cfg.PnfVlans(),
		AvailablePnfSubnets:    pnfSubnets,
	}, nil
}

// ReserveUplink pops the next free (VLAN, subnet) uplink pair.
func (s *AllocationState) ReserveUplink() (int, string, error) {
	if len(s.AvailableUplinkVlans) == 0 || len(s.AvailableUplinkSubnets) == 0 {
		return 0, "", fmt.Errorf("%w: uplink pool exhausted", util.ErrPreconditionFailed)
	}
	vid := s.AvailableUplinkVlans[0]
	s.AvailableUplinkVlans = s.AvailableUplinkVlans[1:]
	subnet := s.AvailableUplinkSubnets[0]
	s.AvailableUplinkSubnets = s.AvailableUplinkSubnets[1:]
	return vid, subnet, nil
}

// ReleaseUplink returns a (VLAN, subnet) pair to the pool. Releasing an
// already-free resource is a programming error surfaced to the caller.
func (s *AllocationState) ReleaseUplink(vid int, subnet string) error {
	if util.ContainsInt(s.AvailableUplinkVlans, vid) {
		return fmt.Errorf("vlan id %d already available", vid)
	}
	for _, item := range s.AvailableUplinkSubnets {
		if item == subnet {
			return fmt.Errorf("subnet %s already available", subnet)
		}
	}
	s.AvailableUplinkVlans = append(s.AvailableUplinkVlans, vid)
	sort.Ints(s.AvailableUplinkVlans)
	s.AvailableUplinkSubnets = append(s.AvailableUplinkSubnets, subnet)
	sort.Strings(s.AvailableUplinkSubnets)
	return nil
}

// ReservePnfVlan pops the next free PNF VLAN, or validates and removes an
// explicitly requested id.
func (s *AllocationState) ReservePnfVlan(vid int) (int, error) {
	if vid == 0 {
		if len(s.AvailablePnfVlans) == 0 {
			return 0, fmt.Errorf("%w: pnf vlan pool exhausted", util.ErrPreconditionFailed)
		}
		vid = s.AvailablePnfVlans[0]
		s.AvailablePnfVlans = s.AvailablePnfVlans[1:]
		return vid, nil
	}
	if !util.ContainsInt(s.AvailablePnfVlans, vid) {
		return 0, fmt.Errorf("%w: pnf vlan %d not available", util.ErrPreconditionFailed, vid)
	}
	s.AvailablePnfVlans = util.RemoveInt(s.AvailablePnfVlans, vid)
	return vid, nil
}

// ReservePnfSubnet pops the next free PNF subnet.
func (s *AllocationState) ReservePnfSubnet() (string, error) {
	if len(s.AvailablePnfSubnets) == 0 {
		return "", fmt.Errorf("%w: pnf subnet pool exhausted", util.ErrPreconditionFailed)
	}
	subnet := s.AvailablePnfSubnets[0]
	s.AvailablePnfSubnets = s.AvailablePnfSubnets[1:]
	return subnet, nil
}

// RemoveUsedVid drops a VLAN id observed on a device from whichever free
// pool still lists it.
func (s *AllocationState) RemoveUsedVid(vid int) {
	s.AvailableUplinkVlans = util.RemoveInt(s.AvailableUplinkVlans, vid)
	s.AvailablePnfVlans = util.RemoveInt(s.AvailablePnfVlans, vid)
}

// RemoveUsedSubnet drops every free subnet overlapping a CIDR observed on
// a device.
func (s *AllocationState) RemoveUsedSubnet(cidr string) {
	filter := func(pool []string) []string {
		out := pool[:0:0]
		for _, item := range pool {
			overlaps, err := util.CIDROverlaps(item, cidr)
			if err != nil || !overlaps {
				out = append(out, item)
			}
		}
		return out
	}
	s.AvailableUplinkSubnets = filter(s.AvailableUplinkSubnets)
	s.AvailablePnfSubnets = filter(s.AvailablePnfSubnets)
}

// Groups indexes the tenant groups by name.
type Groups map[string]*model.Group

// Get returns a group by name, or nil.
func (g Groups) Get(name string) *model.Group { return g[name] }

// Exists reports whether the group is mapped.
func (g Groups) Exists(name string) bool { return g[name] != nil }

// Add maps a group onto a VRF.
func (g Groups) Add(name, vrfName string) *model.Group {
	group := &model.Group{Name: name, VrfName: vrfName}
	g[name] = group
	return group
}

// Delete unmaps the group.
func (g Groups) Delete(name string) { delete(g, name) }

// ReservedVrfNames returns the VRF names already bound to a group.
func (g Groups) ReservedVrfNames() map[string]bool {
	out := make(map[string]bool, len(g))
	for _, group := range g {
		out[group.VrfName] = true
	}
	return out
}

// Pnfs indexes the physical network functions by name.
type Pnfs map[string]*model.Pnf

// Get returns a PNF by name, or nil.
func (p Pnfs) Get(name string) *model.Pnf { return p[name] }

// Add registers a PNF.
func (p Pnfs) Add(pnf *model.Pnf) { p[pnf.Name] = pnf }

// Delete unregisters the PNF.
func (p Pnfs) Delete(name string) { delete(p, name) }
