package sbi

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/robertobru/netcl/pkg/model"
)

// FrrRouter is one "router bgp" block of an FRR running configuration.
type FrrRouter struct {
	ASNumber        int
	Vrf             string
	RouterID        string
	Neighbors       []model.BGPNeighbor
	AddressFamilies []model.BGPAddressFamily
}

// FrrConfig is the parsed FRR running configuration: BGP routers plus the
// per-VRF static routes.
type FrrConfig struct {
	Hostname     string
	Version      string
	Routers      []*FrrRouter
	StaticRoutes map[string][]model.IPv4Route
}

// Router returns the BGP block for a VRF name, or nil.
func (c *FrrConfig) Router(vrf string) *FrrRouter {
	for _, r := range c.Routers {
		if r.Vrf == vrf {
			return r
		}
	}
	return nil
}

// VrfProtocols converts the parsed routers into per-VRF routing protocol
// models keyed by VRF name.
func (c *FrrConfig) VrfProtocols() map[string]model.RoutingProtocols {
	res := make(map[string]model.RoutingProtocols, len(c.Routers))
	for _, r := range c.Routers {
		res[r.Vrf] = model.RoutingProtocols{
			BGP: &model.BGPInstance{
				ASNumber:        r.ASNumber,
				RouterID:        r.RouterID,
				Neighbors:       r.Neighbors,
				AddressFamilies: r.AddressFamilies,
			},
		}
	}
	return res
}

// ParseFrrConfig parses the output of "vtysh -c 'show running-config'".
// The parser is line-oriented: it tracks the current router-bgp block, the
// current address-family inside it, and the current static-route vrf block.
func ParseFrrConfig(raw string) (*FrrConfig, error) {
	cfg := &FrrConfig{StaticRoutes: map[string][]model.IPv4Route{}}

	var currentRouter *FrrRouter
	var currentAF *model.BGPAddressFamily
	currentVrf := model.DefaultVrfName

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "!") {
			continue
		}
		parts := strings.Fields(trimmed)

		switch {
		case currentRouter != nil:
			switch {
			case strings.HasPrefix(trimmed, "bgp router-id"):
				currentRouter.RouterID = parts[2]
			case strings.HasPrefix(trimmed, "neighbor") && currentAF == nil:
				if len(parts) < 3 {
					return nil, fmt.Errorf("malformed neighbor line %q", trimmed)
				}
				neigh := currentRouter.neighbor(parts[1])
				switch parts[2] {
				case "remote-as":
					remoteAS, err := strconv.Atoi(parts[3])
					if err != nil {
						return nil, fmt.Errorf("invalid remote-as in %q: %v", trimmed, err)
					}
					neigh.RemoteAS = remoteAS
				case "description":
					neigh.Description = strings.Join(parts[3:], " ")
				case "update-source":
					neigh.UpdateSource = parts[3]
				}
			case currentAF != nil && strings.HasPrefix(trimmed, "redistribute"):
				currentAF.Redistribute = append(currentAF.Redistribute, parts[1])
			case currentAF != nil && strings.HasPrefix(trimmed, "import vrf"):
				currentAF.Imports = append(currentAF.Imports, parts[2])
			case trimmed == "exit-address-family":
				currentAF = nil
			case strings.HasPrefix(trimmed, "address-family"):
				currentRouter.AddressFamilies = append(currentRouter.AddressFamilies, model.BGPAddressFamily{
					Protocol: parts[1],
					Type:     parts[2],
				})
				currentAF = &currentRouter.AddressFamilies[len(currentRouter.AddressFamilies)-1]
			case trimmed == "exit":
				currentRouter = nil
			}

		case strings.HasPrefix(trimmed, "frr version"):
			cfg.Version = parts[2]
		case strings.HasPrefix(trimmed, "hostname"):
			cfg.Hostname = parts[1]
		case strings.HasPrefix(trimmed, "router bgp"):
			asNumber, err := strconv.Atoi(parts[2])
			if err != nil {
				return nil, fmt.Errorf("invalid AS number in %q: %v", trimmed, err)
			}
			vrf := model.DefaultVrfName
			if len(parts) > 4 && parts[3] == "vrf" {
				vrf = parts[4]
			}
			currentRouter = cfg.Router(vrf)
			if currentRouter == nil {
				currentRouter = &FrrRouter{ASNumber: asNumber, Vrf: vrf}
				cfg.Routers = append(cfg.Routers, currentRouter)
			}
		case strings.HasPrefix(trimmed, "vrf "):
			currentVrf = parts[1]
		case trimmed == "exit-vrf":
			currentVrf = model.DefaultVrfName
		case strings.HasPrefix(trimmed, "ip route"):
			route := model.IPv4Route{Prefix: parts[2]}
			if len(parts) > 3 {
				route.Nexthop = parts[3]
			}
			cfg.StaticRoutes[currentVrf] = append(cfg.StaticRoutes[currentVrf], route)
		}
	}

	return cfg, nil
}

func (r *FrrRouter) neighbor(ip string) *model.BGPNeighbor {
	for i := range r.Neighbors {
		if r.Neighbors[i].IP == ip {
			return &r.Neighbors[i]
		}
	}
	r.Neighbors = append(r.Neighbors, model.BGPNeighbor{IP: ip})
	return &r.Neighbors[len(r.Neighbors)-1]
}

// vtysh wraps configuration commands into a single vtysh invocation that
// enters configure terminal and writes memory at the end.
func vtysh(commands []string) string {
	full := append([]string{"configure terminal"}, commands...)
	full = append(full, "do write memory")
	var b strings.Builder
	b.WriteString("vtysh")
	for _, cmd := range full {
		fmt.Fprintf(&b, " -c \"%s\"", cmd)
	}
	return b.String()
}

func bgpRouterLine(asNumber int, vrf string) string {
	if vrf == model.DefaultVrfName || vrf == "" {
		return fmt.Sprintf("router bgp %d", asNumber)
	}
	return fmt.Sprintf("router bgp %d vrf %s", asNumber, vrf)
}

// FrrAddBgpInstanceCmd builds the vtysh command creating a BGP instance.
func FrrAddBgpInstanceCmd(vrf string, asNumber int, routerID string, afs []model.BGPAddressFamily) string {
	cmds := []string{bgpRouterLine(asNumber, vrf)}
	if routerID != "" {
		cmds = append(cmds, fmt.Sprintf("bgp router-id %s", routerID))
	}
	for _, af := range afs {
		cmds = append(cmds, fmt.Sprintf("address-family %s %s", af.Protocol, af.Type))
		for _, imp := range af.Imports {
			cmds = append(cmds, fmt.Sprintf("import vrf %s", imp))
		}
		for _, red := range af.Redistribute {
			cmds = append(cmds, fmt.Sprintf("redistribute %s", red))
		}
		cmds = append(cmds, "exit-address-family")
	}
	return vtysh(cmds)
}

// FrrDelBgpInstanceCmd builds the vtysh command removing a BGP instance.
func FrrDelBgpInstanceCmd(vrf string, asNumber int) string {
	if vrf == model.DefaultVrfName || vrf == "" {
		return vtysh([]string{fmt.Sprintf("no router bgp %d", asNumber)})
	}
	return vtysh([]string{fmt.Sprintf("no router bgp %d vrf %s", asNumber, vrf)})
}

// FrrAddBgpPeerCmd builds the vtysh command adding a BGP peering.
func FrrAddBgpPeerCmd(neigh model.BGPNeighbor, vrf string, asNumber int) string {
	cmds := []string{
		bgpRouterLine(asNumber, vrf),
		fmt.Sprintf("neighbor %s remote-as %d", neigh.IP, neigh.RemoteAS),
	}
	if neigh.Description != "" {
		cmds = append(cmds, fmt.Sprintf("neighbor %s description %s", neigh.IP, neigh.Description))
	}
	if neigh.UpdateSource != "" {
		cmds = append(cmds, fmt.Sprintf("neighbor %s update-source %s", neigh.IP, neigh.UpdateSource))
	}
	return vtysh(cmds)
}

// FrrDelBgpPeerCmd builds the vtysh command removing a BGP peering.
func FrrDelBgpPeerCmd(neigh model.BGPNeighbor, vrf string, asNumber int) string {
	return vtysh([]string{
		bgpRouterLine(asNumber, vrf),
		fmt.Sprintf("no neighbor %s remote-as %d", neigh.IP, neigh.RemoteAS),
	})
}

// FrrAddStaticRouteCmd builds the vtysh command installing a static route.
func FrrAddStaticRouteCmd(route model.IPv4Route, vrf string) string {
	if vrf == model.DefaultVrfName || vrf == "" {
		return vtysh([]string{fmt.Sprintf("ip route %s %s", route.Prefix, route.Nexthop)})
	}
	return vtysh([]string{
		fmt.Sprintf("vrf %s", vrf),
		fmt.Sprintf("ip route %s %s", route.Prefix, route.Nexthop),
		"exit-vrf",
	})
}

// FrrDelStaticRouteCmd builds the vtysh command removing a static route.
func FrrDelStaticRouteCmd(route model.IPv4Route, vrf string) string {
	if vrf == model.DefaultVrfName || vrf == "" {
		return vtysh([]string{fmt.Sprintf("no ip route %s %s", route.Prefix, route.Nexthop)})
	}
	return vtysh([]string{
		fmt.Sprintf("vrf %s", vrf),
		fmt.Sprintf("no ip route %s %s", route.Prefix, route.Nexthop),
		"exit-vrf",
	})
}

// FrrBindVrfsCmd builds the vtysh command importing the two VRFs into each
// other. The import is installed in both directions so routing stays
// symmetric.
func FrrBindVrfsCmd(vrf1, vrf2 string, asNumber int) (string, error) {
	if vrf1 == vrf2 {
		return "", fmt.Errorf("cannot bind VRF %s to itself", vrf1)
	}
	cmds := []string{
		bgpRouterLine(asNumber, vrf1),
		"address-family ipv4 unicast",
		fmt.Sprintf("import vrf %s", vrf2),
		"exit-address-family",
		"exit",
		bgpRouterLine(asNumber, vrf2),
		"address-family ipv4 unicast",
		fmt.Sprintf("import vrf %s", vrf1),
		"exit-address-family",
		"exit",
	}
	return vtysh(cmds), nil
}

// FrrUnbindVrfsCmd builds the vtysh command removing the mutual VRF import.
func FrrUnbindVrfsCmd(vrf1, vrf2 string, asNumber int) (string, error) {
	if vrf1 == vrf2 {
		return "", fmt.Errorf("cannot unbind VRF %s from itself", vrf1)
	}
	cmds := []string{
		bgpRouterLine(asNumber, vrf1),
		"address-family ipv4 unicast",
		fmt.Sprintf("no import vrf %s", vrf2),
		"exit-address-family",
		"exit",
		bgpRouterLine(asNumber, vrf2),
		"address-family ipv4 unicast",
		fmt.Sprintf("no import vrf %s", vrf1),
		"exit-address-family",
		"exit",
	}
	return vtysh(cmds), nil
}
