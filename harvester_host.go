package ice

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/corelink/ice/transport"
)

// HostHarvester discovers local host candidates by enumerating network
// interfaces and binding a UDP socket per qualifying address (spec.md
// sections 4.5 and 6).
type HostHarvester struct {
	settings *SettingEngine
}

// NewHostHarvester constructs a host harvester bound to settings.
func NewHostHarvester(settings *SettingEngine) *HostHarvester {
	return &HostHarvester{settings: settings}
}

// Name implements Harvester.
func (h *HostHarvester) Name() string { return "host" }

// Harvest implements Harvester: one UDP host candidate per qualifying
// interface address, honoring the interface/address allow/block lists
// and IPv6/link-local knobs of spec.md section 6.
func (h *HostHarvester) Harvest(_ context.Context, comp *Component) ([]*LocalCandidate, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("ice: list interfaces: %w", err)
	}

	var out []*LocalCandidate
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || !h.interfaceAllowed(iface.Name) {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, rawAddr := range addrs {
			ip := ipOf(rawAddr)
			if ip == nil || !h.addressAllowed(ip) {
				continue
			}

			bindAddr := ip
			if h.settings.host.BindWildcard {
				if ip.To4() != nil {
					bindAddr = net.IPv4zero
				} else {
					bindAddr = net.IPv6unspecified
				}
			}

			ep, err := h.bindWithRetries(&net.UDPAddr{IP: bindAddr, Port: 0})
			if err != nil {
				continue
			}

			local := ep.LocalAddr().(*net.UDPAddr)
			cand := NewHostCandidate(comp, transport.NetworkUDP, ip, local.Port, comp.Stream.LocalUfrag)
			cand.Endpoint = ep
			cand.harvesterName = h.Name()
			out = append(out, cand)
		}
	}
	return out, nil
}

func (h *HostHarvester) bindWithRetries(laddr *net.UDPAddr) (*transport.UDPEndpoint, error) {
	retries := h.settings.host.BindRetries
	if retries <= 0 {
		retries = 1
	}
	cfg := transport.Config{
		ReceiveBufferSize: h.settings.socket.RecvBufferSize,
		SendBufferSize:    h.settings.socket.SendBufferSize,
		IdleTimeout:       h.settings.socket.IdleTimeout,
		TrafficClass:      h.settings.socket.TrafficClass,
		Linger:            h.settings.socket.Linger,
	}
	var lastErr error
	for i := 0; i < retries; i++ {
		ep, err := transport.ListenUDP(laddr, cfg, h.settings.loggerFactoryOrDefault())
		if err == nil {
			return ep, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", ErrBindFailed, lastErr)
}

func (h *HostHarvester) interfaceAllowed(name string) bool {
	if len(h.settings.host.AllowedInterfaces) > 0 && !containsFold(h.settings.host.AllowedInterfaces, name) {
		return false
	}
	return !containsFold(h.settings.host.BlockedInterfaces, name)
}

func (h *HostHarvester) addressAllowed(ip net.IP) bool {
	if ip.IsLoopback() {
		return false
	}
	if ip.To4() == nil {
		if h.settings.host.DisableIPv6 {
			return false
		}
		if ip.IsLinkLocalUnicast() && h.settings.host.DisableLinkLocal {
			return false
		}
	}
	if len(h.settings.host.AllowedAddresses) > 0 && !containsFold(h.settings.host.AllowedAddresses, ip.String()) {
		return false
	}
	return !containsFold(h.settings.host.BlockedAddresses, ip.String())
}

func ipOf(a net.Addr) net.IP {
	switch v := a.(type) {
	case *net.IPNet:
		return v.IP
	case *net.IPAddr:
		return v.IP
	default:
		return nil
	}
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
