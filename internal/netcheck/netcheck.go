// Package netcheck guesses whether direct peer-to-peer media is likely to
// fail on this machine, so the client can prefer a TURN relay.
package netcheck

import (
	"net"
	"strings"
)

// cgnat is 100.64.0.0/10, used by carrier NATs, Tailscale and Cloudflare WARP.
var cgnat = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

// tunnelNames are interface name fragments of VPN and virtual adapters.
var tunnelNames = []string{"tun", "tap", "wg", "ppp", "warp"}

// Interface is the part of a network interface the heuristic looks at.
type Interface struct {
	Name     string
	Up       bool
	Loopback bool
	IPs      []net.IP
}

// Restricted reports whether any active, non-loopback interface looks like a
// VPN tunnel or sits behind carrier-grade NAT.
func Restricted(ifaces []Interface) bool {
	for _, iface := range ifaces {
		if !iface.Up || iface.Loopback {
			continue
		}

		name := strings.ToLower(iface.Name)
		for _, frag := range tunnelNames {
			if strings.Contains(name, frag) {
				return true
			}
		}

		for _, ip := range iface.IPs {
			if cgnat.Contains(ip) {
				return true
			}
		}
	}
	return false
}

// Local lists this machine's interfaces.
func Local() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	out := make([]Interface, 0, len(ifaces))
	for _, iface := range ifaces {
		it := Interface{
			Name:     iface.Name,
			Up:       iface.Flags&net.FlagUp != 0,
			Loopback: iface.Flags&net.FlagLoopback != 0,
		}
		addrs, err := iface.Addrs()
		if err == nil {
			for _, addr := range addrs {
				switch v := addr.(type) {
				case *net.IPNet:
					it.IPs = append(it.IPs, v.IP)
				case *net.IPAddr:
					it.IPs = append(it.IPs, v.IP)
				}
			}
		}
		out = append(out, it)
	}
	return out, nil
}

// ShouldRelay checks the local interfaces. Errors count as unrestricted.
func ShouldRelay() bool {
	ifaces, err := Local()
	if err != nil {
		return false
	}
	return Restricted(ifaces)
}
