// File: transport/tcp/addr.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package tcp

import (
	"fmt"
	"net/netip"

	"golang.org/x/sys/unix"
)

// Addr is an IPv4/IPv6 endpoint address.
type Addr struct {
	ap netip.AddrPort
}

// ParseAddr parses "ip:port" into an Addr.
func ParseAddr(s string) (Addr, error) {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return Addr{}, fmt.Errorf("tcp: parse address %q: %w", s, err)
	}
	return Addr{ap: ap}, nil
}

// MustParseAddr is ParseAddr that panics on error, for fixed literals.
func MustParseAddr(s string) Addr {
	a, err := ParseAddr(s)
	if err != nil {
		panic(err)
	}
	return a
}

// AddrFor builds an Addr for a port on all interfaces. loopbackOnly
// restricts it to the loopback interface; ipv6 selects the address family.
func AddrFor(port uint16, loopbackOnly, ipv6 bool) Addr {
	var ip netip.Addr
	switch {
	case ipv6 && loopbackOnly:
		ip = netip.IPv6Loopback()
	case ipv6:
		ip = netip.IPv6Unspecified()
	case loopbackOnly:
		ip = netip.AddrFrom4([4]byte{127, 0, 0, 1})
	default:
		ip = netip.IPv4Unspecified()
	}
	return Addr{ap: netip.AddrPortFrom(ip, port)}
}

func addrFromSockaddr(sa unix.Sockaddr) Addr {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return Addr{ap: netip.AddrPortFrom(netip.AddrFrom4(v.Addr), uint16(v.Port))}
	case *unix.SockaddrInet6:
		return Addr{ap: netip.AddrPortFrom(netip.AddrFrom16(v.Addr), uint16(v.Port))}
	default:
		return Addr{}
	}
}

func (a Addr) sockaddr() unix.Sockaddr {
	ip := a.ap.Addr()
	if ip.Is4() || ip.Is4In6() {
		return &unix.SockaddrInet4{Port: int(a.ap.Port()), Addr: ip.As4()}
	}
	return &unix.SockaddrInet6{Port: int(a.ap.Port()), Addr: ip.As16()}
}

// IsIPv6 reports whether the address is an IPv6 endpoint.
func (a Addr) IsIPv6() bool {
	ip := a.ap.Addr()
	return ip.Is6() && !ip.Is4In6()
}

// Port returns the port number.
func (a Addr) Port() uint16 { return a.ap.Port() }

// IsValid reports whether the address carries an IP at all.
func (a Addr) IsValid() bool { return a.ap.Addr().IsValid() }

// String renders "ip:port" ("[ip]:port" for IPv6).
func (a Addr) String() string { return a.ap.String() }
