package netscan

import (
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// LocalNetworks returns the global IPv4 networks of the interfaces that
// are up.
func LocalNetworks() ([]*net.IPNet, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}

	var nets []*net.IPNet
	for _, link := range links {
		attrs := link.Attrs()
		if attrs.OperState != netlink.OperUp {
			continue
		}
		addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
		if err != nil {
			return nil, fmt.Errorf("failed to list addresses of %s: %w", attrs.Name, err)
		}
		for _, addr := range addrs {
			if addr.Scope != unix.RT_SCOPE_UNIVERSE || addr.IPNet == nil {
				continue
			}
			nets = append(nets, addr.IPNet)
		}
	}
	return nets, nil
}
