//go:build !linux

package netscan

import (
	"errors"
	"net"
)

// LocalNetworks needs netlink.
func LocalNetworks() ([]*net.IPNet, error) {
	return nil, errors.New("network discovery is only supported on linux")
}
