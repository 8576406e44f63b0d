// Package netscan finds known boards on the local networks by MAC address
// and publishes their addresses in /etc/hosts.
package netscan

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/kdt-dev/kdt/pkg/config"
	"github.com/kdt-dev/kdt/pkg/kdterr"
	"github.com/kdt-dev/kdt/pkg/layout"
	"github.com/kdt-dev/kdt/pkg/runner"
)

// Host is a configured hostname and the MAC address it answers with.
type Host struct {
	Name string
	MAC  string
}

// Entry is a host found on the network.
type Entry struct {
	Host string
	MAC  string
	IP   string
}

// HostsFromSection reads the hostname to MAC table of the get_ip section,
// in file order.
func HostsFromSection(sec *config.Section) []Host {
	if sec == nil {
		return nil
	}
	hosts := make([]Host, 0, sec.Len())
	for _, name := range sec.Keys() {
		hosts = append(hosts, Host{Name: name, MAC: sec.Value(name)})
	}
	return hosts
}

// Ranges turns interface addresses into the network ranges to scan.
// Duplicates are dropped.
func Ranges(addrs []*net.IPNet) []string {
	seen := make(map[string]bool)
	var ranges []string
	for _, addr := range addrs {
		ip := addr.IP.To4()
		if ip == nil {
			continue
		}
		network := &net.IPNet{IP: ip.Mask(addr.Mask), Mask: addr.Mask}
		r := network.String()
		if !seen[r] {
			seen[r] = true
			ranges = append(ranges, r)
		}
	}
	return ranges
}

// ArpScanArgs scans one range with plain tab separated output.
func ArpScanArgs(ipRange string) []string {
	return []string{"arp-scan", "-qxr", "4", ipRange}
}

// ParseArpScan reads "address<TAB>mac" lines into a table keyed by the lower
// case MAC. Lines that do not have both fields are skipped.
func ParseArpScan(output string) map[string]string {
	devices := make(map[string]string)
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Split(strings.TrimSpace(line), "\t")
		if len(fields) < 2 || fields[0] == "" || fields[1] == "" {
			continue
		}
		devices[strings.ToLower(fields[1])] = fields[0]
	}
	return devices
}

// Match joins the configured hosts with the scanned devices.
func Match(hosts []Host, devices map[string]string) []Entry {
	var entries []Entry
	for _, h := range hosts {
		mac := strings.ToLower(strings.TrimSpace(h.MAC))
		if ip, ok := devices[mac]; ok {
			entries = append(entries, Entry{Host: h.Name, MAC: mac, IP: ip})
		}
	}
	return entries
}

// Rewrite drops the previous marker lines from a hosts file and appends the
// entries after a blank line. Rewriting its own output with the same entries
// gives the same content.
func Rewrite(content string, entries []Entry) string {
	var kept []string
	for _, line := range strings.SplitAfter(content, "\n") {
		if !strings.Contains(line, layout.HostsMarker) {
			kept = append(kept, line)
		}
	}
	out := strings.TrimRight(strings.Join(kept, ""), "\n")
	if out != "" {
		out += "\n"
		if len(entries) > 0 {
			out += "\n"
		}
	}
	for _, e := range entries {
		out += fmt.Sprintf("%s %s %s\n", e.IP, e.Host, layout.HostsMarker)
	}
	return out
}

// ListAdded returns the marker lines of a hosts file without the marker.
func ListAdded(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, layout.HostsMarker) {
			lines = append(lines, strings.TrimSpace(strings.Replace(line, layout.HostsMarker, "", 1)))
		}
	}
	return lines, scanner.Err()
}

// Scanner runs a network scan and updates the hosts file.
type Scanner struct {
	Exec      runner.Executor
	Log       *zap.SugaredLogger
	HostsFile string
	// Networks lists the networks to scan, LocalNetworks when nil.
	Networks func() ([]*net.IPNet, error)
	// Record is called for every entry found, when set.
	Record func(Entry) error
}

// NewScanner returns a scanner for the local networks and /etc/hosts.
func NewScanner(e runner.Executor, log *zap.SugaredLogger) *Scanner {
	return &Scanner{Exec: e, Log: log, HostsFile: layout.HostsFile, Networks: LocalNetworks}
}

// Devices returns the MAC to address table of every local network.
func (s *Scanner) Devices(ctx context.Context) (map[string]string, error) {
	nets, err := s.Networks()
	if err != nil {
		return nil, err
	}
	ranges := Ranges(nets)
	if len(ranges) == 0 {
		return nil, kdterr.Errorf(kdterr.KindCommand, "no network interface with a global IPv4 address is up")
	}

	devices := make(map[string]string)
	for _, r := range ranges {
		s.Log.Debugw("Scanning", "range", r)
		res, err := runner.Must(ctx, s.Exec, runner.Cmd{Args: ArpScanArgs(r), Sudo: true, Trace: runner.Echo})
		if err != nil {
			return nil, err
		}
		for mac, ip := range ParseArpScan(res.Stdout) {
			devices[mac] = ip
		}
	}
	return devices, nil
}

// Scan finds the hosts on the network and rewrites the hosts file.
func (s *Scanner) Scan(ctx context.Context, hosts []Host) ([]Entry, error) {
	if len(hosts) == 0 {
		return nil, kdterr.Errorf(kdterr.KindConfig, "host / MAC list empty, add one with 'gip add'")
	}

	devices, err := s.Devices(ctx)
	if err != nil {
		return nil, err
	}
	entries := Match(hosts, devices)
	for _, e := range entries {
		s.Log.Debugw("Found", "host", e.Host, "ip", e.IP)
		if s.Record == nil {
			continue
		}
		if err := s.Record(e); err != nil {
			s.Log.Warnw("failed to record sighting", "host", e.Host, "error", err)
		}
	}

	current, err := os.ReadFile(s.HostsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.HostsFile, err)
	}
	if err := s.write(ctx, Rewrite(string(current), entries)); err != nil {
		return nil, err
	}
	return entries, nil
}

// write replaces the root owned hosts file through a temp file.
func (s *Scanner) write(ctx context.Context, content string) error {
	tmp, err := os.CreateTemp("", "gip-hosts-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	_, err = runner.Must(ctx, s.Exec, runner.Cmd{
		Args:  []string{"cp", tmp.Name(), s.HostsFile},
		Sudo:  true,
		Trace: runner.Echo,
	})
	return err
}
