package install

import (
	"fmt"
	"strings"

	"github.com/kdt-dev/kdt/pkg/config"
	"github.com/kdt-dev/kdt/pkg/kdterr"
	"github.com/kdt-dev/kdt/pkg/mac"
)

// Mapping is a hostname / MAC pair of the get_ip section.
type Mapping struct {
	Host string
	MAC  string
}

func hostsSection(store *config.Store) (*config.Section, error) {
	sec, ok, err := store.ReadSection(config.SectionGetIP)
	if err != nil {
		return nil, err
	}
	if !ok {
		sec = config.NewSection(config.SectionGetIP)
	}
	return sec, nil
}

// ParseMapping reads a "host aa:bb:cc:dd:ee:ff" line.
func ParseMapping(line string) (Mapping, error) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return Mapping{}, kdterr.Errorf(kdterr.KindUsage, "expected \"host_name aa:bb:cc:dd:ee:ff\", got %q", line)
	}
	addr, err := mac.NormalizeMAC(fields[1])
	if err != nil {
		return Mapping{}, err
	}
	return Mapping{Host: fields[0], MAC: addr}, nil
}

// AddHosts stores the mappings in the get_ip section, replacing hosts that
// are already there.
func AddHosts(store *config.Store, mappings ...Mapping) error {
	if len(mappings) == 0 {
		return nil
	}
	sec, err := hostsSection(store)
	if err != nil {
		return err
	}
	for _, m := range mappings {
		addr, err := mac.NormalizeMAC(m.MAC)
		if err != nil {
			return err
		}
		if m.Host == "" {
			return kdterr.Errorf(kdterr.KindUsage, "hostname must not be empty")
		}
		sec.Set(m.Host, addr)
	}
	return store.WriteSection(sec)
}

// PromptHosts asks for host / MAC lines until an empty answer and saves
// them.
func PromptHosts(store *config.Store, p *Prompter) ([]Mapping, error) {
	fmt.Fprintln(p.out, "Add Host / MAC to get IP list?")
	fmt.Fprintln(p.out, "Type \"host_name aa:bb:cc:dd:ee:ff\" to add or empty for no.")

	var mappings []Mapping
	for {
		line, err := p.Ask("Host / MAC: ")
		if err != nil {
			return nil, err
		}
		if line == "" {
			break
		}
		m, err := ParseMapping(line)
		if err != nil {
			fmt.Fprintln(p.out, "Nope. Could not understand what you said. Try again.")
			continue
		}
		mappings = append(mappings, m)
	}
	return mappings, AddHosts(store, mappings...)
}
