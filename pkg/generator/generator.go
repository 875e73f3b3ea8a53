package generator

import (
	"fmt"
	"net/netip"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/blwatch/blwatch/pkg/log"
	"github.com/blwatch/blwatch/pkg/types"
)

// Generator expands the configured CIDR prefixes into host IPs and crosses
// them with the zone set to produce the day's task seeds.
type Generator struct {
	prefixesFile string
	zones        []types.Zone
}

// NewGenerator creates a generator for the given prefix file and zone set.
func NewGenerator(prefixesFile string, zones []types.Zone) *Generator {
	return &Generator{prefixesFile: prefixesFile, zones: zones}
}

// prefixDoc accepts both historical file shapes: a bare YAML sequence of
// CIDR strings, or a mapping with a "prefixes" key.
type prefixDoc struct {
	Prefixes []string `yaml:"prefixes"`
}

// Generate reads the prefix file and returns the hosts x zones cross
// product, in file order. Invalid prefixes are skipped with a diagnostic.
func (g *Generator) Generate() ([]types.Seed, error) {
	prefixes, err := g.readPrefixes()
	if err != nil {
		return nil, err
	}

	logger := log.WithComponent("generator")

	var seeds []types.Seed
	for _, cidr := range prefixes {
		hosts, err := HostAddrs(cidr)
		if err != nil {
			logger.Error().Str("prefix", cidr).Err(err).Msg("skipping invalid CIDR prefix")
			continue
		}
		for _, ip := range hosts {
			for _, zone := range g.zones {
				seeds = append(seeds, types.Seed{IP: ip, Zone: zone})
			}
		}
	}

	logger.Info().
		Int("prefixes", len(prefixes)).
		Int("zones", len(g.zones)).
		Int("tasks", len(seeds)).
		Msg("generated task set")
	return seeds, nil
}

func (g *Generator) readPrefixes() ([]string, error) {
	data, err := os.ReadFile(g.prefixesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read prefix file: %w", err)
	}

	var doc prefixDoc
	if err := yaml.Unmarshal(data, &doc); err == nil && len(doc.Prefixes) > 0 {
		return doc.Prefixes, nil
	}

	var list []string
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to parse prefix file: %w", err)
	}
	return list, nil
}

// HostAddrs expands an IPv4 CIDR prefix into its host addresses, excluding
// the network and broadcast addresses. /31 and /32 have no network or
// broadcast address and expand to every address in the prefix.
func HostAddrs(cidr string) ([]string, error) {
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		return nil, fmt.Errorf("invalid CIDR %q: %w", cidr, err)
	}
	if !prefix.Addr().Is4() {
		return nil, fmt.Errorf("invalid CIDR %q: not IPv4", cidr)
	}

	prefix = prefix.Masked()
	var all []string
	for addr := prefix.Addr(); prefix.Contains(addr); addr = addr.Next() {
		all = append(all, addr.String())
	}

	if prefix.Bits() >= 31 {
		return all, nil
	}
	return all[1 : len(all)-1], nil
}
