// Package nmap implements the network scan source: every configured
// datacenter range is split into /29 blocks and SYN-scanned block by block.
package nmap

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/rs/zerolog/log"

	"github.com/yairfalse/discovery/internal/source"
	"github.com/yairfalse/discovery/internal/store"
)

// SubnetBits is the prefix length of each scanned block.
const SubnetBits = 29

// MaxSplitBits bounds how far Subnets splits a range: at most 1<<MaxSplitBits
// blocks, so a /16 at SubnetBits.
const MaxSplitBits = 13

// Datacenter is a named address range.
type Datacenter struct {
	Name    string
	IPRange string
}

// Config holds scan source configuration.
type Config struct {
	Datacenters []Datacenter
	Runner      Runner
	Recorder    source.FailureRecorder
}

// Source implements the network scan source.
type Source struct {
	store       *store.Store
	datacenters []Datacenter
	runner      Runner
	recorder    source.FailureRecorder
}

// New creates the source. A nil runner executes the default scan tool.
func New(st *store.Store, cfg Config) *Source {
	runner := cfg.Runner
	if runner == nil {
		runner = NewExecRunner(DefaultSudo, "")
	}
	return &Source{
		store:       st,
		datacenters: cfg.Datacenters,
		runner:      runner,
		recorder:    cfg.Recorder,
	}
}

// Name returns the source identifier.
func (s *Source) Name() string {
	return "nmap"
}

// Schema returns the tables written by the source.
func (s *Source) Schema() store.Schema {
	return store.SchemaNmap
}

// Sync scans every datacenter in order. Invalid ranges and failed blocks
// are logged and skipped; only storage errors are returned.
func (s *Source) Sync(ctx context.Context) error {
	for _, dc := range s.datacenters {
		blocks, err := Subnets(dc.IPRange, SubnetBits)
		if err != nil {
			log.Error().Ctx(ctx).Err(err).Str("datacenter", dc.Name).Msg("Skipping datacenter")
			source.RecordFailure(ctx, s.recorder, s.Name(), "datacenter")
			continue
		}

		log.Info().Ctx(ctx).Str("datacenter", dc.Name).Int("subnets", len(blocks)).Msg("Nmap scan started")
		for _, block := range blocks {
			if err := s.scan(ctx, dc, block); err != nil {
				return err
			}
		}
		log.Info().Ctx(ctx).Str("datacenter", dc.Name).Msg("Nmap scan finished")
	}
	return nil
}

// scan runs one block. Tool and parse failures are logged and dropped.
func (s *Source) scan(ctx context.Context, dc Datacenter, block netip.Prefix) error {
	out, err := s.runner.Scan(ctx, block.String())
	if err == nil {
		var hosts []Host
		hosts, err = ParseHosts(out)
		if err == nil {
			return s.save(ctx, dc, hosts)
		}
	}

	log.Error().Ctx(ctx).Err(err).
		Str("datacenter", dc.Name).
		Str("subnet", block.String()).
		Msg("Nmap scan failed")
	source.RecordFailure(ctx, s.recorder, s.Name(), "subnet")
	return nil
}

func (s *Source) save(ctx context.Context, dc Datacenter, hosts []Host) error {
	for _, h := range hosts {
		err := s.store.InsertScanResult(ctx, store.ScanResult{
			Datacenter: dc.Name,
			PublicIP:   h.Address,
			Ports:      store.JoinPorts(h.Ports),
			Hostname:   h.Hostname,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Subnets splits an IPv4 range into blocks of the given prefix length. A
// range already at least that narrow is returned whole. Host bits in the
// range are masked off. Ranges needing more than 1<<MaxSplitBits blocks
// are rejected.
func Subnets(cidr string, bits int) ([]netip.Prefix, error) {
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		return nil, fmt.Errorf("parse range %q: %w", cidr, err)
	}
	if !prefix.Addr().Is4() {
		return nil, fmt.Errorf("range %q is not IPv4", cidr)
	}
	prefix = prefix.Masked()

	if bits < 0 || bits > 32 {
		return nil, fmt.Errorf("block size /%d out of range", bits)
	}
	if prefix.Bits() >= bits {
		return []netip.Prefix{prefix}, nil
	}
	if bits-prefix.Bits() > MaxSplitBits {
		return nil, fmt.Errorf("range %q too wide for /%d blocks", cidr, bits)
	}

	count := 1 << (bits - prefix.Bits())
	step := uint32(1) << (32 - bits)

	base := prefix.Addr().As4()
	start := uint32(base[0])<<24 | uint32(base[1])<<16 | uint32(base[2])<<8 | uint32(base[3])

	blocks := make([]netip.Prefix, 0, count)
	for i := 0; i < count; i++ {
		n := start + uint32(i)*step
		addr := netip.AddrFrom4([4]byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)})
		blocks = append(blocks, netip.PrefixFrom(addr, bits))
	}
	return blocks, nil
}
