package nmap

import (
	"fmt"

	"github.com/Ullaakut/nmap/v3"
)

const (
	hostUp   = "up"
	portOpen = "open"
)

// Host is a live host with at least one open port.
type Host struct {
	Address  string
	Hostname string
	Ports    []int
}

// ParseHosts reads a scan report and keeps the hosts that are "up" with
// at least one open port, in report order.
func ParseHosts(data []byte) ([]Host, error) {
	var run nmap.Run
	if err := nmap.Parse(data, &run); err != nil {
		return nil, fmt.Errorf("parse scan report: %w", err)
	}

	var hosts []Host
	for _, h := range run.Hosts {
		if h.Status.State != hostUp {
			continue
		}

		ports := openPorts(h.Ports)
		if len(ports) == 0 {
			continue
		}

		host := Host{Ports: ports}
		if len(h.Addresses) > 0 {
			host.Address = h.Addresses[0].Addr
		}
		if len(h.Hostnames) > 0 {
			host.Hostname = h.Hostnames[0].Name
		}
		hosts = append(hosts, host)
	}
	return hosts, nil
}

func openPorts(ports []nmap.Port) []int {
	var open []int
	for _, p := range ports {
		if p.State.State == portOpen {
			open = append(open, int(p.ID))
		}
	}
	return open
}
