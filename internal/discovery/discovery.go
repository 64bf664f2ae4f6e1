// Package discovery advertises the coordinator on the local network via mDNS
// so LAN clients can find it without configuration, and lets clients browse
// for advertised coordinators.
package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the mDNS service type coordinators register under.
const ServiceType = "_livecast-sig._tcp"

const domain = "local."

// Coordinator describes one advertised coordinator found while browsing.
type Coordinator struct {
	Instance   string
	Addr       string
	SignalPath string
}

// Advertise registers the coordinator instance on the local network. The
// returned shutdown function must be called when advertising should stop.
func Advertise(instance string, port int, signalPath string) (func(), error) {
	if instance == "" {
		return nil, fmt.Errorf("empty instance name")
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid port %d", port)
	}
	if signalPath == "" {
		signalPath = "/signal"
	}

	txt := []string{"path=" + signalPath}
	server, err := zeroconf.Register(instance, ServiceType, domain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("register mdns service: %w", err)
	}
	return server.Shutdown, nil
}

// Browse scans the local network for coordinators until the timeout elapses
// and returns everything found.
func Browse(ctx context.Context, timeout time.Duration) ([]Coordinator, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("new mdns resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, ServiceType, domain, entries); err != nil {
		return nil, fmt.Errorf("browse: %w", err)
	}

	var found []Coordinator
	for entry := range entries {
		if entry == nil || len(entry.AddrIPv4) == 0 {
			continue
		}
		c := Coordinator{
			Instance:   entry.Instance,
			Addr:       fmt.Sprintf("%s:%d", entry.AddrIPv4[0], entry.Port),
			SignalPath: "/signal",
		}
		for _, txt := range entry.Text {
			if strings.HasPrefix(txt, "path=") {
				c.SignalPath = strings.TrimPrefix(txt, "path=")
			}
		}
		found = append(found, c)
	}
	return found, nil
}

// Find returns the first coordinator whose instance name matches, or an error
// once the timeout elapses.
func Find(ctx context.Context, instance string, timeout time.Duration) (Coordinator, error) {
	found, err := Browse(ctx, timeout)
	if err != nil {
		return Coordinator{}, err
	}
	for _, c := range found {
		if instance == "" || c.Instance == instance {
			return c, nil
		}
	}
	return Coordinator{}, fmt.Errorf("coordinator not found")
}
