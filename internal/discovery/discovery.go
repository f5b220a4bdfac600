// Package discovery implements C13: a thin helper the supervisor
// calls only when its config carries no explicit device address. It
// adapts internal/mdns's blocking browse into a single address
// selection, preferring the device whose advertised instance name
// matches a caller-supplied hint (e.g. "pluto").
package discovery

import (
	"fmt"
	"strings"

	"github.com/rjboer/pulseradar/internal/mdns"
)

// DefaultIIODPort is the libiio network backend's default TCP port;
// used when a discovered Host carries none.
const DefaultIIODPort = 30431

// FindIIODAddress browses for _iio._tcp devices for timeoutSeconds and
// returns a "host:port" dial address. If hint is non-empty, the first
// host whose Instance contains hint (case-insensitively) wins;
// otherwise the first host found is used. Returns an error if no host
// was found at all.
func FindIIODAddress(timeoutSeconds int, hint string) (string, error) {
	hosts, err := mdns.DiscoverIIOD(timeoutSeconds)
	if err != nil {
		return "", fmt.Errorf("discovery: browse failed: %w", err)
	}
	if len(hosts) == 0 {
		return "", fmt.Errorf("discovery: no _iio._tcp devices found")
	}

	chosen := pickHost(hosts, hint)

	port := chosen.Port
	if port == 0 {
		port = DefaultIIODPort
	}

	if len(chosen.Addresses) > 0 {
		return fmt.Sprintf("%s:%d", chosen.Addresses[0].String(), port), nil
	}
	if chosen.Hostname != "" {
		return fmt.Sprintf("%s:%d", strings.TrimSuffix(chosen.Hostname, "."), port), nil
	}
	return "", fmt.Errorf("discovery: host %q has no usable address", chosen.Instance)
}

// pickHost selects hint's first case-insensitive substring match, or
// hosts[0] if hint is empty or matches nothing.
func pickHost(hosts []mdns.Host, hint string) mdns.Host {
	if hint != "" {
		for _, h := range hosts {
			if strings.Contains(strings.ToLower(h.Instance), strings.ToLower(hint)) {
				return h
			}
		}
	}
	return hosts[0]
}
