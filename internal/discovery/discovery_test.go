package discovery

import (
	"net"
	"testing"

	"github.com/rjboer/pulseradar/internal/mdns"
)

func TestFindIIODAddressPrefersHintMatch(t *testing.T) {
	hosts := []mdns.Host{
		{Instance: "iiod on desktop", Addresses: []net.IP{net.ParseIP("192.0.2.1")}, Port: 30431},
		{Instance: "iiod on pluto", Addresses: []net.IP{net.ParseIP("192.0.2.2")}, Port: 30431},
	}
	chosen := pickHost(hosts, "pluto")
	if chosen.Instance != "iiod on pluto" {
		t.Fatalf("got %q, want iiod on pluto", chosen.Instance)
	}
}

func TestFindIIODAddressDefaultsToFirstHost(t *testing.T) {
	hosts := []mdns.Host{
		{Instance: "iiod on desktop", Addresses: []net.IP{net.ParseIP("192.0.2.1")}, Port: 30431},
	}
	chosen := pickHost(hosts, "")
	if chosen.Instance != "iiod on desktop" {
		t.Fatalf("got %q, want iiod on desktop", chosen.Instance)
	}
}
