package relay

import (
	"net"
	"testing"

	"github.com/hashicorp/mdns"
)

func TestEntryURL(t *testing.T) {
	tests := []struct {
		name  string
		entry *mdns.ServiceEntry
		want  string
		ok    bool
	}{
		{"nil", nil, "", false},
		{"no address", &mdns.ServiceEntry{Port: 9090}, "", false},
		{"no port", &mdns.ServiceEntry{AddrV4: net.IPv4(10, 0, 0, 2)}, "", false},
		{"ok", &mdns.ServiceEntry{AddrV4: net.IPv4(10, 0, 0, 2), Port: 9090}, "ws://10.0.0.2:9090", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := entryURL(tt.entry)
			if got != tt.want || ok != tt.ok {
				t.Fatalf("entryURL() = %q, %v; want %q, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}
