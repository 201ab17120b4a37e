package relay

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/mdns"
)

// Advertise объявляет relay в локальной сети. Вызывающий закрывает сервер через Shutdown.
func Advertise(service string, port int) (*mdns.Server, error) {
	host, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("could not get hostname: %w", err)
	}

	zone, err := mdns.NewMDNSService(host, service, "", "", port, nil, []string{"collabsync relay"})
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: zone})
	if err != nil {
		return nil, fmt.Errorf("failed to start mDNS server: %w", err)
	}
	return server, nil
}

// Discover ищет relay в локальной сети и возвращает ws-адрес первого найденного
func Discover(ctx context.Context, service string, timeout time.Duration) (string, error) {
	entries := make(chan *mdns.ServiceEntry, 8)
	params := mdns.DefaultParams(service)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true

	errCh := make(chan error, 1)
	go func() {
		errCh <- mdns.Query(params)
		close(entries)
	}()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case e, ok := <-entries:
			if !ok {
				if err := <-errCh; err != nil {
					return "", &TransportError{Op: "discover", Room: "*", Err: err}
				}
				return "", &TransportError{Op: "discover", Room: "*", Err: ErrNoRelayFound}
			}
			if addr, ok := entryURL(e); ok {
				return addr, nil
			}
		}
	}
}

func entryURL(e *mdns.ServiceEntry) (string, bool) {
	if e == nil || e.AddrV4 == nil || e.Port == 0 {
		return "", false
	}
	return fmt.Sprintf("ws://%s:%d", e.AddrV4.String(), e.Port), true
}
