//go:build mdns

package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	mdnsDomain      = "local."
	mdnsScanTimeout = 3 * time.Second
)

// MDNS browses DNS-SD announcements.
type MDNS struct {
	logger  *slog.Logger
	timeout time.Duration
}

// NewMDNS creates an mDNS discoverer. A zero timeout uses the default scan
// window.
func NewMDNS(logger *slog.Logger, timeout time.Duration) *MDNS {
	if timeout <= 0 {
		timeout = mdnsScanTimeout
	}
	return &MDNS{logger: logger, timeout: timeout}
}

// Scan browses for the scan window and returns every service seen.
func (d *MDNS) Scan(ctx context.Context) ([]Service, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	var mu sync.Mutex
	var services []Service
	var wg sync.WaitGroup

	scanCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			svc := entryToService(entry)
			mu.Lock()
			services = append(services, svc)
			mu.Unlock()
			d.logger.Debug("mdns discovered graph service", "instance", svc.Instance, "address", svc.Address)
		}
	}()

	if err := resolver.Browse(scanCtx, ServiceType, mdnsDomain, entries); err != nil {
		cancel()
		wg.Wait()
		return nil, fmt.Errorf("mdns browse: %w", err)
	}

	// The resolver closes entries once the scan window ends.
	<-scanCtx.Done()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	return append([]Service(nil), services...), nil
}

func entryToService(entry *zeroconf.ServiceEntry) Service {
	svc := Service{Instance: entry.ServiceRecord.Instance}
	port := strconv.Itoa(entry.Port)
	if len(entry.AddrIPv4) > 0 {
		svc.Address = net.JoinHostPort(entry.AddrIPv4[0].String(), port)
	} else if len(entry.AddrIPv6) > 0 {
		svc.Address = net.JoinHostPort(entry.AddrIPv6[0].String(), port)
	}
	return fromTXT(svc, entry.Text)
}
