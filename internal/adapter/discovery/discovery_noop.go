//go:build !mdns

package discovery

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrUnsupported is returned when mDNS support is not compiled in.
var ErrUnsupported = errors.New("discovery: built without mdns support (rebuild with -tags mdns)")

// MDNS is a placeholder used when mDNS support is not compiled in.
type MDNS struct{}

// NewMDNS creates the placeholder discoverer.
func NewMDNS(_ *slog.Logger, _ time.Duration) *MDNS { return &MDNS{} }

// Scan always fails with ErrUnsupported.
func (*MDNS) Scan(context.Context) ([]Service, error) { return nil, ErrUnsupported }
