// Package discovery finds graph services announced on the local network.
package discovery

import (
	"context"
	"strconv"
	"strings"

	"graphlink/internal/adapter/transport"
)

// ServiceType is the DNS-SD service type graph services announce.
const ServiceType = "_graphlink._tcp"

// Service is one announced graph service.
type Service struct {
	Instance string
	Address  string // host:port
	Path     string
	Secure   bool
	Meta     map[string]string
}

// Endpoint returns the connect URL for s, without a session token.
func (s Service) Endpoint() string {
	path := s.Path
	if path == "" {
		path = "/api/connect"
	}
	return transport.Endpoint(s.Address, path, "", s.Secure)
}

// Discoverer scans for services.
type Discoverer interface {
	Scan(ctx context.Context) ([]Service, error)
}

// fromTXT fills the connect fields of s from its TXT records.
func fromTXT(s Service, txt []string) Service {
	s.Meta = parseTXTRecords(txt)
	s.Path = s.Meta["path"]
	s.Secure, _ = strconv.ParseBool(s.Meta["secure"])
	return s
}

func parseTXTRecords(txt []string) map[string]string {
	m := make(map[string]string, len(txt))
	for _, t := range txt {
		if k, v, ok := strings.Cut(t, "="); ok {
			m[k] = v
		}
	}
	return m
}
