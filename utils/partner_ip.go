package utils

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Default banking-partner source prefixes; overridable through config.
var (
	DefaultProductionCIDRs = []string{"170.66.0.0/16"}
	DefaultSandboxCIDRs    = []string{"186.202.0.0/16"}
)

// PartnerNetworks classifies source addresses against the banking partner's
// published ranges, with distinct production and sandbox prefix sets.
type PartnerNetworks struct {
	production []*net.IPNet
	sandbox    []*net.IPNet
}

func NewPartnerNetworks(productionCIDRs, sandboxCIDRs []string) (*PartnerNetworks, error) {
	production, err := parseCIDRs(productionCIDRs)
	if err != nil {
		return nil, fmt.Errorf("production ranges: %w", err)
	}
	sandbox, err := parseCIDRs(sandboxCIDRs)
	if err != nil {
		return nil, fmt.Errorf("sandbox ranges: %w", err)
	}
	return &PartnerNetworks{production: production, sandbox: sandbox}, nil
}

func parseCIDRs(cidrs []string) ([]*net.IPNet, error) {
	networks := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(strings.TrimSpace(cidr))
		if err != nil {
			return nil, fmt.Errorf("invalid CIDR %q: %w", cidr, err)
		}
		networks = append(networks, network)
	}
	return networks, nil
}

// IsPartner reports whether ip falls inside any partner range and, when it
// does, which environment the matching range belongs to.
func (p *PartnerNetworks) IsPartner(ip string) (bool, string) {
	parsed := net.ParseIP(StripMappedPrefix(ip))
	if parsed == nil {
		return false, ""
	}
	for _, network := range p.production {
		if network.Contains(parsed) {
			return true, "production"
		}
	}
	for _, network := range p.sandbox {
		if network.Contains(parsed) {
			return true, "sandbox"
		}
	}
	return false, ""
}

// ClientIP derives the caller address with header precedence
// X-Forwarded-For (first entry), then X-Real-IP, then the socket address.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first := strings.TrimSpace(strings.Split(forwarded, ",")[0])
		if first != "" {
			return StripMappedPrefix(first)
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return StripMappedPrefix(realIP)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return StripMappedPrefix(host)
}

// StripMappedPrefix removes the IPv4-mapped-IPv6 prefix so partner range
// checks and logs always see the dotted-quad form.
func StripMappedPrefix(ip string) string {
	return strings.TrimPrefix(ip, "::ffff:")
}
