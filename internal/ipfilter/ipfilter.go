// Package ipfilter blocks requests by client address.
package ipfilter

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"os"
	"strings"

	"github.com/aliuyar1234/taskshift/internal/apperrors"
	"github.com/aliuyar1234/taskshift/internal/metrics"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Blocklist decides whether a client address is refused.
type Blocklist interface {
	IsBlocked(ip string) bool
}

// Nop blocks nothing.
type Nop struct{}

func (Nop) IsBlocked(string) bool { return false }

// File is the YAML layout of a filter file:
//
//	block:
//	  - 203.0.113.7
//	  - 198.51.100.0/24
//	allow:
//	  - 198.51.100.10
type File struct {
	Block []string `yaml:"block"`
	Allow []string `yaml:"allow"`
}

// Static matches addresses against fixed prefixes. An address on the allow
// list is never blocked.
type Static struct {
	block []netip.Prefix
	allow []netip.Prefix
}

// New builds a Static filter from IPs or CIDRs.
func New(block, allow []string) (*Static, error) {
	s := &Static{}
	var err error
	if s.block, err = parsePrefixes(block); err != nil {
		return nil, fmt.Errorf("invalid block entry: %w", err)
	}
	if s.allow, err = parsePrefixes(allow); err != nil {
		return nil, fmt.Errorf("invalid allow entry: %w", err)
	}
	return s, nil
}

// Load reads a YAML filter file.
func Load(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading ip filter file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing ip filter file: %w", err)
	}
	return New(f.Block, f.Allow)
}

func parsePrefixes(entries []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(entries))
	for _, e := range entries {
		p, err := parsePrefix(e)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func parsePrefix(entry string) (netip.Prefix, error) {
	entry = strings.TrimSpace(entry)
	if strings.Contains(entry, "/") {
		p, err := netip.ParsePrefix(entry)
		if err != nil {
			return netip.Prefix{}, err
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return netip.Prefix{}, err
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

func contains(prefixes []netip.Prefix, addr netip.Addr) bool {
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// IsBlocked reports whether ip is on the block list and not allowed.
// Unparseable addresses are not blocked.
func (s *Static) IsBlocked(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()

	if contains(s.allow, addr) {
		return false
	}
	return contains(s.block, addr)
}

// Proxies are the peers whose forwarding headers are believed.
type Proxies []netip.Prefix

// ParseProxies parses IPs or CIDRs of trusted reverse proxies.
func ParseProxies(entries []string) (Proxies, error) {
	prefixes, err := parsePrefixes(entries)
	if err != nil {
		return nil, fmt.Errorf("invalid trusted proxy entry: %w", err)
	}
	return Proxies(prefixes), nil
}

// Trusts reports whether the peer at remoteAddr (host or host:port) is a
// trusted proxy. An empty list trusts nobody.
func (p Proxies) Trusts(remoteAddr string) bool {
	if len(p) == 0 {
		return false
	}
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	return contains(p, addr.Unmap())
}

// clientIP strips the port from RemoteAddr. RemoteAddr is already the bare
// forwarded address when the request came through a trusted proxy.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// Middleware refuses blocked clients with 403.
func Middleware(list Blocklist, m *metrics.Metrics) func(http.Handler) http.Handler {
	if list == nil {
		list = Nop{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if list.IsBlocked(ip) {
				m.IncIPBlocked()
				log.Warn().
					Str("remote_addr", ip).
					Str("path", r.URL.Path).
					Msg("Blocked request from filtered address")
				apperrors.WriteForbidden(w, r, "Access denied")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
