package resolver

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/toolgate/toolgate/engine/mcp"
)

const defaultDNSTimeout = 3 * time.Second

// shellMetaChars are rejected in commands and arguments. Definitions are
// executed as an argv vector, never through a shell; the check defends
// against downstream misuse of the merged value.
const shellMetaChars = ";&|$`><\n"

// cloud metadata endpoint, the classic SSRF target
var metadataIP = net.IPv4(169, 254, 169, 254)

// IPResolver resolves a hostname to its addresses. net.Resolver satisfies
// it; tests substitute a stub.
type IPResolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// SecurityValidator applies origin-independent security rules to a server
// definition. It is stateless and safe for concurrent use.
type SecurityValidator struct {
	resolver   IPResolver
	dnsTimeout time.Duration
}

// NewSecurityValidator creates a validator. A nil resolver uses the system
// DNS resolver; a zero timeout uses the default of 3s.
func NewSecurityValidator(resolver IPResolver, dnsTimeout time.Duration) *SecurityValidator {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	if dnsTimeout <= 0 {
		dnsTimeout = defaultDNSTimeout
	}
	return &SecurityValidator{resolver: resolver, dnsTimeout: dnsTimeout}
}

// Validate checks a definition against the full security rule set and
// returns a cleaned copy on success or a structured rejection. It never
// panics and never returns a partial definition. The URL host is resolved
// once and the resolved addresses are checked, not the literal string, to
// close the DNS-rebinding bypass.
func (v *SecurityValidator) Validate(ctx context.Context, def *mcp.ServerDefinition) (*mcp.ServerDefinition, *ValidationError) {
	if def == nil {
		return nil, &ValidationError{Name: "", Reason: "definition is nil"}
	}
	if reason := v.checkNullBytes(def); reason != "" {
		return nil, &ValidationError{Name: def.Name, Reason: reason}
	}
	if !mcp.ValidName(def.Name) {
		return nil, &ValidationError{Name: def.Name, Reason: "name must be non-empty and contain only [A-Za-z0-9_-]"}
	}
	if err := def.Validate(); err != nil {
		return nil, &ValidationError{Name: def.Name, Reason: err.Error()}
	}
	if def.Transport == mcp.TransportStdio {
		if reason := checkShellMeta(def.Command, def.Args); reason != "" {
			return nil, &ValidationError{Name: def.Name, Reason: reason}
		}
	}
	if def.Transport.IsRemote() {
		if reason := v.checkSSRF(ctx, def.URL); reason != "" {
			return nil, &ValidationError{Name: def.Name, Reason: reason}
		}
	}
	clean := def.Clone()
	clean.SetDefaults()
	return clean, nil
}

func (v *SecurityValidator) checkNullBytes(def *mcp.ServerDefinition) string {
	fields := []string{def.Name, def.Command, def.URL}
	fields = append(fields, def.Args...)
	for k, val := range def.Env {
		fields = append(fields, k, val)
	}
	for k, val := range def.Headers {
		fields = append(fields, k, val)
	}
	for _, f := range fields {
		if strings.ContainsRune(f, 0) {
			return "contains a null byte"
		}
	}
	return ""
}

func checkShellMeta(command string, args []string) string {
	if strings.ContainsAny(command, shellMetaChars) {
		return fmt.Sprintf("command contains a shell metacharacter: %q", command)
	}
	for _, arg := range args {
		if strings.ContainsAny(arg, shellMetaChars) {
			return fmt.Sprintf("argument contains a shell metacharacter: %q", arg)
		}
	}
	return ""
}

// checkSSRF resolves the URL host and rejects when any resolved address is
// loopback, private, link-local, or otherwise unroutable from the outside.
// Resolution failure is a rejection, never a pass.
func (v *SecurityValidator) checkSSRF(ctx context.Context, rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Sprintf("invalid url: %v", err)
	}
	host := parsed.Hostname()
	if host == "" {
		return "url has no host"
	}

	var ips []net.IP
	if literal := net.ParseIP(host); literal != nil {
		ips = []net.IP{literal}
	} else {
		resolveCtx, cancel := context.WithTimeout(ctx, v.dnsTimeout)
		defer cancel()
		addrs, err := v.resolver.LookupIPAddr(resolveCtx, host)
		if err != nil {
			return fmt.Sprintf("dns resolution failed for host %q: %v", host, err)
		}
		if len(addrs) == 0 {
			return fmt.Sprintf("host %q resolved to no addresses", host)
		}
		for _, addr := range addrs {
			ips = append(ips, addr.IP)
		}
	}

	for _, ip := range ips {
		if reason := forbiddenIPReason(ip); reason != "" {
			return fmt.Sprintf("host %q resolves to %s (%s)", host, ip, reason)
		}
	}
	return ""
}

func forbiddenIPReason(ip net.IP) string {
	// Normalize IPv4-mapped IPv6 (::ffff:10.0.0.1) to its IPv4 form
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	switch {
	case ip.Equal(metadataIP):
		return "cloud metadata address"
	case ip.IsLoopback():
		return "loopback address"
	case ip.IsPrivate():
		return "private address range"
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return "link-local address"
	case ip.IsUnspecified():
		return "unspecified address"
	}
	return ""
}
