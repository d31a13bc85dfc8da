package pki

import (
	"os"
	"strings"
)

// MungeAltNames normalizes a comma-separated subject-alt-name list. Every
// entry that does not already carry a DNS: or IP: prefix is treated as a DNS
// name; entries are re-joined with ", " separators.
//
//	"foo.com,IP:1.2.3.4" -> "DNS:foo.com, IP:1.2.3.4"
func MungeAltNames(altNames string) string {
	var munged []string
	for _, entry := range strings.Split(altNames, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.HasPrefix(entry, "DNS:") && !strings.HasPrefix(entry, "IP:") {
			entry = "DNS:" + entry
		}
		munged = append(munged, entry)
	}
	return strings.Join(munged, ", ")
}

// ChooseAltNames resolves the SAN string for a new certificate. A non-empty
// command-line value wins; otherwise the settings-file value is used;
// otherwise a default set is derived from the local host at call time.
func ChooseAltNames(cli, settings string) string {
	if cli != "" {
		return MungeAltNames(cli)
	}
	if settings != "" {
		return MungeAltNames(settings)
	}
	return DefaultAltNames()
}

// DefaultAltNames derives the host-based SAN fallback: the local FQDN, the
// bare name "puppet", and "puppet.<domain>" when the host name carries a
// domain. Queried from the environment on every call, never cached.
func DefaultAltNames() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "DNS:puppet"
	}
	names := []string{hostname, "puppet"}
	if i := strings.Index(hostname, "."); i > 0 && i < len(hostname)-1 {
		names = append(names, "puppet."+hostname[i+1:])
	}
	return MungeAltNames(strings.Join(names, ","))
}
