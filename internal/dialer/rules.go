package dialer

import (
	"fmt"
	"net"
	"strings"
)

// Ruleset is an allow-list of destinations. Entries are IP addresses, CIDR
// blocks, exact host names, or ".suffix" names matching any subdomain. An
// empty Ruleset allows everything.
type Ruleset struct {
	hosts    map[string]struct{}
	suffixes []string
	nets     []*net.IPNet
}

func NewRuleset(entries []string) (*Ruleset, error) {
	r := &Ruleset{hosts: make(map[string]struct{})}
	for _, e := range entries {
		e = strings.ToLower(strings.TrimSpace(e))
		switch {
		case e == "":
			continue
		case strings.Contains(e, "/"):
			_, n, err := net.ParseCIDR(e)
			if err != nil {
				return nil, fmt.Errorf("allowed address %q: %w", e, err)
			}
			r.nets = append(r.nets, n)
		case strings.HasPrefix(e, "."):
			r.suffixes = append(r.suffixes, e)
		default:
			if ip := net.ParseIP(e); ip != nil {
				e = ip.String()
			}
			r.hosts[e] = struct{}{}
		}
	}
	return r, nil
}

// Empty reports whether the ruleset places no restriction.
func (r *Ruleset) Empty() bool {
	return r == nil || (len(r.hosts) == 0 && len(r.suffixes) == 0 && len(r.nets) == 0)
}

// Allowed reports whether host (an IP literal or a name) may be dialed.
func (r *Ruleset) Allowed(host string) bool {
	if r.Empty() {
		return true
	}

	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if ip := net.ParseIP(host); ip != nil {
		if _, ok := r.hosts[ip.String()]; ok {
			return true
		}
		for _, n := range r.nets {
			if n.Contains(ip) {
				return true
			}
		}
		return false
	}

	if _, ok := r.hosts[host]; ok {
		return true
	}
	for _, s := range r.suffixes {
		if strings.HasSuffix(host, s) {
			return true
		}
	}
	return false
}
