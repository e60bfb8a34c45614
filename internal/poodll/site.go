package poodll

import (
	"net/url"
	"strings"
)

// hostOf lower-cases and trims raw, adds https:// when it carries no
// http(s) scheme, and returns the parsed host without port. ok is false
// when raw does not parse or names no host.
func hostOf(raw string) (string, bool) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if !strings.HasPrefix(raw, "https://") && !strings.HasPrefix(raw, "http://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}

	host := u.Hostname()

	return host, host != ""
}

// IsSiteRegistered reports whether current (a host or site URL) matches
// one of the registered sites. A registered entry matches on an exact
// host or, when wildcardOK is set, on "*." plus current's host minus its
// first label. Entries that do not parse or carry no host are skipped.
func IsSiteRegistered(sites []string, current string, wildcardOK bool) bool {
	host, ok := hostOf(current)
	if !ok {
		return false
	}

	labels := strings.Split(host, ".")
	labels[0] = "*"
	wildcard := strings.Join(labels, ".")

	for _, site := range sites {
		registered, ok := hostOf(site)
		if !ok {
			continue
		}

		if registered == host {
			return true
		}

		if wildcardOK && registered == wildcard {
			return true
		}
	}

	return false
}
