package pack

import (
	"net/url"
	"strings"

	"github.com/weppos/publicsuffix-go/publicsuffix"
)

// LandingDomain reduces an ad's destination link to its registrable domain.
// e.g., "https://shop.example.co.uk/p?id=1" -> "example.co.uk", true
func LandingDomain(link string) (string, bool) {
	link = strings.TrimSpace(link)
	if link == "" {
		return "", false
	}

	// url.Parse won't find a host without a scheme.
	if !strings.Contains(link, "://") {
		link = "https://" + link
	}

	u, err := url.Parse(link)
	if err != nil || u.Hostname() == "" {
		return "", false
	}
	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))

	if !strings.Contains(host, ".") {
		return "", false
	}

	domain, err := publicsuffix.Domain(host)
	if err != nil {
		// IPs and unknown suffixes still count as distinct destinations.
		return host, true
	}
	return domain, true
}
