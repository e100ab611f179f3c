package session

import (
	"net/url"
	"strings"
)

// CredentialCookie holds the API session token on the API origin.
const CredentialCookie = "sid"

var recognizedSuffixes = []string{
	".lightning.force.com",
	".my.salesforce.com",
	".salesforce.com",
	".force.com",
	".visualforce.com",
	".salesforce-setup.com",
}

// RecognizedHost reports whether host belongs to the application domain.
func RecognizedHost(host string) bool {
	host = strings.ToLower(host)
	for _, suffix := range recognizedSuffixes {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}

// APIOrigin maps a tab URL onto the origin serving the REST API, or
// reports false when the URL is not an application page.
func APIOrigin(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	if !RecognizedHost(host) {
		return "", false
	}

	switch {
	case strings.HasSuffix(host, ".lightning.force.com"):
		host = strings.TrimSuffix(host, ".lightning.force.com") + ".my.salesforce.com"
	case strings.HasSuffix(host, ".my.salesforce-setup.com"):
		host = strings.TrimSuffix(host, ".my.salesforce-setup.com") + ".my.salesforce.com"
	}
	return "https://" + host, true
}
