package packages

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultCDNPattern resolves npm specifiers through jsDelivr's ESM build.
const DefaultCDNPattern = "https://cdn.jsdelivr.net/npm/%s/+esm"

// GitHubCDNPattern resolves "owner/repo@ref/file" specifiers through jsDelivr.
const GitHubCDNPattern = "https://cdn.jsdelivr.net/gh/%s"

// ImportMap maps specifiers (or specifier prefixes ending in "/") to URIs.
type ImportMap map[string]string

// ResolveURI implements URIResolver. Exact entries win over the longest
// matching prefix entry.
func (m ImportMap) ResolveURI(specifier string) (string, bool) {
	if target, ok := m[specifier]; ok {
		return target, true
	}
	prefixes := make([]string, 0, len(m))
	for key := range m {
		if strings.HasSuffix(key, "/") && strings.HasPrefix(specifier, key) {
			prefixes = append(prefixes, key)
		}
	}
	if len(prefixes) == 0 {
		return "", false
	}
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })
	return m[prefixes[0]] + strings.TrimPrefix(specifier, prefixes[0]), true
}

// CDN maps every specifier onto a URL pattern with a single %s verb.
type CDN struct {
	Pattern string
}

// DefaultCDN returns the jsDelivr npm resolver.
func DefaultCDN() CDN {
	return CDN{Pattern: DefaultCDNPattern}
}

// ResolveURI implements URIResolver.
func (c CDN) ResolveURI(specifier string) (string, bool) {
	if specifier == "" {
		return "", false
	}
	pattern := c.Pattern
	if pattern == "" {
		pattern = DefaultCDNPattern
	}
	return fmt.Sprintf(pattern, specifier), true
}

// URIChain tries each URI resolver in order.
type URIChain []URIResolver

// ResolveURI implements URIResolver.
func (c URIChain) ResolveURI(specifier string) (string, bool) {
	for _, resolver := range c {
		if resolver == nil {
			continue
		}
		if uri, ok := resolver.ResolveURI(specifier); ok {
			return uri, true
		}
	}
	return "", false
}
