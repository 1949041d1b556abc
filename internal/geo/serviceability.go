// Package geo holds the fixed geographic tables the pipeline runs on: the serviceable ZIP prefix
// footprint, the prefix-to-timezone bands and US formatted-address parsing.
package geo

import "strings"

// servicePrefixes is the carrier footprint in sweep order. IsServiceable and the discovery sweep
// both read this list so they can never disagree.
var servicePrefixes = []string{
	// New York
	"120", "121", "122", "123", "124", "125", "128", "129", "130", "131", "132", "133", "134", "135",
	"136", "137", "138", "139", "140", "141", "142", "143", "144", "145", "146", "147", "148", "149",
	// Ohio
	"430", "431", "432", "433", "436", "437", "438", "440", "441", "442", "443", "450", "451", "452", "453", "454", "458",
	// Kentucky
	"400", "401", "402", "403", "404", "405", "410",
	// North and South Carolina
	"270", "271", "272", "273", "274", "275", "276", "277", "278", "280", "281", "282", "283", "286",
	"290", "291", "292", "293", "294", "295", "296",
	// Wisconsin
	"530", "531", "532", "534", "535", "537", "539", "541", "543", "544", "549",
	// Missouri
	"630", "631", "633", "640", "641", "648",
	// Texas
	"750", "751", "752", "760", "761", "765", "766", "767", "770", "773", "774", "775", "777", "786", "787", "789",
	// Florida
	"327", "328", "329", "335", "336", "337", "338", "346",
	// California
	"900", "902", "903", "904", "905", "906", "907", "908", "910", "911", "912", "913", "914", "915", "917", "918",
	"920", "922", "923", "924", "925", "926", "927", "928",
}

var serviceable = func() map[string]struct{} {
	m := make(map[string]struct{}, len(servicePrefixes))
	for _, p := range servicePrefixes {
		m[p] = struct{}{}
	}
	return m
}()

// IsServiceable reports whether a 5-digit ZIP falls inside the service footprint.
func IsServiceable(zip string) bool {
	if !isZip5(zip) {
		return false
	}
	_, ok := serviceable[zip[:3]]
	return ok
}

// ServiceablePrefixes returns a copy of the footprint in sweep order.
func ServiceablePrefixes() []string {
	out := make([]string, len(servicePrefixes))
	copy(out, servicePrefixes)
	return out
}

// FilterServiceable keeps the serviceable ZIPs of zips, trimmed and deduplicated, in input order.
func FilterServiceable(zips []string) []string {
	seen := make(map[string]bool, len(zips))
	var out []string
	for _, z := range zips {
		z = strings.TrimSpace(z)
		if seen[z] || !IsServiceable(z) {
			continue
		}
		seen[z] = true
		out = append(out, z)
	}
	return out
}

func isZip5(s string) bool {
	if len(s) != 5 {
		return false
	}
	for i := 0; i < 5; i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
