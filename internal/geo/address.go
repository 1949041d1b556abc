package geo

import (
	"regexp"
	"strings"
)

var stateZipRe = regexp.MustCompile(`^([A-Z]{2})\s+(\d{5})`)

type Address struct {
	Street string
	City   string
	State  string
	Zip    string
}

// ParseAddress splits a formatted place address such as
// "1 Main St, Rochester, NY 14604, USA" into its parts. A trailing country segment is dropped,
// the segment before the state/zip segment is the city and everything ahead of it the street.
// Parts that cannot be found are left empty.
func ParseAddress(formatted string) Address {
	var parts []string
	for _, p := range strings.Split(formatted, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if n := len(parts); n > 0 && isCountry(parts[n-1]) {
		parts = parts[:n-1]
	}

	var a Address
	n := len(parts)
	if n == 0 {
		return a
	}

	m := stateZipRe.FindStringSubmatch(parts[n-1])
	if m != nil {
		a.State, a.Zip = m[1], m[2]
		parts = parts[:n-1]
		n--
	}

	switch {
	case n >= 2:
		a.City = parts[n-1]
		a.Street = strings.Join(parts[:n-1], ", ")
	case n == 1 && m != nil:
		a.City = parts[0]
	case n == 1:
		a.Street = parts[0]
	}
	return a
}

func isCountry(s string) bool {
	switch strings.ToUpper(s) {
	case "USA", "US", "UNITED STATES", "UNITED STATES OF AMERICA":
		return true
	}
	return false
}
