package dialer

import "strings"

// NormalizeE164 converts a US-formatted or already-international number to E.164.
// Ten-digit numbers are assumed to be North American.
func NormalizeE164(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}

	// drop extensions such as "x204" or "ext. 12"
	if i := strings.IndexAny(strings.ToLower(raw), "x#"); i > 0 {
		raw = raw[:i]
	}

	international := strings.HasPrefix(raw, "+")
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()

	switch {
	case international && len(d) >= 8 && len(d) <= 15:
		return "+" + d, true
	case len(d) == 10 && d[0] >= '2':
		return "+1" + d, true
	case len(d) == 11 && d[0] == '1' && d[1] >= '2':
		return "+" + d, true
	}
	return "", false
}
