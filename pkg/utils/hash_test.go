package utils

import (
	"strings"
	"testing"
)

func TestCacheKeyNormalisesParts(t *testing.T) {
	a := CacheKey("geo:county", "Monroe County", "NY")
	b := CacheKey("geo:county", "  monroe county ", "ny")
	if a != b {
		t.Fatalf("keys differ: %s vs %s", a, b)
	}
	if !strings.HasPrefix(a, "geo:county:") {
		t.Fatalf("missing namespace: %s", a)
	}
	if CacheKey("geo:county", "Erie County", "NY") == a {
		t.Fatal("different inputs produced the same key")
	}
}
