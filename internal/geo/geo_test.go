package geo

import (
	"testing"
	"time"
)

func TestIsServiceable(t *testing.T) {
	tests := []struct {
		zip  string
		want bool
	}{
		{"14604", true},
		{"43215", true},
		{"90210", true},
		{"10001", false},
		{"59901", false},
		{"1460", false},
		{"146045", false},
		{"14a04", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsServiceable(tt.zip); got != tt.want {
			t.Errorf("IsServiceable(%q) = %v, want %v", tt.zip, got, tt.want)
		}
	}
}

func TestServiceablePrefixesMatchIsServiceable(t *testing.T) {
	prefixes := ServiceablePrefixes()
	if len(prefixes) == 0 {
		t.Fatal("empty footprint")
	}
	seen := map[string]bool{}
	for _, p := range prefixes {
		if seen[p] {
			t.Errorf("duplicate prefix %s", p)
		}
		seen[p] = true
		if !IsServiceable(p + "01") {
			t.Errorf("prefix %s not serviceable", p)
		}
	}
	prefixes[0] = "000"
	if ServiceablePrefixes()[0] == "000" {
		t.Fatal("ServiceablePrefixes must return a copy")
	}
}

func TestFilterServiceable(t *testing.T) {
	got := FilterServiceable([]string{"14604", "10001", " 14604", "1460", "43215 "})
	if len(got) != 2 || got[0] != "14604" || got[1] != "43215" {
		t.Fatalf("FilterServiceable = %v", got)
	}
}

func TestTimezoneForZip(t *testing.T) {
	tests := []struct {
		zip  string
		want string
	}{
		{"90210", "America/Los_Angeles"},
		{"98101", "America/Los_Angeles"},
		{"89101", "America/Los_Angeles"},
		{"85001", "America/Phoenix"},
		{"80202", "America/Denver"},
		{"79901", "America/Denver"},
		{"75201", "America/Chicago"},
		{"60601", "America/Chicago"},
		{"37201", "America/Chicago"},
		{"37902", "America/New_York"},
		{"96813", "Pacific/Honolulu"},
		{"99501", "America/Anchorage"},
		{"14604", "America/New_York"},
		{"xx", "America/New_York"},
		{"abcde", "America/New_York"},
	}
	for _, tt := range tests {
		if got := TimezoneForZip(tt.zip); got != tt.want {
			t.Errorf("TimezoneForZip(%q) = %s, want %s", tt.zip, got, tt.want)
		}
	}
}

func TestWithinCallingHoursBoundaries(t *testing.T) {
	ny, _ := time.LoadLocation("America/New_York")
	at := func(h, m int) time.Time { return time.Date(2026, 3, 10, h, m, 0, 0, ny) }

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"7:59", at(7, 59), false},
		{"8:00", at(8, 0), true},
		{"21:59", at(21, 59), true},
		{"22:00", at(22, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WithinCallingHours("14604", tt.now, 8, 22); got != tt.want {
				t.Errorf("WithinCallingHours at %s = %v, want %v", tt.name, got, tt.want)
			}
		})
	}

	// 10:00 in New York is 07:00 in Los Angeles
	if WithinCallingHours("90210", at(10, 0), 8, 22) {
		t.Error("Los Angeles lead should be outside calling hours at 07:00 local")
	}
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in   string
		want Address
	}{
		{
			"1 Main St, Rochester, NY 14604, USA",
			Address{Street: "1 Main St", City: "Rochester", State: "NY", Zip: "14604"},
		},
		{
			"Suite 4, 200 E Broad St, Columbus, OH 43215",
			Address{Street: "Suite 4, 200 E Broad St", City: "Columbus", State: "OH", Zip: "43215"},
		},
		{
			"Rochester, NY 14604",
			Address{City: "Rochester", State: "NY", Zip: "14604"},
		},
		{
			"Somewhere Road, Nowhere",
			Address{Street: "Somewhere Road", City: "Nowhere"},
		},
		{"", Address{}},
	}
	for _, tt := range tests {
		if got := ParseAddress(tt.in); got != tt.want {
			t.Errorf("ParseAddress(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}
