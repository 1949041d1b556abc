package discovery

import "fmt"

// Cursor walks an ordered prefix list in fixed-size windows.
type Cursor struct {
	Prefixes  []string
	BatchSize int
}

// Window returns the batch starting at index and the index the next run starts from.
// The last batch of a pass is truncated at the end of the list and the next index resets to 0,
// so one full pass takes ceil(N/BatchSize) runs and every prefix is visited once per pass.
// Out-of-range indices are reduced modulo the list length.
func (c Cursor) Window(index int) (batch []string, next int) {
	n := len(c.Prefixes)
	if n == 0 {
		return nil, 0
	}
	size := c.BatchSize
	if size <= 0 {
		size = 1
	}

	i := index % n
	if i < 0 {
		i += n
	}
	end := i + size
	if end >= n {
		end, next = n, 0
	} else {
		next = end
	}

	batch = make([]string, end-i)
	copy(batch, c.Prefixes[i:end])
	return batch, next
}

// Category picks the business category for the run numbered runCount.
func Category(categories []string, runCount int) string {
	if len(categories) == 0 {
		return ""
	}
	i := runCount % len(categories)
	if i < 0 {
		i += len(categories)
	}
	return categories[i]
}

// SampleZips expands a 3-digit prefix into its first count ZIPs: prefix+"01", prefix+"02", ...
func SampleZips(prefix string, count int) []string {
	if count > 99 {
		count = 99
	}
	zips := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		zips = append(zips, fmt.Sprintf("%s%02d", prefix, i))
	}
	return zips
}

// MergeZips puts priority ZIPs ahead of the rotation ZIPs, dropping duplicates.
func MergeZips(priority, rotation []string) []string {
	seen := make(map[string]bool, len(priority)+len(rotation))
	out := make([]string, 0, len(priority)+len(rotation))
	for _, list := range [][]string{priority, rotation} {
		for _, z := range list {
			if z == "" || seen[z] {
				continue
			}
			seen[z] = true
			out = append(out, z)
		}
	}
	return out
}
