package utils

import (
	"crypto/md5"
	"fmt"
	"strings"
)

func HashString(input string) string {
	hash := md5.Sum([]byte(input))
	return fmt.Sprintf("%x", hash)
}

// CacheKey builds "<namespace>:<md5 of the normalised parts>".
func CacheKey(namespace string, parts ...string) string {
	normalised := make([]string, len(parts))
	for i, p := range parts {
		normalised[i] = strings.ToLower(strings.TrimSpace(p))
	}
	return namespace + ":" + HashString(strings.Join(normalised, "|"))
}
