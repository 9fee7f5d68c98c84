package source

import "strings"

// CompareKeys orders two ordering keys. Keys that are decimal integers (tweet
// ids, sequence numbers) compare numerically; everything else (RFC 3339
// timestamps, opaque tokens) compares lexically. An empty key sorts before
// any non-empty key.
func CompareKeys(a, b string) int {
	if a == b {
		return 0
	}
	if a == "" {
		return -1
	}
	if b == "" {
		return 1
	}

	if isDecimal(a) && isDecimal(b) {
		ta, tb := strings.TrimLeft(a, "0"), strings.TrimLeft(b, "0")
		if len(ta) != len(tb) {
			if len(ta) < len(tb) {
				return -1
			}
			return 1
		}
		return strings.Compare(ta, tb)
	}

	return strings.Compare(a, b)
}

// MaxKey returns the greater of the two ordering keys.
func MaxKey(a, b string) string {
	if CompareKeys(a, b) >= 0 {
		return a
	}
	return b
}

func isDecimal(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
