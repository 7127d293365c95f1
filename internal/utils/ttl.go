package utils

import (
	"regexp"
	"strconv"
)

// DefaultTTLSeconds is what ParseTTL returns for input it cannot parse.
// The fallback hides operator mistakes, so startup logs every fallback and
// STRICT_TTL turns it into a hard failure.
const DefaultTTLSeconds = 3600

var ttlPattern = regexp.MustCompile(`^(\d+)([smhd])$`)

var unitSeconds = map[string]int{"s": 1, "m": 60, "h": 3600, "d": 86400}

// ParseTTL converts "<integer><unit>" (unit one of s, m, h, d) into
// seconds.  ok is false when the fallback was used.
func ParseTTL(s string) (seconds int, ok bool) {
	m := ttlPattern.FindStringSubmatch(s)
	if m == nil {
		return DefaultTTLSeconds, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n > (1<<31)/unitSeconds[m[2]] {
		return DefaultTTLSeconds, false
	}
	return n * unitSeconds[m[2]], true
}
