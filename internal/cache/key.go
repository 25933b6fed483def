package cache

import "strings"

// keyReplacer rewrites "/", "=", ",", "?" to "." ("." already is one).
// Distinct URLs that normalize to the same text share one slot.
var keyReplacer = strings.NewReplacer(
	"/", ".",
	"=", ".",
	",", ".",
	"?", ".",
)

// Mapper turns request URLs into cache keys.
type Mapper struct {
	Prefix string
	Suffix string
}

// NewMapper returns a Mapper with the given file name prefix and suffix.
func NewMapper(prefix, suffix string) Mapper {
	return Mapper{Prefix: prefix, Suffix: suffix}
}

// MapURL derives the cache key for url, e.g. "/items?id=1" becomes
// "cache.items.id.1.json" with the default prefix and suffix.
func (m Mapper) MapURL(url string) string {
	return m.Prefix + keyReplacer.Replace(url) + m.Suffix
}
