package processing

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// AggregatedSuffix ends the territory id of gazettes published by an
// association of municipalities. For example, cities of Goiás have ids
// starting with "52" and their association publishes as "5200000".
const AggregatedSuffix = "00000"

var (
	whitespace = regexp.MustCompile(`\s+`)
	nonSlug    = regexp.MustCompile(`[^a-z0-9]+`)
)

// CleanWhitespace squeezes every run of whitespace into a single space.
func CleanWhitespace(input string) string {
	return whitespace.ReplaceAllString(input, " ")
}

// FixUnicode repairs UTF-8 text that was decoded as Windows-1252 somewhere
// upstream ("Ã©" instead of "é") and composes decomposed sequences, so that
// identical words extracted from different files compare equal. Repair works
// on runs of non-ASCII characters, so correctly encoded accents in the same
// document are left alone.
func FixUnicode(input string) string {
	if strings.ContainsAny(input, "ÃÂâ") {
		input = repairMojibake(input)
	}
	return norm.NFC.String(input)
}

func repairMojibake(input string) string {
	rs := []rune(input)
	var b strings.Builder
	b.Grow(len(input))

	raw := make([]byte, 0, 16)
	for i := 0; i < len(rs); {
		raw = raw[:0]
		j := i
		for ; j < len(rs) && rs[j] >= utf8.RuneSelf; j++ {
			c, ok := charmap.Windows1252.EncodeRune(rs[j])
			if !ok {
				break
			}
			raw = append(raw, c)
		}
		if j == i {
			b.WriteRune(rs[i])
			i++
			continue
		}
		writeRepaired(&b, raw, rs[i:j])
		i = j
	}
	return b.String()
}

// writeRepaired writes every valid multi-byte UTF-8 sequence of raw as the
// rune it encodes and the remaining positions as the runes of orig. raw holds
// one byte per rune of orig.
func writeRepaired(b *strings.Builder, raw []byte, orig []rune) {
	for k := 0; k < len(raw); {
		r, size := utf8.DecodeRune(raw[k:])
		if r != utf8.RuneError && size > 1 {
			b.WriteRune(r)
			k += size
			continue
		}
		b.WriteRune(orig[k])
		k++
	}
}

// Checksum returns the hex MD5 of text.
func Checksum(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

// ExcerptID builds the deterministic id of an excerpt taken from the document
// identified by checksum. Re-extracting the same fragment always yields the
// same id, so re-indexing overwrites instead of duplicating.
func ExcerptID(checksum, fragment string) string {
	return checksum + "_" + Checksum(fragment)
}

// IsAggregated reports whether a territory id belongs to an association of
// municipalities.
func IsAggregated(territoryID string) bool {
	id := strings.TrimSpace(territoryID)
	if len(id) < len(AggregatedSuffix) {
		return false
	}
	return id[len(id)-len(AggregatedSuffix):] == AggregatedSuffix
}

// Slugify lowercases, strips accents and joins words with hyphens.
func Slugify(input string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, input)
	if err != nil {
		folded = input
	}
	slug := nonSlug.ReplaceAllString(strings.ToLower(folded), "-")
	return strings.Trim(slug, "-")
}

// TerritorySlug is the registry key of a territory.
func TerritorySlug(name, stateCode string) string {
	return Slugify(stateCode + " " + name)
}
