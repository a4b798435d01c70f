package identify

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const labelPrefix = "id_"

// removeDiacritics removes diacritical marks from a string (e.g., "Jiří" -> "Jiri").
func removeDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// NormalizeIdentity converts a person's name into the storage label used
// in the label list and as a dataset folder name: diacritics stripped,
// lowercased, word separators collapsed to underscores, "id_" prefix.
func NormalizeIdentity(name string) string {
	name = removeDiacritics(name)
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, "-", " ")
	name = strings.Join(strings.Fields(name), "_")
	return labelPrefix + name
}

// DisplayLabel converts a storage label back into its display form:
// "id_jan_novak" -> "jan novak".
func DisplayLabel(label string) string {
	label = strings.TrimPrefix(label, labelPrefix)
	return strings.ReplaceAll(label, "_", " ")
}
