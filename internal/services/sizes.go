package services

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"look-marketplace/internal/models"
)

// letterSizes are the apparel size labels recognised at the end of a product name.
// Keys are upper-case without diacritics.
var letterSizes = map[string]bool{
	"PP": true, "P": true, "M": true, "G": true, "GG": true,
	"XG": true, "XGG": true, "EG": true, "EGG": true,
	"G1": true, "G2": true, "G3": true, "G4": true,
	"XS": true, "S": true, "L": true, "XL": true, "XXL": true, "XXXL": true,
	"U": true, "UN": true, "UNICO": true, "TU": true,
}

// stripDiacritics removes combining marks ("Único" -> "Unico")
func stripDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// normalizeName folds case and diacritics and collapses whitespace
func normalizeName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(stripDiacritics(s))), " ")
}

func sizeKey(label string) string {
	return strings.ToUpper(stripDiacritics(strings.TrimSpace(label)))
}

func isSizePrefix(word string) bool {
	switch strings.TrimRight(strings.ToLower(word), ".:") {
	case "tam", "tamanho", "size":
		return true
	}
	return false
}

// isSizeToken reports whether tok is a size label. A single digit is only
// accepted when the caller saw an unambiguous separator, so "Calça 3/4" keeps
// its name.
func isSizeToken(tok string, allowSingleDigit bool) bool {
	if tok == "" || strings.ContainsAny(tok, " \t") {
		return false
	}
	key := sizeKey(tok)
	if letterSizes[key] {
		return true
	}
	if _, err := strconv.Atoi(key); err == nil {
		switch len(key) {
		case 1:
			return allowSingleDigit
		case 2:
			return true
		}
	}
	return false
}

// isSizeRange reports whether the text before a '/' ends in a size, as in
// "Calça 38/40" or "Body P/M", where the slash joins a range.
func isSizeRange(before string) bool {
	if strings.HasSuffix(before, " ") {
		return false
	}
	fields := strings.Fields(before)
	if len(fields) < 2 {
		return false
	}
	return isSizeToken(fields[len(fields)-1], true)
}

// trimSizePrefix turns "Tam. P" into "P"
func trimSizePrefix(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 2 && isSizePrefix(fields[0]) {
		return fields[1]
	}
	return s
}

// splitSizeSuffix separates a trailing size token from a display name:
// "Vestido Azul - P" -> ("Vestido Azul", "P"), "Blusa/GG" -> ("Blusa", "GG"),
// "Saia Tam. M" -> ("Saia", "M"). Size ranges such as "Calça 38/40" stay in
// the name. Names without a recognised suffix come back
// unchanged with an empty size.
func splitSizeSuffix(name string) (string, string) {
	s := strings.TrimSpace(name)
	if s == "" {
		return "", ""
	}

	if i := strings.LastIndexAny(s, "-/|–—"); i >= 0 {
		sep := []rune(s[i:])[0]
		suffix := trimSizePrefix(strings.TrimSpace(s[i+len(string(sep)):]))
		if isSizeToken(suffix, sep != '/') && !(sep == '/' && isSizeRange(s[:i])) {
			base := strings.TrimRight(strings.TrimSpace(s[:i]), " -/|–—")
			return strings.TrimSpace(base), strings.ToUpper(suffix)
		}
	}

	fields := strings.Fields(s)
	if n := len(fields); n >= 3 && isSizePrefix(fields[n-2]) && isSizeToken(fields[n-1], true) {
		return strings.Join(fields[:n-2], " "), strings.ToUpper(fields[n-1])
	}
	return s, ""
}

// coerceDecimal reads loosely formatted numbers ("R$ 1.059,90", "3,5", "12")
// and falls back to zero.
func coerceDecimal(raw string) decimal.Decimal {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		if unicode.IsDigit(r) || r == ',' || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}
	s := b.String()
	if s == "" {
		return decimal.Zero
	}

	if i := strings.LastIndex(s, ","); i >= 0 {
		intPart := strings.NewReplacer(".", "", ",", "").Replace(s[:i])
		s = intPart + "." + strings.ReplaceAll(s[i+1:], ".", "")
	} else if strings.Count(s, ".") > 1 {
		s = strings.ReplaceAll(s, ".", "")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// coerceStock truncates to whole units and clamps negatives to zero
func coerceStock(raw string) int {
	n := int(coerceDecimal(raw).IntPart())
	if n < 0 {
		return 0
	}
	return n
}

// ResolveSizeEntries derives the size/stock pairs of a commit item from, in
// order of preference, size_entries, the parallel sizes/size_stocks arrays or
// the delimited size string. The total is the sum of the resolved stocks, or
// the flat stock when no size resolved.
func ResolveSizeEntries(item models.CommitItem) ([]models.SizeEntry, int) {
	var entries []models.SizeEntry
	index := make(map[string]int)
	add := func(label string, stock int) {
		label = strings.TrimSpace(label)
		if label == "" {
			return
		}
		if stock < 0 {
			stock = 0
		}
		key := sizeKey(label)
		if i, ok := index[key]; ok {
			entries[i].Stock += stock
			return
		}
		index[key] = len(entries)
		entries = append(entries, models.SizeEntry{Size: label, Stock: stock})
	}
	aligned := func(labels []string) {
		for i, label := range labels {
			stock := 0
			if i < len(item.SizeStocks) {
				stock = item.SizeStocks[i]
			}
			add(label, stock)
		}
	}

	switch {
	case len(item.SizeEntries) > 0:
		for _, e := range item.SizeEntries {
			add(e.Size, e.Stock)
		}
	case len(item.Sizes) > 0:
		aligned(item.Sizes)
	case strings.TrimSpace(item.Size) != "":
		aligned(models.SplitSizes(item.Size))
	}

	if len(entries) == 0 {
		if item.Stock != nil && *item.Stock > 0 {
			return nil, *item.Stock
		}
		return nil, 0
	}

	total := 0
	for _, e := range entries {
		total += e.Stock
	}
	return entries, total
}
