package util

import (
	"strings"
	"unicode"
)

// NaturalSortLess orders strings so that embedded numbers compare by value:
// "page2.pdf" sorts before "page10.pdf". Letters compare case-insensitively;
// strings that only differ in case or leading zeros fall back to byte order so
// the result is a total order.
func NaturalSortLess(a, b string) bool {
	ra, rb := []rune(a), []rune(b)
	i, j := 0, 0
	for i < len(ra) && j < len(rb) {
		da, db := unicode.IsDigit(ra[i]), unicode.IsDigit(rb[j])
		switch {
		case da && db:
			ni, nj := digitsEnd(ra, i), digitsEnd(rb, j)
			if c := compareNumbers(string(ra[i:ni]), string(rb[j:nj])); c != 0 {
				return c < 0
			}
			i, j = ni, nj
		case da != db:
			// Numbers sort before text.
			return da
		default:
			la, lb := unicode.ToLower(ra[i]), unicode.ToLower(rb[j])
			if la != lb {
				return la < lb
			}
			i++
			j++
		}
	}
	if rem := (len(ra) - i) - (len(rb) - j); rem != 0 {
		return rem < 0
	}
	return a < b
}

func digitsEnd(r []rune, i int) int {
	for i < len(r) && unicode.IsDigit(r[i]) {
		i++
	}
	return i
}

// compareNumbers compares digit strings of any length by value.
func compareNumbers(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}
