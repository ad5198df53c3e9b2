package buffer

import "unicode/utf8"

// Head returns the first n characters of s. Cuts on rune boundaries so a
// preview never ends inside a multi-byte sequence.
func Head(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// CharCount returns the number of characters in s.
func CharCount(s string) int {
	return utf8.RuneCountInString(s)
}
