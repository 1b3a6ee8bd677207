package util

import (
	"golang.org/x/text/unicode/norm"
)

// Normalize applies NFKD so visually equivalent identifiers compare equal
// regardless of how the client composed them.
func Normalize(s string) string {
	return norm.NFKD.String(s)
}
