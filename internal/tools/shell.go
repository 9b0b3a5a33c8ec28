package tools

import (
	"path"
	"strings"
)

// shQuote wraps s in single quotes for safe use as one POSIX shell word,
// escaping embedded single quotes the standard way: close the quote, emit
// an escaped quote, reopen it.
func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// resolvePath roots a relative path at /src; an absolute path passes
// through unchanged.
func resolvePath(p string) string {
	if strings.HasPrefix(p, "/") {
		return p
	}
	return path.Join("/src", p)
}
