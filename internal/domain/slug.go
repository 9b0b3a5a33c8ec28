package domain

import "strings"

// maxSlugLen is the longest slug Slugify will ever return.
const maxSlugLen = 63

// Slugify canonicalizes an arbitrary name into the [a-z0-9-]{1,63} form used
// for branch names, container names and env-var tokens: lowercase, any run
// of characters outside [a-z0-9] collapsed to a single '-', and leading or
// trailing '-' trimmed. An input with no alphanumeric characters slugifies
// to the empty string.
func Slugify(name string) string {
	lower := strings.ToLower(name)

	var b strings.Builder
	lastDash := false
	for _, r := range lower {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash && b.Len() > 0 {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}

	slug := strings.TrimRight(b.String(), "-")
	if len(slug) > maxSlugLen {
		slug = strings.TrimRight(slug[:maxSlugLen], "-")
	}

	return slug
}

// EnvToken upper-cases a slug and swaps '-' for '_', producing the suffix
// used in LITTERBOX_FWD_PORT_<TOKEN> environment variable names.
func EnvToken(slug string) string {
	return strings.ToUpper(strings.ReplaceAll(slug, "-", "_"))
}
