package shared

import (
	"regexp"
	"strings"
)

const maxFilenameLength = 120

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// SanitizeFilename maps arbitrary text to a safe, length-bounded
// filename ending in .pdf. Empty or fully-stripped input falls back
// to "document.pdf".
func SanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimSuffix(name, ".pdf")
	name = unsafeFilenameChars.ReplaceAllString(name, "-")
	name = strings.Trim(name, "-.")

	if len(name) > maxFilenameLength {
		name = name[:maxFilenameLength]
		name = strings.Trim(name, "-.")
	}
	if name == "" {
		name = "document"
	}
	return name + ".pdf"
}
