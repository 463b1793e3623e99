package paths

import (
	"path/filepath"
	"regexp"
	"strings"

	"go-booru-download/internal/models"
)

// UntaggedDirectory is used when no include tag survives sanitisation.
const UntaggedDirectory = "untagged"

// Characters that are not safe in a directory name on every platform
var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeTag strips every character outside [A-Za-z0-9._-] from tag.
func SanitizeTag(tag string) string {
	return unsafeChars.ReplaceAllString(tag, "")
}

// TagDirectory returns the directory name for a set of include tags:
// sanitised tags joined with "_".
func TagDirectory(include []string) string {
	parts := make([]string, 0, len(include))
	for _, tag := range include {
		if clean := SanitizeTag(tag); clean != "" {
			parts = append(parts, clean)
		}
	}
	if len(parts) == 0 {
		return UntaggedDirectory
	}

	dir := strings.Join(parts, "_")
	if strings.Trim(dir, ".") == "" {
		// "." and ".." would escape the base directory
		dir = "_" + dir
	}
	return dir
}

// Destination returns <base>/<tag directory> for q.
func Destination(base string, q models.TagQuery) string {
	return filepath.Join(base, TagDirectory(q.Include))
}
