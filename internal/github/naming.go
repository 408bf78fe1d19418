package github

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"

	"github.com/clintrovert/gitpulse/pkg/types"
)

// mirrorDirName derives a stable, filesystem-safe directory name for a
// repository's local mirror.
func mirrorDirName(repo *types.Repository) string {
	name := repo.FullName
	if name == "" {
		name = repo.Name
	}
	sum := sha1.Sum([]byte(repo.URL))
	return truncateString(sanitizePathSegment(name), 40) + "-" + hex.EncodeToString(sum[:4])
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

func sanitizePathSegment(s string) string {
	var result strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.' {
			result.WriteRune(r)
		} else if r == ' ' || r == '/' {
			result.WriteRune('-')
		}
	}
	out := strings.Trim(result.String(), ".-")
	if out == "" {
		return "repo"
	}
	return out
}
