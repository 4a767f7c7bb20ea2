package utils

import (
	"encoding/base32"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CreateFolder creates every given folder with its parents.
func CreateFolder(folderPath ...string) error {
	for _, folder := range folderPath {
		if folder == "" {
			continue
		}
		if err := os.MkdirAll(folder, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", folder, err)
		}
	}
	return nil
}

// SafePathSegment makes a user supplied id usable as a single directory name.
func SafePathSegment(s string) string {
	s = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			return r
		}
		return '_'
	}, strings.TrimSpace(s))
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}

// keySegment lowercases the base32hex alphabet, so distinct ids stay distinct
// even on case-insensitive filesystems.
var keySegment = base32.HexEncoding.WithPadding(base32.NoPadding)

// EncodePathSegment maps an arbitrary id to a directory name. Unlike
// SafePathSegment it is injective.
func EncodePathSegment(s string) string {
	if s == "" {
		return "_"
	}
	return strings.ToLower(keySegment.EncodeToString([]byte(s)))
}

// SessionArtifactsPath is the directory holding the automation state of one
// (user, label) session.
func SessionArtifactsPath(baseDir, userID, label string) string {
	return filepath.Join(baseDir, "sessions", EncodePathSegment(userID), EncodePathSegment(label))
}

// SessionMediaPath is where outbound media copies of a session are stored.
func SessionMediaPath(sendItemsDir, sessionID string) string {
	path := filepath.Join(sendItemsDir, SafePathSegment(sessionID))
	_ = os.MkdirAll(path, 0755)
	return path
}
