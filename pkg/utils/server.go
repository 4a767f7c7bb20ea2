package utils

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
)

const serverIDPrefix = "azcrm-"

// GetPersistentServerID returns a stable node id used to tag relayed hub
// events. Order: explicit override, <storage>/.server_id, hostname, random
// (persisted for the next boot).
func GetPersistentServerID(override, storagePath string) string {
	if override = strings.TrimSpace(override); override != "" {
		return override
	}

	idFile := filepath.Join(storagePath, ".server_id")
	if data, err := os.ReadFile(idFile); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id
		}
	}

	if host, err := os.Hostname(); err == nil && host != "localhost" {
		if clean := strings.Trim(SafePathSegment(host), "_"); clean != "" {
			return serverIDPrefix + clean
		}
	}

	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	id := serverIDPrefix + hex.EncodeToString(buf)

	_ = os.MkdirAll(storagePath, 0755)
	_ = os.WriteFile(idFile, []byte(id), 0644)
	return id
}
