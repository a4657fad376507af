package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"runtime"
	"strings"
)

// Compute возвращает SHA-256 хэш объединённых идентификаторов в виде hex.
func Compute(parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h[:])
}

// FromHost derives a stable device fingerprint from host identifiers.
// The same device always produces the same value; the backend only ever
// compares it for equality.
func FromHost() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return Compute(hostname, runtime.GOOS, runtime.GOARCH)
}

// Verify reports whether the given identifiers hash to the fingerprint.
func Verify(fp string, parts ...string) bool {
	return Compute(parts...) == fp
}
