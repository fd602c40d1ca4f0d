package users

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Fingerprint derives the stable identity hash for a participant from their
// display name, remote address, and user agent.
func Fingerprint(displayName, ipAddress, userAgent string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%s", displayName, ipAddress, userAgent)))
	return hex.EncodeToString(sum[:])
}
