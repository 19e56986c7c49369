package device

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/mileusna/useragent"
)

// Info describes the client a security-sensitive request arrived from.
// The fingerprint is derived from the IP and the parsed browser family,
// OS and device rather than the raw user-agent string, so it survives
// browser version bumps.
type Info struct {
	IPAddress string
	UserAgent string
}

func (i Info) Fingerprint() string {
	ua := useragent.Parse(i.UserAgent)

	parts := []string{
		strings.TrimSpace(i.IPAddress),
		ua.Name,
		ua.OS,
		ua.Device,
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:])
}
