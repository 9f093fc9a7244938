package redemption

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Codes are four hyphen-separated groups of four uppercase hex digits,
// e.g. AB12-CD34-EF56-0789.
var codePattern = regexp.MustCompile(`^[0-9A-F]{4}-[0-9A-F]{4}-[0-9A-F]{4}-[0-9A-F]{4}$`)

// NormalizeCode trims and upper-cases user input. Lower-case hex is accepted.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func ValidCode(code string) bool {
	return codePattern.MatchString(code)
}

// newCode hashes 16 secure random bytes together with the hour bucket of now
// and formats the first 8 bytes of the digest.
func newCode(now time.Time) (string, error) {
	var seed [24]byte
	if _, err := rand.Read(seed[:16]); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	binary.BigEndian.PutUint64(seed[16:], uint64(now.Unix()/3600))
	sum := sha256.Sum256(seed[:])

	raw := strings.ToUpper(hex.EncodeToString(sum[:8]))
	return fmt.Sprintf("%s-%s-%s-%s", raw[0:4], raw[4:8], raw[8:12], raw[12:16]), nil
}
