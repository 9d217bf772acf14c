package queue

import (
	"crypto/rand"
	"fmt"
	"time"
)

const (
	idPrefix     = "offline_"
	idSuffixLen  = 9
	base36Digits = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// NewLocalID returns an ID of the form offline_<unix-ms>_<9 base36 chars>.
func NewLocalID(now time.Time) (string, error) {
	buf := make([]byte, idSuffixLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	for i, b := range buf {
		buf[i] = base36Digits[int(b)%len(base36Digits)]
	}
	return fmt.Sprintf("%s%d_%s", idPrefix, now.UnixMilli(), buf), nil
}
