package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateOrderNumber returns ORD-YYYYMMDD-HHMMSS-<store prefix>-<4 digits>.
// The store prefix is the first 8 hex characters of the store id, so numbers
// minted in the same second for different stores never collide.
func GenerateOrderNumber(storeID uuid.UUID, now time.Time) string {
	now = now.UTC()

	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		n = big.NewInt(now.UnixNano() % 10000)
	}

	prefix := strings.ToUpper(strings.ReplaceAll(storeID.String(), "-", "")[:8])

	return fmt.Sprintf(
		"ORD-%s-%s-%04d",
		now.Format("20060102-150405"),
		prefix,
		n.Int64(),
	)
}
