package xid

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// SaleNumber returns a display-form sale number like "#4821", matching the
// numbers printed on receipts and shared over WhatsApp. Uniqueness is
// best-effort; callers retry on collision.
func SaleNumber() string {
	n, err := rand.Int(rand.Reader, big.NewInt(9000))
	if err != nil {
		return fmt.Sprintf("#%d", 1000+time.Now().UnixNano()%9000)
	}
	return fmt.Sprintf("#%d", 1000+n.Int64())
}
