package service

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// OrderNumberGenerator issues order numbers of the form
// yyyymmddHHMMSS + 6-digit per-process sequence + 6-char node suffix.
// The node suffix separates processes; the unique index on order_number
// turns any remaining collision into a retryable error.
type OrderNumberGenerator struct {
	seq  atomic.Uint64
	node string
}

func NewOrderNumberGenerator() *OrderNumberGenerator {
	node := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return &OrderNumberGenerator{node: node}
}

// Next returns the next order number for an order created at now
func (g *OrderNumberGenerator) Next(now time.Time) string {
	n := g.seq.Add(1) % 1000000
	return fmt.Sprintf("%s%06d%s", now.UTC().Format("20060102150405"), n, g.node)
}
