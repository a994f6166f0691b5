package money

import (
	"time"

	"github.com/google/uuid"
)

// NewID returns a canonical hyphenated UUID, used for order and trade
// identifiers.
func NewID() string {
	return uuid.NewString()
}

// Clock abstracts the wall clock. No engine code takes a Clock: every
// timestamp comes from the package-level NowMillis, which always reads
// SystemClock, so a fake time source cannot be injected. Every timestamp
// in the engine is milliseconds since the Unix epoch, with no
// seconds-resolution exceptions.
type Clock interface {
	NowMillis() int64
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

func (SystemClock) NowMillis() int64 { return time.Now().UnixMilli() }

// NowMillis is a package-level convenience wrapping SystemClock, used by
// every caller in the engine.
func NowMillis() int64 { return SystemClock{}.NowMillis() }
