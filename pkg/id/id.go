// Package id generates time-sortable identifiers for orders, trades and
// sessions.
package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	OrderPrefix   = "ord"
	TradePrefix   = "trd"
	SessionPrefix = "ses"
)

var (
	mu   sync.Mutex
	mono io.Reader
)

func init() {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	// Monotonic keeps ids from the same millisecond in order.
	mono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// New returns a ULID string.
func New() string {
	mu.Lock()
	defer mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(time.Now().UTC()), mono)
	if err != nil {
		panic(err)
	}
	return id.String()
}

// Order returns an order id. It is short enough to double as an exchange
// client order id (Bybit allows 36 characters).
func Order() string { return OrderPrefix + "-" + New() }

// Trade returns a trade id.
func Trade() string { return TradePrefix + "-" + New() }

// Session returns a trading session id.
func Session() string { return SessionPrefix + "-" + New() }

// Time extracts the creation time from an id made by this package.
func Time(s string) (time.Time, error) {
	if len(s) > ulid.EncodedSize {
		s = s[len(s)-ulid.EncodedSize:]
	}
	u, err := ulid.ParseStrict(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(u.Time()), nil
}
