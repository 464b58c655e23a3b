// Package idx generates the ULIDs used for session handles and key record ids.
package idx

import (
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type ID string

// Zero is the empty ID. Only useful as a placeholder.
const Zero ID = ""

// ErrInvalid reports a malformed ULID string.
var ErrInvalid = errors.New("idx: invalid ulid")

var (
	globalOnce sync.Once
	global     *generator
)

// generator hands out monotonic ULIDs. MonotonicEntropy is not safe for
// concurrent use so every read goes through mu.
type generator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func (g *generator) newAt(t time.Time) (ID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	u, err := ulid.New(ulid.Timestamp(t), g.entropy)
	if err != nil {
		return Zero, err
	}
	return ID(u.String()), nil
}

func initGlobal() {
	global = &generator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// New returns a new lexicographically sortable ID stamped with the current
// UTC time. It panics if the entropy source fails.
func New() ID {
	return NewAt(time.Now().UTC())
}

// NewAt generates an ID at the provided time.
func NewAt(t time.Time) ID {
	globalOnce.Do(initGlobal)
	id, err := global.newAt(t)
	if err != nil {
		panic("idx: failed to generate ULID: " + err.Error())
	}
	return id
}

// Parse validates s as a ULID.
func Parse(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Zero, ErrInvalid
	}
	if _, err := ulid.ParseStrict(s); err != nil {
		return Zero, ErrInvalid
	}
	return ID(s), nil
}

func (id ID) IsZero() bool   { return id == Zero }
func (id ID) String() string { return string(id) }

// Time extracts the embedded timestamp. Zero or invalid IDs give the zero time.
func (id ID) Time() time.Time {
	if id.IsZero() {
		return time.Time{}
	}
	u, err := ulid.ParseStrict(id.String())
	if err != nil {
		return time.Time{}
	}
	return ulid.Time(u.Time())
}
