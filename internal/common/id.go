package common

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	ulidMu      sync.Mutex
	ulidEntropy = ulid.Monotonic(rand.Reader, 0)
)

// NewULID returns a lexicographically sortable id. Ids minted by this
// process within the same millisecond are strictly increasing.
func NewULID() (string, error) {
	ulidMu.Lock()
	defer ulidMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(time.Now()), ulidEntropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func NewUUID() string {
	return uuid.NewString()
}

// NewULIDWithTime returns a new ULID together with the millisecond
// timestamp encoded in it, so rows ordered by (time, id) and rows ordered
// by id agree.
func NewULIDWithTime() (string, time.Time, error) {
	s, err := NewULID()
	if err != nil {
		return "", time.Time{}, err
	}
	id, err := ulid.ParseStrict(s)
	if err != nil {
		return "", time.Time{}, err
	}
	return s, ulid.Time(id.Time()), nil
}
