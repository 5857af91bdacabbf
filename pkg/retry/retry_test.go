package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var fast = Policy{MaxTries: 3, MaxElapsed: time.Second, Initial: time.Millisecond}

func TestDoRetriesTransient(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fast, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("throttled")
		}
		return 42, nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnPermanent(t *testing.T) {
	sentinel := errors.New("no such principal")
	calls := 0
	_, err := Do(context.Background(), fast, func() (bool, error) {
		calls++
		return false, Permanent(sentinel)
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestDoExhausts(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fast, func() (bool, error) {
		calls++
		return false, errors.New("unavailable")
	})
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}
