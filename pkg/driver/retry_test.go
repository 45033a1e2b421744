package driver

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResilient_GetText(t *testing.T) {
	t.Run("first attempt succeeds", func(t *testing.T) {
		r := NewResilient(3)
		calls := 0
		text, err := r.GetText(func() (string, error) {
			calls++
			return "hello", nil
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, "hello", text)
		assert.Equal(t, 1, calls)
	})

	t.Run("heals after transient staleness", func(t *testing.T) {
		r := NewResilient(3)
		calls := 0
		heals := 0
		text, err := r.GetText(func() (string, error) {
			calls++
			if calls < 3 {
				return "", fmt.Errorf("reading element: %w", ErrStaleReference)
			}
			return "recovered", nil
		}, func() error {
			heals++
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, "recovered", text)
		assert.Equal(t, 3, calls)
		assert.Equal(t, 2, heals)
	})

	t.Run("budget exhaustion yields dedicated error", func(t *testing.T) {
		r := NewResilient(3)
		calls := 0
		_, err := r.GetText(func() (string, error) {
			calls++
			return "", ErrStaleReference
		}, func() error { return nil })
		assert.ErrorIs(t, err, ErrStaleNotResolved)
		assert.NotErrorIs(t, err, ErrStaleReference)
		assert.Equal(t, 3, calls)
	})

	t.Run("non-stale errors pass through immediately", func(t *testing.T) {
		r := NewResilient(3)
		calls := 0
		_, err := r.GetText(func() (string, error) {
			calls++
			return "", ErrTimeout
		}, nil)
		assert.ErrorIs(t, err, ErrTimeout)
		assert.Equal(t, 1, calls)
	})

	t.Run("heal failure aborts the retry", func(t *testing.T) {
		r := NewResilient(3)
		healErr := errors.New("frame gone")
		_, err := r.GetText(func() (string, error) {
			return "", ErrStaleReference
		}, func() error {
			return healErr
		})
		assert.ErrorIs(t, err, healErr)
	})

	t.Run("non-positive budget falls back to default", func(t *testing.T) {
		r := NewResilient(0)
		calls := 0
		_, err := r.GetText(func() (string, error) {
			calls++
			return "", ErrStaleReference
		}, nil)
		assert.ErrorIs(t, err, ErrStaleNotResolved)
		assert.Equal(t, DefaultStaleAttempts, calls)
	})
}

func TestResilient_Do(t *testing.T) {
	r := NewResilient(2)
	calls := 0
	err := r.Do(func() error {
		calls++
		if calls == 1 {
			return ErrStaleReference
		}
		return nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}
