package secret

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvSource(t *testing.T) {
	t.Setenv("TEST_PLAIN_SECRET", "s3cr3t-value!")
	t.Setenv("TEST_ENCODED_SECRET", "aGVsbG8=")

	s := NewEnvSource()

	got, err := s.Get(context.Background(), "TEST_PLAIN_SECRET")
	require.NoError(t, err)
	assert.Equal(t, []byte("s3cr3t-value!"), got)

	got, err = s.Get(context.Background(), "TEST_ENCODED_SECRET")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	_, err = s.Get(context.Background(), "TEST_ABSENT_SECRET")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "jwt-secret"), []byte("top-secret\n"), 0o600))

	s := NewFileSource(dir)

	got, err := s.Get(context.Background(), "jwt-secret")
	require.NoError(t, err)
	assert.Equal(t, []byte("top-secret"), got)

	_, err = s.Get(context.Background(), "missing")
	assert.Error(t, err)
}

type flakySource struct {
	failures int
	calls    int
}

func (s *flakySource) Get(context.Context, string) (Secret, error) {
	s.calls++

	if s.calls <= s.failures {
		return nil, errors.New("unavailable")
	}

	return []byte("eventually"), nil
}

func TestBackoffSourceRetries(t *testing.T) {
	inner := &flakySource{failures: 2}

	s := NewBackoffSource(5, time.Millisecond, inner)

	got, err := s.Get(context.Background(), "any")
	require.NoError(t, err)

	assert.Equal(t, []byte("eventually"), got)
	assert.Equal(t, 3, inner.calls)
}

func TestBackoffSourceGivesUp(t *testing.T) {
	inner := &flakySource{failures: 10}

	s := NewBackoffSource(3, time.Millisecond, inner)

	_, err := s.Get(context.Background(), "any")
	assert.Error(t, err)
	assert.Equal(t, 3, inner.calls)
}

func TestBackoffSourceHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewBackoffSource(3, time.Minute, &flakySource{failures: 10})

	_, err := s.Get(ctx, "any")
	assert.ErrorIs(t, err, context.Canceled)
}
