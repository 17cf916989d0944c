package follower

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lao-tseu-is-alive/go-ban-watch/internal/errkind"
)

const failedCreateLogFile = "Failed to create temp log file: %v"

var quiet = log.New(io.Discard)

func newLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "access.log")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf(failedCreateLogFile, err)
	}
	return path
}

func appendTo(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

// appendLater writes content after a delay from another goroutine.
func appendLater(path, content string, delay time.Duration) {
	go func() {
		time.Sleep(delay)
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return
		}
		defer f.Close()
		_, _ = f.WriteString(content)
	}()
}

func nextWithin(t *testing.T, f *Follower, d time.Duration) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	line, err := f.Next(ctx)
	require.NoError(t, err)
	return line
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.log"), Options{}, quiet)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.IO))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestNextSkipsHistoricalContent(t *testing.T) {
	path := newLog(t, "old line 1\nold line 2\n")

	f, err := Open(path, Options{PollInterval: 10 * time.Millisecond}, quiet)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, int64(len("old line 1\nold line 2\n")), f.Offset())

	appendTo(t, path, "new line\r\nsecond\n")

	assert.Equal(t, "new line", nextWithin(t, f, 2*time.Second))
	assert.Equal(t, "second", nextWithin(t, f, 2*time.Second))
}

func TestNextHoldsPartialLine(t *testing.T) {
	path := newLog(t, "")

	f, err := Open(path, Options{PollInterval: 10 * time.Millisecond}, quiet)
	require.NoError(t, err)
	defer f.Close()

	appendTo(t, path, "10.0.0.5 - - 42")
	appendLater(path, "9 0\n", 50*time.Millisecond)

	assert.Equal(t, "10.0.0.5 - - 429 0", nextWithin(t, f, 2*time.Second))
}

func TestNextStopsOnCancel(t *testing.T) {
	path := newLog(t, "")

	f, err := Open(path, Options{PollInterval: time.Hour}, quiet)
	require.NoError(t, err)
	defer f.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := f.Next(ctx)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after cancel")
	}
}

func TestNotifyWakesBeforePoll(t *testing.T) {
	path := newLog(t, "")

	f, err := Open(path, Options{PollInterval: time.Hour, Notify: true}, quiet)
	require.NoError(t, err)
	defer f.Close()
	require.NotNil(t, f.watcher, "fsnotify should be available in tests")

	appendLater(path, "woken\n", 50*time.Millisecond)

	assert.Equal(t, "woken", nextWithin(t, f, 3*time.Second))
}

func TestReadAvailableFromStart(t *testing.T) {
	path := newLog(t, "one\ntwo\nthree-without-newline")

	f, err := Open(path, Options{FromStart: true}, quiet)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	for {
		line, ok, err := f.ReadAvailable()
		require.NoError(t, err)
		if !ok {
			break
		}
		lines = append(lines, line)
	}
	assert.Equal(t, []string{"one", "two", "three-without-newline"}, lines)
}

func TestCloseIsIdempotent(t *testing.T) {
	f, err := Open(newLog(t, ""), Options{Notify: true}, quiet)
	require.NoError(t, err)
	assert.NoError(t, f.Close())
	assert.NoError(t, f.Close())
}
