// Package follower tails a growing log file, like `tail -f`.
//
// Reading starts at the end of the file as it was when the follower was
// opened; older content is never replayed. Log rotation and truncation are
// not handled: the follower keeps reading the file it opened.
package follower

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/lao-tseu-is-alive/go-ban-watch/internal/errkind"
)

// DefaultPollInterval bounds how long a new line can go unnoticed when no
// file notification arrives.
const DefaultPollInterval = time.Second

// Options configures a Follower.
type Options struct {
	// PollInterval is the maximum wait between read attempts at end of file.
	PollInterval time.Duration
	// Notify wakes the follower early on fsnotify write events.
	Notify bool
	// FromStart reads the file from the beginning instead of the end.
	// Only used for one-shot scans.
	FromStart bool
}

// Follower produces the lines appended to a file, in order.
// It is not safe for concurrent use; one goroutine pulls lines with Next.
type Follower struct {
	path    string
	file    *os.File
	reader  *bufio.Reader
	partial []byte
	offset  int64
	poll    time.Duration
	logger  *log.Logger

	watcher   *fsnotify.Watcher
	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Open opens path and positions the follower at its current end.
// Failing to open the file is an IO error; at startup the caller treats it
// as fatal.
func Open(path string, opts Options, logger *log.Logger) (*Follower, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errkind.E(errkind.IO, "open log", err)
	}

	var offset int64
	if !opts.FromStart {
		offset, err = file.Seek(0, io.SeekEnd)
		if err != nil {
			file.Close()
			return nil, errkind.E(errkind.IO, "seek log", err)
		}
	}

	poll := opts.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	f := &Follower{
		path:   path,
		file:   file,
		reader: bufio.NewReader(file),
		offset: offset,
		poll:   poll,
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	if opts.Notify {
		if err := f.startWatch(); err != nil {
			logger.Warn("⚠️ file notifications unavailable, polling only", "path", path, "poll", poll, "err", err)
		}
	}
	return f, nil
}

// Offset returns the byte offset of the next unread byte.
func (f *Follower) Offset() int64 {
	return f.offset
}

// Path returns the followed file.
func (f *Follower) Path() string {
	return f.path
}

// Next blocks until a complete line is available and returns it without its
// line terminator. A trailing partial line is held back until its newline is
// written. Next returns ctx.Err() once ctx is done.
func (f *Follower) Next(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		chunk, err := f.reader.ReadString('\n')
		if len(chunk) > 0 {
			f.offset += int64(len(chunk))
			f.partial = append(f.partial, chunk...)
		}
		if err == nil {
			line := strings.TrimRight(string(f.partial), "\r\n")
			f.partial = f.partial[:0]
			return line, nil
		}
		if !errors.Is(err, io.EOF) {
			return "", errkind.E(errkind.IO, "read log", err)
		}

		if err := f.wait(ctx); err != nil {
			return "", err
		}
	}
}

// ReadAvailable returns the next complete line without waiting.
// ok is false at end of file. Used by one-shot scans.
func (f *Follower) ReadAvailable() (line string, ok bool, err error) {
	chunk, err := f.reader.ReadString('\n')
	if len(chunk) > 0 {
		f.offset += int64(len(chunk))
		f.partial = append(f.partial, chunk...)
	}
	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		// the last line of a finished file may lack its newline
		if len(f.partial) == 0 {
			return "", false, nil
		}
	default:
		return "", false, errkind.E(errkind.IO, "read log", err)
	}
	line = strings.TrimRight(string(f.partial), "\r\n")
	f.partial = f.partial[:0]
	return line, true, nil
}

// Close releases the file and the watcher. Safe to call multiple times.
func (f *Follower) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.done)
		if f.watcher != nil {
			err = f.watcher.Close()
		}
		if cerr := f.file.Close(); err == nil {
			err = cerr
		}
	})
	return err
}

func (f *Follower) wait(ctx context.Context) error {
	timer := time.NewTimer(f.poll)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.wake:
	case <-timer.C:
	}
	return nil
}

// startWatch watches the log's directory and nudges Next on writes to the
// followed file.
func (f *Follower) startWatch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		watcher.Close()
		return err
	}
	f.watcher = watcher
	go f.watchLoop()
	return nil
}

func (f *Follower) watchLoop() {
	filename := filepath.Base(f.path)
	for {
		select {
		case <-f.done:
			return
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				select {
				case f.wake <- struct{}{}:
				default:
				}
			}
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.logger.Debug("log watcher error", "path", f.path, "err", err)
		}
	}
}
