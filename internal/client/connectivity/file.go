package connectivity

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FileSignal reads connectivity from a status file maintained by the host,
// e.g. a NetworkManager dispatcher script. The first line holds "online" or
// "offline", optionally followed by a quality hint: "online poor".
// A missing file means online.
type FileSignal struct {
	watcher *fsnotify.Watcher
	logger  *slog.Logger
	changes chan Status
	done    chan struct{}
	path    string
	wg      sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

var _ Signal = (*FileSignal)(nil)

// NewFileSignal starts watching path. The parent directory must exist.
func NewFileSignal(path string, logger *slog.Logger) (*FileSignal, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve status file path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	// Следим за каталогом: файл может заменяться через rename
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(absPath), err)
	}

	s := &FileSignal{
		watcher: watcher,
		logger:  logger,
		changes: make(chan Status, 16),
		done:    make(chan struct{}),
		path:    absPath,
	}

	s.wg.Add(1)
	go s.processEvents()

	return s, nil
}

// Current reads the status file.
func (s *FileSignal) Current(ctx context.Context) (Status, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return AssumeOnline, nil
		}
		return Status{}, fmt.Errorf("failed to read status file: %w", err)
	}
	return parseStatusFile(data)
}

// Changes implements Signal.
func (s *FileSignal) Changes() <-chan Status {
	return s.changes
}

// Close stops watching and closes Changes.
func (s *FileSignal) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)

		err := s.watcher.Close()
		s.wg.Wait()
		close(s.changes)

		if err != nil {
			s.closeErr = fmt.Errorf("failed to close watcher: %w", err)
		}
	})
	return s.closeErr
}

func (s *FileSignal) processEvents() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return

		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}

			status, err := s.Current(context.Background())
			if err != nil {
				s.logger.Warn("failed to read connectivity status file",
					slog.String("path", s.path), slog.Any("error", err))
				continue
			}

			select {
			case s.changes <- status:
			case <-s.done:
				return
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("connectivity watcher error", slog.Any("error", err))
		}
	}
}

func parseStatusFile(data []byte) (Status, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	if !scanner.Scan() {
		// Пустой файл - файл еще дописывается, считаем онлайн
		return AssumeOnline, nil
	}

	fields := strings.Fields(scanner.Text())
	if len(fields) == 0 {
		return AssumeOnline, nil
	}

	status := Status{Quality: QualityUnknown}
	switch strings.ToLower(fields[0]) {
	case "online", "up", "1":
		status.Online = true
	case "offline", "down", "0":
		status.Online = false
	default:
		return Status{}, fmt.Errorf("invalid connectivity state %q", fields[0])
	}

	if len(fields) > 1 {
		q, err := ParseQuality(fields[1])
		if err != nil {
			return Status{}, err
		}
		status.Quality = q
	}
	return status, nil
}
