package tail

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/transformerlab/provision-monitor/internal/offset"
)

const readBufferSize = 64 * 1024

// Options configures a Watcher.
type Options struct {
	// UsePolling selects a coarse stat-based poll loop instead of OS
	// filesystem notifications. Appropriate for network mounts where
	// notifications are unreliable.
	UsePolling bool

	// PollInterval is the stat interval in polling mode. Default 2s.
	PollInterval time.Duration

	// StabilityWindow is how long writes must be quiet before appended
	// content is read and emitted. Trades latency for fewer partial reads.
	// Default 300ms.
	StabilityWindow time.Duration

	// Positions, if set, persists the read position so a restarted watcher
	// resumes instead of skipping to end-of-file.
	Positions offset.Store
}

// Watcher tails a single file and emits only newly appended bytes.
//
// Content present before Start is never replayed (unless a position store
// says otherwise), truncation resets the position to 0 without re-delivery,
// and notifications that carry no new bytes are suppressed. All events are
// handled on one goroutine, so the position is never read and written
// concurrently.
type Watcher struct {
	filePath string
	opts     Options

	mu       sync.Mutex
	handlers []func(string)
	position int64
	started  bool
	stopped  bool
	running  bool

	fsw    *fsnotify.Watcher
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewWatcher creates a watcher for the given file path.
func NewWatcher(filePath string, opts Options) *Watcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.StabilityWindow <= 0 {
		opts.StabilityWindow = 300 * time.Millisecond
	}
	return &Watcher{
		filePath: filepath.Clean(filePath),
		opts:     opts,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// OnUpdate registers a handler for appended content. Handlers run in
// registration order on the watcher's event goroutine; a late event may
// still be delivered shortly after Stop.
func (w *Watcher) OnUpdate(handler func(content string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, handler)
}

// Start begins watching. If the file already exists the position starts at
// its current size, so only content appended after Start is reported; if it
// does not exist yet, the whole content of the eventual file is reported.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return fmt.Errorf("watcher already started")
	}
	w.started = true
	w.mu.Unlock()

	w.position = 0
	if stat, err := os.Stat(w.filePath); err == nil {
		w.position = stat.Size()
	}

	// A persisted position wins over start-at-end, unless the file shrank
	// below it since the last run.
	if w.opts.Positions != nil {
		saved, err := w.opts.Positions.Get(context.Background(), w.filePath)
		if err != nil {
			log.Warn().Err(err).Str("file", w.filePath).Msg("Failed to load saved position")
		} else if int64(saved) <= w.position {
			w.position = int64(saved)
		}
	}

	if w.opts.UsePolling {
		w.setRunning()
		go w.pollLoop()
		log.Info().
			Str("file", w.filePath).
			Dur("interval", w.opts.PollInterval).
			Msg("Started polling file watcher")
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	// Watch the parent directory: the file itself may not exist yet, and
	// create/remove of the file only shows up as a directory event.
	if err := fsw.Add(filepath.Dir(w.filePath)); err != nil {
		fsw.Close()
		return fmt.Errorf("failed to watch directory: %w", err)
	}
	w.fsw = fsw

	w.setRunning()
	go w.eventLoop()
	log.Info().
		Str("file", w.filePath).
		Msg("Started file watcher")
	return nil
}

// Stop releases the underlying watch resource. Idempotent, and safe before
// Start. In-flight reads are not aborted; callers must tolerate a final
// update after Stop.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	running := w.running
	w.mu.Unlock()

	close(w.stopCh)
	var err error
	if w.fsw != nil {
		err = w.fsw.Close()
	}
	if running {
		<-w.doneCh
	}
	return err
}

func (w *Watcher) setRunning() {
	w.mu.Lock()
	w.running = true
	w.mu.Unlock()
}

// Position returns the current read position in bytes.
func (w *Watcher) Position() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.position
}

// eventLoop processes fsnotify events for the watched file, debouncing
// bursts of writes through the stability window.
func (w *Watcher) eventLoop() {
	defer close(w.doneCh)

	var debounce *time.Timer
	var debounceC <-chan time.Time

	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.filePath {
				continue
			}
			switch {
			case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.NewTimer(w.opts.StabilityWindow)
				debounceC = debounce.C
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				log.Info().Str("file", w.filePath).Msg("Watched file removed")
				w.setPosition(0)
			}

		case <-debounceC:
			debounce = nil
			debounceC = nil
			w.streamChanges()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Str("file", w.filePath).Msg("File watcher error")

		case <-w.stopCh:
			return
		}
	}
}

// pollLoop is the stat-based fallback for UsePolling mode.
func (w *Watcher) pollLoop() {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	existed := true
	if _, err := os.Stat(w.filePath); err != nil {
		existed = false
	}

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			if _, err := os.Stat(w.filePath); err != nil {
				if os.IsNotExist(err) && existed {
					log.Info().Str("file", w.filePath).Msg("Watched file removed")
					w.setPosition(0)
					existed = false
				}
				continue
			}
			existed = true
			w.streamChanges()
		}
	}
}

// streamChanges reads and emits the byte range appended since the last read.
// Stat and read errors are logged and leave the position unchanged, so the
// unread bytes are retried on the next change.
func (w *Watcher) streamChanges() {
	stat, err := os.Stat(w.filePath)
	if err != nil {
		log.Warn().Err(err).Str("file", w.filePath).Msg("Failed to stat watched file")
		return
	}
	size := stat.Size()
	pos := w.Position()

	switch {
	case size < pos:
		// Truncated or replaced. Already-delivered bytes are not re-sent;
		// content from offset 0 is delivered on the next change.
		log.Info().
			Str("file", w.filePath).
			Int64("size", size).
			Int64("position", pos).
			Msg("Watched file truncated, resetting position")
		w.setPosition(0)

	case size > pos:
		if err := w.emitRange(pos, size); err != nil {
			log.Warn().Err(err).Str("file", w.filePath).Msg("Failed to read appended content")
			return
		}
		w.setPosition(size)

	default:
		// Same size: spurious notification, nothing to deliver.
	}
}

// emitRange reads [from, to) and delivers it chunk-wise to every handler.
func (w *Watcher) emitRange(from, to int64) error {
	file, err := os.Open(w.filePath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	if _, err := file.Seek(from, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to position %d: %w", from, err)
	}

	reader := io.LimitReader(file, to-from)
	buf := make([]byte, readBufferSize)
	var pending []byte
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			// A multibyte rune can straddle the read boundary; hold the
			// trailing partial rune back so every emitted chunk is valid
			// UTF-8 on its own.
			data := append(pending, buf[:n]...)
			complete, rest := trimIncompleteRune(data)
			if len(complete) > 0 {
				w.emit(string(complete))
			}
			pending = rest
		}
		if err == io.EOF {
			if len(pending) > 0 {
				// The range genuinely ends mid-rune; deliver the bytes
				// rather than losing them.
				w.emit(string(pending))
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("read error: %w", err)
		}
	}
}

// trimIncompleteRune splits data into a prefix ending on a rune boundary
// and the bytes of a trailing incomplete rune, if any. Data that does not
// look like it ends inside a rune is returned whole.
func trimIncompleteRune(data []byte) (complete, rest []byte) {
	for back := 1; back < utf8.UTFMax && back <= len(data); back++ {
		b := data[len(data)-back]
		if !utf8.RuneStart(b) {
			continue
		}
		if utf8.FullRune(data[len(data)-back:]) {
			return data, nil
		}
		return data[:len(data)-back], data[len(data)-back:]
	}
	return data, nil
}

func (w *Watcher) emit(content string) {
	w.mu.Lock()
	handlers := make([]func(string), len(w.handlers))
	copy(handlers, w.handlers)
	w.mu.Unlock()

	for _, handler := range handlers {
		handler(content)
	}
}

func (w *Watcher) setPosition(pos int64) {
	w.mu.Lock()
	w.position = pos
	w.mu.Unlock()

	if w.opts.Positions != nil {
		if err := w.opts.Positions.Set(context.Background(), w.filePath, uint64(pos)); err != nil {
			log.Warn().Err(err).Str("file", w.filePath).Msg("Failed to save position")
		}
	}
}
