// Package ledger keeps a bounded, append-only record of operational events
// with an in-memory query surface and a JSON-lines mirror on disk.
package ledger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultCapacity is the number of entries retained when no capacity is set.
const DefaultCapacity = 1000

// Ledger is safe for concurrent use. Lock order is fileMu before mu.
type Ledger struct {
	path     string
	capacity int
	now      func() time.Time
	logger   *zap.Logger

	mu      sync.RWMutex
	entries []Entry
	nextID  int64

	fileMu sync.Mutex

	dirty     chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithPath enables the on-disk mirror at path.
func WithPath(path string) Option {
	return func(l *Ledger) {
		l.path = path
	}
}

// WithCapacity caps the number of retained entries.
func WithCapacity(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.capacity = n
		}
	}
}

// WithLogger mirrors every entry to the process logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithClock overrides the timestamp source, primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// New builds a ledger, loading any entries already persisted at the
// configured path. Without a path the ledger is memory-only.
func New(opts ...Option) (*Ledger, error) {
	l := &Ledger{
		capacity: DefaultCapacity,
		now:      time.Now,
		logger:   zap.NewNop(),
		nextID:   1,
		dirty:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.path == "" {
		return l, nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	if err := l.load(); err != nil {
		return nil, err
	}
	l.wg.Add(1)
	go l.writeLoop()
	return l, nil
}

func (l *Ledger) load() error {
	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	var (
		loaded  []Entry
		skipped int
		maxID   int64
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil || e.ID <= 0 || !e.Level.Valid() {
			skipped++
			continue
		}
		loaded = append(loaded, e)
		if e.ID > maxID {
			maxID = e.ID
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read log file: %w", err)
	}
	if skipped > 0 {
		l.logger.Warn("skipped unreadable ledger lines", zap.String("path", l.path), zap.Int("skipped", skipped))
	}
	if len(loaded) > l.capacity {
		loaded = loaded[len(loaded)-l.capacity:]
	}

	l.mu.Lock()
	l.entries = loaded
	l.nextID = maxID + 1
	l.mu.Unlock()
	return nil
}

// Log appends an entry and schedules a background rewrite of the mirror.
// An empty account is stored as null.
func (l *Ledger) Log(level Level, message, account string) Entry {
	var acc *string
	if account != "" {
		acc = &account
	}

	l.mu.Lock()
	e := Entry{
		ID:        l.nextID,
		Level:     level,
		Message:   message,
		Account:   acc,
		CreatedAt: l.now(),
	}
	l.nextID++
	l.entries = append(l.entries, e)
	if over := len(l.entries) - l.capacity; over > 0 {
		n := copy(l.entries, l.entries[over:])
		clear(l.entries[n:])
		l.entries = l.entries[:n]
	}
	l.mu.Unlock()

	l.mirror(e)
	l.markDirty()
	return e
}

// Info records an INFO entry.
func (l *Ledger) Info(account, format string, args ...any) {
	l.Log(LevelInfo, sprintf(format, args), account)
}

// Warn records a WARNING entry.
func (l *Ledger) Warn(account, format string, args ...any) {
	l.Log(LevelWarning, sprintf(format, args), account)
}

// Error records an ERROR entry.
func (l *Ledger) Error(account, format string, args ...any) {
	l.Log(LevelError, sprintf(format, args), account)
}

func sprintf(format string, args []any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}

func (l *Ledger) mirror(e Entry) {
	fields := []zap.Field{zap.Int64("ledger_id", e.ID)}
	if e.Account != nil {
		fields = append(fields, zap.String("account", *e.Account))
	}
	switch e.Level {
	case LevelError:
		l.logger.Error(e.Message, fields...)
	case LevelWarning:
		l.logger.Warn(e.Message, fields...)
	default:
		l.logger.Info(e.Message, fields...)
	}
}

// All returns every retained entry, newest first.
func (l *Ledger) All() []Entry {
	return l.Query(Filter{})
}

// Recent returns at most n entries, newest first.
func (l *Ledger) Recent(n int) []Entry {
	if n <= 0 {
		return []Entry{}
	}
	return l.Query(Filter{Limit: n})
}

// ByLevel returns entries of one severity, newest first.
func (l *Ledger) ByLevel(level Level) []Entry {
	return l.Query(Filter{Level: level})
}

// ByAccount returns entries tagged with account, newest first.
func (l *Ledger) ByAccount(account string) []Entry {
	return l.Query(Filter{Account: account})
}

// Query returns the entries matching f, newest first.
func (l *Ledger) Query(f Filter) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	size := len(l.entries)
	if f.Limit > 0 && f.Limit < size {
		size = f.Limit
	}
	out := make([]Entry, 0, size)
	for i := len(l.entries) - 1; i >= 0; i-- {
		if !f.match(l.entries[i]) {
			continue
		}
		out = append(out, l.entries[i])
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

// Len reports the number of retained entries.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Clear drops every entry, resets the id counter and removes the mirror file.
func (l *Ledger) Clear() error {
	l.fileMu.Lock()
	defer l.fileMu.Unlock()

	l.mu.Lock()
	l.entries = nil
	l.nextID = 1
	l.mu.Unlock()

	if l.path == "" {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove log file: %w", err)
	}
	return nil
}

// Flush synchronously rewrites the mirror from the in-memory window.
func (l *Ledger) Flush() error {
	if l.path == "" {
		return nil
	}
	l.fileMu.Lock()
	defer l.fileMu.Unlock()
	return l.writeFile()
}

// Close stops the background writer after a final flush.
func (l *Ledger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		l.wg.Wait()
		err = l.Flush()
	})
	return err
}

func (l *Ledger) markDirty() {
	if l.path == "" {
		return
	}
	select {
	case l.dirty <- struct{}{}:
	default:
	}
}

func (l *Ledger) writeLoop() {
	defer l.wg.Done()
	for {
		select {
		case <-l.done:
			return
		case <-l.dirty:
			if err := l.Flush(); err != nil {
				l.logger.Warn("ledger persist failed", zap.String("path", l.path), zap.Error(err))
			}
		}
	}
}

// writeFile must be called with fileMu held.
func (l *Ledger) writeFile() error {
	l.mu.RLock()
	snapshot := make([]Entry, len(l.entries))
	copy(snapshot, l.entries)
	l.mu.RUnlock()

	if len(snapshot) == 0 {
		if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove log file: %w", err)
		}
		return nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(l.path), "."+filepath.Base(l.path)+"-*")
	if err != nil {
		return fmt.Errorf("create temp log file: %w", err)
	}
	tmpName := tmp.Name()
	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, e := range snapshot {
		if err := enc.Encode(e); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return fmt.Errorf("encode log entry %d: %w", e.ID, err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write log file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp log file: %w", err)
	}
	if err := os.Rename(tmpName, l.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace log file: %w", err)
	}
	return nil
}
