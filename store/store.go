// Package store implements the hierarchical configuration store shared by
// every controller instance of a user session.
//
// Keys are slash-separated paths such as /apps/gnome15/g19_0/enabled,
// holding typed string, integer or boolean values. Entries live in a
// sqlite database; every write is also appended to a change log, which
// lets a store opened by another process replay the write to its own
// observers (see Sync and the watch_store setting).
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	_ "modernc.org/sqlite"

	"github.com/yllada/g15-config/common"
)

// changeLogRetention is how many change rows are kept behind the newest.
const changeLogRetention = 1000

// KV is the read/write surface the data model depends on. Both *Store and
// *Client satisfy it.
type KV interface {
	Get(path string) (Value, bool, error)
	Set(path string, v Value) error
	Unset(path string) error
	UnsetTree(prefix string) error
	Children(prefix string) ([]string, error)
	Move(from, to string) error
}

// Options describes parameters for opening a store.
type Options struct {
	// Path of the sqlite file. Required.
	Path string
	// Watch follows writes made by other processes through fsnotify.
	Watch bool
	// Logger receives watcher diagnostics. Defaults to the process logger.
	Logger common.Logger
}

// Store provides access to the configuration database.
type Store struct {
	db       *sql.DB
	dbPath   string
	writer   string
	notifier *Notifier
	logger   common.Logger

	mu      sync.Mutex
	lastSeq int64
	watches map[string]int
	syncMu  sync.Mutex

	fsw     *fsnotify.Watcher
	closeCh chan struct{}
	wg      sync.WaitGroup
	closed  bool
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS entries (
		path TEXT PRIMARY KEY,
		kind INTEGER NOT NULL,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS changes (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		path TEXT NOT NULL,
		type INTEGER NOT NULL,
		kind INTEGER NOT NULL DEFAULT 0,
		value TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT '',
		writer TEXT NOT NULL
	)`,
}

// Open opens (creating if needed) the store at opts.Path.
func Open(opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, errors.New("store: empty database path")
	}
	if opts.Logger == nil {
		opts.Logger = common.GetLogger()
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0700); err != nil {
		return nil, fmt.Errorf("store: create directory: %w", err)
	}

	db, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		return nil, common.Unavailable("store: open sqlite", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), common.StoreBusyTimeout)
	defer cancel()

	if err := applyPragmas(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	if err := applySchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:       db,
		dbPath:   opts.Path,
		writer:   common.GenerateID(),
		notifier: NewNotifier(),
		logger:   opts.Logger,
		watches:  make(map[string]int),
		closeCh:  make(chan struct{}),
	}

	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM changes`).Scan(&s.lastSeq); err != nil {
		s.Close()
		return nil, common.Unavailable("store: read change log", err)
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM changes WHERE seq <= ?`, s.lastSeq-changeLogRetention); err != nil {
		s.logger.Warn("store: prune change log: %v", err)
	}

	if opts.Watch {
		if err := s.startWatcher(); err != nil {
			s.logger.Warn("store: cross-process watch disabled: %v", err)
		}
	}

	return s, nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", int(common.StoreBusyTimeout.Milliseconds())),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return common.Unavailable(fmt.Sprintf("store: apply pragma %q", pragma), err)
		}
	}
	return nil
}

func applySchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return common.Unavailable("store: apply schema", err)
		}
	}
	return nil
}

// Close stops the watcher, delivers queued notifications and closes the
// database.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.closeCh)
	if s.fsw != nil {
		s.fsw.Close()
	}
	s.wg.Wait()
	s.notifier.Close()
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.dbPath }

// Client returns a view of the store whose writes carry source, letting
// an observer recognise changes it caused itself.
func (s *Store) Client(source string) *Client {
	return &Client{store: s, source: source}
}

// Get returns the value at path. The boolean is false when the key is
// unset.
func (s *Store) Get(path string) (Value, bool, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	var kind int
	var text string
	err := s.db.QueryRowContext(ctx, `SELECT kind, value FROM entries WHERE path = ?`, path).Scan(&kind, &text)
	if errors.Is(err, sql.ErrNoRows) {
		return Value{}, false, nil
	}
	if err != nil {
		return Value{}, false, common.Unavailable("get "+path, err)
	}
	v, err := decode(kind, text)
	if err != nil {
		return Value{}, false, common.Unavailable("get "+path, err)
	}
	return v, true, nil
}

// Children returns the distinct immediate child names of prefix, sorted.
func (s *Store) Children(prefix string) ([]string, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	prefix, end := subtreeRange(prefix)
	rows, err := s.db.QueryContext(ctx,
		`SELECT path FROM entries WHERE path >= ? AND path < ?`, prefix, end)
	if err != nil {
		return nil, common.Unavailable("children "+prefix, err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	var names []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, common.Unavailable("children "+prefix, err)
		}
		name, _, _ := strings.Cut(path[len(prefix):], "/")
		if name != "" && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, common.Unavailable("children "+prefix, err)
	}

	sort.Strings(names)
	return names, nil
}

// Set stores v at path.
func (s *Store) Set(path string, v Value) error { return s.set("", path, v) }

// Unset removes the key at path. Removing a missing key is not an error.
func (s *Store) Unset(path string) error { return s.unset("", path) }

// UnsetTree removes prefix and every key beneath it.
func (s *Store) UnsetTree(prefix string) error { return s.unsetTree("", prefix) }

// Move renames every key under from to the same relative path under to,
// replacing whatever was under to, in one transaction.
func (s *Store) Move(from, to string) error { return s.move("", from, to) }

// OnChange registers observer for changes to path and everything beneath
// it. Changes made by other processes are only delivered for prefixes
// covered by AddWatch.
func (s *Store) OnChange(path string, observer Observer) *Subscription {
	return s.notifier.SubscribePath(path, observer)
}

// Watch is an interest registration created by AddWatch.
type Watch struct {
	store  *Store
	prefix string
	once   sync.Once
}

// Remove drops the registration.
func (w *Watch) Remove() {
	if w == nil {
		return
	}
	w.once.Do(func() {
		w.store.mu.Lock()
		defer w.store.mu.Unlock()
		w.store.watches[w.prefix]--
		if w.store.watches[w.prefix] <= 0 {
			delete(w.store.watches, w.prefix)
		}
	})
}

// AddWatch registers interest in changes made by other processes under
// prefix.
func (s *Store) AddWatch(prefix string) *Watch {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watches[prefix]++
	return &Watch{store: s, prefix: prefix}
}

// Subscriptions returns the number of live observers and watches at or
// beneath prefix.
func (s *Store) Subscriptions(prefix string) int {
	count := s.notifier.Count(prefix)

	s.mu.Lock()
	defer s.mu.Unlock()
	for p, n := range s.watches {
		if Under(prefix, p) {
			count += n
		}
	}
	return count
}

// Flush blocks until every change written so far has been delivered to
// observers.
func (s *Store) Flush() { s.notifier.Flush() }

func (s *Store) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), common.StoreBusyTimeout)
}

// withTx runs fn in a transaction, then queues the changes fn reports.
func (s *Store) withTx(op string, fn func(ctx context.Context, tx *sql.Tx) ([]Change, error)) error {
	ctx, cancel := s.ctx()
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return common.Unavailable(op, err)
	}

	changes, err := fn(ctx, tx)
	if err == nil {
		err = s.logChanges(ctx, tx, changes)
	}
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return common.Unavailable(op, fmt.Errorf("rollback failed after %v: %w", err, rbErr))
		}
		if errors.Is(err, common.ErrNotFound) {
			return err
		}
		return common.Unavailable(op, err)
	}
	if err := tx.Commit(); err != nil {
		return common.Unavailable(op, err)
	}

	s.notifier.Notify(changes...)
	return nil
}

func (s *Store) logChanges(ctx context.Context, tx *sql.Tx, changes []Change) error {
	if len(changes) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO changes (path, type, kind, value, source, writer) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range changes {
		kind, text := c.Value.encode()
		if _, err := stmt.ExecContext(ctx, c.Path, int(c.Type), kind, text, c.Source, s.writer); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) set(source, path string, v Value) error {
	return s.withTx("set "+path, func(ctx context.Context, tx *sql.Tx) ([]Change, error) {
		var kind int
		var text string
		err := tx.QueryRowContext(ctx, `SELECT kind, value FROM entries WHERE path = ?`, path).Scan(&kind, &text)
		switch {
		case err == nil:
			if old, decErr := decode(kind, text); decErr == nil && old.Equal(v) {
				return nil, nil
			}
		case !errors.Is(err, sql.ErrNoRows):
			return nil, err
		}

		kind, text = v.encode()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO entries (path, kind, value, updated_at)
			VALUES (?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(path) DO UPDATE SET
				kind = excluded.kind,
				value = excluded.value,
				updated_at = CURRENT_TIMESTAMP
		`, path, kind, text); err != nil {
			return nil, err
		}
		return []Change{{Path: path, Type: ChangeSet, Value: v, Source: source}}, nil
	})
}

func (s *Store) unset(source, path string) error {
	return s.withTx("unset "+path, func(ctx context.Context, tx *sql.Tx) ([]Change, error) {
		res, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE path = ?`, path)
		if err != nil {
			return nil, err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, nil
		}
		return []Change{{Path: path, Type: ChangeDelete, Source: source}}, nil
	})
}

// treeRows returns the entries at or beneath prefix.
func treeRows(ctx context.Context, tx *sql.Tx, prefix string) (map[string]Value, error) {
	prefix = strings.TrimSuffix(prefix, "/")
	lo, hi := subtreeRange(prefix)
	rows, err := tx.QueryContext(ctx,
		`SELECT path, kind, value FROM entries WHERE path = ? OR (path >= ? AND path < ?)`,
		prefix, lo, hi)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]Value)
	for rows.Next() {
		var path, text string
		var kind int
		if err := rows.Scan(&path, &kind, &text); err != nil {
			return nil, err
		}
		v, err := decode(kind, text)
		if err != nil {
			return nil, err
		}
		out[path] = v
	}
	return out, rows.Err()
}

func deleteTree(ctx context.Context, tx *sql.Tx, prefix, source string) ([]Change, error) {
	existing, err := treeRows(ctx, tx, prefix)
	if err != nil {
		return nil, err
	}
	prefix = strings.TrimSuffix(prefix, "/")
	lo, hi := subtreeRange(prefix)
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM entries WHERE path = ? OR (path >= ? AND path < ?)`,
		prefix, lo, hi); err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(existing))
	for p := range existing {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	changes := make([]Change, 0, len(paths))
	for _, p := range paths {
		changes = append(changes, Change{Path: p, Type: ChangeDelete, Source: source})
	}
	return changes, nil
}

func (s *Store) unsetTree(source, prefix string) error {
	return s.withTx("unset tree "+prefix, func(ctx context.Context, tx *sql.Tx) ([]Change, error) {
		return deleteTree(ctx, tx, prefix, source)
	})
}

func (s *Store) move(source, from, to string) error {
	from = strings.TrimSuffix(from, "/")
	to = strings.TrimSuffix(to, "/")
	if from == to {
		return nil
	}
	if Under(from, to) || Under(to, from) {
		return &common.PreconditionError{Op: "move " + from, Reason: "destination overlaps source " + to}
	}

	return s.withTx("move "+from, func(ctx context.Context, tx *sql.Tx) ([]Change, error) {
		moving, err := treeRows(ctx, tx, from)
		if err != nil {
			return nil, err
		}
		if len(moving) == 0 {
			return nil, &common.NotFoundError{Entity: "key", Key: from}
		}

		changes, err := deleteTree(ctx, tx, to, source)
		if err != nil {
			return nil, err
		}
		removed, err := deleteTree(ctx, tx, from, source)
		if err != nil {
			return nil, err
		}
		changes = append(changes, removed...)

		paths := make([]string, 0, len(moving))
		for p := range moving {
			paths = append(paths, p)
		}
		sort.Strings(paths)

		for _, p := range paths {
			v := moving[p]
			dest := to + p[len(from):]
			kind, text := v.encode()
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO entries (path, kind, value) VALUES (?, ?, ?)`, dest, kind, text); err != nil {
				return nil, err
			}
			changes = append(changes, Change{Path: dest, Type: ChangeSet, Value: v, Source: source})
		}
		return changes, nil
	})
}

// Client is a store view whose writes are stamped with a source.
type Client struct {
	store  *Store
	source string
}

// Source returns the stamp applied to this client's writes.
func (c *Client) Source() string { return c.source }

// Store returns the underlying store.
func (c *Client) Store() *Store { return c.store }

func (c *Client) Get(path string) (Value, bool, error)     { return c.store.Get(path) }
func (c *Client) Children(prefix string) ([]string, error) { return c.store.Children(prefix) }
func (c *Client) Set(path string, v Value) error           { return c.store.set(c.source, path, v) }
func (c *Client) Unset(path string) error                  { return c.store.unset(c.source, path) }
func (c *Client) UnsetTree(prefix string) error            { return c.store.unsetTree(c.source, prefix) }
func (c *Client) Move(from, to string) error               { return c.store.move(c.source, from, to) }
