package store

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/yllada/g15-config/common"
)

// syncDebounce coalesces the burst of file events a single transaction
// produces (database, -wal and -shm files).
const syncDebounce = 50 * time.Millisecond

// startWatcher follows writes to the database directory and replays
// change rows written by other processes.
func (s *Store) startWatcher() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(filepath.Dir(s.dbPath)); err != nil {
		fsw.Close()
		return err
	}
	s.fsw = fsw

	s.wg.Add(1)
	go s.watchLoop()
	return nil
}

func (s *Store) watchLoop() {
	defer s.wg.Done()

	base := filepath.Base(s.dbPath)
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-s.closeCh:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-s.fsw.Events:
			if !ok {
				return
			}
			if !strings.HasPrefix(filepath.Base(event.Name), base) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(syncDebounce)
			} else {
				timer.Reset(syncDebounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if err := s.Sync(); err != nil {
				s.logger.Warn("store: replay external changes: %v", err)
			}

		case err, ok := <-s.fsw.Errors:
			if !ok {
				return
			}
			s.logger.Warn("store: watcher error: %v", err)
		}
	}
}

// Sync replays change rows written by other processes since the last
// call, delivering those under a watched prefix to observers. The file
// watcher calls it automatically; it may also be called directly.
func (s *Store) Sync() error {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	ctx, cancel := s.ctx()
	defer cancel()

	s.mu.Lock()
	since := s.lastSeq
	s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, path, type, kind, value, source, writer
		FROM changes WHERE seq > ? ORDER BY seq
	`, since)
	if err != nil {
		return common.Unavailable("store: read change log", err)
	}
	defer rows.Close()

	var replay []Change
	last := since
	for rows.Next() {
		var (
			seq              int64
			path, text       string
			source, writer   string
			changeType, kind int
		)
		if err := rows.Scan(&seq, &path, &changeType, &kind, &text, &source, &writer); err != nil {
			return common.Unavailable("store: scan change log", err)
		}
		last = seq
		if writer == s.writer {
			continue
		}

		change := Change{Path: path, Type: ChangeType(changeType), Source: source}
		if change.Type == ChangeSet {
			v, err := decode(kind, text)
			if err != nil {
				s.logger.Warn("store: skip change %d: %v", seq, err)
				continue
			}
			change.Value = v
		}
		replay = append(replay, change)
	}
	if err := rows.Err(); err != nil {
		return common.Unavailable("store: iterate change log", err)
	}

	s.mu.Lock()
	if last > s.lastSeq {
		s.lastSeq = last
	}
	watched := make([]string, 0, len(s.watches))
	for p := range s.watches {
		watched = append(watched, p)
	}
	s.mu.Unlock()

	var deliver []Change
	for _, c := range replay {
		for _, p := range watched {
			if Under(p, c.Path) {
				deliver = append(deliver, c)
				break
			}
		}
	}
	if len(deliver) > 0 {
		s.logger.Debug("store: replaying %d external change(s)", len(deliver))
	}
	s.notifier.Notify(deliver...)
	return nil
}
