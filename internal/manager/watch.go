package manager

import (
	"context"
	"log/slog"
	"sync"

	"codescout/internal/errors"
	"codescout/internal/scanner"
	"codescout/internal/watcher"
)

// sessionState tracks a watch session's lifecycle.
type sessionState int

const (
	// sessionIdle means the session exists but the watcher has not
	// started delivering events yet.
	sessionIdle sessionState = iota
	// sessionActive means events are flowing.
	sessionActive
	// sessionStopped means the session has shut down.
	sessionStopped
)

func (s sessionState) String() string {
	switch s {
	case sessionIdle:
		return "idle"
	case sessionActive:
		return "active"
	case sessionStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// watchSession is one live watcher bound to one repository handle.
type watchSession struct {
	repo    *Repository
	watcher *watcher.FSWatcher
	cancel  context.CancelFunc
	done    chan struct{}

	mu    sync.Mutex
	state sessionState
}

func (s *watchSession) setState(state sessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// State returns the session's current lifecycle state.
func (s *watchSession) State() sessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StartWatch indexes the repository if needed and begins keeping the
// index in sync with the working tree. Starting an already-watched
// repository is a no-op.
func (m *Manager) StartWatch(ctx context.Context, path string) error {
	repo, err := m.EnsureIndexed(ctx, path)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if existing, ok := m.sessions[repo.ID]; ok && existing.State() != sessionStopped {
		m.mu.Unlock()
		return nil
	}

	w, err := watcher.NewFSWatcher(watcher.Options{
		DebounceWindow:  m.cfg.Watch.DebounceWindow,
		EventBufferSize: m.cfg.Watch.EventBufferSize,
	})
	if err != nil {
		m.mu.Unlock()
		return errors.Internal("create watcher", err)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	session := &watchSession{
		repo:    repo,
		watcher: w,
		cancel:  cancel,
		done:    make(chan struct{}),
		state:   sessionIdle,
	}
	m.sessions[repo.ID] = session
	m.mu.Unlock()

	go func() {
		if err := w.Start(watchCtx, repo.RootPath); err != nil && watchCtx.Err() == nil {
			slog.Error("watcher failed",
				slog.String("repo", repo.ID),
				slog.String("error", err.Error()))
		}
	}()
	go m.runSession(watchCtx, session)

	slog.Info("watching repository",
		slog.String("repo", repo.ID),
		slog.String("path", repo.RootPath))
	return nil
}

// runSession consumes debounced event batches until the watcher stops.
// Each batch is fully applied before the next is read, so a stop request
// lets the in-flight batch finish.
func (m *Manager) runSession(ctx context.Context, session *watchSession) {
	defer close(session.done)
	defer session.setState(sessionStopped)

	for batch := range session.watcher.Events() {
		session.setState(sessionActive)
		m.applyEvents(ctx, session.repo, batch)
		session.setState(sessionIdle)
	}
}

// applyEvents applies one debounced batch to the repository index and
// persists the result.
func (m *Manager) applyEvents(ctx context.Context, repo *Repository, events []watcher.FileEvent) {
	changed := false
	for _, event := range events {
		if event.IsDir && event.Operation != watcher.OpGitignoreChange {
			continue
		}

		var err error
		switch event.Operation {
		case watcher.OpCreate, watcher.OpModify:
			err = repo.updateFile(ctx, event.Path)
		case watcher.OpDelete, watcher.OpRename:
			err = repo.removeFile(ctx, event.Path)
		case watcher.OpGitignoreChange:
			err = m.reconcileIgnoreRules(ctx, repo)
		case watcher.OpRescan:
			// The watcher lost events; walk the tree to catch up.
			err = m.syncWorkingTree(ctx, repo, true)
		}

		if err != nil {
			slog.Warn("failed to apply file event",
				slog.String("repo", repo.ID),
				slog.String("path", event.Path),
				slog.String("operation", event.Operation.String()),
				slog.String("error", err.Error()))
			continue
		}
		changed = true
	}

	if !changed {
		return
	}

	if err := repo.refreshStats(ctx); err != nil {
		slog.Warn("failed to refresh repository stats",
			slog.String("repo", repo.ID),
			slog.String("error", err.Error()))
	}
	if err := repo.persist(); err != nil {
		slog.Warn("failed to persist index",
			slog.String("repo", repo.ID),
			slog.String("error", err.Error()))
	}
}

// reconcileIgnoreRules re-reads the ignore rules and diffs the current
// working tree against the index: newly ignored files leave the index,
// newly visible files join it.
func (m *Manager) reconcileIgnoreRules(ctx context.Context, repo *Repository) error {
	m.scanner.InvalidateMatcher(repo.RootPath)
	return m.syncWorkingTree(ctx, repo, false)
}

// syncWorkingTree diffs the working tree against the index. Files no
// longer visible leave the index and newly visible files join it. With
// updateIndexed set, already-indexed files are re-read too, which
// repairs an index that missed events.
func (m *Manager) syncWorkingTree(ctx context.Context, repo *Repository, updateIndexed bool) error {
	results, err := m.scanner.Scan(ctx, &scanner.ScanOptions{RootDir: repo.RootPath})
	if err != nil {
		return err
	}

	visible := make(map[string]bool)
	for result := range results {
		if result.Error != nil {
			return result.Error
		}
		visible[result.File.Path] = true
	}

	repo.mu.RLock()
	indexed, err := repo.meta.FilePaths(ctx)
	repo.mu.RUnlock()
	if err != nil {
		return err
	}

	indexedSet := make(map[string]bool, len(indexed))
	for _, path := range indexed {
		indexedSet[path] = true
		if !visible[path] {
			if err := repo.removeFile(ctx, path); err != nil {
				slog.Warn("failed to remove stale file from index",
					slog.String("path", path),
					slog.String("error", err.Error()))
			}
		}
	}

	for path := range visible {
		if !indexedSet[path] || updateIndexed {
			if err := repo.updateFile(ctx, path); err != nil {
				slog.Warn("failed to index file during tree sync",
					slog.String("path", path),
					slog.String("error", err.Error()))
			}
		}
	}
	return nil
}

// StopWatch stops watching a repository. The in-flight event batch, if
// any, finishes before the session ends. Stopping an unwatched
// repository is a no-op.
func (m *Manager) StopWatch(path string) error {
	_, id, err := resolveRoot(path)
	if err != nil {
		return err
	}

	m.mu.Lock()
	session, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	m.stopSession(session)
	return nil
}

// StopAll stops every watch session. Safe to call repeatedly.
func (m *Manager) StopAll() error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*watchSession)
	m.mu.Unlock()

	for _, session := range sessions {
		m.stopSession(session)
	}
	return nil
}

func (m *Manager) stopSession(session *watchSession) {
	// Stop closes the event channel; the session loop drains what is
	// already in flight before done closes, so cancel comes last.
	_ = session.watcher.Stop()
	<-session.done
	session.cancel()

	slog.Info("stopped watching repository",
		slog.String("repo", session.repo.ID))
}
