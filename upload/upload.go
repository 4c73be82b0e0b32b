// Package upload is the entry point of the chunked upload manager. A Manager
// validates files, creates and resumes durable sessions, and hands out Upload
// handles that drive the transfer engine with pause, resume, and cancel.
package upload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"

	"github.com/freaghill/hangjegyzet-sub008/upload/session"
	"github.com/freaghill/hangjegyzet-sub008/upload/store"
	"github.com/freaghill/hangjegyzet-sub008/upload/transfer"
)

// Manager creates, resumes, and cleans up upload sessions.
type Manager struct {
	cfg       Config
	store     store.Store
	service   transfer.Service
	validator Validator
	logger    log.Logger
	tracker   uploadTracker
}

// NewManager wires a manager from its collaborators.
func NewManager(cfg Config, st store.Store, service transfer.Service, envRepo env.Repository, logger log.Logger) (*Manager, error) {
	if st == nil || service == nil || logger == nil {
		return nil, errors.New("manager requires store, service, and logger")
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = session.DefaultChunkSize
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = session.DefaultTTL
	}
	if cfg.LeaseDir == "" {
		cfg.LeaseDir = DefaultConfig().LeaseDir
	}
	if cfg.Verbose {
		logger.EnableDebugLog(true)
	}

	return &Manager{
		cfg:       cfg,
		store:     st,
		service:   service,
		validator: NewPolicyValidator(cfg.MaxFileSize, cfg.AllowedPatterns),
		logger:    logger,
		tracker:   newUploadTracker(envRepo, logger),
	}, nil
}

// InitializeUpload validates the file, creates a new session, persists it,
// and returns an Upload handle ready to Start. Extra fields are attached to
// every chunk and merge call.
func (m *Manager) InitializeUpload(ctx context.Context, filePath, fileType string, extra map[string]string) (*Upload, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}

	if err := m.validator.Validate(FileInfo{Name: info.Name(), Size: info.Size(), Type: fileType}); err != nil {
		return nil, err
	}

	sess, err := session.New(info.Name(), info.Size(), fileType, m.cfg.ChunkSize, m.cfg.SessionTTL)
	if err != nil {
		return nil, err
	}
	sess.Extra = extra

	upload, err := m.newUpload(sess, filePath)
	if err != nil {
		return nil, err
	}

	if err := m.store.Save(ctx, sess); err != nil {
		upload.releaseResources()
		return nil, fmt.Errorf("persist session: %w", err)
	}

	m.logger.Infof("Upload %s: %s (%s, %d chunks of %s)",
		sess.ID, sess.FileName,
		units.HumanSizeWithPrecision(float64(sess.FileSize), 3),
		sess.TotalChunks, units.HumanSize(float64(sess.ChunkSize)))
	m.tracker.logUploadStarted(sess.FileSize, sess.TotalChunks, false)

	return upload, nil
}

// Resume loads an interrupted session and returns an Upload handle that
// skips the chunks already acknowledged. The file at filePath must be the
// session's file: name, size, and type have to match exactly.
func (m *Manager) Resume(ctx context.Context, uploadID, filePath, fileType string) (*Upload, error) {
	sess, err := m.store.Load(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	if sess.Expired(time.Now()) {
		if err := m.store.Delete(ctx, uploadID); err != nil {
			m.logger.Warnf("Failed to remove expired session %s: %v", uploadID, err)
		}
		return nil, ErrSessionExpired
	}
	if sess.Status == session.StatusCompleted {
		return nil, fmt.Errorf("upload %s is already completed", uploadID)
	}

	info, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !sess.Matches(info.Name(), info.Size(), fileType) {
		return nil, &ValidationError{Reason: fmt.Sprintf(
			"file %q (%d bytes, %s) does not match session %s",
			info.Name(), info.Size(), fileType, uploadID)}
	}

	upload, err := m.newUpload(sess, filePath)
	if err != nil {
		return nil, err
	}

	m.logger.Infof("Resuming upload %s: %d/%d chunks already uploaded",
		sess.ID, sess.UploadedCount(), sess.TotalChunks)
	m.tracker.logUploadStarted(sess.FileSize, sess.TotalChunks, true)

	return upload, nil
}

// ListResumable returns the stored sessions still eligible for resume.
func (m *Manager) ListResumable(ctx context.Context) ([]store.Summary, error) {
	return m.store.ListResumable(ctx, time.Now())
}

// CleanupExpired removes sessions past their resume deadline and returns the
// number removed.
func (m *Manager) CleanupExpired(ctx context.Context) (int64, error) {
	removed, err := m.store.DeleteExpired(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		m.logger.Debugf("Removed %d expired upload sessions", removed)
	}
	return removed, nil
}

// Close flushes pending telemetry. It does not close the store; the store's
// lifecycle belongs to the caller who opened it.
func (m *Manager) Close() {
	m.tracker.wait()
}

func (m *Manager) newUpload(sess *session.Session, filePath string) (*Upload, error) {
	lease, err := store.AcquireLease(m.cfg.LeaseDir, sess.ID)
	if err != nil {
		return nil, err
	}

	source, err := transfer.NewFileSource(filePath, sess.ChunkSize)
	if err != nil {
		_ = lease.Release()
		return nil, err
	}

	upload := &Upload{
		manager: m,
		sess:    sess,
		source:  source,
		ctrl:    transfer.NewController(),
		lease:   lease,
	}

	engine, err := transfer.NewEngine(
		m.cfg.transferConfig(), sess, source, m.service, m.store, upload.ctrl, m.logger, upload.handleProgress,
	)
	if err != nil {
		upload.releaseResources()
		return nil, err
	}
	upload.engine = engine
	return upload, nil
}

// Upload is the handle for one in-progress upload session. It is created by
// Manager.InitializeUpload or Manager.Resume and holds the session lease
// until the upload finishes or the handle is closed.
type Upload struct {
	manager *Manager
	sess    *session.Session
	source  *transfer.FileSource
	ctrl    *transfer.Controller
	lease   *store.Lease
	engine  *transfer.Engine

	mu         sync.Mutex
	running    bool
	finished   bool
	onProgress transfer.ProgressFunc
	progress   session.Progress
}

// ID returns the session's upload id.
func (u *Upload) ID() string {
	return u.sess.ID
}

// OnProgress registers a callback invoked on every progress change. Set it
// before Start; the callback runs on the engine goroutine and must be quick.
func (u *Upload) OnProgress(fn transfer.ProgressFunc) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.onProgress = fn
}

// Progress returns the latest progress snapshot.
func (u *Upload) Progress() session.Progress {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.progress.UploadID == "" {
		return session.Snapshot(u.sess, time.Now(), nil)
	}
	return u.progress
}

// MergedPath returns the storage path of the merged file after completion.
func (u *Upload) MergedPath() string {
	return u.engine.MergedPath()
}

// Start runs the transfer until completion, terminal failure, pause, or
// cancellation. After ErrPaused, call Resume and Start again to continue.
func (u *Upload) Start(ctx context.Context) error {
	u.mu.Lock()
	if u.finished {
		u.mu.Unlock()
		return errors.New("upload is finished")
	}
	if u.running {
		u.mu.Unlock()
		return errors.New("upload is already running")
	}
	u.running = true
	u.mu.Unlock()

	err := u.engine.Run(ctx)

	u.mu.Lock()
	u.running = false
	u.mu.Unlock()

	switch {
	case err == nil:
		u.completed(ctx)
		return nil
	case errors.Is(err, transfer.ErrPaused):
		return err
	case errors.Is(err, transfer.ErrCancelled):
		u.cancelled(ctx)
		return err
	case errors.Is(ctx.Err(), context.Canceled), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return err
	default:
		u.manager.tracker.logUploadFailed(u.sess.UploadedCount(), u.sess.TotalChunks)
		return err
	}
}

// Pause requests a pause. In-flight chunk requests are aborted; acknowledged
// chunks stay recorded. Pausing a paused upload is a no-op.
func (u *Upload) Pause() {
	u.ctrl.Pause()
}

// Resume clears a pause. The transfer continues when Start is called again.
func (u *Upload) Resume() {
	u.ctrl.Resume()
}

// Cancel permanently stops the upload and discards the session. If the
// transfer is running, teardown happens when Start returns; otherwise it
// happens here.
func (u *Upload) Cancel(ctx context.Context) {
	u.ctrl.Cancel()

	u.mu.Lock()
	running := u.running
	u.mu.Unlock()
	if !running {
		u.cancelled(ctx)
	}
}

// Finalize retries the merge step after a merge failure. Every chunk must
// already be acknowledged.
func (u *Upload) Finalize(ctx context.Context) error {
	u.mu.Lock()
	if u.finished {
		u.mu.Unlock()
		return errors.New("upload is finished")
	}
	u.mu.Unlock()

	if err := u.engine.Finalize(ctx); err != nil {
		return err
	}
	u.completed(ctx)
	return nil
}

// Close releases the file handle and the session lease without discarding
// the session, so a paused upload can be resumed later, even by another
// process.
func (u *Upload) Close() {
	u.releaseResources()
}

func (u *Upload) handleProgress(p session.Progress) {
	u.mu.Lock()
	u.progress = p
	fn := u.onProgress
	u.mu.Unlock()
	if fn != nil {
		fn(p)
	}
}

// completed removes the finished session and releases resources.
func (u *Upload) completed(ctx context.Context) {
	u.mu.Lock()
	if u.finished {
		u.mu.Unlock()
		return
	}
	u.finished = true
	u.mu.Unlock()

	if err := u.manager.store.Delete(ctx, u.sess.ID); err != nil {
		u.manager.logger.Warnf("Failed to remove completed session %s: %v", u.sess.ID, err)
	}
	u.releaseResources()
	u.manager.tracker.logUploadCompleted(time.Since(u.sess.StartTime), u.sess.FileSize, u.sess.TotalChunks)
}

// cancelled discards the session, asks the service to drop stored chunks if
// it can, and releases resources.
func (u *Upload) cancelled(ctx context.Context) {
	u.mu.Lock()
	if u.finished {
		u.mu.Unlock()
		return
	}
	u.finished = true
	u.mu.Unlock()

	if err := u.manager.store.Delete(ctx, u.sess.ID); err != nil {
		u.manager.logger.Warnf("Failed to remove cancelled session %s: %v", u.sess.ID, err)
	}
	if aborter, ok := u.manager.service.(transfer.Aborter); ok {
		if err := aborter.Abort(ctx, u.sess.ID); err != nil {
			u.manager.logger.Warnf("Failed to abort remote upload %s: %v", u.sess.ID, err)
		}
	}
	u.releaseResources()
	u.manager.logger.Printf("Upload %s cancelled after %d/%d chunks",
		u.sess.ID, u.sess.UploadedCount(), u.sess.TotalChunks)
	u.manager.tracker.logUploadCancelled(u.sess.UploadedCount(), u.sess.TotalChunks)
}

func (u *Upload) releaseResources() {
	if u.source != nil {
		if err := u.source.Close(); err != nil {
			u.manager.logger.Debugf("Failed to close upload source: %v", err)
		}
	}
	if u.lease != nil {
		if err := u.lease.Release(); err != nil {
			u.manager.logger.Debugf("Failed to release session lease: %v", err)
		}
	}
}
