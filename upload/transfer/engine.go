// Package transfer implements the chunked transfer engine: ascending-order
// chunk scheduling under a concurrency bound, bounded per-chunk retries,
// cooperative pause/cancel, and the finalize (merge) step.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"

	"github.com/freaghill/hangjegyzet-sub008/upload/session"
)

// Engine drives one session from preparing/paused to completed or error.
// An engine owns its session exclusively; running two engines against the
// same session is not supported.
type Engine struct {
	cfg        Config
	sess       *session.Session
	source     Source
	service    Service
	saver      SessionSaver
	ctrl       *Controller
	logger     log.Logger
	stats      *Stats
	onProgress ProgressFunc

	mergedPath string
}

// NewEngine wires an engine for one session.
func NewEngine(
	cfg Config,
	sess *session.Session,
	source Source,
	service Service,
	saver SessionSaver,
	ctrl *Controller,
	logger log.Logger,
	onProgress ProgressFunc,
) (*Engine, error) {
	if sess == nil || source == nil || service == nil || saver == nil || ctrl == nil || logger == nil {
		return nil, errors.New("engine requires session, source, service, saver, controller, and logger")
	}
	return &Engine{
		cfg:        cfg.normalized(),
		sess:       sess,
		source:     source,
		service:    service,
		saver:      saver,
		ctrl:       ctrl,
		logger:     logger,
		stats:      NewStats(),
		onProgress: onProgress,
	}, nil
}

// Stats returns the per-chunk duration statistics of this engine.
func (e *Engine) Stats() *Stats {
	return e.stats
}

// MergedPath returns the storage path reported by the merge call, or "" if
// the session has not been finalized.
func (e *Engine) MergedPath() string {
	return e.mergedPath
}

// Run executes the transfer loop until the session completes, fails
// terminally, or is paused or cancelled through the controller. It can be
// called again after ErrPaused; chunks already acknowledged are skipped.
func (e *Engine) Run(ctx context.Context) error {
	runCtx, abort := context.WithCancel(ctx)
	defer abort()
	e.ctrl.attach(abort)
	defer e.ctrl.detach()

	e.sess.Status = session.StatusUploading
	if err := e.saver.Save(runCtx, e.sess); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	e.report(nil)

	terminal := e.transferChunks(runCtx)

	switch {
	case terminal != nil:
		e.persist(session.StatusError)
		e.report(terminal)
		return terminal
	case e.ctrl.Cancelled():
		e.report(ErrCancelled)
		return ErrCancelled
	case e.ctrl.Paused():
		e.persist(session.StatusPaused)
		e.report(nil)
		return ErrPaused
	case runCtx.Err() != nil:
		return runCtx.Err()
	default:
		return e.Finalize(runCtx)
	}
}

type chunkResult struct {
	index int
	err   error
}

// transferChunks schedules chunks in ascending index order, keeping at most
// cfg.Concurrency transfers in flight. It returns the first terminal error,
// or nil when every chunk is acknowledged or the run context was aborted.
func (e *Engine) transferChunks(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	total := e.sess.TotalChunks
	results := make(chan chunkResult, total)

	next := 0
	inFlight := 0
	var terminal error

	for {
		for terminal == nil && ctx.Err() == nil && inFlight < e.cfg.Concurrency {
			for next < total && e.sess.IsUploaded(next) {
				next++
			}
			if next >= total {
				break
			}
			index := next
			next++
			inFlight++
			go func() {
				results <- chunkResult{index: index, err: e.uploadChunkWithRetry(ctx, index)}
			}()
		}

		if inFlight == 0 {
			return terminal
		}

		res := <-results
		inFlight--

		if res.err == nil {
			e.sess.MarkUploaded(res.index)
			if err := e.saver.Save(ctx, e.sess); err != nil && terminal == nil && ctx.Err() == nil {
				terminal = fmt.Errorf("persist session after chunk %d: %w", res.index, err)
				stop()
			}
			e.report(nil)
			continue
		}

		// Failures caused by pause/cancel are not terminal; the caller maps
		// the stop cause from the controller.
		if ctx.Err() != nil || errors.Is(res.err, context.Canceled) {
			continue
		}
		if terminal == nil {
			terminal = res.err
			stop()
		}
	}
}

// uploadChunkWithRetry wraps one chunk's transfer with the retry policy:
// up to MaxRetries immediate retries after the first attempt, every failure
// treated alike, terminal ChunkError on exhaustion.
func (e *Engine) uploadChunkWithRetry(ctx context.Context, index int) error {
	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if attempt > 0 && e.cfg.RetryDelay > 0 {
			select {
			case <-time.After(e.cfg.RetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		start := time.Now()
		err := e.uploadChunk(ctx, index)
		if err == nil {
			took := time.Since(start)
			e.stats.Update(took)
			e.logger.Debugf("Chunk %d/%d uploaded in %v (avg %v)",
				index+1, e.sess.TotalChunks,
				took.Round(time.Millisecond), e.stats.Average().Round(time.Millisecond))
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		e.logger.Warnf("Chunk %d attempt %d/%d failed: %v", index, attempt+1, e.cfg.MaxRetries+1, err)
	}

	return &ChunkError{Index: index, Retries: e.cfg.MaxRetries, Err: lastErr}
}

func (e *Engine) uploadChunk(ctx context.Context, index int) error {
	reader, err := e.source.ChunkAt(index)
	if err != nil {
		return fmt.Errorf("read chunk %d: %w", index, err)
	}

	return e.service.UploadChunk(ctx, ChunkRequest{
		UploadID:    e.sess.ID,
		Index:       index,
		TotalChunks: e.sess.TotalChunks,
		FileName:    e.sess.FileName,
		FileType:    e.sess.FileType,
		FileSize:    e.sess.FileSize,
		Body:        reader,
		Size:        e.source.ChunkSize(index),
		Extra:       e.sess.Extra,
	})
}

// Finalize issues the merge call once every chunk is acknowledged. It is
// safe to call again after a MergeError; the decision to retry finalization
// is the caller's, never automatic. A pause or cancel that lands while the
// merge is in flight is reported as ErrPaused/ErrCancelled, not as a
// MergeError.
func (e *Engine) Finalize(ctx context.Context) error {
	if !e.sess.Complete() {
		return fmt.Errorf("cannot merge: %d of %d chunks uploaded", e.sess.UploadedCount(), e.sess.TotalChunks)
	}

	result, err := e.service.Merge(ctx, MergeRequest{
		UploadID:    e.sess.ID,
		FileName:    e.sess.FileName,
		FileType:    e.sess.FileType,
		FileSize:    e.sess.FileSize,
		TotalChunks: e.sess.TotalChunks,
		Extra:       e.sess.Extra,
	})
	if err != nil {
		// The controller aborts the run context, so an interrupted merge
		// surfaces here as a context error. Map the stop cause before
		// treating the failure as terminal.
		switch {
		case e.ctrl.Cancelled():
			e.report(ErrCancelled)
			return ErrCancelled
		case e.ctrl.Paused():
			e.persist(session.StatusPaused)
			e.report(nil)
			return ErrPaused
		case ctx.Err() != nil:
			return ctx.Err()
		}
		mergeErr := &MergeError{Reason: err.Error(), Err: err}
		e.persist(session.StatusError)
		e.report(mergeErr)
		return mergeErr
	}

	e.mergedPath = result.Path
	e.sess.Status = session.StatusCompleted
	e.report(nil)

	elapsed := time.Since(e.sess.StartTime)
	e.logger.Donef("Uploaded %s in %s (%d chunks, avg chunk time %v)",
		units.HumanSizeWithPrecision(float64(e.sess.FileSize), 3),
		elapsed.Round(time.Second), e.sess.TotalChunks,
		e.stats.Average().Round(time.Millisecond))

	return nil
}

// persist records a status transition. It uses a fresh context because the
// run context is already cancelled on the pause and cancel paths.
func (e *Engine) persist(status session.Status) {
	e.sess.Status = status
	if err := e.saver.Save(context.Background(), e.sess); err != nil {
		e.logger.Warnf("Failed to persist session %s: %v", e.sess.ID, err)
	}
}

func (e *Engine) report(err error) {
	if e.onProgress == nil {
		return
	}
	e.onProgress(session.Snapshot(e.sess, time.Now(), err))
}
