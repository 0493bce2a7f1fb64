package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/chunkvault/internal/common"
	"github.com/dmitrijs2005/chunkvault/internal/logging"
	"github.com/dmitrijs2005/chunkvault/internal/server/auth"
	"github.com/dmitrijs2005/chunkvault/internal/server/chunker"
	"github.com/dmitrijs2005/chunkvault/internal/server/chunkstore"
	"github.com/dmitrijs2005/chunkvault/internal/server/metrics"
	"github.com/dmitrijs2005/chunkvault/internal/server/models"
	"github.com/dmitrijs2005/chunkvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/chunkvault/internal/server/repositories/syncevents"
	"github.com/google/uuid"
)

// UploadReport is the result of verifying an upload against the chunk store.
type UploadReport struct {
	Outcome        models.SyncOutcome `json:"outcome"`
	TotalChunks    int                `json:"total_chunks"`
	ChunksVerified int                `json:"chunks_verified"`
	MissingChunks  int                `json:"missing_chunks"`
}

// DeleteReport is the result of removing a deleted file's chunks.
type DeleteReport struct {
	ChunksDeleted   int      `json:"chunks_deleted"`
	FailedDeletions int      `json:"failed_deletions"`
	TotalChunks     int      `json:"total_chunks"`
	FailedKeys      []string `json:"failed_keys,omitempty"`
}

// UpdateReport describes the version history after an update.
type UpdateReport struct {
	Filename      string `json:"filename"`
	ContentType   string `json:"content_type"`
	VersionsCount int    `json:"versions_count"`
	LatestVersion int    `json:"latest_version"`
}

func newSyncEvent(fileID string, t models.SyncEventType, payload json.RawMessage, attempt int) *models.SyncEvent {
	return &models.SyncEvent{
		ID:      uuid.NewString(),
		FileID:  fileID,
		Type:    t,
		Status:  models.SyncPending,
		Payload: payload,
		Attempt: attempt,
	}
}

// SyncProcessor reconciles chunk store state with the manifest after
// uploads, deletes and updates. Events are persisted before they are queued;
// Sweep finds the ones the queue lost.
type SyncProcessor struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	chunks      *chunkIO
	opts        Options
	logger      logging.Logger
	metrics     *metrics.Metrics

	queue  chan string
	qmu    sync.Mutex
	queued map[string]struct{}
	wg     sync.WaitGroup
}

func NewSyncProcessor(db *sql.DB, rm repomanager.RepositoryManager, store chunkstore.Store, opts Options, l logging.Logger, m *metrics.Metrics) *SyncProcessor {
	return &SyncProcessor{
		db:          db,
		repomanager: rm,
		chunks:      newChunkIO(store, opts, m),
		opts:        opts,
		logger:      l.With("module", "sync"),
		metrics:     m,
		queue:       make(chan string, max(opts.SyncQueueSize, 1)),
		queued:      make(map[string]struct{}),
	}
}

// Submit persists a pending event and queues it for the workers.
func (p *SyncProcessor) Submit(ctx context.Context, fileID string, t models.SyncEventType, payload json.RawMessage) (*models.SyncEvent, error) {
	return p.submit(ctx, fileID, t, payload, 0)
}

func (p *SyncProcessor) submit(ctx context.Context, fileID string, t models.SyncEventType, payload json.RawMessage, attempt int) (*models.SyncEvent, error) {
	ev := newSyncEvent(fileID, t, payload, attempt)
	err := p.opts.manifest(ctx, func(ctx context.Context) error {
		return p.repomanager.SyncEvents(p.db).Create(ctx, ev)
	})
	if err != nil {
		return nil, fmt.Errorf("create %s sync event for %s: %w", t, fileID, err)
	}
	if !p.Enqueue(ctx, ev.ID) {
		p.logger.Warn(ctx, "sync queue full, event left for the sweep", "sync_event_id", ev.ID, "file_id", fileID)
	}
	return ev, nil
}

// Enqueue queues a persisted event without blocking. It reports false when
// the queue is full. An event that is already queued is not queued twice.
func (p *SyncProcessor) Enqueue(ctx context.Context, eventID string) bool {
	p.qmu.Lock()
	defer p.qmu.Unlock()
	if _, ok := p.queued[eventID]; ok {
		return true
	}
	select {
	case p.queue <- eventID:
		p.queued[eventID] = struct{}{}
		p.metrics.SetQueueDepth(len(p.queue))
		return true
	default:
		return false
	}
}

func (p *SyncProcessor) dequeued(eventID string) {
	p.qmu.Lock()
	delete(p.queued, eventID)
	p.qmu.Unlock()
	p.metrics.SetQueueDepth(len(p.queue))
}

// Run starts the workers, sweeps events left over from a previous run and
// starts the re-check loop. It blocks until ctx is done and every worker has
// returned. Events still queued at that point stay pending for the next
// sweep.
func (p *SyncProcessor) Run(ctx context.Context) error {
	workers := max(p.opts.SyncWorkers, 1)
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	p.logger.Info(ctx, "sync processor started", "workers", workers)

	// Nothing from a previous process is queued here, so every pending event
	// qualifies.
	if n, err := p.Sweep(ctx, 0); err != nil {
		p.logger.Warn(ctx, "startup sweep failed", "error", err)
	} else if n > 0 {
		p.logger.Info(ctx, "startup sweep queued events", "count", n)
	}

	if p.opts.RecheckInterval > 0 {
		p.wg.Add(1)
		go p.recheckLoop(ctx)
	}

	<-ctx.Done()
	p.wg.Wait()
	p.logger.Info(context.Background(), "sync processor stopped")
	return nil
}

func (p *SyncProcessor) worker(ctx context.Context, n int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-p.queue:
			p.dequeued(id)
			if _, err := p.Process(ctx, id); err != nil {
				p.logger.Warn(ctx, "sync event failed", "worker", n, "sync_event_id", id, "error", err)
			}
		}
	}
}

func (p *SyncProcessor) recheckLoop(ctx context.Context) {
	defer p.wg.Done()
	t := time.NewTicker(p.opts.RecheckInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n, err := p.Sweep(ctx, p.opts.PendingGrace); err != nil {
				p.logger.Warn(ctx, "sweep failed", "error", err)
			} else if n > 0 {
				p.logger.Info(ctx, "sweep queued stalled events", "count", n)
			}
			if n, err := p.Recheck(ctx); err != nil {
				p.logger.Warn(ctx, "recheck failed", "error", err)
			} else if n > 0 {
				p.logger.Debug(ctx, "recheck resubmitted uploads", "count", n)
			}
		}
	}
}

// Sweep queues events of any type that are not in the queue: pending events
// last touched more than grace ago, and processing events abandoned for
// longer than the processing timeout, which go back to pending first. It
// returns the number of events queued and stops early when the queue fills.
func (p *SyncProcessor) Sweep(ctx context.Context, grace time.Duration) (int, error) {
	now := time.Now()
	var processingBefore time.Time
	if p.opts.ProcessingTimeout > 0 {
		processingBefore = now.Add(-p.opts.ProcessingTimeout)
	}

	repo := p.repomanager.SyncEvents(p.db)
	var list []*models.SyncEvent
	err := p.opts.manifest(ctx, func(ctx context.Context) error {
		var err error
		list, err = repo.ListStalled(ctx, now.Add(-grace), processingBefore, max(p.opts.SyncQueueSize-len(p.queue), 1))
		return err
	})
	if err != nil {
		return 0, err
	}

	n := 0
	for _, ev := range list {
		if ev.Status == models.SyncProcessing {
			err := p.opts.manifestOnce(ctx, func(ctx context.Context) error {
				return repo.Transition(ctx, ev.ID, models.SyncProcessing, models.SyncPending, syncevents.Change{})
			})
			if errors.Is(err, syncevents.ErrStaleStatus) {
				continue
			}
			if err != nil {
				return n, err
			}
			p.logger.Warn(ctx, "reclaimed abandoned sync event", "sync_event_id", ev.ID, "file_id", ev.FileID, "since", ev.UpdatedAt)
		}
		if !p.Enqueue(ctx, ev.ID) {
			break
		}
		n++
	}
	return n, nil
}

// Recheck resubmits upload verification for files whose latest upload event
// is still converging. It returns the number of events submitted.
func (p *SyncProcessor) Recheck(ctx context.Context) (int, error) {
	var list []*models.SyncEvent
	err := p.opts.manifest(ctx, func(ctx context.Context) error {
		var err error
		list, err = p.repomanager.SyncEvents(p.db).ListRecheckCandidates(ctx, p.opts.RecheckMaxAttempts, max(p.opts.SyncQueueSize-len(p.queue), 1))
		return err
	})
	if err != nil {
		return 0, err
	}

	n := 0
	for _, ev := range list {
		if _, err := p.submit(ctx, ev.FileID, models.SyncUpload, nil, ev.Attempt+1); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// GetEvent returns the event by id.
func (p *SyncProcessor) GetEvent(ctx context.Context, id string) (*models.SyncEvent, error) {
	var ev *models.SyncEvent
	err := p.opts.manifest(ctx, func(ctx context.Context) error {
		var err error
		ev, err = p.repomanager.SyncEvents(p.db).Get(ctx, id)
		return err
	})
	return ev, err
}

// ListEvents returns the events of a file, newest first.
func (p *SyncProcessor) ListEvents(ctx context.Context, fileID string) ([]*models.SyncEvent, error) {
	var out []*models.SyncEvent
	err := p.opts.manifest(ctx, func(ctx context.Context) error {
		var err error
		out, err = p.repomanager.SyncEvents(p.db).ListByFile(ctx, fileID)
		return err
	})
	return out, err
}

// EventQuery filters ListOwnerEvents. A zero Limit means DefaultEventPage.
type EventQuery struct {
	Status models.SyncStatus
	Limit  int
	Offset int
}

const (
	DefaultEventPage = 100
	MaxEventPage     = 1000
)

// ListOwnerEvents returns the events of files id owns or owned, newest
// first. Events of deleted files are included.
func (p *SyncProcessor) ListOwnerEvents(ctx context.Context, id auth.Identity, q EventQuery) ([]*models.SyncEvent, error) {
	if id.IsZero() {
		return nil, common.ErrUnauthenticated
	}
	switch q.Status {
	case "", models.SyncPending, models.SyncProcessing, models.SyncCompleted, models.SyncFailed:
	default:
		return nil, fmt.Errorf("%w: unknown sync status %q", common.ErrValidation, q.Status)
	}
	if q.Limit < 0 || q.Offset < 0 {
		return nil, fmt.Errorf("%w: limit and offset must not be negative", common.ErrValidation)
	}
	if q.Limit == 0 {
		q.Limit = DefaultEventPage
	}
	q.Limit = min(q.Limit, MaxEventPage)

	var out []*models.SyncEvent
	err := p.opts.manifest(ctx, func(ctx context.Context) error {
		var err error
		out, err = p.repomanager.SyncEvents(p.db).ListByOwner(ctx, id.Subject, q.Status, q.Limit, q.Offset)
		return err
	})
	return out, err
}

// Process runs one event to a terminal status and returns it. Terminal
// events are returned as they are. The returned error is the processing
// failure recorded on a failed event.
func (p *SyncProcessor) Process(ctx context.Context, id string) (*models.SyncEvent, error) {
	ev, err := p.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if ev.Status.Terminal() {
		return ev, nil
	}

	repo := p.repomanager.SyncEvents(p.db)
	transition := func(ctx context.Context, from, to models.SyncStatus, c syncevents.Change) error {
		return p.opts.manifestOnce(ctx, func(ctx context.Context) error {
			return repo.Transition(ctx, id, from, to, c)
		})
	}
	if err := transition(ctx, models.SyncPending, models.SyncProcessing, syncevents.Change{}); err != nil {
		if errors.Is(err, syncevents.ErrStaleStatus) {
			// Another worker owns it.
			return p.GetEvent(ctx, id)
		}
		return nil, err
	}

	log := p.logger.With("sync_event_id", id, "file_id", ev.FileID, "type", ev.Type)
	log.Debug(ctx, "processing sync event", "attempt", ev.Attempt)

	outcome, report, procErr := p.handle(ctx, ev)

	// The closing write must land even when ctx was cancelled mid-way.
	wctx := context.WithoutCancel(ctx)
	if procErr != nil && ctx.Err() != nil {
		// Interrupted, not failed: hand the event back for the sweep.
		if err := transition(wctx, models.SyncProcessing, models.SyncPending, syncevents.Change{}); err != nil {
			return nil, errors.Join(procErr, fmt.Errorf("release sync event: %w", err))
		}
		log.Info(wctx, "sync event released", "error", procErr)
		return nil, procErr
	}
	if procErr != nil {
		err = transition(wctx, models.SyncProcessing, models.SyncFailed, syncevents.Change{Error: procErr.Error()})
		p.metrics.SyncEvent(string(ev.Type), string(models.SyncFailed))
		log.Error(ctx, "sync event failed", "error", procErr)
	} else {
		var raw []byte
		if raw, err = json.Marshal(report); err == nil {
			err = transition(wctx, models.SyncProcessing, models.SyncCompleted, syncevents.Change{Outcome: outcome, Result: raw})
		}
		p.metrics.SyncEvent(string(ev.Type), string(outcome))
		log.Info(ctx, "sync event completed", "outcome", outcome)
	}
	if err != nil {
		return nil, errors.Join(procErr, fmt.Errorf("record sync result: %w", err))
	}

	done, err := p.GetEvent(wctx, id)
	if err != nil {
		return nil, errors.Join(procErr, err)
	}
	return done, procErr
}

func (p *SyncProcessor) handle(ctx context.Context, ev *models.SyncEvent) (models.SyncOutcome, any, error) {
	switch ev.Type {
	case models.SyncUpload:
		r, err := p.verifyUpload(ctx, ev.FileID)
		return r.Outcome, r, err
	case models.SyncDelete:
		r, err := p.deleteChunks(ctx, ev)
		outcome := models.OutcomeCompleted
		if r.FailedDeletions > 0 {
			outcome = models.OutcomeIncomplete
		}
		return outcome, r, err
	case models.SyncUpdate:
		r, outcome, err := p.reportUpdate(ctx, ev.FileID)
		return outcome, r, err
	default:
		return "", nil, fmt.Errorf("%w: unknown sync event type %q", common.ErrValidation, ev.Type)
	}
}

// verifyUpload checks that every chunk the manifest lists resolves in the
// chunk store. A file that is missing or not completed yet, or has no chunk
// records, is reported as pending. It only reads, so running it again has no side effects.
func (p *SyncProcessor) verifyUpload(ctx context.Context, fileID string) (UploadReport, error) {
	r := UploadReport{Outcome: models.OutcomePending}

	var f *models.File
	err := p.opts.manifest(ctx, func(ctx context.Context) error {
		var err error
		f, err = p.repomanager.Files(p.db).Get(ctx, fileID)
		return err
	})
	if errors.Is(err, common.ErrNotFound) {
		return r, nil
	}
	if err != nil {
		return r, err
	}
	if f.Status != models.FileCompleted {
		return r, nil
	}

	var list []*models.Chunk
	err = p.opts.manifest(ctx, func(ctx context.Context) error {
		var err error
		list, err = p.repomanager.Chunks(p.db).ListByFile(ctx, fileID)
		return err
	})
	if err != nil {
		return r, err
	}
	if len(list) == 0 {
		return r, nil
	}

	found := make([]bool, len(list))
	err = fanOut(ctx, len(list), p.opts.Concurrency.Limit(len(list)), func(ctx context.Context, i int) error {
		ok, err := p.chunks.exists(ctx, list[i].Key)
		if err != nil {
			return &common.ChunkError{Index: list[i].Index, Key: list[i].Key, Err: err}
		}
		found[i] = ok
		return nil
	})
	if err != nil {
		return r, err
	}

	for _, ok := range found {
		if ok {
			r.ChunksVerified++
		}
	}
	r.TotalChunks = max(len(list), f.ChunkCount)
	r.MissingChunks = r.TotalChunks - r.ChunksVerified
	if r.MissingChunks == 0 {
		r.Outcome = models.OutcomeCompleted
	} else {
		r.Outcome = models.OutcomeIncomplete
	}
	return r, nil
}

// deleteChunks removes the keys captured in the event payload. Individual
// failures are counted and do not stop the batch. Keys outside the owner's
// key space are never deleted and count as failures.
func (p *SyncProcessor) deleteChunks(ctx context.Context, ev *models.SyncEvent) (DeleteReport, error) {
	var r DeleteReport
	var payload DeletePayload
	if len(ev.Payload) > 0 {
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return r, fmt.Errorf("%w: delete payload: %v", common.ErrValidation, err)
		}
	}

	keys := payload.Keys
	r.TotalChunks = len(keys)
	failed := make([]bool, len(keys))
	err := fanOut(ctx, len(keys), p.opts.Concurrency.Limit(len(keys)), func(ctx context.Context, i int) error {
		if payload.OwnerID != "" && !chunker.OwnedBy(keys[i], payload.OwnerID) {
			p.logger.Warn(ctx, "foreign chunk key in delete payload", "file_id", ev.FileID, "key", keys[i])
			failed[i] = true
			return nil
		}
		if err := p.chunks.delete(ctx, keys[i]); err != nil {
			p.logger.Warn(ctx, "chunk delete failed", "file_id", ev.FileID, "key", keys[i], "error", err)
			failed[i] = true
		}
		return nil
	})
	if err != nil {
		return r, err
	}

	for i, bad := range failed {
		if bad {
			r.FailedDeletions++
			r.FailedKeys = append(r.FailedKeys, keys[i])
		} else {
			r.ChunksDeleted++
		}
	}
	return r, nil
}

func (p *SyncProcessor) reportUpdate(ctx context.Context, fileID string) (UpdateReport, models.SyncOutcome, error) {
	var r UpdateReport

	var f *models.File
	err := p.opts.manifest(ctx, func(ctx context.Context) error {
		var err error
		f, err = p.repomanager.Files(p.db).Get(ctx, fileID)
		return err
	})
	if errors.Is(err, common.ErrNotFound) {
		return r, models.OutcomePending, nil
	}
	if err != nil {
		return r, "", err
	}

	var list []*models.Version
	err = p.opts.manifest(ctx, func(ctx context.Context) error {
		var err error
		list, err = p.repomanager.Versions(p.db).ListByFile(ctx, fileID)
		return err
	})
	if err != nil {
		return r, "", err
	}

	r.Filename = f.Filename
	r.ContentType = f.ContentType
	r.VersionsCount = len(list)
	for _, v := range list {
		r.LatestVersion = max(r.LatestVersion, v.Number)
	}
	return r, models.OutcomeCompleted, nil
}
