package sums

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/suncumby/drms/pkg/archiveclient"
	"github.com/suncumby/drms/pkg/log"
	"github.com/suncumby/drms/pkg/metrics"
	"github.com/suncumby/drms/pkg/types"
)

// archiveWaitTimeout bounds a blocking wait for a pending tape fetch
// ("∼2 hours for tape fetches").
const archiveWaitTimeout = 2 * time.Hour

type jobOp int

const (
	jobAlloc jobOp = iota
	jobAlloc2
	jobGet
	jobPut
	jobInfo
	jobClose
	jobAbort
)

type job struct {
	tag int64
	op jobOp
	series string
	bytes int64
	tapeGroup int
	sunum int64
	sunums []int64
	dirs []string
	mode archiveclient.PutMode
	days int
	retention int
	reply chan jobResult
}

type jobResult struct {
	alloc *archiveclient.AllocReply
	get *archiveclient.GetReply
	info *archiveclient.InfoReply
	put *archiveclient.PutReply
	err error
}

// ArchiveBackend is the subset of ArchiveWorker the allocator and
// dispatcher actually call: new-unit requests, existing-unit fetches,
// and commit-time submission. Narrowing it to an interface — the same
// pattern pkg/session's ManagerClient and pkg/health's Pinger use —
// keeps both callers testable with a fake archive manager instead of a
// live gRPC connection.
type ArchiveBackend interface {
	Alloc(ctx context.Context, series string, bytes int64, tapeGroup int) (*archiveclient.AllocReply, error)
	Get(ctx context.Context, sunums []int64, retention int) (*archiveclient.GetReply, error)
	Put(ctx context.Context, units []*types.StorageUnit, mode archiveclient.PutMode, days int) error
}

// ArchiveWorker is the one dedicated goroutine that owns the connection
// to the external archive manager. Everything else talks to
// it through its in-box; it never shares that connection.
type ArchiveWorker struct {
	addr string
	caCertPEM []byte

	conn *archiveclient.Client
	inbox chan *job
	stopCh chan struct{}
	tagSeq int64

	logger zerolog.Logger
}

// NewArchiveWorker creates a worker that will dial addr on its first
// request. caCertPEM may be nil for an insecure (e.g. --sim) archive
// manager.
func NewArchiveWorker(addr string, caCertPEM []byte) *ArchiveWorker {
	return &ArchiveWorker{
		addr: addr,
		caCertPEM: caCertPEM,
		inbox: make(chan *job, 256),
		stopCh: make(chan struct{}),
		logger: log.WithComponent("archive-worker"),
	}
}

// Start runs the worker's loop in its own goroutine.
func (w *ArchiveWorker) Start() {
	go w.run()
}

// Stop signals the worker's goroutine to close its archive manager
// connection and exit. Jobs still queued in the in-box are not handled,
// and no CLOSE call is sent to the archive manager.
func (w *ArchiveWorker) Stop() {
	close(w.stopCh)
}

func (w *ArchiveWorker) run() {
	w.logger.Info().Msg("archive worker started")
	for {
		select {
			case j := <-w.inbox:
			metrics.ArchiveQueueDepth.Set(float64(len(w.inbox)))
			w.handle(j)
			case <-w.stopCh:
			if w.conn != nil {
				_ = w.conn.Close()
			}
			w.logger.Info().Msg("archive worker stopped")
			return
		}
	}
}

// ensureConn opens the archive manager connection lazily, on the first
// request that needs it. A dial failure is fatal: the archive manager
// is mandatory.
func (w *ArchiveWorker) ensureConn() error {
	if w.conn != nil {
		return nil
	}
	conn, err := archiveclient.Dial(w.addr, w.caCertPEM)
	if err != nil {
		w.logger.Fatal().Err(err).Str("addr", w.addr).Msg("archive manager connection required, exiting")
		return err // unreachable: Fatal exits the process
	}
	w.conn = conn
	return nil
}

func (w *ArchiveWorker) handle(j *job) {
	if j.op != jobClose && j.op != jobAbort {
		if err := w.ensureConn(); err != nil {
			j.reply <- jobResult{err: err}
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.timeoutFor(j.op))
	defer cancel()

	switch j.op {
	case jobAlloc:
		resp, err := w.conn.Alloc(ctx, &archiveclient.AllocRequest{Series: j.series, Bytes: j.bytes, TapeGroup: j.tapeGroup})
		j.reply <- jobResult{alloc: resp, err: err}

	case jobAlloc2:
		resp, err := w.conn.Alloc2(ctx, &archiveclient.Alloc2Request{Series: j.series, Bytes: j.bytes, TapeGroup: j.tapeGroup, Sunum: j.sunum})
		j.reply <- jobResult{alloc: resp, err: err}

	case jobGet:
		resp, err := w.getWithRetry(ctx, j)
		j.reply <- jobResult{get: resp, err: err}

	case jobPut:
		resp, err := w.conn.Put(ctx, &archiveclient.PutRequest{Sunums: j.sunums, Dirs: j.dirs, Mode: j.mode, Days: j.days})
		if err == nil && resp.TapeReadPending {
			err = ErrTapeReadPending
		}
		j.reply <- jobResult{put: resp, err: err}

	case jobInfo:
		resp, err := w.infoWithRetry(ctx, j)
		j.reply <- jobResult{info: resp, err: err}

	case jobClose:
		var err error
		if w.conn != nil {
			err = w.conn.CloseArchive(ctx)
		}
		j.reply <- jobResult{err: err}

	case jobAbort:
		var err error
		if w.conn != nil {
			err = w.conn.AbortArchive(ctx)
		}
		j.reply <- jobResult{err: err}
	}
}

// getWithRetry issues GET, following a pending reply through Wait, and
// retries the whole call up to infoRetryBudget times if the archive
// manager's inventory keeps coming back short — the
// retry-on-partial-inventory behavior carried over from the original
// storage-unit service implementation.
func (w *ArchiveWorker) getWithRetry(ctx context.Context, j *job) (*archiveclient.GetReply, error) {
	var last *archiveclient.GetReply
	retention := j.retention
	if retention > 0 {
		retention = 0 // the caller is never treated as the series owner
	}
	for attempt := 0; attempt <= infoRetryBudget; attempt++ {
		resp, err := w.conn.Get(ctx, &archiveclient.GetRequest{
				Sunums: j.sunums,
				Retention: retention,
				CallerOwnsSeries: false,
		})
		if err != nil {
			return nil, err
		}
		if resp.Pending {
			waitResp, err := w.conn.Wait(ctx, &archiveclient.WaitRequest{
					Tag: resp.Tag,
					TimeoutSeconds: int(archiveWaitTimeout.Seconds()),
			})
			if err != nil {
				return nil, err
			}
			if !waitResp.Ready {
				return nil, ErrRetryLater
			}
			resp.Units, resp.Pending = waitResp.Units, false
		}
		if len(resp.Units) >= len(j.sunums) {
			return resp, nil
		}
		last = resp
	}
	_ = last
	return nil, ErrBadQueryResult
}

func (w *ArchiveWorker) infoWithRetry(ctx context.Context, j *job) (*archiveclient.InfoReply, error) {
	for attempt := 0; attempt <= infoRetryBudget; attempt++ {
		resp, err := w.conn.Info(ctx, &archiveclient.InfoRequest{Sunums: j.sunums})
		if err != nil {
			return nil, err
		}
		if len(resp.Units) >= len(j.sunums) {
			return resp, nil
		}
	}
	return nil, ErrBadQueryResult
}

func (w *ArchiveWorker) timeoutFor(op jobOp) time.Duration {
	switch op {
	case jobGet:
		return archiveWaitTimeout
	default:
		return 30 * time.Second
	}
}

func (w *ArchiveWorker) nextTag() int64 {
	return atomic.AddInt64(&w.tagSeq, 1)
}

func (w *ArchiveWorker) submit(ctx context.Context, j *job) (jobResult, error) {
	j.tag = w.nextTag()
	j.reply = make(chan jobResult, 1)
	select {
	case w.inbox <- j:
	case <-ctx.Done():
		return jobResult{}, ctx.Err()
	}
	select {
	case res := <-j.reply:
		return res, res.err
	case <-ctx.Done():
		return jobResult{}, ctx.Err()
	}
}

// Alloc requests a single new unit (opcode ALLOC).
func (w *ArchiveWorker) Alloc(ctx context.Context, series string, bytes int64, tapeGroup int) (*archiveclient.AllocReply, error) {
	res, err := w.submit(ctx, &job{op: jobAlloc, series: series, bytes: bytes, tapeGroup: tapeGroup})
	if err != nil {
		return nil, err
	}
	return res.alloc, nil
}

// Alloc2 requests a new unit under a caller-reserved sunum (opcode
// ALLOC2).
func (w *ArchiveWorker) Alloc2(ctx context.Context, series string, bytes int64, tapeGroup int, sunum int64) (*archiveclient.AllocReply, error) {
	res, err := w.submit(ctx, &job{op: jobAlloc2, series: series, bytes: bytes, tapeGroup: tapeGroup, sunum: sunum})
	if err != nil {
		return nil, err
	}
	return res.alloc, nil
}

// Get fetches existing units, blocking on a pending tape read if
// necessary (opcode GET).
func (w *ArchiveWorker) Get(ctx context.Context, sunums []int64, retention int) (*archiveclient.GetReply, error) {
	if len(sunums) > archiveclient.BatchMax {
		return nil, fmt.Errorf("sums: get: %d sunums exceeds batch max %d", len(sunums), archiveclient.BatchMax)
	}
	res, err := w.submit(ctx, &job{op: jobGet, sunums: sunums, retention: retention})
	if err != nil {
		return nil, err
	}
	return res.get, nil
}

// Put submits units for archival with mode and a per-batch retention in
// days (opcode PUT). units must already have their manifests written.
func (w *ArchiveWorker) Put(ctx context.Context, units []*types.StorageUnit, mode archiveclient.PutMode, days int) error {
	sunums := make([]int64, len(units))
	dirs := make([]string, len(units))
	for i, u := range units {
		sunums[i], dirs[i] = int64(u.Sunum), u.Dir
	}
	_, err := w.submit(ctx, &job{op: jobPut, sunums: sunums, dirs: dirs, mode: mode, days: days})
	return err
}

// Info does a bulk metadata lookup (opcode INFO).
func (w *ArchiveWorker) Info(ctx context.Context, sunums []int64) (*archiveclient.InfoReply, error) {
	if len(sunums) > archiveclient.BatchMax {
		return nil, fmt.Errorf("sums: info: %d sunums exceeds batch max %d", len(sunums), archiveclient.BatchMax)
	}
	res, err := w.submit(ctx, &job{op: jobInfo, sunums: sunums})
	if err != nil {
		return nil, err
	}
	return res.info, nil
}

// Close flushes and closes the archive manager session (opcode CLOSE).
func (w *ArchiveWorker) Close(ctx context.Context) error {
	_, err := w.submit(ctx, &job{op: jobClose})
	return err
}

// Abort tells the archive manager to drop pending work without
// flushing (opcode ABORT, cancellation step c).
func (w *ArchiveWorker) Abort(ctx context.Context) error {
	_, err := w.submit(ctx, &job{op: jobAbort})
	return err
}
