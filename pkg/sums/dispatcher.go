package sums

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/suncumby/drms/pkg/events"
	"github.com/suncumby/drms/pkg/log"
	"github.com/suncumby/drms/pkg/manager"
	"github.com/suncumby/drms/pkg/metrics"
	"github.com/suncumby/drms/pkg/types"
)

// Dispatcher is the SUMS storage-unit service's single listening
// endpoint: one goroutine per accepted call, a shared lock
// around cache mutation, and delegation to the archive worker for
// anything that needs the external archive manager.
type Dispatcher struct {
	mgr *manager.Manager
	alloc *Allocator
	worker ArchiveBackend
	remote RemoteResolver
	events *events.Broker

	localSite int

	// server_lock: guards openSessions and noMoreOpens. Allocator has
	// its own lock around the storage-unit cache; this one is narrower,
	// matching its per-subsystem-lock DESIGN NOTE rather than one
	// lock for everything.
	mu sync.Mutex
	openSessions map[string]*types.Session
	noMoreOpens bool

	logger zerolog.Logger
}

// NewDispatcher creates a Dispatcher. localSite is this installation's
// site code, used by the remote-site fallback. broker may
// be nil, in which case session/unit lifecycle events are simply not
// published.
func NewDispatcher(mgr *manager.Manager, alloc *Allocator, worker ArchiveBackend, remote RemoteResolver, broker *events.Broker, localSite int) *Dispatcher {
	return &Dispatcher{
		mgr: mgr,
		alloc: alloc,
		worker: worker,
		remote: remote,
		events: broker,
		localSite: localSite,
		openSessions: make(map[string]*types.Session),
		logger: log.WithComponent("dispatcher"),
	}
}

func (d *Dispatcher) publish(t events.EventType, msg string, meta map[string]string) {
	if d.events == nil {
		return
	}
	d.events.Publish(&events.Event{
		ID: uuid.NewString(),
		Type: t,
		Timestamp: time.Now(),
		Message: msg,
		Metadata: meta,
	})
}

// Serve accepts connections on ln until it errors or the listener is
// closed ("each accepted call runs on its own thread").
func (d *Dispatcher) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go d.handleConn(conn)
	}
}

func (d *Dispatcher) handleConn(conn net.Conn) {
	defer conn.Close()

	req, err := ReadRequest(conn)
	if err != nil {
		return
	}

	timer := metrics.NewTimer()
	status, reply := d.dispatch(context.Background(), req)
	timer.ObserveDurationVec(metrics.APIRequestDuration, opcodeName(req.Op))
	metrics.APIRequestsTotal.WithLabelValues(opcodeName(req.Op), statusLabel(status)).Inc()

	if req.Op == OpDisconnect {
		return // abort-flag arg; no reply
	}
	_ = WriteReply(conn, status, reply)
}

// dispatch authenticates (except for OPEN) and routes one request to
// its handler.
func (d *Dispatcher) dispatch(ctx context.Context, req Request) (Status, KVList) {
	if req.Op != OpOpen {
		if _, ok := d.authenticate(req.Args); !ok {
			return StatusUnauthorized, nil
		}
	}

	switch req.Op {
	case OpOpen:
		return d.handleOpen(req.Args)
	case OpDisconnect:
		d.handleDisconnect(req.Args)
		return StatusOK, nil
	case OpNewSlots:
		return d.handleNewSlots(ctx, req.Args)
	case OpGetUnit:
		return d.handleGetUnit(ctx, req.Args)
	case OpGetUnits:
		return d.handleGetUnits(ctx, req.Args)
	case OpGetSUDir:
		return d.handleGetSUDir(req.Args)
	case OpGetSUDirs:
		return d.handleGetSUDirs(req.Args)
	case OpGetSUInfo:
		return d.handleGetSUInfo(ctx, req.Args)
	case OpSlotSetState:
		return d.handleSlotSetState(req.Args)
	case OpSetRetention:
		return d.handleSetRetention(req.Args)
	case OpCommit:
		return d.handleCommit(ctx, req.Args)
	case OpRollback:
		return d.handleRollback(req.Args)
	default:
		return StatusNotHandled, nil
	}
}

func (d *Dispatcher) authenticate(args KVList) (*types.Session, bool) {
	id := args.String("session_id")
	d.mu.Lock()
	defer d.mu.Unlock()
	sess, ok := d.openSessions[id]
	return sess, ok
}

func (d *Dispatcher) handleOpen(args KVList) (Status, KVList) {
	d.mu.Lock()
	if d.noMoreOpens {
		d.mu.Unlock()
		return StatusError, nil
	}
	d.mu.Unlock()

	sess := &types.Session{
		ID: newSessionID(),
		Namespace: args.String("namespace"),
		Capabilities: types.Capability(args.Int("capabilities")),
		OpenedAt: time.Now(),
	}
	if err := d.mgr.CreateSession(sess); err != nil {
		d.logger.Error().Err(err).Msg("failed to create session")
		return StatusError, nil
	}

	d.mu.Lock()
	d.openSessions[sess.ID] = sess
	d.mu.Unlock()
	d.publish(events.EventSessionOpened, "session opened", map[string]string{"session_id": sess.ID, "namespace": sess.Namespace})

	return StatusOK, KVList{kvString("session_id", sess.ID)}
}

func (d *Dispatcher) handleDisconnect(args KVList) {
	id := args.String("session_id")
	d.mu.Lock()
	delete(d.openSessions, id)
	d.mu.Unlock()
	d.publish(events.EventSessionClosed, "session closed", map[string]string{"session_id": id})
	if err := d.mgr.DeleteSession(id); err != nil {
		d.logger.Warn().Err(err).Str("session_id", id).Msg("failed to delete session on disconnect")
	}
}

func (d *Dispatcher) handleNewSlots(ctx context.Context, args KVList) (Status, KVList) {
	series := args.String("series")
	unitSize := args.Int("unit_size")
	archiveFlag := types.ArchiveFlag(args.Int("archive"))
	tapeGroup := int(args.Int("tape_group"))

	su, slot, err := d.alloc.AllocateSlot(ctx, series, unitSize, archiveFlag, tapeGroup)
	if err != nil {
		d.logger.Error().Err(err).Str("series", series).Msg("slot allocation failed")
		return StatusError, nil
	}
	d.publish(events.EventUnitAllocated, "storage unit slot allocated", map[string]string{"series": series, "sunum": fmt.Sprintf("%d", su.Sunum)})
	return StatusOK, KVList{
		kvInt("sunum", int64(su.Sunum)),
		kvString("sudir", su.Dir),
		kvInt("slot", int64(slot)),
	}
}

func (d *Dispatcher) handleGetUnit(ctx context.Context, args KVList) (Status, KVList) {
	sunum := types.SUNUM(args.Int("sunum"))
	retrieve := args.Int("retrieve") != 0
	retention := int(args.Int("retention"))

	sess, _ := d.authenticate(args)

	su, err := d.mgr.GetStorageUnit(sunum)
	if err == nil && su != nil && su.Dir != "" {
		return StatusOK, suToKV(su)
	}

	if sess != nil && !sess.Capabilities.Has(types.CapOfflineRetrieve) {
		return StatusCapability, nil
	}

	firstAttempt := true
	if shouldTryRemote(sunum, d.localSite, retrieve, firstAttempt) {
		action := d.remote.Resolve(ctx, sunum.SiteCode(), map[string][]types.SUNUM{"": {sunum}})
		switch action {
			case RemoteDontRetry:
			d.publish(events.EventArchiveRetryLater, "remote site declined retry", map[string]string{"sunum": fmt.Sprintf("%d", sunum)})
			return StatusRetryLater, nil
			case RemoteFailure:
			return StatusError, nil
			case RemoteRetryOnce:
			// fall through to the archive GET below
		}
	}

	reply, err := d.worker.Get(ctx, []int64{int64(sunum)}, retention)
	if err != nil {
		return statusForArchiveErr(err)
	}
	if len(reply.Units) == 0 {
		return StatusNotFound, nil
	}
	unit := reply.Units[0]
	fetched := &types.StorageUnit{Sunum: sunum, Dir: unit.Sudir, Mode: types.SUReadOnly}
	if err := d.mgr.UpdateStorageUnit(fetched); err != nil {
		d.logger.Warn().Err(err).Int64("sunum", int64(sunum)).Msg("failed to record fetched unit")
	}
	d.publish(events.EventUnitFetched, "storage unit fetched from archive", map[string]string{"sunum": fmt.Sprintf("%d", sunum)})
	return StatusOK, suToKV(fetched)
}

// handleGetUnits serves GETUNITS through the same single-unit
// cache-then-fallback path as GETUNIT: it reads the one "sunum" argument
// and fetches that unit only; it does not fetch a batch of units.
func (d *Dispatcher) handleGetUnits(ctx context.Context, args KVList) (Status, KVList) {
	return d.handleGetUnit(ctx, args)
}

func (d *Dispatcher) handleGetSUDir(args KVList) (Status, KVList) {
	sunum := types.SUNUM(args.Int("sunum"))
	su, err := d.mgr.GetStorageUnit(sunum)
	if err != nil || su == nil {
		return StatusNotFound, nil
	}
	return StatusOK, KVList{kvString("sudir", su.Dir)}
}

func (d *Dispatcher) handleGetSUDirs(args KVList) (Status, KVList) {
	return d.handleGetSUDir(args)
}

func (d *Dispatcher) handleGetSUInfo(ctx context.Context, args KVList) (Status, KVList) {
	sunum := types.SUNUM(args.Int("sunum"))
	su, err := d.mgr.GetStorageUnit(sunum)
	if err != nil || su == nil {
		return StatusNotFound, nil
	}
	return StatusOK, suToKV(su)
}

// handleSlotSetState serves SLOT_SETSTATE. Unlike the catalog-query
// opcodes, slot state lives in the storage-unit cache this service
// owns, not in the relational catalog, so this one call a session
// genuinely needs answered here: it promotes a TEMP slot to FULL with
// its real recnum once close_records(INSERT) has one.
func (d *Dispatcher) handleSlotSetState(args KVList) (Status, KVList) {
	sunum := types.SUNUM(args.Int("sunum"))
	slot := int(args.Int("slot"))
	recnum := args.Int("recnum")

	if err := d.alloc.MarkSlotFull(sunum, slot, recnum); err != nil {
		d.logger.Error().Err(err).Int64("sunum", int64(sunum)).Int("slot", slot).Msg("slot_setstate failed")
		return StatusError, nil
	}
	return StatusOK, nil
}

func (d *Dispatcher) handleSetRetention(args KVList) (Status, KVList) {
	sunum := types.SUNUM(args.Int("sunum"))
	days := int(args.Int("days"))

	su, err := d.mgr.GetStorageUnit(sunum)
	if err != nil || su == nil {
		return StatusNotFound, nil
	}
	su.RetentionDays = days
	if err := d.mgr.UpdateStorageUnit(su); err != nil {
		return StatusError, nil
	}
	return StatusOK, nil
}

func (d *Dispatcher) handleCommit(ctx context.Context, args KVList) (Status, KVList) {
	series := args.String("series")
	archiveFlag := types.ArchiveFlag(args.Int("archive"))
	retentionDays := int(args.Int("retention"))

	if err := d.alloc.CommitSeriesUnits(ctx, series, archiveFlag, retentionDays); err != nil {
		d.logger.Error().Err(err).Str("series", series).Msg("commit failed")
		d.publish(events.EventArchiveSubmitFailed, "archive submission failed", map[string]string{"series": series, "error": err.Error()})
		return StatusError, nil
	}
	d.publish(events.EventUnitCommitted, "series units submitted to archive", map[string]string{"series": series})
	return StatusOK, nil
}

func (d *Dispatcher) handleRollback(args KVList) (Status, KVList) {
	// A rollback simply abandons whatever TEMP slots the session
	// allocated; they stay TEMP, since the allocator hands out only FREE
	// slots and the reconciler's session expiry does not touch units.
	// No manifest is ever written for a unit that never reaches commit.
	return StatusOK, nil
}

func statusForArchiveErr(err error) (Status, KVList) {
	switch {
	case errors.Is(err, ErrRetryLater):
		return StatusRetryLater, nil
	case errors.Is(err, ErrBadQueryResult):
		return StatusError, nil
	default:
		return StatusError, nil
	}
}

func suToKV(su *types.StorageUnit) KVList {
	return KVList{
		kvInt("sunum", int64(su.Sunum)),
		kvString("sudir", su.Dir),
		kvString("series", su.Series),
		kvInt("mode", int64(su.Mode)),
		kvInt("nfree", int64(su.NFree)),
	}
}

func opcodeName(op Opcode) string {
	switch op {
	case OpOpen:
		return "open"
	case OpDisconnect:
		return "disconnect"
	case OpCommit:
		return "commit"
	case OpRollback:
		return "rollback"
	case OpNewSlots:
		return "newslots"
	case OpGetUnit:
		return "getunit"
	case OpGetUnits:
		return "getunits"
	case OpGetSUDir:
		return "getsudir"
	case OpGetSUDirs:
		return "getsudirs"
	case OpGetSUInfo:
		return "getsuinfo"
	case OpSetRetention:
		return "setretention"
	case OpSlotSetState:
		return "slot_setstate"
	default:
		return "unhandled"
	}
}

func statusLabel(s Status) string {
	if s == StatusOK {
		return "ok"
	}
	return "error"
}

// Shutdown implements the SHUTDOWN call's two-phase protocol: it sets
// the no-more-opens flag and reports whether the active open set is
// empty (safe to halt) or not (names of holders are logged).
func (d *Dispatcher) Shutdown() (safeToHalt bool, holders []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.noMoreOpens = true
	for id := range d.openSessions {
		holders = append(holders, id)
	}
	return len(holders) == 0, holders
}
