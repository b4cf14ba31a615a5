package sums

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/suncumby/drms/pkg/archiveclient"
	"github.com/suncumby/drms/pkg/manager"
	"github.com/suncumby/drms/pkg/metrics"
	"github.com/suncumby/drms/pkg/storage"
	"github.com/suncumby/drms/pkg/types"
)

// submitBatchMax is the archive-submission batch size empirically
// optimal for the external manager.
const submitBatchMax = 64

// Allocator is the per-series storage-unit cache and slot allocator: it
// hands existing READWRITE units their free slots before ever asking
// the archive worker for a new one, and drives a unit from READWRITE
// to READONLY at commit time.
type Allocator struct {
	mu sync.Mutex
	mgr *manager.Manager
	worker ArchiveBackend
	groups []int // configured tape-group rotation
	nextIdx int
}

// NewAllocator creates an Allocator backed by mgr for metadata and
// worker for new-unit requests to the archive manager. groups is the
// tape-group rotation used when a caller doesn't pin a specific group.
func NewAllocator(mgr *manager.Manager, worker ArchiveBackend, groups []int) *Allocator {
	if len(groups) == 0 {
		groups = []int{0}
	}
	return &Allocator{mgr: mgr, worker: worker, groups: groups}
}

// pickTapeGroup rotates through the configured groups, preferring
// whichever has written the fewest bytes so far — the "round-robin with
// backpressure" allocator.
func (a *Allocator) pickTapeGroup() int {
	best := a.groups[0]
	var bestBytes int64 = -1
	for i := 0; i < len(a.groups); i++ {
		idx := (a.nextIdx + i) % len(a.groups)
		group := a.groups[idx]
		state, err := a.mgr.GetTapeGroup(group)
		var written int64
		if err == nil && state != nil {
			written = state.BytesWritten
		}
		if bestBytes < 0 || written < bestBytes {
			best, bestBytes = group, written
		}
	}
	a.nextIdx = (a.nextIdx + 1) % len(a.groups)
	return best
}

// AllocateSlot gives series a slot to write a new record into: an
// existing READWRITE unit with nfree > 0 if one is cached, otherwise a
// freshly allocated unit from the archive manager. The returned slot
// index's state is SlotTemp until a commit marks it SlotFull with a
// real recnum.
func (a *Allocator) AllocateSlot(ctx context.Context, series string, unitSize int64, archive types.ArchiveFlag, tapeGroup int) (*types.StorageUnit, int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	units, err := a.mgr.ListStorageUnitsBySeries(series)
	if err != nil {
		return nil, 0, fmt.Errorf("sums: list units for %s: %w", series, err)
	}
	for _, su := range units {
		if su.Mode != types.SUReadWrite || su.NFree <= 0 {
			continue
		}
		slot := firstFreeSlot(su)
		if slot < 0 {
			continue
		}
		su.State[slot] = types.SlotTemp
		su.NFree--
		if err := a.mgr.UpdateStorageUnit(su); err != nil {
			return nil, 0, fmt.Errorf("sums: update unit %d: %w", su.Sunum, err)
		}
		return su, slot, nil
	}

	return a.allocateNewUnit(ctx, series, unitSize, archive, tapeGroup)
}

func firstFreeSlot(su *types.StorageUnit) int {
	for i, s := range su.State {
		if s == types.SlotFree {
			return i
		}
	}
	return -1
}

func (a *Allocator) allocateNewUnit(ctx context.Context, series string, unitSize int64, archive types.ArchiveFlag, tapeGroup int) (*types.StorageUnit, int, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.StorageUnitAllocDuration)

	if tapeGroup <= 0 {
		tapeGroup = a.pickTapeGroup()
	}

	reply, err := a.worker.Alloc(ctx, series, unitSize, tapeGroup)
	if err != nil {
		return nil, 0, fmt.Errorf("sums: alloc unit for %s: %w", series, err)
	}

	slotCount := int(unitSize)
	if slotCount <= 0 {
		slotCount = 1
	}
	su := &types.StorageUnit{
		Sunum: types.SUNUM(reply.Sunum),
		Series: series,
		Dir: reply.Sudir,
		Mode: types.SUReadWrite,
		NFree: slotCount - 1,
		State: make([]types.SlotState, slotCount),
		Recnum: make([]int64, slotCount),
	}
	su.State[0] = types.SlotTemp

	if err := a.mgr.CreateStorageUnit(su); err != nil {
		return nil, 0, fmt.Errorf("sums: create unit for %s: %w", series, err)
	}
	a.bumpTapeGroup(tapeGroup, su.Sunum)
	return su, 0, nil
}

func (a *Allocator) bumpTapeGroup(group int, sunum types.SUNUM) {
	state, err := a.mgr.GetTapeGroup(group)
	if err != nil || state == nil {
		state = &storage.TapeGroupState{Group: group}
	}
	state.LastSunum = sunum
	state.UnitCount++
	_ = a.mgr.UpdateTapeGroup(state)
}

// MarkSlotFull promotes a TEMP slot to FULL once its record has a real
// recnum assigned (the precondition for a unit's eventual
// submission to the archive manager).
func (a *Allocator) MarkSlotFull(sunum types.SUNUM, slot int, recnum int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	su, err := a.mgr.GetStorageUnit(sunum)
	if err != nil {
		return fmt.Errorf("sums: get unit %d: %w", sunum, err)
	}
	if slot < 0 || slot >= len(su.State) {
		return fmt.Errorf("sums: slot %d out of range for unit %d", slot, sunum)
	}
	su.State[slot] = types.SlotFull
	su.Recnum[slot] = recnum
	return a.mgr.UpdateStorageUnit(su)
}

// CommitSeriesUnits implements commit-time submission: every READWRITE
// unit of series with at least one FULL slot gets a
// Records.txt manifest, an archive-intent flag, and is submitted to the
// archive worker in batches of submitBatchMax; on success its mode
// flips to READONLY. Units with no full slots (still all TEMP/FREE, or
// genuinely empty) are skipped rather than submitted.
func (a *Allocator) CommitSeriesUnits(ctx context.Context, series string, archive types.ArchiveFlag, retentionDays int) error {
	a.mu.Lock()
	units, err := a.mgr.ListStorageUnitsBySeries(series)
	a.mu.Unlock()
	if err != nil {
		return fmt.Errorf("sums: list units for %s: %w", series, err)
	}

	var pending []*types.StorageUnit
	for _, su := range units {
		if su.Mode == types.SUReadWrite && su.HasFullSlot() {
			pending = append(pending, su)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	mode := archiveclient.PutModeTemp
	if archive == types.ArchiveOn {
		mode = archiveclient.PutModeArch
	}
	deleteSlotsRecords := archive == types.ArchiveOnDeleteDestroy

	for start := 0; start < len(pending); start += submitBatchMax {
		end := start + submitBatchMax
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		for _, su := range batch {
			if err := WriteManifest(su, deleteSlotsRecords); err != nil {
				return fmt.Errorf("sums: write manifest for unit %d: %w", su.Sunum, err)
			}
		}

		if err := a.worker.Put(ctx, batch, mode, retentionDays); err != nil {
			return fmt.Errorf("sums: submit batch to archive worker: %w", err)
		}

		a.mu.Lock()
		for _, su := range batch {
			su.Mode = types.SUReadOnly
			_ = a.mgr.UpdateStorageUnit(su)
		}
		a.mu.Unlock()
	}
	return nil
}

// resolveRetention decides retention-override semantics for batch vs
// single GET. The batch path
// (len(units) > 1) uses the maximum series retention across the
// requested units when requestedOverride is set; the single-unit path
// always uses that unit's own series retention, ignoring
// requestedOverride entirely. An override from a caller who does not
// own the series is clamped non-positive first (it can only shorten
// retention, never extend it).
func resolveRetention(units []*types.StorageUnit, seriesRetention map[string]int, requestedOverride int, callerOwnsSeries bool) int {
	if !callerOwnsSeries && requestedOverride > 0 {
		requestedOverride = 0
	}

	if len(units) == 1 {
		return seriesRetention[units[0].Series]
	}

	if requestedOverride == 0 {
		max := 0
		for _, su := range units {
			if r := seriesRetention[su.Series]; r > max {
				max = r
			}
		}
		return max
	}
	return requestedOverride
}

// newSessionID mints a manager-assigned session id on OPEN.
func newSessionID() string {
	return uuid.NewString()
}
