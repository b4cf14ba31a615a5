package sums

import (
	"testing"

	"github.com/suncumby/drms/pkg/types"
)

func TestFirstFreeSlot(t *testing.T) {
	su := &types.StorageUnit{State: []types.SlotState{types.SlotFull, types.SlotTemp, types.SlotFree, types.SlotFree}}
	if got := firstFreeSlot(su); got != 2 {
		t.Errorf("firstFreeSlot() = %d, want 2", got)
	}

	full := &types.StorageUnit{State: []types.SlotState{types.SlotFull, types.SlotTemp}}
	if got := firstFreeSlot(full); got != -1 {
		t.Errorf("firstFreeSlot() on a full unit = %d, want -1", got)
	}
}

func TestResolveRetentionSingleUnitIgnoresOverride(t *testing.T) {
	units := []*types.StorageUnit{{Series: "hmi.v_45s"}}
	retention := map[string]int{"hmi.v_45s": 60}

	got := resolveRetention(units, retention, 365, true)
	if got != 60 {
		t.Errorf("resolveRetention() = %d, want the unit's own series retention (60), ignoring the override", got)
	}
}

func TestResolveRetentionBatchUsesMaxAcrossUnits(t *testing.T) {
	units := []*types.StorageUnit{
		{Series: "hmi.v_45s"},
		{Series: "aia.lev1"},
	}
	retention := map[string]int{"hmi.v_45s": 60, "aia.lev1": 120}

	got := resolveRetention(units, retention, 0, true)
	if got != 120 {
		t.Errorf("resolveRetention() = %d, want max across batch (120)", got)
	}
}

func TestResolveRetentionBatchExplicitOverrideWins(t *testing.T) {
	units := []*types.StorageUnit{
		{Series: "hmi.v_45s"},
		{Series: "aia.lev1"},
	}
	retention := map[string]int{"hmi.v_45s": 60, "aia.lev1": 120}

	got := resolveRetention(units, retention, 30, true)
	if got != 30 {
		t.Errorf("resolveRetention() = %d, want the explicit override (30)", got)
	}
}

func TestResolveRetentionNonOwnerClampedNonPositive(t *testing.T) {
	// A non-owner's override is clamped to 0 before the batch rule
	// runs, so the result falls back to the max-across-batch series
	// retention rather than the (would-be) longer override.
	batch := []*types.StorageUnit{{Series: "hmi.v_45s"}, {Series: "aia.lev1"}}
	retention := map[string]int{"hmi.v_45s": 60, "aia.lev1": 120}

	got := resolveRetention(batch, retention, 365, false)
	if got != 120 {
		t.Errorf("resolveRetention() = %d, want max-across-batch since the non-owner override was clamped away", got)
	}
}
