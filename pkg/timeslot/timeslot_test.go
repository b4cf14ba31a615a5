package timeslot_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/suncumby/drms/pkg/timeslot"
	"github.com/suncumby/drms/pkg/value"
)

func TestParseJulianDayZeroSentinel(t *testing.T) {
	// Property 9: sscanf_time("JD_0.0") == MissingTime.
	assert.Equal(t, value.MissingTime, timeslot.Parse("JD_0.0"))
}

func TestParseEmptyIsMissing(t *testing.T) {
	assert.Equal(t, value.MissingTime, timeslot.Parse(""))
	assert.Equal(t, value.MissingTime, timeslot.Parse("not a time"))
}

func TestSlotIndexScenarioS2(t *testing.T) {
	epoch := timeslot.Parse("1977.01.01_00:00:00_TAI")
	step := 60.0

	t0 := timeslot.Parse("1977.01.01_00:00:30_TAI")
	assert.Equal(t, int64(0), timeslot.SlotIndex(t0, epoch, step, 0))

	t1 := timeslot.Parse("1977.01.01_00:01:30_TAI")
	assert.Equal(t, int64(1), timeslot.SlotIndex(t1, epoch, step, 0))

	t2 := timeslot.Parse("1977.01.01_00:00:29_TAI")
	assert.Equal(t, int64(0), timeslot.SlotIndex(t2, epoch, step, 0))
}

func TestSlotIndexInverse(t *testing.T) {
	base, step := 100.0, 10.0
	for _, idx := range []int64{-3, 0, 1, 42} {
		v := timeslot.SlotValue(idx, base, step)
		got := timeslot.SlotIndex(v, base, step, 0)
		assert.Equal(t, idx, got)
	}
}
