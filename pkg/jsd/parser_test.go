package jsd_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suncumby/drms/pkg/jsd"
	"github.com/suncumby/drms/pkg/types"
)

const scenarioS1 = `
Seriesname: t.s
Description: "scenario S1"
Author: test
Owner: test
Unitsize: 2
Archive: 0
Retention: 0
Tapegroup: 0

Data: image, variable, int, 2, 4, 4, none, generic, "test image"

Keyword: OBS_TIME, time, slotted_ts_eq, record, MISSING, "%s", TAI, "observation time"
Keyword: OBS_TIME_epoch, time, constant, record, 1977.01.01_00:00:00_TAI, "%s", TAI, "slot epoch"
Keyword: OBS_TIME_step, double, constant, record, 60.0, "%f", secs, "slot step"
`

func TestParseScenarioS1(t *testing.T) {
	tmpl, err := jsd.Parse(scenarioS1)
	require.NoError(t, err)

	assert.Len(t, tmpl.Segments, 1)
	seg, ok := tmpl.Segments["image"]
	require.True(t, ok)
	assert.Equal(t, 2, seg.Rank)
	assert.Equal(t, []int64{4, 4}, seg.Axis)

	// 3 declared keywords plus the synthesized OBS_TIME_index.
	assert.Len(t, tmpl.Keywords, 4)

	idx, ok := tmpl.Keywords["OBS_TIME_index"]
	require.True(t, ok, "OBS_TIME_index must be synthesized")
	assert.Equal(t, types.TypeLong, idx.Type)
	assert.Equal(t, types.ScopeIndex, idx.Scope)
	assert.True(t, idx.InternalPrime)

	obsTime, ok := tmpl.Keywords["OBS_TIME"]
	require.True(t, ok)
	assert.Equal(t, "OBS_TIME_index", obsTime.IndexName)
	assert.True(t, obsTime.ExternalPrime)

	require.Len(t, tmpl.Info.DBIndex, 1)
	assert.Equal(t, "OBS_TIME_index", tmpl.Info.DBIndex[0])
}

func TestParseMissingSeriesname(t *testing.T) {
	_, err := jsd.Parse("Description: \"no name\"\n")
	assert.Error(t, err)
}

func TestParseSlottedWithoutCompanionFails(t *testing.T) {
	doc := `
Seriesname: t.bad
Unitsize: 1
Keyword: OBS_TIME, time, slotted_ts_eq, record, MISSING, "%s", TAI, "no companions"
`
	_, err := jsd.Parse(doc)
	assert.Error(t, err)
}

func TestParseLinkAndPerSegmentExpansion(t *testing.T) {
	doc := `
Seriesname: t.link
Unitsize: 1
Data: img, variable, int, 1, 4, none, generic, "a"
Data: img2, variable, int, 1, 4, none, generic, "b"
Link: src, t.other, static, "link to source"
Keyword: COMMENT, string, variable, segment, "", "%s", none, "per-segment comment"
`
	tmpl, err := jsd.Parse(doc)
	require.NoError(t, err)

	require.Len(t, tmpl.Links, 1)
	assert.Equal(t, types.LinkStatic, tmpl.Links["src"].Type)

	_, hasPlain := tmpl.Keywords["COMMENT"]
	assert.False(t, hasPlain, "per-segment keyword should be expanded away")
	_, has0 := tmpl.Keywords["COMMENT_000"]
	_, has1 := tmpl.Keywords["COMMENT_001"]
	assert.True(t, has0)
	assert.True(t, has1)
}

func TestParsePrimeKeysPromotion(t *testing.T) {
	doc := `
Seriesname: t.prime
Unitsize: 1
Keyword: QUALITY, int, variable, record, 0, "%d", none, "quality flag"
PrimeKeys: QUALITY
`
	tmpl, err := jsd.Parse(doc)
	require.NoError(t, err)
	kw := tmpl.Keywords["QUALITY"]
	assert.True(t, kw.InternalPrime)
	assert.True(t, kw.ExternalPrime)
	assert.Contains(t, tmpl.Info.PrimeKeys, "QUALITY")
	assert.Contains(t, tmpl.Info.DBIndex, "QUALITY")
}
