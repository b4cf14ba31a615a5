package types_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/suncumby/drms/pkg/types"
)

func newRecordWithTemplate(state types.RecordState) *types.Record {
	tmpl := &types.Template{
		Keywords: map[string]*types.Keyword{
			"T_OBS":       {Name: "T_OBS", Type: types.TypeString},
			"SRC_TIME":    {Name: "SRC_TIME", LinkName: "source", TargetKey: "T_OBS"},
			"T_OBS_index": {Name: "T_OBS_index", Type: types.TypeLong, Scope: types.ScopeIndex},
		},
	}
	return &types.Record{
		Series: "hmi.v_45s",
		Recnum: -1,
		State:  state,
		Template: tmpl,
		Keywords: map[string]types.Value{
			"T_OBS":       {Type: types.TypeString},
			"SRC_TIME":    {Type: types.TypeString},
			"T_OBS_index": {Type: types.TypeLong},
		},
		Links:    map[string]*types.Link{"source": {Name: "source"}},
		Segments: map[string]*types.Segment{"image": {Name: "image"}},
	}
}

func TestRecordSetKeywordRejectsOnce(t *testing.T) {
	rec := newRecordWithTemplate(types.RecordOpen)
	err := rec.SetKeyword("T_OBS", types.Value{Type: types.TypeString, Str: "2020.01.01_TAI"})
	assert.ErrorIs(t, err, types.ErrRecordReadonly)
}

func TestRecordSetKeywordWritesWhileNew(t *testing.T) {
	rec := newRecordWithTemplate(types.RecordNew)
	v := types.Value{Type: types.TypeString, Str: "2020.01.01_TAI"}
	require := assert.New(t)
	require.NoError(rec.SetKeyword("T_OBS", v))
	require.Equal(v, rec.Keywords["T_OBS"])
}

func TestRecordSetKeywordRejectsLinkKeyword(t *testing.T) {
	rec := newRecordWithTemplate(types.RecordNew)
	err := rec.SetKeyword("SRC_TIME", types.Value{Type: types.TypeString, Str: "x"})
	assert.ErrorIs(t, err, types.ErrKeywordReadonly)
}

func TestRecordSetKeywordRejectsIndexKeyword(t *testing.T) {
	rec := newRecordWithTemplate(types.RecordNew)
	err := rec.SetKeyword("T_OBS_index", types.Value{Type: types.TypeLong, Int: 4})
	assert.ErrorIs(t, err, types.ErrKeywordReadonly)
}

func TestRecordSetComputedKeywordBypassesKeywordGate(t *testing.T) {
	rec := newRecordWithTemplate(types.RecordNew)
	err := rec.SetComputedKeyword("T_OBS_index", types.Value{Type: types.TypeLong, Int: 4})
	assert.NoError(t, err)
	assert.Equal(t, int64(4), rec.Keywords["T_OBS_index"].Int)
}

func TestRecordSetLinkRejectsOnceOpen(t *testing.T) {
	rec := newRecordWithTemplate(types.RecordOpen)
	err := rec.SetLink("source", &types.Link{Name: "source", TargetRecnum: 9})
	assert.ErrorIs(t, err, types.ErrRecordReadonly)
}

func TestRecordSetSegmentRejectsUnknownName(t *testing.T) {
	rec := newRecordWithTemplate(types.RecordNew)
	err := rec.SetSegment("spectrum", &types.Segment{Name: "spectrum"})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, types.ErrRecordReadonly)
}

func TestRecordSetSegmentReplacesExisting(t *testing.T) {
	rec := newRecordWithTemplate(types.RecordNew)
	seg := &types.Segment{Name: "image", Rank: 2}
	if err := rec.SetSegment("image", seg); err != nil {
		t.Fatalf("SetSegment error = %v", err)
	}
	assert.Same(t, seg, rec.Segments["image"])
}

func TestSUNUMSiteCodeRoundTrip(t *testing.T) {
	s := types.MakeSUNUM(7, 1234)
	assert.Equal(t, 7, s.SiteCode())
	assert.Equal(t, int64(1234), s.LocalID())
	assert.True(t, s.Valid())
}
