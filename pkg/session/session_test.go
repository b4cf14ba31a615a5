package session

import (
	"context"
	"testing"

	"github.com/suncumby/drms/pkg/types"
)

// TestCloseAllAbortNeverTouchesCatalog exercises the abort half of the
// close_all boundary with no catalog session wired in at all: if abort
// ever reached for the catalog (to insert or even inspect the temp
// records), this would nil-pointer panic on s.cat. The temp registry
// still must come back empty so a second CloseAll does not resubmit.
func TestCloseAllAbortNeverTouchesCatalog(t *testing.T) {
	s := &Session{
		temps: map[int64]*types.Record{
			-1: {Series: "hmi.v_45s", Recnum: -1, Sunum: 100, SlotIndex: 0},
			-2: {Series: "hmi.v_45s", Recnum: -2, Sunum: 100, SlotIndex: 1},
		},
	}

	if err := s.CloseAll(context.Background(), "abort"); err != nil {
		t.Fatalf("CloseAll(abort) error = %v", err)
	}
	if len(s.temps) != 0 {
		t.Errorf("CloseAll(abort) left %d temp records registered, want 0", len(s.temps))
	}
}

func TestRecordKey(t *testing.T) {
	if got := recordKey("hmi.v_45s", 42); got != "hmi.v_45s#42" {
		t.Errorf("recordKey() = %q", got)
	}
}

func TestKeywordColumnsSkipsLinkKeywords(t *testing.T) {
	tmpl := &types.Template{
		Keywords: map[string]*types.Keyword{
			"T_OBS":    {Name: "T_OBS"},
			"SRC_TIME": {Name: "SRC_TIME", LinkName: "source"},
		},
		KeywordOrder: []string{"T_OBS", "SRC_TIME"},
	}
	cols := keywordColumns(tmpl)
	if len(cols) != 1 || cols[0] != "T_OBS" {
		t.Errorf("keywordColumns() = %v, want [T_OBS]", cols)
	}
}

// slottedTemplate builds a minimal template with one SlotGeneric
// keyword ("INDEX") and its _base/_step companions, for exercising
// Session.SetKeyword's slot-index synthesis in isolation from the
// catalog/JSD parser.
func slottedTemplate() *types.Template {
	return &types.Template{
		Info: types.SeriesInfo{Name: "su.test"},
		Keywords: map[string]*types.Keyword{
			"INDEX": {
				Name:      "INDEX",
				Type:      types.TypeDouble,
				Scope:     types.ScopeSlotted,
				Flavor:    types.SlotGeneric,
				IndexName: "INDEX_index",
			},
			"INDEX_base": {Name: "INDEX_base", Type: types.TypeDouble, Default: types.Value{Type: types.TypeDouble, Float: 100}},
			"INDEX_step": {Name: "INDEX_step", Type: types.TypeDouble, Default: types.Value{Type: types.TypeDouble, Float: 10}},
			"INDEX_index": {Name: "INDEX_index", Type: types.TypeLong, Scope: types.ScopeIndex},
		},
	}
}

func TestSessionSetKeywordConvertsAndSynthesizesIndex(t *testing.T) {
	tmpl := slottedTemplate()
	rec := &types.Record{
		Series:   "su.test",
		Recnum:   -1,
		State:    types.RecordNew,
		Template: tmpl,
		Keywords: map[string]types.Value{
			"INDEX":       {Type: types.TypeDouble},
			"INDEX_index": {Type: types.TypeLong},
		},
	}
	s := &Session{}

	// 137 is an int, INDEX is declared double: value.Convert must widen
	// it before floor((137-100)/10) = 3 is derived.
	if err := s.SetKeyword(rec, "INDEX", types.Value{Type: types.TypeLong, Int: 137}); err != nil {
		t.Fatalf("SetKeyword error = %v", err)
	}
	if got := rec.Keywords["INDEX"].Float; got != 137 {
		t.Errorf("INDEX = %v, want 137", got)
	}
	if got := rec.Keywords["INDEX_index"].Int; got != 3 {
		t.Errorf("INDEX_index = %d, want 3", got)
	}
}

func TestSessionSetKeywordUnknownName(t *testing.T) {
	s := &Session{}
	rec := &types.Record{Template: slottedTemplate(), State: types.RecordNew, Keywords: map[string]types.Value{}}
	if err := s.SetKeyword(rec, "NOPE", types.Value{}); err == nil {
		t.Fatal("SetKeyword() on an undeclared keyword should error")
	}
}

func TestBuildRecordPopulatesSegments(t *testing.T) {
	s := &Session{}
	tmpl := &types.Template{
		Segments: map[string]*types.Segment{
			"image": {Name: "image", Rank: 2},
		},
	}
	rec := s.buildRecord("hmi.v_45s", 1, tmpl, map[string]types.Value{})
	seg, ok := rec.Segments["image"]
	if !ok {
		t.Fatal("buildRecord did not populate rec.Segments from the template")
	}
	if seg == tmpl.Segments["image"] {
		t.Error("rec.Segments[\"image\"] aliases the template's segment instead of copying it")
	}
}

func TestScalarForTypes(t *testing.T) {
	cases := []struct {
		v    types.Value
		want any
	}{
		{types.Value{Type: types.TypeString, Str: "hi"}, "hi"},
		{types.Value{Type: types.TypeDouble, Float: 3.5}, 3.5},
		{types.Value{Type: types.TypeLong, Int: 7}, int64(7)},
	}
	for _, c := range cases {
		if got := scalarFor(c.v); got != c.want {
			t.Errorf("scalarFor(%+v) = %v, want %v", c.v, got, c.want)
		}
	}
}
