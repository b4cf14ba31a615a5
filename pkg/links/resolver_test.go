package links_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suncumby/drms/pkg/links"
	"github.com/suncumby/drms/pkg/types"
)

type fakeCatalog struct {
	recnums []int64
	err     error
}

func (f *fakeCatalog) ResolveDynamicLink(ctx context.Context, targetSeries string, primeCols []string, pidxValues []types.Value, followAll bool) ([]int64, error) {
	return f.recnums, f.err
}

type fakeTemplates struct {
	tmpls map[string]*types.Template
}

func (f *fakeTemplates) Template(ctx context.Context, series string) (*types.Template, error) {
	return f.tmpls[series], nil
}

type fakeRecords struct {
	byKey map[string]*types.Record
}

func key(series string, recnum int64) string {
	return series + ":" + string(rune(recnum))
}

func (f *fakeRecords) Record(ctx context.Context, series string, recnum int64) (*types.Record, error) {
	return f.byKey[key(series, recnum)], nil
}

func TestRewriteSegmentIndex(t *testing.T) {
	assert.Equal(t, "image_005", links.RewriteSegmentIndex("image[5]"))
	assert.Equal(t, "image_042", links.RewriteSegmentIndex("image[42]"))
	assert.Equal(t, "plain", links.RewriteSegmentIndex("plain"))
}

func TestResolveStaticLinkIsNoop(t *testing.T) {
	r := links.New(&fakeCatalog{}, &fakeTemplates{}, &fakeRecords{})
	l := &types.Link{Type: types.LinkStatic, TargetRecnum: 42}
	got, err := r.Resolve(context.Background(), l)
	require.NoError(t, err)
	assert.Equal(t, []int64{42}, got)
}

func TestResolveDynamicLinkCaches(t *testing.T) {
	cat := &fakeCatalog{recnums: []int64{7}}
	tmpls := &fakeTemplates{tmpls: map[string]*types.Template{
		"ns.target": {Info: types.SeriesInfo{DBIndex: []string{"k_index"}}},
	}}
	r := links.New(cat, tmpls, &fakeRecords{})
	l := &types.Link{Type: types.LinkDynamic, TargetSeries: "ns.target", PidxValues: []types.Value{{Type: types.TypeInt, Int: 1}}}

	got, err := r.Resolve(context.Background(), l)
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, got)
	assert.Equal(t, []int64{7}, l.ResolvedRecnums)

	cat.recnums = []int64{999} // must not be consulted again
	got2, err := r.Resolve(context.Background(), l)
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, got2)
}

func TestResolveDynamicLinkNotSet(t *testing.T) {
	tmpls := &fakeTemplates{tmpls: map[string]*types.Template{
		"ns.target": {Info: types.SeriesInfo{DBIndex: []string{"k_index"}}},
	}}
	r := links.New(&fakeCatalog{recnums: nil}, tmpls, &fakeRecords{})
	l := &types.Link{Type: types.LinkDynamic, TargetSeries: "ns.target", PidxValues: []types.Value{{Type: types.TypeInt, Int: 1}}}
	_, err := r.Resolve(context.Background(), l)
	assert.ErrorIs(t, err, links.ErrLinkNotSet)
}

func TestLookupPlainKeyword(t *testing.T) {
	tmpl := &types.Template{Keywords: map[string]*types.Keyword{
		"QUALITY": {Name: "QUALITY"},
	}}
	rec := &types.Record{
		Series:   "ns.s",
		Recnum:   1,
		Template: tmpl,
		Keywords: map[string]types.Value{"QUALITY": {Type: types.TypeInt, Int: 5}},
	}
	r := links.New(&fakeCatalog{}, &fakeTemplates{}, &fakeRecords{})
	v, err := r.Lookup(context.Background(), rec, "QUALITY")
	require.NoError(t, err)
	assert.Equal(t, int64(5), v.Int)
}

func TestLookupLinkCycleExceedsMaxDepth(t *testing.T) {
	// Series A and B each have a static link back to the other, and a
	// keyword that chases it; looking up either keyword never bottoms out.
	tmplA := &types.Template{Keywords: map[string]*types.Keyword{
		"VAL": {Name: "VAL", LinkName: "toB", TargetKey: "VAL"},
	}}
	tmplB := &types.Template{Keywords: map[string]*types.Keyword{
		"VAL": {Name: "VAL", LinkName: "toA", TargetKey: "VAL"},
	}}
	recA := &types.Record{
		Series:   "ns.a",
		Recnum:   0,
		Template: tmplA,
		Links: map[string]*types.Link{
			"toB": {Name: "toB", Type: types.LinkStatic, TargetSeries: "ns.b", TargetRecnum: 0},
		},
	}
	recB := &types.Record{
		Series:   "ns.b",
		Recnum:   0,
		Template: tmplB,
		Links: map[string]*types.Link{
			"toA": {Name: "toA", Type: types.LinkStatic, TargetSeries: "ns.a", TargetRecnum: 0},
		},
	}
	records := &fakeRecords{byKey: map[string]*types.Record{
		key("ns.a", 0): recA,
		key("ns.b", 0): recB,
	}}

	r := &links.Resolver{Catalog: &fakeCatalog{}, Templates: &fakeTemplates{}, Records: records, MaxDepth: 5}
	_, err := r.Lookup(context.Background(), recA, "VAL")
	assert.ErrorIs(t, err, links.ErrLinkCycle)
}

func TestLookupFollowsLinkKeyword(t *testing.T) {
	targetTmpl := &types.Template{Keywords: map[string]*types.Keyword{
		"SRC_QUALITY": {Name: "SRC_QUALITY"},
	}}
	target := &types.Record{
		Series:   "ns.other",
		Recnum:   1,
		Template: targetTmpl,
		Keywords: map[string]types.Value{"SRC_QUALITY": {Type: types.TypeInt, Int: 99}},
	}

	tmpl := &types.Template{Keywords: map[string]*types.Keyword{
		"QUALITY": {Name: "QUALITY", LinkName: "src", TargetKey: "SRC_QUALITY"},
	}}
	rec := &types.Record{
		Series: "ns.s",
		Recnum: 1,
		Links: map[string]*types.Link{
			"src": {Name: "src", Type: types.LinkStatic, TargetSeries: "ns.other", TargetRecnum: 1},
		},
		Template: tmpl,
	}

	records := &fakeRecords{byKey: map[string]*types.Record{key("ns.other", 1): target}}
	r := links.New(&fakeCatalog{}, &fakeTemplates{}, records)
	v, err := r.Lookup(context.Background(), rec, "QUALITY")
	require.NoError(t, err)
	assert.Equal(t, int64(99), v.Int)
}
