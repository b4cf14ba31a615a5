package links

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/suncumby/drms/pkg/types"
)

// MaxDepth bounds both link-chain following and link-keyword recursion.
const MaxDepth = 20

// ErrLinkCycle is returned once MaxDepth is exceeded.
var ErrLinkCycle = errors.New("links: max depth exceeded, possible link cycle")

// ErrLinkNotSet is returned when a dynamic link's catalog query finds
// no matching target record.
var ErrLinkNotSet = errors.New("links: LINKNOTSET")

// CatalogQuerier is the subset of pkg/catalog.Session a dynamic link
// resolution needs.
type CatalogQuerier interface {
	ResolveDynamicLink(ctx context.Context, targetSeries string, primeCols []string, pidxValues []types.Value, followAll bool) ([]int64, error)
}

// TemplateSource resolves a series name to its loaded template, for a
// dynamic link's target prime-key columns.
type TemplateSource interface {
	Template(ctx context.Context, series string) (*types.Template, error)
}

// RecordSource loads one record by (series, recnum), from the session's
// live record cache or the catalog on miss.
type RecordSource interface {
	Record(ctx context.Context, series string, recnum int64) (*types.Record, error)
}

// Resolver ties the three collaborators together. A session constructs one
// per its lifetime.
type Resolver struct {
	Catalog CatalogQuerier
	Templates TemplateSource
	Records RecordSource
	MaxDepth int
}

func New(catalog CatalogQuerier, templates TemplateSource, records RecordSource) *Resolver {
	return &Resolver{Catalog: catalog, Templates: templates, Records: records, MaxDepth: MaxDepth}
}

func (r *Resolver) maxDepth() int {
	if r.MaxDepth > 0 {
		return r.MaxDepth
	}
	return MaxDepth
}

// Resolve returns the target recnum(s) of link, querying the catalog for
// dynamic links (cached on the link instance afterward) and returning the
// stored literal for static links.
func (r *Resolver) Resolve(ctx context.Context, link *types.Link) ([]int64, error) {
	if link.Type == types.LinkStatic {
		return []int64{link.TargetRecnum}, nil
	}
	if link.ResolvedRecnums != nil {
		return link.ResolvedRecnums, nil
	}

	tmpl, err := r.Templates.Template(ctx, link.TargetSeries)
	if err != nil {
		return nil, fmt.Errorf("links: resolve %q: %w", link.Name, err)
	}
	if len(tmpl.Info.DBIndex) != len(link.PidxValues) {
		return nil, fmt.Errorf("links: %q: target %s has %d prime columns, link stores %d values",
			link.Name, link.TargetSeries, len(tmpl.Info.DBIndex), len(link.PidxValues))
	}

	recnums, err := r.Catalog.ResolveDynamicLink(ctx, link.TargetSeries, tmpl.Info.DBIndex, link.PidxValues, link.FollowAll)
	if err != nil {
		return nil, fmt.Errorf("links: resolve %q: %w", link.Name, err)
	}
	if len(recnums) == 0 {
		return nil, ErrLinkNotSet
	}
	link.ResolvedRecnums = recnums
	return recnums, nil
}

// Lookup implements the keyword lookup algorithm: rewrite a
// per-segment name, resolve it against the record's template, and
// follow link-keywords (recording depth) until a concrete value is
// found.
func (r *Resolver) Lookup(ctx context.Context, rec *types.Record, name string) (types.Value, error) {
	curRec := rec
	curName := RewriteSegmentIndex(name)

	for depth := 0; ; depth++ {
		if depth > r.maxDepth() {
			return types.Value{}, ErrLinkCycle
		}
		if curRec.Template == nil {
			return types.Value{}, fmt.Errorf("links: record %s:%d has no template", curRec.Series, curRec.Recnum)
		}
		kw, ok := curRec.Template.Keywords[curName]
		if !ok {
			return types.Value{}, fmt.Errorf("links: unknown keyword %q on series %s", curName, curRec.Template.Info.Name)
		}
		if kw.LinkName == "" {
			v, ok := curRec.Keywords[curName]
			if !ok {
				return types.Value{}, fmt.Errorf("links: keyword %q has no value on record %s:%d", curName, curRec.Series, curRec.Recnum)
			}
			return v, nil
		}

		link, ok := curRec.Links[kw.LinkName]
		if !ok {
			return types.Value{}, fmt.Errorf("links: record %s:%d missing link %q", curRec.Series, curRec.Recnum, kw.LinkName)
		}
		recnums, err := r.Resolve(ctx, link)
		if err != nil {
			return types.Value{}, err
		}
		target, err := r.Records.Record(ctx, link.TargetSeries, recnums[0])
		if err != nil {
			return types.Value{}, fmt.Errorf("links: load %s:%d: %w", link.TargetSeries, recnums[0], err)
		}
		curRec = target
		curName = kw.TargetKey
	}
}

// RewriteSegmentIndex rewrites a per-segment addressed name,
// "name[NN]", to its synthesized form "name_0NN" — the same
// zero-padded three-digit suffix a series parser installs during
// parse.
func RewriteSegmentIndex(name string) string {
	open := strings.IndexByte(name, '[')
	if open < 0 || !strings.HasSuffix(name, "]") {
		return name
	}
	idxStr := name[open+1: len(name)-1]
	idx, err := strconv.Atoi(idxStr)
	if err != nil || idx < 0 {
		return name
	}
	return fmt.Sprintf("%s_%03d", name[:open], idx)
}
