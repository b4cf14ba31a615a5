package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/suncumby/drms/pkg/catalog"
	"github.com/suncumby/drms/pkg/links"
	"github.com/suncumby/drms/pkg/timeslot"
	"github.com/suncumby/drms/pkg/types"
	"github.com/suncumby/drms/pkg/value"
)

// ManagerClient is the subset of the SUMS manager a client session needs:
// allocating a slot for a new record, fetching a storage unit's current
// state, and housekeeping the session's own lifetime. Implemented by
// pkg/sums's manager RPC client; kept as a narrow interface here so this
// package never imports the wire protocol.
type ManagerClient interface {
	AllocateSlot(ctx context.Context, series string, unitSize int, archive types.ArchiveFlag, tapeGroup int) (*types.StorageUnit, int, error)
	GetStorageUnit(ctx context.Context, sunum types.SUNUM) (*types.StorageUnit, error)
	OpenSession(ctx context.Context, namespace string, caps types.Capability) (*types.Session, error)
	CloseSession(ctx context.Context, id string) error
	MarkSlotFull(ctx context.Context, sunum types.SUNUM, slot int, recnum int64) error
}

// Session is the client-tier runtime for one connection: a reserved
// catalog connection, a template cache, a resolver, and the committed
// and temp-record registries the keyword lookup algorithm and close_all
// operate over.
type Session struct {
	mu sync.RWMutex

	cat *catalog.Session
	mgr ManagerClient

	resolver *links.Resolver

	templates map[string]*types.Template
	records   map[string]*types.Record // "series#recnum" -> committed record
	temps     map[int64]*types.Record   // temp handle (negative) -> uncommitted record
	nextTemp  int64

	info *types.Session
}

// Open starts a new client session: it reserves a catalog connection,
// registers the session with the manager, and prepares empty caches.
func Open(ctx context.Context, db *catalog.DB, mgr ManagerClient, namespace string, caps types.Capability) (*Session, error) {
	catSess, err := db.NewSession(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("session: open catalog connection: %w", err)
	}

	info, err := mgr.OpenSession(ctx, namespace, caps)
	if err != nil {
		catSess.Close(ctx)
		return nil, fmt.Errorf("session: register with manager: %w", err)
	}

	s := &Session{
		cat:       catSess,
		mgr:       mgr,
		templates: make(map[string]*types.Template),
		records:   make(map[string]*types.Record),
		temps:     make(map[int64]*types.Record),
		nextTemp:  -1,
		info:      info,
	}
	s.resolver = links.New(s.cat, s, s)
	return s, nil
}

// ID returns the manager-assigned session id.
func (s *Session) ID() string {
	return s.info.ID
}

// Template loads (and caches) a series' template. Implements
// links.TemplateSource.
func (s *Session) Template(ctx context.Context, series string) (*types.Template, error) {
	s.mu.RLock()
	if tmpl, ok := s.templates[series]; ok {
		s.mu.RUnlock()
		return tmpl, nil
	}
	s.mu.RUnlock()

	tmpl, err := s.loadTemplate(ctx, series)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.templates[series] = tmpl
	s.mu.Unlock()
	return tmpl, nil
}

func (s *Session) loadTemplate(ctx context.Context, series string) (*types.Template, error) {
	info, err := s.cat.TemplateHeader(ctx, series)
	if err != nil {
		return nil, err
	}
	segs, err := s.cat.TemplateSegments(ctx, series)
	if err != nil {
		return nil, err
	}
	linkList, err := s.cat.TemplateLinks(ctx, series)
	if err != nil {
		return nil, err
	}
	kws, err := s.cat.TemplateKeywords(ctx, series)
	if err != nil {
		return nil, err
	}

	tmpl := &types.Template{
		Info:     info,
		Keywords: make(map[string]*types.Keyword, len(kws)),
		Links:    make(map[string]*types.Link, len(linkList)),
		Segments: make(map[string]*types.Segment, len(segs)),
	}
	for _, kw := range kws {
		tmpl.Keywords[kw.Name] = kw
		tmpl.KeywordOrder = append(tmpl.KeywordOrder, kw.Name)
	}
	for _, l := range linkList {
		tmpl.Links[l.Name] = l
	}
	for _, seg := range segs {
		tmpl.Segments[seg.Name] = seg
		tmpl.SegmentOrder = append(tmpl.SegmentOrder, seg.Name)
	}
	return tmpl, nil
}

// Record returns an already-open record of series, loading it from the
// catalog if this is the first time it's been seen this session.
// Implements links.RecordSource.
func (s *Session) Record(ctx context.Context, series string, recnum int64) (*types.Record, error) {
	key := recordKey(series, recnum)

	s.mu.RLock()
	if rec, ok := s.records[key]; ok {
		s.mu.RUnlock()
		return rec, nil
	}
	s.mu.RUnlock()

	tmpl, err := s.Template(ctx, series)
	if err != nil {
		return nil, err
	}

	where := "recnum = $1"
	names := keywordColumns(tmpl)
	recnums, byRecnum, err := s.cat.OpenRecords(ctx, series, where, names, recnum)
	if err != nil {
		return nil, err
	}
	if len(recnums) == 0 {
		return nil, fmt.Errorf("session: record %s:%d not found", series, recnum)
	}

	rec := s.buildRecord(series, recnum, tmpl, byRecnum[recnum])
	s.mu.Lock()
	s.records[key] = rec
	s.mu.Unlock()
	return rec, nil
}

func (s *Session) buildRecord(series string, recnum int64, tmpl *types.Template, raw map[string]types.Value) *types.Record {
	rec := &types.Record{
		Series:   series,
		Recnum:   recnum,
		State:    types.RecordOpen,
		Template: tmpl,
		Keywords: make(map[string]types.Value, len(raw)),
		Links:    make(map[string]*types.Link, len(tmpl.Links)),
		Segments: make(map[string]*types.Segment, len(tmpl.Segments)),
	}
	for name, kw := range tmpl.Keywords {
		v, ok := raw[name]
		if !ok {
			v = kw.Default
		} else if v.Type == types.TypeString && kw.Type != types.TypeString {
			if conv, err := value.SscanfValue(kw.Type, v.Str); err == nil {
				v = conv
			}
		}
		rec.Keywords[name] = v
	}
	for name, l := range tmpl.Links {
		linkCopy := *l
		rec.Links[name] = &linkCopy
	}
	for name, seg := range tmpl.Segments {
		segCopy := *seg
		rec.Segments[name] = &segCopy
	}
	return rec
}

// Retrieve runs a prime-key-qualified query against series and opens
// every matching record into this session's cache.
func (s *Session) Retrieve(ctx context.Context, series, whereClause string, args ...any) ([]*types.Record, error) {
	tmpl, err := s.Template(ctx, series)
	if err != nil {
		return nil, err
	}

	names := keywordColumns(tmpl)
	recnums, byRecnum, err := s.cat.OpenRecords(ctx, series, whereClause, names, args...)
	if err != nil {
		return nil, err
	}

	out := make([]*types.Record, 0, len(recnums))
	s.mu.Lock()
	for _, recnum := range recnums {
		key := recordKey(series, recnum)
		if rec, ok := s.records[key]; ok {
			out = append(out, rec)
			continue
		}
		rec := s.buildRecord(series, recnum, tmpl, byRecnum[recnum])
		s.records[key] = rec
		out = append(out, rec)
	}
	s.mu.Unlock()
	return out, nil
}

// NewRecord allocates a temp record of series: a storage-unit slot from
// the manager and a negative handle that commitAll replaces at close_all
// time with a real recnum from the catalog's sequence (NextRecnum).
func (s *Session) NewRecord(ctx context.Context, series string) (*types.Record, error) {
	tmpl, err := s.Template(ctx, series)
	if err != nil {
		return nil, err
	}

	su, slot, err := s.mgr.AllocateSlot(ctx, series, tmpl.Info.UnitSize, tmpl.Info.Archive, tmpl.Info.TapeGroup)
	if err != nil {
		return nil, fmt.Errorf("session: allocate slot for %s: %w", series, err)
	}

	s.mu.Lock()
	handle := s.nextTemp
	s.nextTemp--
	s.mu.Unlock()

	rec := &types.Record{
		Series:    series,
		Recnum:    handle,
		Sunum:     su.Sunum,
		SlotIndex: slot,
		SessionID: s.ID(),
		State:     types.RecordNew,
		Template:  tmpl,
		Keywords:  make(map[string]types.Value, len(tmpl.Keywords)),
		Links:     make(map[string]*types.Link, len(tmpl.Links)),
		Segments:  make(map[string]*types.Segment, len(tmpl.Segments)),
	}
	for name, kw := range tmpl.Keywords {
		rec.Keywords[name] = kw.Default
	}
	for name, l := range tmpl.Links {
		linkCopy := *l
		rec.Links[name] = &linkCopy
	}
	for name, seg := range tmpl.Segments {
		segCopy := *seg
		rec.Segments[name] = &segCopy
	}

	s.mu.Lock()
	s.temps[handle] = rec
	s.mu.Unlock()
	return rec, nil
}

// Lookup resolves name on rec, following links as needed, via the
// session's links.Resolver.
func (s *Session) Lookup(ctx context.Context, rec *types.Record, name string) (types.Value, error) {
	return s.resolver.Lookup(ctx, rec, name)
}

// SetKeyword sets name's value on rec: raw is converted to the
// keyword's declared type with value.Convert, so any caller-supplied
// scalar is accepted. If the keyword is slotted, its companion
// "<name>_index" is recomputed from the converted value via
// pkg/timeslot.SlotIndex and written alongside it.
func (s *Session) SetKeyword(rec *types.Record, name string, raw types.Value) error {
	if rec.Template == nil {
		return fmt.Errorf("session: record %s:%d has no template", rec.Series, rec.Recnum)
	}
	kw, ok := rec.Template.Keywords[name]
	if !ok {
		return fmt.Errorf("session: unknown keyword %q on series %s", name, rec.Template.Info.Name)
	}

	converted := value.Convert(raw, kw.Type)
	if err := rec.SetKeyword(name, converted); err != nil {
		return err
	}
	if kw.Scope != types.ScopeSlotted {
		return nil
	}

	idx, err := slotIndexFor(rec.Template, kw, converted)
	if err != nil {
		return err
	}
	return rec.SetComputedKeyword(kw.IndexName, types.Value{Type: types.TypeLong, Int: idx})
}

// slotIndexFor derives a slotted keyword's companion index, reading
// its base/step (and, for SlotTimeEpoch, epoch) companion constants
// off tmpl per the layout pkg/jsd/synth.go validated at parse time.
// round is always 0 — plain floor division, scenario S2's convention —
// since no JSD section declares a per-keyword round value.
func slotIndexFor(tmpl *types.Template, kw *types.Keyword, v types.Value) (int64, error) {
	step, err := companionFloat(tmpl, kw.Name+"_step")
	if err != nil {
		return 0, err
	}

	var base float64
	switch kw.Flavor {
	case types.SlotTimeEpoch:
		base, err = companionFloat(tmpl, kw.Name+"_epoch")
	case types.SlotGeneric, types.SlotEnum:
		base, err = companionFloat(tmpl, kw.Name+"_base")
	case types.SlotCarrington:
		base = timeslot.CarringtonBase
	default:
		return 0, fmt.Errorf("session: keyword %q has no slotting rule for flavor %v", kw.Name, kw.Flavor)
	}
	if err != nil {
		return 0, err
	}

	vFloat := value.Convert(v, types.TypeDouble).Float
	return timeslot.SlotIndex(vFloat, base, step, 0), nil
}

// companionFloat reads a slotted keyword's constant companion as a
// seconds/float64 value, parsing a calendar-clock string companion
// (SlotTimeEpoch's "_epoch" may be declared either TIME or STRING)
// through pkg/timeslot.Parse.
func companionFloat(tmpl *types.Template, name string) (float64, error) {
	kw, ok := tmpl.Keywords[name]
	if !ok {
		return 0, fmt.Errorf("session: missing companion keyword %q", name)
	}
	if kw.Default.Type == types.TypeString {
		return timeslot.Parse(kw.Default.Str), nil
	}
	return value.Convert(kw.Default, types.TypeDouble).Float, nil
}

// CloseAll is the commit/abort boundary: "commit" batches every series'
// temp records into one InsertRecords call per series; "abort" discards
// them without touching the catalog. Either way the temp registry is
// cleared and the catalog transaction (if one is open) is finalized.
func (s *Session) CloseAll(ctx context.Context, action string) error {
	s.mu.Lock()
	bySeries := make(map[string][]*types.Record)
	for _, rec := range s.temps {
		bySeries[rec.Series] = append(bySeries[rec.Series], rec)
	}
	s.temps = make(map[int64]*types.Record)
	s.mu.Unlock()

	switch action {
	case "commit":
		return s.commitAll(ctx, bySeries)
	case "abort":
		return nil
	default:
		return fmt.Errorf("session: unknown close_all action %q", action)
	}
}

func (s *Session) commitAll(ctx context.Context, bySeries map[string][]*types.Record) error {
	if err := s.cat.Begin(ctx); err != nil {
		return err
	}

	for series, recs := range bySeries {
		tmpl, err := s.Template(ctx, series)
		if err != nil {
			s.cat.Rollback(ctx)
			return err
		}

		columns := append([]string{"recnum"}, keywordColumns(tmpl)...)
		rows := make([][]any, 0, len(recs))
		for _, rec := range recs {
			recnum, err := s.cat.NextRecnum(ctx, series)
			if err != nil {
				s.cat.Rollback(ctx)
				return err
			}
			if err := s.mgr.MarkSlotFull(ctx, rec.Sunum, rec.SlotIndex, recnum); err != nil {
				s.cat.Rollback(ctx)
				return fmt.Errorf("session: mark slot full for %s: %w", series, err)
			}
			row := make([]any, 0, len(columns))
			row = append(row, recnum)
			for _, name := range columns[1:] {
				row = append(row, scalarFor(rec.Keywords[name]))
			}
			rows = append(rows, row)
			rec.Recnum = recnum
			rec.State = types.RecordOpen
		}
		if err := s.cat.InsertRecords(ctx, series, columns, rows); err != nil {
			s.cat.Rollback(ctx)
			return err
		}
	}

	return s.cat.Commit(ctx)
}

func scalarFor(v types.Value) any {
	switch v.Type {
	case types.TypeString:
		return v.Str
	case types.TypeFloat, types.TypeDouble, types.TypeTime:
		return v.Float
	default:
		return v.Int
	}
}

// Close ends the session: it closes the catalog connection and tells
// the manager to drop its session bookkeeping.
func (s *Session) Close(ctx context.Context) error {
	if err := s.mgr.CloseSession(ctx, s.ID()); err != nil {
		return err
	}
	return s.cat.Close(ctx)
}

func keywordColumns(tmpl *types.Template) []string {
	names := make([]string, 0, len(tmpl.KeywordOrder))
	for _, name := range tmpl.KeywordOrder {
		if kw := tmpl.Keywords[name]; kw.LinkName == "" {
			names = append(names, name)
		}
	}
	return names
}

func recordKey(series string, recnum int64) string {
	return fmt.Sprintf("%s#%d", series, recnum)
}
