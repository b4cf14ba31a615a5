package types

import (
	"errors"
	"fmt"
	"time"
)

// ValueType is the fixed scalar universe. Code that switches on ValueType is
// expected to be exhaustive; there is no open extension point.
type ValueType int

const (
	TypeChar ValueType = iota
	TypeShort
	TypeInt
	TypeLong
	TypeFloat
	TypeDouble
	TypeTime
	TypeString
)

func (t ValueType) String() string {
	switch t {
	case TypeChar:
		return "char"
	case TypeShort:
		return "short"
	case TypeInt:
		return "int"
	case TypeLong:
		return "long"
	case TypeFloat:
		return "float"
	case TypeDouble:
		return "double"
	case TypeTime:
		return "time"
	case TypeString:
		return "string"
	default:
		return "unknown"
	}
}

// RecScope classifies how a keyword's value varies across records of a
// series.
type RecScope int

const (
	ScopeVariable RecScope = iota
	ScopeConstant
	ScopeSlotted
	ScopeIndex
)

func (s RecScope) String() string {
	switch s {
	case ScopeVariable:
		return "variable"
	case ScopeConstant:
		return "constant"
	case ScopeSlotted:
		return "slotted"
	case ScopeIndex:
		return "index"
	default:
		return "unknown"
	}
}

// SlotFlavor fixes where a slotted keyword's base/step come from.
type SlotFlavor int

const (
	SlotNone SlotFlavor = iota
	SlotTimeEpoch
	SlotGeneric
	SlotCarrington
	SlotEnum
)

// ArchiveFlag controls whether committed storage units are sent to the
// archive manager.
type ArchiveFlag int

const (
	ArchiveOff ArchiveFlag = 0
	ArchiveOn ArchiveFlag = 1
	ArchiveOnDeleteDestroy ArchiveFlag = -1
)

// LinkType distinguishes static (literal recnum) links from dynamic
// (prime-key lookup) links.
type LinkType int

const (
	LinkStatic LinkType = iota
	LinkDynamic
)

// SegProtocol is the pluggable storage protocol of a segment file. The
// bit-layout of FITS/TAS protocols is out of scope; only the tag
// is modeled here.
type SegProtocol int

const (
	ProtoGeneric SegProtocol = iota
	ProtoBinary
	ProtoBinaryZ
	ProtoFITS
	ProtoFITSZ
	ProtoTAS
)

// SegScope is how a segment's structure (not value) varies across records.
type SegScope int

const (
	SegConstant SegScope = iota
	SegVariable
	SegVarDim
)

// SlotState is the per-slot occupancy state inside a storage unit.
type SlotState int

const (
	SlotFree SlotState = iota
	SlotFull
	SlotTemp
)

func (s SlotState) String() string {
	switch s {
	case SlotFree:
		return "FREE"
	case SlotFull:
		return "FULL"
	case SlotTemp:
		return "TEMP"
	default:
		return "UNKNOWN"
	}
}

// SUMode is whether a storage unit was just allocated (writable) or fetched
// back from the archive manager (read-only).
type SUMode int

const (
	SUReadWrite SUMode = iota
	SUReadOnly
)

// RecordState is the lifecycle stage of an in-memory Record.
type RecordState int

const (
	RecordTemplate RecordState = iota
	RecordNew
	RecordOpen
)

// SUNUM is a site-encoded 64-bit storage-unit number: the top 16 bits are
// the owning site code, the low 48 bits are unique within that site.
type SUNUM int64

const sunumSiteShift = 48
const sunumLowMask = (int64(1) << sunumSiteShift) - 1

// SiteCode returns the top-16-bit site code of the sunum.
func (s SUNUM) SiteCode() int {
	return int(int64(s) >> sunumSiteShift)
}

// LocalID returns the low-48-bit site-unique id of the sunum.
func (s SUNUM) LocalID() int64 {
	return int64(s) & sunumLowMask
}

// MakeSUNUM packs a site code and local id into a SUNUM.
func MakeSUNUM(site int, local int64) SUNUM {
	return SUNUM(int64(site)<<sunumSiteShift | (local & sunumLowMask))
}

// Valid reports whether the sunum's site code is in the legal range: public
// sites 0..16383, import-only sites 16384..32767; negative site codes are
// invalid.
func (s SUNUM) Valid() bool {
	site := s.SiteCode()
	return site >= 0 && site <= 32767
}

// Value is a runtime-tagged scalar. See pkg/value for conversion, equality
// and formatting operations over it.
type Value struct {
	Type ValueType
	Int int64 // Char/Short/Int/Long
	Float float64 // Float/Double/Time
	Str string // String
}

// Keyword is a typed named scalar attached to a record.
type Keyword struct {
	Name string
	Type ValueType
	Default Value
	Format string
	Unit string
	Description string
	PerSegment bool
	Scope RecScope
	Flavor SlotFlavor

	// LinkName/TargetKey are set when this is a link-following keyword:
	// the value is read by following LinkName on the record and reading
	// TargetKey there.
	LinkName string
	TargetKey string

	// IndexName is populated on a slotted keyword once the parser
	// synthesizes its companion index keyword (name + "_index").
	IndexName string

	InternalPrime bool
	ExternalPrime bool
}

// Link is a named reference from one record to another.
type Link struct {
	Name string
	TargetSeries string
	Type LinkType
	Description string

	TargetRecnum int64 // static target

	// Dynamic target: prime-key values of the target record, bound in
	// the order of the target series' current prime key.
	PidxValues []Value
	FollowAll bool

	// ResolvedRecnums caches a dynamic link's resolution for the
	// lifetime of this record instance, highest recnum first.
	ResolvedRecnums []int64
}

// Segment is a named file inside a record's storage-unit slot directory.
type Segment struct {
	Name string
	Type ValueType
	Rank int
	Axis []int64 // axis lengths, or blocking dims for tiled protocols
	Protocol SegProtocol
	Scope SegScope
	Unit string
	Description string

	HasBZero bool // only meaningful for FITS/TAS protocols
	BZero float64
	BScale float64

	CParms string // compression spec, synthesized for FITS/FITSZ/TAS
}

// SeriesInfo is the header portion of a series template.
type SeriesInfo struct {
	Name string // "namespace.series"
	Namespace string
	Description string
	Author string
	Owner string
	UnitSize int
	Archive ArchiveFlag
	TapeGroup int
	Retention int
	JSDVersion float64

	PrimeKeys []string // externally-prime keyword names, in order
	DBIndex []string // internally-prime keyword names, in order
}

// Template is the fully-populated in-memory prototype of a series: header,
// segments, links, keywords, and the prime/DB-index key sets.
type Template struct {
	Info SeriesInfo
	Keywords map[string]*Keyword
	Links map[string]*Link
	Segments map[string]*Segment

	// KeywordOrder preserves declaration order for deterministic
	// DB-index/prime-key column emission; synthesized keywords (index,
	// cparms, bzero/bscale, per-segment expansions) are appended as they
	// are created.
	KeywordOrder []string

	// SegmentOrder preserves Data: declaration order, used to number
	// per-segment keyword expansions and cparms_sgNNN/bzero_sgNNN names.
	SegmentOrder []string
}

// Record is one row of a series: immutable once committed.
type Record struct {
	Series string
	Recnum int64
	Sunum SUNUM
	SlotIndex int
	SessionID string
	State RecordState

	Keywords map[string]Value
	Links map[string]*Link
	Segments map[string]*Segment

	Template *Template
}

// ErrRecordReadonly is returned by a Record mutator once the record has
// left RecordNew: an open (committed) record is read-only.
var ErrRecordReadonly = errors.New("types: record is readonly")

// ErrKeywordReadonly is returned when a caller tries to set a keyword
// whose value is never directly caller-settable: a link-following
// keyword (its value lives on the linked record) or a synthesized
// _index companion (computed from its slotted keyword).
var ErrKeywordReadonly = errors.New("types: keyword is readonly")

// SetKeyword sets a caller-facing keyword's value on the record. It
// rejects link-following keywords and synthesized index companions —
// neither is directly settable, see pkg/session.Session.SetKeyword —
// and fails once the record is no longer RecordNew.
func (r *Record) SetKeyword(name string, v Value) error {
	if r.State != RecordNew {
		return fmt.Errorf("types: set keyword %q on %s:%d: %w", name, r.Series, r.Recnum, ErrRecordReadonly)
	}
	if r.Template != nil {
		if kw, ok := r.Template.Keywords[name]; ok {
			if kw.LinkName != "" || kw.Scope == ScopeIndex {
				return fmt.Errorf("types: set keyword %q on %s:%d: %w", name, r.Series, r.Recnum, ErrKeywordReadonly)
			}
		}
	}
	r.Keywords[name] = v
	return nil
}

// SetComputedKeyword writes a value synthesized on the record's
// behalf — a slotted keyword's _index companion — bypassing the
// caller-settability check SetKeyword applies. It still honors the
// record's readonly state.
func (r *Record) SetComputedKeyword(name string, v Value) error {
	if r.State != RecordNew {
		return fmt.Errorf("types: set keyword %q on %s:%d: %w", name, r.Series, r.Recnum, ErrRecordReadonly)
	}
	r.Keywords[name] = v
	return nil
}

// SetLink rebinds one of the record's links to a new target.
func (r *Record) SetLink(name string, l *Link) error {
	if r.State != RecordNew {
		return fmt.Errorf("types: set link %q on %s:%d: %w", name, r.Series, r.Recnum, ErrRecordReadonly)
	}
	r.Links[name] = l
	return nil
}

// SetSegment rebinds one of the record's segments. The segment must
// already exist on the record — every segment declared on the
// template is present from creation — so this only ever replaces an
// existing entry, never introduces a new one.
func (r *Record) SetSegment(name string, s *Segment) error {
	if r.State != RecordNew {
		return fmt.Errorf("types: set segment %q on %s:%d: %w", name, r.Series, r.Recnum, ErrRecordReadonly)
	}
	if _, ok := r.Segments[name]; !ok {
		return fmt.Errorf("types: record %s:%d has no segment %q", r.Series, r.Recnum, name)
	}
	r.Segments[name] = s
	return nil
}

// StorageUnit is a directory allocated from the archive manager holding up
// to Info.UnitSize slot directories.
type StorageUnit struct {
	Sunum SUNUM
	Series string
	Dir string
	Mode SUMode
	NFree int
	State []SlotState
	Recnum []int64 // parallel array: recnum occupying each slot, 0 if free
	RefCount int
	RetentionDays int // overridden by SETRETENTION; 0 means "use series default"
}

// HasFullSlot reports whether the unit has at least one FULL (non-temporary)
// slot — the condition for submitting it to the archive manager.
func (u *StorageUnit) HasFullSlot() bool {
	for _, s := range u.State {
		if s == SlotFull {
			return true
		}
	}
	return false
}

// Capability is the bitset a session advertises on OPEN, replacing the
// old newflg handshake with an explicit capability negotiation.
type Capability uint32

const (
	CapOfflineRetrieve Capability = 1 << iota
)

func (c Capability) Has(bit Capability) bool { return c&bit != 0 }

// Session is one DRMS client-tier process/connection.
type Session struct {
	ID string
	Namespace string
	RetentionOverride int
	ArchiveOverride ArchiveFlag
	HasArchiveOverride bool
	Capabilities Capability

	OpenedAt time.Time
}
