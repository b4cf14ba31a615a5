package jsd

import (
	"fmt"
	"strings"

	"github.com/suncumby/drms/pkg/types"
)

// companion describes one constant keyword a slotted flavor requires, and
// the set of value types it is allowed to carry.
type companion struct {
	suffix string
	types  []types.ValueType
}

var flavorCompanions = map[types.SlotFlavor][]companion{
	types.SlotTimeEpoch: {
		{"_epoch", []types.ValueType{types.TypeTime, types.TypeString}},
		{"_step", []types.ValueType{types.TypeDouble, types.TypeFloat}},
	},
	types.SlotGeneric: {
		{"_base", []types.ValueType{types.TypeDouble, types.TypeFloat, types.TypeTime}},
		{"_step", []types.ValueType{types.TypeDouble, types.TypeFloat}},
	},
	types.SlotCarrington: {
		{"_step", []types.ValueType{types.TypeDouble, types.TypeFloat}},
	},
	types.SlotEnum: {
		{"_base", []types.ValueType{types.TypeDouble, types.TypeFloat}},
		{"_step", []types.ValueType{types.TypeDouble, types.TypeFloat}},
	},
}

// synthesize is Phase 2 of the parse: it validates every declared slotted
// keyword's companion constants and synthesizes the keywords a series
// definition only implies — the slotted-keyword index, and the FITS/TAS
// compression parameter keywords. Per-segment keyword expansion also
// happens here, ahead of prime-key promotion.
func (st *parseState) synthesize(tmpl *types.Template) error {
	for _, name := range tmpl.KeywordOrder {
		if strings.HasSuffix(name, "_index") {
			return fmt.Errorf("keyword %q uses the reserved _index suffix", name)
		}
	}

	declared := append([]string(nil), tmpl.KeywordOrder...)

	for _, name := range declared {
		kw := tmpl.Keywords[name]
		if kw.Scope != types.ScopeSlotted {
			continue
		}
		companions, ok := flavorCompanions[kw.Flavor]
		if !ok {
			return fmt.Errorf("keyword %q: unhandled slot flavor", name)
		}
		for _, c := range companions {
			cname := name + c.suffix
			ckw, ok := tmpl.Keywords[cname]
			if !ok {
				return fmt.Errorf("slotted keyword %q requires companion constant %q", name, cname)
			}
			if ckw.Scope != types.ScopeConstant {
				return fmt.Errorf("companion keyword %q must be constant, got %s", cname, ckw.Scope)
			}
			if !typeAllowed(ckw.Type, c.types) {
				return fmt.Errorf("companion keyword %q has type %s, want one of %v", cname, ckw.Type, c.types)
			}
		}
		if ckw, ok := tmpl.Keywords[name+"_unit"]; ok {
			if ckw.Scope != types.ScopeConstant || ckw.Type != types.TypeString {
				return fmt.Errorf("companion keyword %q must be a constant string", name+"_unit")
			}
		}

		indexName := name + "_index"
		idx := &types.Keyword{
			Name:          indexName,
			Type:          types.TypeLong,
			Scope:         types.ScopeIndex,
			InternalPrime: true,
		}
		if err := st.insertKeyword(tmpl, 0, idx); err != nil {
			return err
		}
		kw.IndexName = indexName
		kw.ExternalPrime = true
	}

	if err := st.expandPerSegmentKeywords(tmpl, declared); err != nil {
		return err
	}
	return st.synthesizeSegmentKeywords(tmpl)
}

func typeAllowed(t types.ValueType, allowed []types.ValueType) bool {
	for _, a := range allowed {
		if t == a {
			return true
		}
	}
	return false
}

// expandPerSegmentKeywords replaces each keyword declared "segment"-scoped
// with one concrete instance per segment, named <name>_<NNN> in segment
// declaration order.
func (st *parseState) expandPerSegmentKeywords(tmpl *types.Template, declared []string) error {
	if len(tmpl.SegmentOrder) == 0 {
		return nil
	}
	for _, name := range declared {
		kw := tmpl.Keywords[name]
		if !kw.PerSegment {
			continue
		}
		delete(tmpl.Keywords, name)
		for i := range tmpl.KeywordOrder {
			if tmpl.KeywordOrder[i] == name {
				tmpl.KeywordOrder = append(tmpl.KeywordOrder[:i], tmpl.KeywordOrder[i+1:]...)
				break
			}
		}
		for i := range tmpl.SegmentOrder {
			inst := *kw
			inst.Name = fmt.Sprintf("%s_%03d", name, i)
			inst.PerSegment = false
			if err := st.insertKeyword(tmpl, 0, &inst); err != nil {
				return err
			}
		}
	}
	return nil
}

// synthesizeSegmentKeywords installs the cparms_sgNNN keyword for every
// FITS/FITSZ/TAS segment, plus bzero_sgNNN/bscale_sgNNN when the segment
// carries a bzero/bscale pair.
func (st *parseState) synthesizeSegmentKeywords(tmpl *types.Template) error {
	for i, segName := range tmpl.SegmentOrder {
		seg := tmpl.Segments[segName]
		switch seg.Protocol {
		case types.ProtoFITS, types.ProtoFITSZ, types.ProtoTAS:
		default:
			continue
		}
		tag := fmt.Sprintf("sg%03d", i)

		cparms := &types.Keyword{
			Name:    "cparms_" + tag,
			Type:    types.TypeString,
			Scope:   types.ScopeConstant,
			Default: types.Value{Type: types.TypeString, Str: seg.CParms},
		}
		if err := st.insertKeyword(tmpl, 0, cparms); err != nil {
			return err
		}

		if !seg.HasBZero {
			continue
		}
		bzero := &types.Keyword{
			Name:    "bzero_" + tag,
			Type:    types.TypeDouble,
			Scope:   types.ScopeConstant,
			Default: types.Value{Type: types.TypeDouble, Float: seg.BZero},
		}
		if err := st.insertKeyword(tmpl, 0, bzero); err != nil {
			return err
		}
		bscale := &types.Keyword{
			Name:    "bscale_" + tag,
			Type:    types.TypeDouble,
			Scope:   types.ScopeConstant,
			Default: types.Value{Type: types.TypeDouble, Float: seg.BScale},
		}
		if err := st.insertKeyword(tmpl, 0, bscale); err != nil {
			return err
		}
	}
	return nil
}

// promotePrimeKeys applies the explicit PrimeKeys:/Index: header list: each
// named keyword becomes prime (both internally and externally, unless it is
// slotted, in which case synthesize already split internal/external prime
// between the index and the real-valued keyword). Per-segment keywords
// cannot be listed; duplicate names are a warning, not an error.
func (st *parseState) promotePrimeKeys(tmpl *types.Template) error {
	seen := map[string]bool{}
	for _, name := range st.explicitPrime {
		if seen[name] {
			continue // warning: duplicate prime-key name, ignored
		}
		seen[name] = true

		kw, ok := tmpl.Keywords[name]
		if !ok {
			return fmt.Errorf("PrimeKeys: unknown keyword %q", name)
		}
		if kw.PerSegment {
			return fmt.Errorf("PrimeKeys: %q is per-segment, per-segment keywords cannot be prime", name)
		}
		if kw.Scope == types.ScopeSlotted {
			continue // already split internal/external prime by synthesize
		}
		kw.InternalPrime = true
		kw.ExternalPrime = true
	}

	for _, name := range tmpl.KeywordOrder {
		kw := tmpl.Keywords[name]
		if kw.ExternalPrime {
			tmpl.Info.PrimeKeys = append(tmpl.Info.PrimeKeys, kw.Name)
		}
		if kw.InternalPrime {
			tmpl.Info.DBIndex = append(tmpl.Info.DBIndex, kw.Name)
		}
	}

	for _, name := range st.dbIndex {
		kw, ok := tmpl.Keywords[name]
		if !ok {
			return fmt.Errorf("DBIndex: unknown keyword %q", name)
		}
		if kw.InternalPrime {
			continue
		}
		kw.InternalPrime = true
		tmpl.Info.DBIndex = append(tmpl.Info.DBIndex, kw.Name)
	}
	return nil
}
