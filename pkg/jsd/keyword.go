package jsd

import (
	"fmt"
	"strings"

	"github.com/suncumby/drms/pkg/timeslot"
	"github.com/suncumby/drms/pkg/types"
	"github.com/suncumby/drms/pkg/value"
)

var slottedFlavors = map[string]types.SlotFlavor{
	"slotted_ts_eq": types.SlotTimeEpoch,
	"slotted":       types.SlotGeneric,
	"slotted_gen":   types.SlotGeneric,
	"slotted_carr":  types.SlotCarrington,
	"slotted_enum":  types.SlotEnum,
}

// buildKeywords parses each "Keyword:" line, in one of two subforms:
//
//	Simple:        name, type, constant|variable|slotted_*, segment|record, default, format, unit, "description"
//	Link-following: name, link, linkname, target_key, "description"
func (st *parseState) buildKeywords(tmpl *types.Template) error {
	for _, rk := range st.rawKws {
		f := rk.fields
		if len(f) < 2 {
			return fmt.Errorf("line %d: Keyword: needs at least 2 fields, got %d", rk.lineno, len(f))
		}
		name := unquoteIdent(f[0])

		if strings.EqualFold(unquoteIdent(f[1]), "link") {
			if len(f) < 4 {
				return fmt.Errorf("line %d: link-following Keyword: needs at least 4 fields", rk.lineno)
			}
			kw := &types.Keyword{
				Name:      name,
				Scope:     types.ScopeVariable,
				LinkName:  unquoteIdent(f[2]),
				TargetKey: unquoteIdent(f[3]),
			}
			if len(f) >= 5 {
				kw.Description = unquoteIdent(f[4])
			}
			if err := st.insertKeyword(tmpl, rk.lineno, kw); err != nil {
				return err
			}
			continue
		}

		if len(f) < 7 {
			return fmt.Errorf("line %d: Keyword: needs at least 7 fields, got %d", rk.lineno, len(f))
		}
		ty, err := parseValueType(f[1])
		if err != nil {
			return fmt.Errorf("line %d: %w", rk.lineno, err)
		}

		scopeTok := strings.ToLower(unquoteIdent(f[2]))
		var scope types.RecScope
		var flavor types.SlotFlavor
		switch scopeTok {
		case "constant":
			scope = types.ScopeConstant
		case "variable":
			scope = types.ScopeVariable
		default:
			fl, ok := slottedFlavors[scopeTok]
			if !ok {
				return fmt.Errorf("line %d: unknown keyword recscope %q", rk.lineno, f[2])
			}
			scope = types.ScopeSlotted
			flavor = fl
		}

		perSeg := false
		switch strings.ToLower(unquoteIdent(f[3])) {
		case "segment":
			perSeg = true
		case "record":
			perSeg = false
		default:
			return fmt.Errorf("line %d: unknown keyword placement %q (want segment|record)", rk.lineno, f[3])
		}

		var defVal types.Value
		if ty == types.TypeTime {
			defVal = types.Value{Type: ty, Float: timeslot.Parse(stripQuotes(f[4]))}
		} else {
			var err error
			defVal, err = value.SscanfValue(ty, f[4])
			if err != nil {
				// A bad default is a warning, not fatal:
				// fall back to the type's missing sentinel.
				defVal = value.Missing(ty)
			}
		}

		format := f[5]
		if err := value.CheckFormat(ty, stripQuotes(format)); err != nil {
			// Format/type mismatch is a warning at parse time, not
			// fatal; keep parsing.
		}

		unit := unquoteIdent(f[6])
		desc := ""
		if len(f) >= 8 {
			desc = unquoteIdent(f[7])
		}

		kw := &types.Keyword{
			Name:        name,
			Type:        ty,
			Scope:       scope,
			Flavor:      flavor,
			PerSegment:  perSeg,
			Default:     defVal,
			Format:      stripQuotes(format),
			Unit:        unit,
			Description: desc,
		}
		if err := st.insertKeyword(tmpl, rk.lineno, kw); err != nil {
			return err
		}
	}
	return nil
}

func (st *parseState) insertKeyword(tmpl *types.Template, lineno int, kw *types.Keyword) error {
	if _, dup := tmpl.Keywords[kw.Name]; dup {
		return fmt.Errorf("line %d: duplicate keyword name %q", lineno, kw.Name)
	}
	tmpl.Keywords[kw.Name] = kw
	tmpl.KeywordOrder = append(tmpl.KeywordOrder, kw.Name)
	return nil
}

func stripQuotes(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
