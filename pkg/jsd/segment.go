package jsd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/suncumby/drms/pkg/types"
)

var segScopeNames = map[string]types.SegScope{
	"constant": types.SegConstant,
	"variable": types.SegVariable,
	"vardim":   types.SegVarDim,
}

var segProtocolNames = map[string]types.SegProtocol{
	"generic": types.ProtoGeneric,
	"binary":  types.ProtoBinary,
	"binaryz": types.ProtoBinaryZ,
	"fits":    types.ProtoFITS,
	"fitsz":   types.ProtoFITSZ,
	"tas":     types.ProtoTAS,
}

// buildSegments parses each "Data:" line:
//
//	name, constant|variable|vardim, type, naxis, axis..., unit, protocol[, compress_params][, bzero, bscale], "description"
func (st *parseState) buildSegments(tmpl *types.Template) error {
	for _, rs := range st.rawSegs {
		f := rs.fields
		if len(f) < 7 {
			return fmt.Errorf("line %d: Data: needs at least 7 fields, got %d", rs.lineno, len(f))
		}
		name := unquoteIdent(f[0])

		scope, ok := segScopeNames[strings.ToLower(unquoteIdent(f[1]))]
		if !ok {
			return fmt.Errorf("line %d: unknown segment scope %q", rs.lineno, f[1])
		}

		ty, err := parseValueType(f[2])
		if err != nil {
			return fmt.Errorf("line %d: %w", rs.lineno, err)
		}

		naxis, err := strconv.Atoi(strings.TrimSpace(f[3]))
		if err != nil || naxis < 0 || naxis > 16 {
			return fmt.Errorf("line %d: bad naxis %q (must be 0..16)", rs.lineno, f[3])
		}

		need := 4 + naxis + 2 // axis values + unit + protocol
		if len(f) < need+1 {  // +1 for description
			return fmt.Errorf("line %d: Data: expected at least %d fields for naxis=%d, got %d", rs.lineno, need+1, naxis, len(f))
		}

		axis := make([]int64, naxis)
		for i := 0; i < naxis; i++ {
			v, err := strconv.ParseInt(strings.TrimSpace(f[4+i]), 10, 64)
			if err != nil {
				return fmt.Errorf("line %d: bad axis length %q", rs.lineno, f[4+i])
			}
			axis[i] = v
		}

		unit := unquoteIdent(f[4+naxis])
		protocol, ok := segProtocolNames[strings.ToLower(unquoteIdent(f[5+naxis]))]
		if !ok {
			return fmt.Errorf("line %d: unknown segment protocol %q", rs.lineno, f[5+naxis])
		}

		seg := &types.Segment{
			Name:     name,
			Type:     ty,
			Rank:     naxis,
			Axis:     axis,
			Protocol: protocol,
			Scope:    scope,
			Unit:     unit,
		}

		extra := f[6+naxis : len(f)-1]
		seg.Description = unquoteIdent(f[len(f)-1])

		switch protocol {
		case types.ProtoFITS, types.ProtoFITSZ, types.ProtoTAS:
			if st.info.JSDVersion >= 2.1 && len(extra) >= 2 {
				bz, err1 := strconv.ParseFloat(strings.TrimSpace(extra[len(extra)-2]), 64)
				bs, err2 := strconv.ParseFloat(strings.TrimSpace(extra[len(extra)-1]), 64)
				if err1 == nil && err2 == nil {
					seg.HasBZero = true
					seg.BZero = bz
					seg.BScale = bs
					extra = extra[:len(extra)-2]
				}
			}
			if len(extra) > 0 {
				seg.CParms = unquoteIdent(strings.Join(extra, ","))
			}
		default:
			if len(extra) > 0 {
				return fmt.Errorf("line %d: unexpected extra fields for protocol %q", rs.lineno, f[5+naxis])
			}
		}

		if _, dup := tmpl.Segments[name]; dup {
			return fmt.Errorf("line %d: duplicate segment name %q", rs.lineno, name)
		}
		tmpl.Segments[name] = seg
		tmpl.SegmentOrder = append(tmpl.SegmentOrder, name)
	}
	return nil
}

func parseValueType(s string) (types.ValueType, error) {
	switch strings.ToLower(unquoteIdent(s)) {
	case "char":
		return types.TypeChar, nil
	case "short":
		return types.TypeShort, nil
	case "int":
		return types.TypeInt, nil
	case "long", "longlong":
		return types.TypeLong, nil
	case "float":
		return types.TypeFloat, nil
	case "double":
		return types.TypeDouble, nil
	case "time":
		return types.TypeTime, nil
	case "string":
		return types.TypeString, nil
	default:
		return 0, fmt.Errorf("unknown type %q", s)
	}
}
