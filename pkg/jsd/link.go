package jsd

import (
	"fmt"
	"strings"

	"github.com/suncumby/drms/pkg/types"
)

// buildLinks parses each "Link:" line:
//
//	name, target_series, static|dynamic, "description"
func (st *parseState) buildLinks(tmpl *types.Template) error {
	for _, rl := range st.rawLinks {
		f := rl.fields
		if len(f) < 3 {
			return fmt.Errorf("line %d: Link: needs at least 3 fields, got %d", rl.lineno, len(f))
		}
		name := unquoteIdent(f[0])
		target := unquoteIdent(f[1])

		var lt types.LinkType
		switch strings.ToLower(unquoteIdent(f[2])) {
		case "static":
			lt = types.LinkStatic
		case "dynamic":
			lt = types.LinkDynamic
		default:
			return fmt.Errorf("line %d: unknown link type %q", rl.lineno, f[2])
		}

		desc := ""
		if len(f) >= 4 {
			desc = unquoteIdent(f[3])
		}

		if _, dup := tmpl.Links[name]; dup {
			return fmt.Errorf("line %d: duplicate link name %q", rl.lineno, name)
		}
		tmpl.Links[name] = &types.Link{
			Name:         name,
			TargetSeries: target,
			Type:         lt,
			Description:  desc,
		}
	}
	return nil
}
