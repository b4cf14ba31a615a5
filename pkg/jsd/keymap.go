package jsd

import "github.com/suncumby/drms/pkg/types"

// KeyMapExport returns tmpl's prime-key and DB-index keyword names, in
// declaration order, as a flat list suitable for formatting query result
// columns — the Go analogue of drms_keymap.c's job of mapping external
// column names to internal keyword slots. Prime keys come first, then
// any DB-index keyword not already listed as a prime key.
func KeyMapExport(tmpl *types.Template) []string {
	seen := make(map[string]bool, len(tmpl.Info.PrimeKeys)+len(tmpl.Info.DBIndex))
	out := make([]string, 0, len(tmpl.Info.PrimeKeys)+len(tmpl.Info.DBIndex))

	for _, name := range tmpl.Info.PrimeKeys {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for _, name := range tmpl.Info.DBIndex {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}
