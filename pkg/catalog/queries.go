package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/suncumby/drms/pkg/types"
)

// TemplateHeader loads a series' header row: description, author, owner,
// unit-size, archive flag, tape-group, retention, and the two ordered
// keyword lists.
func (s *Session) TemplateHeader(ctx context.Context, series string) (types.SeriesInfo, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT description, author, owner, unitsize, archive, tapegroup, retention
		FROM drms_series WHERE seriesname = $1`, series)

	var info types.SeriesInfo
	info.Name = series
	if idx := strings.IndexByte(series, '.'); idx >= 0 {
		info.Namespace = series[:idx]
	}
	var archive int
	if err := row.Scan(&info.Description, &info.Author, &info.Owner, &info.UnitSize,
		&archive, &info.TapeGroup, &info.Retention); err != nil {
		if err == sql.ErrNoRows {
			return info, fmt.Errorf("catalog: series %q not found", series)
		}
		return info, fmt.Errorf("catalog: template header: %w", err)
	}
	info.Archive = types.ArchiveFlag(archive)

	rows, err := s.conn.QueryContext(ctx, `
		SELECT keyword_name, is_external_prime FROM drms_prime_key
		WHERE seriesname = $1 ORDER BY ordinal`, series)
	if err != nil {
		return info, fmt.Errorf("catalog: template prime keys: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var external bool
		if err := rows.Scan(&name, &external); err != nil {
			return info, fmt.Errorf("catalog: scan prime key: %w", err)
		}
		if external {
			info.PrimeKeys = append(info.PrimeKeys, name)
		} else {
			info.DBIndex = append(info.DBIndex, name)
		}
	}
	return info, rows.Err()
}

// TemplateSegments loads the ordered segment list (second of three
// template queries).
func (s *Session) TemplateSegments(ctx context.Context, series string) ([]*types.Segment, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT name, type, rank, axis, unit, protocol, scope, cparms, has_bzero, bzero, bscale, description
		FROM drms_segment WHERE seriesname = $1 ORDER BY ordinal`, series)
	if err != nil {
		return nil, fmt.Errorf("catalog: template segments: %w", err)
	}
	defer rows.Close()

	var out []*types.Segment
	for rows.Next() {
		seg := &types.Segment{}
		var ty, protocol, scope int
		var axisCSV string
		if err := rows.Scan(&seg.Name, &ty, &seg.Rank, &axisCSV, &seg.Unit, &protocol, &scope,
			&seg.CParms, &seg.HasBZero, &seg.BZero, &seg.BScale, &seg.Description); err != nil {
			return nil, fmt.Errorf("catalog: scan segment: %w", err)
		}
		seg.Type = types.ValueType(ty)
		seg.Protocol = types.SegProtocol(protocol)
		seg.Scope = types.SegScope(scope)
		seg.Axis = parseAxisCSV(axisCSV)
		out = append(out, seg)
	}
	return out, rows.Err()
}

func parseAxisCSV(csv string) []int64 {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	axis := make([]int64, 0, len(parts))
	for _, p := range parts {
		var v int64
		fmt.Sscanf(strings.TrimSpace(p), "%d", &v)
		axis = append(axis, v)
	}
	return axis
}

// TemplateLinks loads the ordered link list (third of three template
// queries).
func (s *Session) TemplateLinks(ctx context.Context, series string) ([]*types.Link, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT name, target_series, type, description FROM drms_link
		WHERE seriesname = $1 ORDER BY ordinal`, series)
	if err != nil {
		return nil, fmt.Errorf("catalog: template links: %w", err)
	}
	defer rows.Close()

	var out []*types.Link
	for rows.Next() {
		l := &types.Link{}
		var lt int
		if err := rows.Scan(&l.Name, &l.TargetSeries, &lt, &l.Description); err != nil {
			return nil, fmt.Errorf("catalog: scan link: %w", err)
		}
		l.Type = types.LinkType(lt)
		out = append(out, l)
	}
	return out, rows.Err()
}

// TemplateKeywords loads the ordered keyword list (the template's fourth
// query in this implementation; header, segments, and links are grouped as
// "three separate queries" and treats keywords as part of that set, but
// splitting keywords out keeps each query single-table).
func (s *Session) TemplateKeywords(ctx context.Context, series string) ([]*types.Keyword, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT name, type, scope, flavor, per_segment, format, unit, description, link_name, target_key, index_name
		FROM drms_keyword WHERE seriesname = $1 ORDER BY ordinal`, series)
	if err != nil {
		return nil, fmt.Errorf("catalog: template keywords: %w", err)
	}
	defer rows.Close()

	var out []*types.Keyword
	for rows.Next() {
		kw := &types.Keyword{}
		var ty, scope, flavor int
		var linkName, targetKey, indexName sql.NullString
		if err := rows.Scan(&kw.Name, &ty, &scope, &flavor, &kw.PerSegment, &kw.Format, &kw.Unit,
			&kw.Description, &linkName, &targetKey, &indexName); err != nil {
			return nil, fmt.Errorf("catalog: scan keyword: %w", err)
		}
		kw.Type = types.ValueType(ty)
		kw.Scope = types.RecScope(scope)
		kw.Flavor = types.SlotFlavor(flavor)
		kw.LinkName = linkName.String
		kw.TargetKey = targetKey.String
		kw.IndexName = indexName.String
		out = append(out, kw)
	}
	return out, rows.Err()
}

// NextRecnum draws the next value of a series' per-series record-number
// sequence.
func (s *Session) NextRecnum(ctx context.Context, series string) (int64, error) {
	seq, err := quoteIdent(seriesSequenceName(series))
	if err != nil {
		return 0, err
	}
	var recnum int64
	if err := s.conn.QueryRowContext(ctx, fmt.Sprintf("SELECT nextval('%s')", strings.Trim(seq, `"`))).Scan(&recnum); err != nil {
		return 0, fmt.Errorf("catalog: next recnum: %w", err)
	}
	return recnum, nil
}

func seriesSequenceName(series string) string {
	return strings.ReplaceAll(series, ".", "_") + "_recnum_seq"
}

// OpenRecords runs a prime-key-qualified SELECT against a series' data
// table and returns the matching record numbers and their per-row keyword
// values. whereClause uses "$1", "$2", ... placeholders bound to args, per
// the query(series, where_clause, args...) entry point.
func (s *Session) OpenRecords(ctx context.Context, series, whereClause string, keywordNames []string, args ...any) ([]int64, map[int64]map[string]types.Value, error) {
	cols := append([]string{"recnum"}, keywordNames...)
	table, err := quoteIdent(tableNameFor(series))
	if err != nil {
		return nil, nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), table)
	if whereClause != "" {
		query += " WHERE " + whereClause
	}

	rows, err := s.q().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("catalog: open_records: %w", err)
	}
	defer rows.Close()

	var recnums []int64
	byRecnum := map[int64]map[string]types.Value{}
	for rows.Next() {
		scanTargets := make([]any, len(cols))
		var recnum int64
		scanTargets[0] = &recnum
		raw := make([]sql.NullString, len(keywordNames))
		for i := range keywordNames {
			scanTargets[i+1] = &raw[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, nil, fmt.Errorf("catalog: scan record row: %w", err)
		}
		vals := make(map[string]types.Value, len(keywordNames))
		for i, name := range keywordNames {
			vals[name] = types.Value{Type: types.TypeString, Str: raw[i].String}
		}
		recnums = append(recnums, recnum)
		byRecnum[recnum] = vals
	}
	return recnums, byRecnum, rows.Err()
}

func tableNameFor(series string) string {
	return strings.ReplaceAll(series, ".", "__")
}

// InsertRecords bulk-INSERTs every record of one series as a single
// prepared multi-row statement, matching close_all(INSERT)'s batching
// rule ("one prepared multi-row statement per series for correctness and
// speed").
func (s *Session) InsertRecords(ctx context.Context, series string, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	table, err := quoteIdent(tableNameFor(series))
	if err != nil {
		return err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", table, strings.Join(columns, ", "))
	args := make([]any, 0, len(rows)*len(columns))
	n := 1
	for i, row := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for j := range row {
			if j > 0 {
				sb.WriteByte(',')
			}
			fmt.Fprintf(&sb, "$%d", n)
			n++
		}
		sb.WriteByte(')')
		args = append(args, row...)
	}

	if _, err := s.q().ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("catalog: insert records: %w", err)
	}
	return nil
}

// DeleteRecords removes a set of record numbers from a series' data table
// in one statement, used both for the temp-record registry's
// "DELETE ... WHERE recnum IN (...)" cleanup and for abort of
// already-inserted rows.
func (s *Session) DeleteRecords(ctx context.Context, series string, recnums []int64) error {
	if len(recnums) == 0 {
		return nil
	}
	table, err := quoteIdent(tableNameFor(series))
	if err != nil {
		return err
	}
	placeholders := make([]string, len(recnums))
	args := make([]any, len(recnums))
	for i, r := range recnums {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = r
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE recnum IN (%s)", table, strings.Join(placeholders, ","))
	if _, err := s.q().ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("catalog: delete records: %w", err)
	}
	return nil
}

// ResolveDynamicLink runs the single catalog query a dynamic link
// resolution needs: the recnums of the target series whose prime-key
// columns equal pidxValues in order. followAll returns every match;
// otherwise only the highest recnum is kept.
func (s *Session) ResolveDynamicLink(ctx context.Context, targetSeries string, primeCols []string, pidxValues []types.Value, followAll bool) ([]int64, error) {
	if len(primeCols) != len(pidxValues) {
		return nil, fmt.Errorf("catalog: resolve_link: %d prime columns but %d values", len(primeCols), len(pidxValues))
	}
	table, err := quoteIdent(tableNameFor(targetSeries))
	if err != nil {
		return nil, err
	}
	conds := make([]string, len(primeCols))
	args := make([]any, len(primeCols))
	for i, col := range primeCols {
		ident, err := quoteIdent(col)
		if err != nil {
			return nil, err
		}
		conds[i] = fmt.Sprintf("%s = $%d", ident, i+1)
		args[i] = scalarArg(pidxValues[i])
	}
	query := fmt.Sprintf("SELECT recnum FROM %s WHERE %s ORDER BY recnum DESC", table, strings.Join(conds, " AND "))
	if !followAll {
		query += " LIMIT 1"
	}

	rows, err := s.q().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: resolve_link: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var recnum int64
		if err := rows.Scan(&recnum); err != nil {
			return nil, fmt.Errorf("catalog: scan resolved link: %w", err)
		}
		out = append(out, recnum)
	}
	return out, rows.Err()
}

func scalarArg(v types.Value) any {
	switch v.Type {
	case types.TypeString:
		return v.Str
	case types.TypeFloat, types.TypeDouble, types.TypeTime:
		return v.Float
	default:
		return v.Int
	}
}
