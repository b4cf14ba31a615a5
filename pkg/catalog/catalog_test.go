package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/suncumby/drms/pkg/types"
)

func TestQuoteIdentRejectsUnsafeNames(t *testing.T) {
	_, err := quoteIdent("ok_name")
	assert.NoError(t, err)

	for _, bad := range []string{"bad name", "bad;drop", "", "1leadingdigit"} {
		_, err := quoteIdent(bad)
		assert.Error(t, err, bad)
	}
}

func TestTableNameForReplacesDot(t *testing.T) {
	assert.Equal(t, "ns__series", tableNameFor("ns.series"))
}

func TestSeriesSequenceName(t *testing.T) {
	assert.Equal(t, "ns_series_recnum_seq", seriesSequenceName("ns.series"))
}

func TestParseAxisCSV(t *testing.T) {
	assert.Equal(t, []int64{4, 4}, parseAxisCSV("4,4"))
	assert.Nil(t, parseAxisCSV(""))
}

func TestScalarArg(t *testing.T) {
	assert.Equal(t, "hello", scalarArg(types.Value{Type: types.TypeString, Str: "hello"}))
	assert.Equal(t, 3.5, scalarArg(types.Value{Type: types.TypeDouble, Float: 3.5}))
	assert.Equal(t, int64(7), scalarArg(types.Value{Type: types.TypeInt, Int: 7}))
}
