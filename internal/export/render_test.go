package export

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func sample() Dataset {
	ds := Dataset{Name: "waste", Columns: []string{"number", "item", "qty"}, SortKeys: []int{0}}
	ds.Append("WST-2", "TOMATO", Qty(decimal.RequireFromString("1.5")))
	ds.Append("WST-1", "MILK, FULL", Qty(decimal.NewFromInt(2)))
	return ds
}

func TestCSVHasBOMAndCRLF(t *testing.T) {
	out, err := CSV(sample())
	require.NoError(t, err)
	require.Equal(t, "waste.csv", out.Filename)
	require.True(t, bytes.HasPrefix(out.Body, utf8BOM))

	content := out.Body[len(utf8BOM):]
	want := "number,item,qty\r\nWST-1,\"MILK, FULL\",2.000000\r\nWST-2,TOMATO,1.500000\r\n"
	require.Equal(t, want, string(content))

	sum := sha256.Sum256(content)
	require.Equal(t, hex.EncodeToString(sum[:]), out.ContentSHA256)
}

func TestCSVHashIgnoresInsertionOrder(t *testing.T) {
	a, err := CSV(sample())
	require.NoError(t, err)

	reversed := sample()
	reversed.Rows[0], reversed.Rows[1] = reversed.Rows[1], reversed.Rows[0]
	b, err := CSV(reversed)
	require.NoError(t, err)
	require.Equal(t, a.ContentSHA256, b.ContentSHA256)
	require.Equal(t, a.Body, b.Body)

	changed := sample()
	changed.Rows[0][2] = Qty(decimal.NewFromInt(3))
	c, err := CSV(changed)
	require.NoError(t, err)
	require.NotEqual(t, a.ContentSHA256, c.ContentSHA256)
}

func TestXLSXRoundTrip(t *testing.T) {
	out, err := Render(sample(), FormatXLSX)
	require.NoError(t, err)
	require.Empty(t, out.ContentSHA256)

	f, err := excelize.OpenReader(bytes.NewReader(out.Body))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Equal(t, [][]string{
		{"number", "item", "qty"},
		{"WST-1", "MILK, FULL", "2.000000"},
		{"WST-2", "TOMATO", "1.500000"},
	}, rows)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatCSV, f)
	f, err = ParseFormat("XLSX")
	require.NoError(t, err)
	require.Equal(t, FormatXLSX, f)
	_, err = ParseFormat("pdf")
	require.Error(t, err)
}

func TestEmptyDatasetRejected(t *testing.T) {
	_, err := CSV(Dataset{Name: "x"})
	require.Error(t, err)
}
