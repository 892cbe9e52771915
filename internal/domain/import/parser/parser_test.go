package parser

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func nopCloser(s string) io.ReadCloser {
	return io.NopCloser(strings.NewReader(s))
}

func TestFormatFromFilename(t *testing.T) {
	tests := []struct {
		name     string
		expected Format
	}{
		{"extrato.CSV", FormatCSV},
		{"export.txt", FormatCSV},
		{"export.tsv", FormatCSV},
		{"gastos.xlsx", FormatXLSX},
		{"antigo.xls", FormatXLS},
	}
	for _, tt := range tests {
		got, err := FormatFromFilename(tt.name)
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.expected, got, tt.name)
	}

	_, err := FormatFromFilename("statement.pdf")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	assert.True(t, FormatXLS.IsSpreadsheet())
	assert.False(t, FormatCSV.IsSpreadsheet())
}

func TestCSVReader(t *testing.T) {
	t.Run("reads records with line numbers", func(t *testing.T) {
		r := NewCSVReader(nopCloser("Data;Descrição;Valor\n\n05/01/24;\"Mercado; Centro\";150,00\n"), ';')
		defer r.Close()

		require.True(t, r.Next())
		assert.Equal(t, []string{"Data", "Descrição", "Valor"}, r.Record())
		assert.Equal(t, 1, r.Line())

		require.True(t, r.Next())
		assert.Equal(t, []string{"05/01/24", "Mercado; Centro", "150,00"}, r.Record())
		assert.Equal(t, 3, r.Line())

		assert.False(t, r.Next())
		assert.NoError(t, r.Err())
	})

	t.Run("strips byte order mark", func(t *testing.T) {
		r := NewCSVReader(nopCloser("\uFEFFdate,title,amount\n"), ',')
		require.True(t, r.Next())
		assert.Equal(t, "date", r.Record()[0])
	})

	t.Run("decodes latin-1", func(t *testing.T) {
		r := NewCSVReader(io.NopCloser(bytes.NewReader([]byte("Data,Descri\xe7\xe3o\n"))), ',')
		require.True(t, r.Next())
		assert.Equal(t, "Descrição", r.Record()[1])
	})

	t.Run("variable field counts", func(t *testing.T) {
		r := NewCSVReader(nopCloser("a,b,c\n1,2\n"), ',')
		rows, err := ReadRows(r, 10)
		require.NoError(t, err)
		assert.Equal(t, [][]string{{"a", "b", "c"}, {"1", "2"}}, rows)
	})

	t.Run("skips rows without values", func(t *testing.T) {
		r := NewCSVReader(nopCloser("a,b\n,,\n  \n1,2\n"), ',')
		require.True(t, r.Next())
		require.True(t, r.Next())
		assert.Equal(t, []string{"1", "2"}, r.Record())
		assert.Equal(t, 4, r.Line())
	})

	t.Run("filters see decoded text", func(t *testing.T) {
		upper := func(in io.Reader) io.Reader {
			b, err := io.ReadAll(in)
			require.NoError(t, err)
			return strings.NewReader(strings.ToUpper(string(b)))
		}
		r := NewCSVReader(io.NopCloser(bytes.NewReader([]byte("\xefa,\xe7\n"))), ',', upper)
		rows, err := ReadRows(r, 10)
		require.NoError(t, err)
		assert.Equal(t, [][]string{{"ÏA", "Ç"}}, rows)
	})
}

func TestReadRows_Limit(t *testing.T) {
	r := NewCSVReader(nopCloser("1\n2\n3\n4\n"), ',')
	rows, err := ReadRows(r, 2)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestValidUTF8Prefix(t *testing.T) {
	cut := []byte("abc\xc3")
	assert.True(t, validUTF8Prefix(cut, true))
	assert.False(t, validUTF8Prefix(cut, false))
	assert.False(t, validUTF8Prefix([]byte("a\xe7b"), true))
}

func TestXLSXReader(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"Data", "Descrição", "Valor"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]any{"05/01/24", "Mercado", "150,00"}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	r, err := Open(FormatXLSX, io.NopCloser(bytes.NewReader(buf.Bytes())), 0)
	require.NoError(t, err)
	defer r.Close()

	require.True(t, r.Next())
	assert.Equal(t, []string{"Data", "Descrição", "Valor"}, r.Record())

	require.True(t, r.Next())
	assert.Equal(t, []string{"05/01/24", "Mercado", "150,00"}, r.Record())
	assert.Equal(t, 2, r.Line())

	assert.False(t, r.Next())
	assert.NoError(t, r.Err())
}

func TestOpen_Unsupported(t *testing.T) {
	_, err := Open(Format("pdf"), nopCloser(""), 0)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}
