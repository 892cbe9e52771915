package sniffer

import (
	"encoding/csv"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const financeAppExport = `Planilha de Gastos - Janeiro
,,,,,,,,,,
Data,Descrição,Categoria,Valor,Forma de Pagamento,Parcelas,Recorrente,Fixa,,Receitas,Valor
05/01/24,Mercado,Alimentação,"150,00",Débito,,Não,Não,,Salário,"5.000,00"
06/01/24,Netflix,Lazer,"39,90",Crédito,1/1,Sim,Sim,,,
TOTAL,,,"189,90",,,,,,,
Resumo do mês,,,,,,,,,,`

func TestDetect(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		sample   string
		expected Dialect
	}{
		{
			name:     "bank by filename",
			filename: "Nubank_2024-01.csv",
			sample:   "foo,bar\n1,2",
			expected: DialectBank,
		},
		{
			name:     "bank by header",
			filename: "export.csv",
			sample:   "date,title,amount\n2024-01-05,Uber,23.50",
			expected: DialectBank,
		},
		{
			name:     "bank header with category",
			filename: "export.csv",
			sample:   "\uFEFFdate,category,title,amount\n2024-01-05,transporte,Uber,23.50",
			expected: DialectBank,
		},
		{
			name:     "finance app by header phrase",
			filename: "gastos.csv",
			sample:   financeAppExport,
			expected: DialectFinanceApp,
		},
		{
			name:     "finance app by trailing total",
			filename: "gastos.csv",
			sample:   "a,b\n1,2\nTotal de Despesas,10",
			expected: DialectFinanceApp,
		},
		{
			name:     "generic",
			filename: "extrato.csv",
			sample:   "Data;Descrição;Valor\n01/02/2024;Padaria;10,00",
			expected: DialectGeneric,
		},
		{
			name:     "header phrases on different lines",
			filename: "extrato.csv",
			sample:   "Data;Descrição;Forma de Pagamento;Valor\n01/02/2024;Parcela do carro;Boleto;10,00",
			expected: DialectGeneric,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Detect(tt.filename, tt.sample))
		})
	}
}

func TestDetectDelimiter(t *testing.T) {
	tests := []struct {
		line     string
		expected rune
	}{
		{"Data;Descrição;Valor", ';'},
		{"date,title,amount", ','},
		{"date\ttitle\tamount", '\t'},
		{"a;b,c", ','},
		{"single", ','},
	}

	for _, tt := range tests {
		got, _ := DetectDelimiter(tt.line)
		assert.Equal(t, tt.expected, got, tt.line)
	}
}

func TestFold(t *testing.T) {
	assert.Equal(t, "descricao", Fold("  Descrição "))
	assert.Equal(t, "forma de pagamento", Fold("FORMA DE PAGAMENTO"))
	assert.Equal(t, "credito", Fold("Crédito"))
}

func TestKeywordSet(t *testing.T) {
	set := NewKeywordSet("pix recebido", "salário")

	assert.True(t, set.Contains("PIX RECEBIDO de Fulano"))
	assert.True(t, set.Contains("Salario janeiro"))
	assert.False(t, set.Contains("Mercado"))
	assert.ElementsMatch(t, []string{"pix recebido", "salario"}, set.Find("salário via pix recebido"))
}

func TestGenerateMapping(t *testing.T) {
	t.Run("generic portuguese headers", func(t *testing.T) {
		m := GenerateMapping([]string{"Data", "Descrição", "Valor"}, DialectGeneric)

		assert.Equal(t, "Data", m.Date)
		assert.Equal(t, "Descrição", m.Description)
		assert.Equal(t, "Valor", m.Amount)
		assert.Empty(t, m.Category)
	})

	t.Run("header is claimed by one field only", func(t *testing.T) {
		m := GenerateMapping([]string{"Data do Pagamento", "Histórico", "Valor"}, DialectGeneric)

		assert.Equal(t, "Data do Pagamento", m.Date)
		assert.Empty(t, m.PaymentType)
	})

	t.Run("ranked candidates prefer earlier substrings", func(t *testing.T) {
		m := GenerateMapping([]string{"Title", "Description", "Amount"}, DialectGeneric)

		assert.Equal(t, "Description", m.Description)
		assert.Equal(t, "Amount", m.Amount)
	})

	t.Run("finance app labels", func(t *testing.T) {
		headers := []string{"Data", "Descrição", "Categoria", "Valor", "Forma de Pagamento", "Parcelas", "Recorrente", "Fixa"}
		m := GenerateMapping(headers, DialectFinanceApp)

		assert.Equal(t, ColumnMapping{
			Date:         "Data",
			Description:  "Descrição",
			Amount:       "Valor",
			Category:     "Categoria",
			PaymentType:  "Forma de Pagamento",
			Installments: "Parcelas",
			Repeat:       "Recorrente",
			Fixed:        "Fixa",
		}, m)
		assert.Empty(t, m.Missing())
	})

	t.Run("bank columns", func(t *testing.T) {
		m := GenerateMapping([]string{"date", "category", "title", "amount"}, DialectBank)

		assert.Equal(t, "date", m.Date)
		assert.Equal(t, "title", m.Description)
		assert.Equal(t, "amount", m.Amount)
		assert.Equal(t, "category", m.Category)
	})
}

func TestColumnMapping_Merge(t *testing.T) {
	base := ColumnMapping{Date: "Data", Description: "Descrição", Amount: "Valor"}
	merged := base.Merge(ColumnMapping{Amount: "Valor Pago", Category: " Grupo "})

	assert.Equal(t, "Data", merged.Date)
	assert.Equal(t, "Valor Pago", merged.Amount)
	assert.Equal(t, "Grupo", merged.Category)
	assert.Equal(t, "Valor", base.Amount)
}

func TestSuggest(t *testing.T) {
	headers := []string{"Data", "Valor Total", "Observação"}
	mapping := ColumnMapping{Date: "Data"}

	suggestions := Suggest(headers, mapping)

	assert.Contains(t, suggestions[FieldAmount], "Valor Total")
	assert.NotContains(t, suggestions, FieldDate)
	assert.Empty(t, mapping.Amount)
}

func TestSectionFilter(t *testing.T) {
	f := NewSectionFilter()

	_, keep, done := f.Apply([]string{"Planilha", "", ""})
	assert.False(t, keep)
	assert.False(t, done)

	row, keep, _ := f.Apply([]string{"Data", "Descrição", "Valor", "Forma de Pagamento", "", "Receitas", "Valor"})
	require.True(t, keep)
	assert.Equal(t, []string{"Data", "Descrição", "Valor", "Forma de Pagamento"}, row)
	assert.Equal(t, 4, f.Width())

	row, keep, _ = f.Apply([]string{"05/01/24", "Mercado", "150,00", "Débito", "", "Salário", "5.000,00"})
	require.True(t, keep)
	assert.Len(t, row, 4)

	_, keep, done = f.Apply([]string{"TOTAL", "", "150,00"})
	assert.False(t, keep)
	assert.True(t, done)

	_, _, done = f.Apply([]string{"07/01/24", "Depois", "1,00", "Pix"})
	assert.True(t, done)
}

const strayQuoteExport = "Despesas\n" +
	"Data,Descrição,Valor,Forma de Pagamento,Parcelas,,Receitas,Valor\n" +
	"05/01/24,Mercado,\"150,00\",Cartão,,,\"Pix recebido,100\n" +
	"06/01/24,Padaria,\"12,00\",Pix,,,,\n" +
	"07/01/24,Farmácia,\"30,00\",Cartão,,,,\n" +
	"Total de despesas,,\"192,00\"\n" +
	"08/01/24,Depois,\"1,00\",Pix,,,,\n"

func readPreprocessed(t *testing.T, input string) [][]string {
	t.Helper()
	r := csv.NewReader(NewPreprocessReader(strings.NewReader(input), ','))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	require.NoError(t, err)
	return records
}

func TestPreprocessReader(t *testing.T) {
	t.Run("stray quote in the income table", func(t *testing.T) {
		records := readPreprocessed(t, strayQuoteExport)

		require.Len(t, records, 4)
		assert.Equal(t, []string{"Data", "Descrição", "Valor", "Forma de Pagamento", "Parcelas"}, records[0])
		assert.Equal(t, []string{"05/01/24", "Mercado", "150,00", "Cartão", ""}, records[1])
		assert.Equal(t, "Padaria", records[2][1])
		assert.Equal(t, "Farmácia", records[3][1])
	})

	t.Run("keeps file line numbers", func(t *testing.T) {
		r := csv.NewReader(NewPreprocessReader(strings.NewReader(strayQuoteExport), ','))
		r.FieldsPerRecord = -1

		_, err := r.Read()
		require.NoError(t, err)
		line, _ := r.FieldPos(0)
		assert.Equal(t, 2, line)

		_, err = r.Read()
		require.NoError(t, err)
		line, _ = r.FieldPos(0)
		assert.Equal(t, 3, line)
	})

	t.Run("quoted field spanning lines", func(t *testing.T) {
		input := "Data,Descrição,Valor,Forma de Pagamento,,Receitas\n" +
			"05/01/24,\"Mercado\nTotal da compra\",\"150,00\",Cartão,,Salário\n" +
			"Resumo,,,\n"

		records := readPreprocessed(t, input)

		require.Len(t, records, 2)
		assert.Equal(t, []string{"05/01/24", "Mercado\nTotal da compra", "150,00", "Cartão"}, records[1])
	})

	t.Run("stops at the first section marker", func(t *testing.T) {
		out, err := io.ReadAll(NewPreprocessReader(strings.NewReader(strayQuoteExport), ','))
		require.NoError(t, err)
		assert.NotContains(t, string(out), "Depois")
		assert.NotContains(t, string(out), "Receitas")
		assert.True(t, strings.HasPrefix(string(out), "\nData,"))
	})

	t.Run("semicolon files", func(t *testing.T) {
		input := "Data;Descrição;Valor;Forma de Pagamento;;Receitas\r\n" +
			"05/01/24;Mercado;150,00;Pix;;Salário\r\n"

		r := csv.NewReader(NewPreprocessReader(strings.NewReader(input), ';'))
		r.Comma = ';'
		r.FieldsPerRecord = -1
		records, err := r.ReadAll()
		require.NoError(t, err)

		require.Len(t, records, 2)
		assert.Equal(t, []string{"05/01/24", "Mercado", "150,00", "Pix"}, records[1])
	})
}

func TestProfileLines(t *testing.T) {
	t.Run("finance app export", func(t *testing.T) {
		p, err := ProfileLines("gastos.csv", strings.Split(financeAppExport, "\n"))
		require.NoError(t, err)

		assert.Equal(t, DialectFinanceApp, p.Dialect)
		assert.Equal(t, ',', p.Delimiter)
		assert.Len(t, p.Headers, 8)
		assert.Len(t, p.SampleRows, 2)
		assert.Equal(t, "Mercado", p.SampleRows[0][1])
		assert.Equal(t, "Valor", p.Mapping.Amount)
		assert.Equal(t, "Fixa", p.Mapping.Fixed)
		assert.NotEmpty(t, p.Fingerprint)
	})

	t.Run("finance app with a stray quote in the income table", func(t *testing.T) {
		p, err := ProfileLines("gastos.csv", strings.Split(strayQuoteExport, "\n"))
		require.NoError(t, err)

		assert.Equal(t, DialectFinanceApp, p.Dialect)
		assert.Len(t, p.Headers, 5)
		require.Len(t, p.SampleRows, 3)
		assert.Equal(t, "Farmácia", p.SampleRows[2][1])
	})

	t.Run("generic export with preamble", func(t *testing.T) {
		lines := []string{
			"Extrato de conta",
			"Cliente: Fulano",
			"",
			"Data;Histórico;Valor;Saldo",
			"01/02/2024;PIX RECEBIDO;100,00;1.100,00",
		}
		p, err := ProfileLines("extrato.csv", lines)
		require.NoError(t, err)

		assert.Equal(t, DialectGeneric, p.Dialect)
		assert.Equal(t, ';', p.Delimiter)
		assert.Equal(t, "tab", (&Profile{Delimiter: '\t'}).DelimiterName())
		assert.Equal(t, 2, p.HeaderIndex)
		assert.Equal(t, []string{"Data", "Histórico", "Valor", "Saldo"}, p.Headers)
		assert.Equal(t, "Histórico", p.Mapping.Description)
		require.Len(t, p.SampleRows, 1)
		assert.Equal(t, "PIX RECEBIDO", p.SampleRows[0][1])
	})

	t.Run("empty file", func(t *testing.T) {
		_, err := ProfileLines("empty.csv", []string{"", "  "})
		assert.ErrorIs(t, err, ErrEmptyFile)
	})
}

func TestProfileRows(t *testing.T) {
	rows := [][]string{
		{"date", "title", "amount"},
		{"2024-01-05", "Uber", "23.50"},
	}

	p, err := ProfileRows("fatura.xlsx", rows)
	require.NoError(t, err)

	assert.Equal(t, DialectBank, p.Dialect)
	assert.Equal(t, rune(0), p.Delimiter)
	assert.Equal(t, "title", p.Mapping.Description)
	assert.Len(t, p.SampleRows, 1)
}

func TestFramer(t *testing.T) {
	p := &Profile{Dialect: DialectGeneric, HeaderIndex: 1}
	f := NewFramer(p)

	row, done := f.Frame([]string{"Extrato"})
	assert.Nil(t, row)
	assert.False(t, done)

	row, _ = f.Frame([]string{" Data ", "Valor"})
	assert.Nil(t, row)
	assert.Equal(t, []string{"Data", "Valor"}, f.Headers())

	row, _ = f.Frame([]string{"01/01/2024", "10"})
	assert.Equal(t, []string{"01/01/2024", "10"}, row)
}
