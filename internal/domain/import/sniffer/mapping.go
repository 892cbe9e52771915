package sniffer

import (
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// Field is a transaction attribute a column can be mapped to.
type Field string

const (
	FieldDate         Field = "date"
	FieldDescription  Field = "description"
	FieldAmount       Field = "amount"
	FieldCategory     Field = "category"
	FieldPaymentType  Field = "payment_type"
	FieldInstallments Field = "installments"
	FieldRepeat       Field = "repeat"
	FieldFixed        Field = "fixed"
)

// Fields lists every mappable field in mapping priority order.
var Fields = []Field{
	FieldDate, FieldDescription, FieldAmount, FieldCategory,
	FieldPaymentType, FieldInstallments, FieldRepeat, FieldFixed,
}

// ColumnMapping names the source column for each field. An empty string means
// the field is absent from the file.
type ColumnMapping struct {
	Date         string `json:"date,omitempty" yaml:"date"`
	Description  string `json:"description,omitempty" yaml:"description"`
	Amount       string `json:"amount,omitempty" yaml:"amount"`
	Category     string `json:"category,omitempty" yaml:"category"`
	PaymentType  string `json:"payment_type,omitempty" yaml:"payment_type"`
	Installments string `json:"installments,omitempty" yaml:"installments"`
	Repeat       string `json:"repeat,omitempty" yaml:"repeat"`
	Fixed        string `json:"fixed,omitempty" yaml:"fixed"`
}

// Get returns the column mapped to f.
func (m ColumnMapping) Get(f Field) string {
	switch f {
	case FieldDate:
		return m.Date
	case FieldDescription:
		return m.Description
	case FieldAmount:
		return m.Amount
	case FieldCategory:
		return m.Category
	case FieldPaymentType:
		return m.PaymentType
	case FieldInstallments:
		return m.Installments
	case FieldRepeat:
		return m.Repeat
	case FieldFixed:
		return m.Fixed
	}
	return ""
}

func (m *ColumnMapping) set(f Field, column string) {
	switch f {
	case FieldDate:
		m.Date = column
	case FieldDescription:
		m.Description = column
	case FieldAmount:
		m.Amount = column
	case FieldCategory:
		m.Category = column
	case FieldPaymentType:
		m.PaymentType = column
	case FieldInstallments:
		m.Installments = column
	case FieldRepeat:
		m.Repeat = column
	case FieldFixed:
		m.Fixed = column
	}
}

// Merge returns m with every non-empty field of override applied on top.
func (m ColumnMapping) Merge(override ColumnMapping) ColumnMapping {
	out := m
	for _, f := range Fields {
		if col := strings.TrimSpace(override.Get(f)); col != "" {
			out.set(f, col)
		}
	}
	return out
}

// Missing lists the fields with no column.
func (m ColumnMapping) Missing() []Field {
	var missing []Field
	for _, f := range Fields {
		if m.Get(f) == "" {
			missing = append(missing, f)
		}
	}
	return missing
}

// Column labels written by the finance app.
var financeAppLabels = map[Field]string{
	FieldDate:         "Data",
	FieldDescription:  "Descrição",
	FieldAmount:       "Valor",
	FieldCategory:     "Categoria",
	FieldPaymentType:  "Forma de Pagamento",
	FieldInstallments: "Parcelas",
	FieldRepeat:       "Recorrente",
	FieldFixed:        "Fixa",
}

var bankLabels = map[Field]string{
	FieldDate:        "date",
	FieldDescription: "title",
	FieldAmount:      "amount",
	FieldCategory:    "category",
}

// Substrings tried for generic files, best first.
var genericCandidates = map[Field][]string{
	FieldDate:         {"data", "date", "dt", "fecha"},
	FieldDescription:  {"descri", "hist", "title", "titulo", "nome", "name", "memo", "estabelecimento"},
	FieldAmount:       {"valor", "amount", "value", "quantia", "montante"},
	FieldCategory:     {"categ"},
	FieldPaymentType:  {"pagamento", "payment", "metodo"},
	FieldInstallments: {"parcela", "installment"},
	FieldRepeat:       {"recorr", "repet", "repeat", "recurring"},
	FieldFixed:        {"fixa", "fixo", "fixed"},
}

// GenerateMapping maps headers to fields for the given dialect. Known dialects
// use their fixed labels; anything they leave unmapped, and every column of a
// generic file, goes through ranked substring matching.
func GenerateMapping(headers []string, d Dialect) ColumnMapping {
	var m ColumnMapping
	claimed := make([]bool, len(headers))
	folded := make([]string, len(headers))
	for i, h := range headers {
		folded[i] = Fold(h)
	}

	var labels map[Field]string
	switch d {
	case DialectFinanceApp:
		labels = financeAppLabels
	case DialectBank:
		labels = bankLabels
	}

	for _, f := range Fields {
		label, ok := labels[f]
		if !ok {
			continue
		}
		want := Fold(label)
		for i, h := range folded {
			if !claimed[i] && h == want {
				m.set(f, strings.TrimSpace(headers[i]))
				claimed[i] = true
				break
			}
		}
	}

	for _, f := range Fields {
		if m.Get(f) != "" {
			continue
		}
		if i := matchCandidate(folded, claimed, genericCandidates[f]); i >= 0 {
			m.set(f, strings.TrimSpace(headers[i]))
			claimed[i] = true
		}
	}

	return m
}

func matchCandidate(folded []string, claimed []bool, candidates []string) int {
	for _, c := range candidates {
		for i, h := range folded {
			if !claimed[i] && h != "" && strings.Contains(h, c) {
				return i
			}
		}
	}
	return -1
}

const maxSuggestions = 3

// Suggest proposes, for every unmapped field, the unclaimed headers that
// fuzzily resemble one of its candidates. It never changes the mapping.
func Suggest(headers []string, m ColumnMapping) map[Field][]string {
	used := map[string]bool{}
	for _, f := range Fields {
		if col := m.Get(f); col != "" {
			used[col] = true
		}
	}

	var free []string
	for _, h := range headers {
		h = strings.TrimSpace(h)
		if h != "" && !used[h] {
			free = append(free, h)
		}
	}
	if len(free) == 0 {
		return nil
	}

	suggestions := map[Field][]string{}
	for _, f := range m.Missing() {
		var ranks fuzzy.Ranks
		for _, c := range genericCandidates[f] {
			ranks = append(ranks, fuzzy.RankFindNormalizedFold(c, free)...)
		}
		if len(ranks) == 0 {
			continue
		}
		sort.Sort(ranks)

		seen := map[string]bool{}
		for _, r := range ranks {
			if seen[r.Target] {
				continue
			}
			seen[r.Target] = true
			suggestions[f] = append(suggestions[f], r.Target)
			if len(suggestions[f]) == maxSuggestions {
				break
			}
		}
	}
	return suggestions
}
