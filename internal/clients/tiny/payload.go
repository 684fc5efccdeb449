package tiny

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// PayloadKind tells which shape a Tiny product payload turned out to have
type PayloadKind int

const (
	PayloadUnknown PayloadKind = iota
	PayloadDeposits
	PayloadFlatField
	PayloadAPIError
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadDeposits:
		return "deposits"
	case PayloadFlatField:
		return "flat_field"
	case PayloadAPIError:
		return "api_error"
	default:
		return "unknown"
	}
}

// stockAliases are the legacy field names Tiny has used for a flat stock
// figure, in lookup order.
var stockAliases = []string{"saldo", "saldoFisico", "estoque", "estoque_atual", "estoqueAtual", "quantidade"}

// StockPayload is a decoded stock response. Only the fields matching Kind are
// meaningful: Stock for deposits and flat_field, Field for flat_field, Error
// for api_error and unknown.
type StockPayload struct {
	Kind     PayloadKind
	Stock    int
	Field    string
	Deposits int
	Code     string
	Error    string
}

// Source describes where the stock figure came from
func (p StockPayload) Source() string {
	switch p.Kind {
	case PayloadDeposits:
		return "deposits"
	case PayloadFlatField:
		return "field:" + p.Field
	default:
		return "none"
	}
}

// HasStock reports whether the payload produced a stock figure
func (p StockPayload) HasStock() bool {
	return p.Kind == PayloadDeposits || p.Kind == PayloadFlatField
}

// flexNumber decodes numbers Tiny sends either as JSON numbers or strings
type flexNumber struct {
	Value decimal.Decimal
	Valid bool
}

func (n *flexNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	raw := string(data)
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = strings.TrimSpace(s)
		if raw == "" {
			return nil
		}
		if !strings.Contains(raw, ".") {
			raw = strings.Replace(raw, ",", ".", 1)
		}
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil
	}
	n.Value, n.Valid = d, true
	return nil
}

// flexString decodes ids Tiny sends either as numbers or strings
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = flexString(strings.TrimSpace(v))
		return nil
	}
	*s = flexString(data)
	return nil
}

type envelope struct {
	Retorno struct {
		Status     string          `json:"status"`
		CodigoErro flexString      `json:"codigo_erro"`
		Erros      json.RawMessage `json:"erros"`
		Produto    json.RawMessage `json:"produto"`
	} `json:"retorno"`
}

type deposit struct {
	Nome          string     `json:"nome"`
	Saldo         flexNumber `json:"saldo"`
	Desconsiderar string     `json:"desconsiderar"`
}

// ParseStockPayload classifies a produto.obter.estoque or produto.obter
// response body. It never fails; malformed input yields PayloadUnknown.
func ParseStockPayload(body []byte) StockPayload {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return StockPayload{Kind: PayloadUnknown, Error: fmt.Sprintf("malformed payload: %v", err)}
	}

	if strings.EqualFold(env.Retorno.Status, "erro") {
		return StockPayload{Kind: PayloadAPIError, Error: apiErrorMessage(env.Retorno.Erros, string(env.Retorno.CodigoErro))}
	}

	if len(env.Retorno.Produto) == 0 || bytes.Equal(env.Retorno.Produto, []byte("null")) {
		return StockPayload{Kind: PayloadUnknown, Error: "payload has no produto"}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(env.Retorno.Produto, &fields); err != nil {
		return StockPayload{Kind: PayloadUnknown, Error: fmt.Sprintf("malformed produto: %v", err)}
	}

	var code flexString
	if raw, ok := fields["codigo"]; ok {
		_ = json.Unmarshal(raw, &code)
	}

	if deposits, ok := parseDeposits(fields["depositos"]); ok {
		total := decimal.Zero
		counted := 0
		for _, d := range deposits {
			if strings.EqualFold(strings.TrimSpace(d.Desconsiderar), "S") || !d.Saldo.Valid {
				continue
			}
			total = total.Add(d.Saldo.Value)
			counted++
		}
		return StockPayload{Kind: PayloadDeposits, Stock: int(total.IntPart()), Deposits: counted, Code: string(code)}
	}

	for _, alias := range stockAliases {
		raw, ok := fields[alias]
		if !ok {
			continue
		}
		var n flexNumber
		if err := json.Unmarshal(raw, &n); err != nil || !n.Valid {
			continue
		}
		return StockPayload{Kind: PayloadFlatField, Stock: int(n.Value.IntPart()), Field: alias, Code: string(code)}
	}

	return StockPayload{Kind: PayloadUnknown, Code: string(code), Error: "no stock field in produto"}
}

// parseDeposits accepts both [{"deposito": {...}}] and [{...}] lists. An
// absent or empty list is not a deposits payload.
func parseDeposits(raw json.RawMessage) ([]deposit, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil || len(items) == 0 {
		return nil, false
	}

	deposits := make([]deposit, 0, len(items))
	for _, item := range items {
		var wrapped struct {
			Deposito *deposit `json:"deposito"`
		}
		if err := json.Unmarshal(item, &wrapped); err == nil && wrapped.Deposito != nil {
			deposits = append(deposits, *wrapped.Deposito)
			continue
		}
		var d deposit
		if err := json.Unmarshal(item, &d); err == nil {
			deposits = append(deposits, d)
		}
	}
	return deposits, len(deposits) > 0
}

func apiErrorMessage(raw json.RawMessage, code string) string {
	var erros []struct {
		Erro string `json:"erro"`
	}
	var messages []string
	if err := json.Unmarshal(raw, &erros); err == nil {
		for _, e := range erros {
			if e.Erro != "" {
				messages = append(messages, e.Erro)
			}
		}
	}
	msg := strings.Join(messages, "; ")
	if msg == "" {
		msg = "tiny returned an error"
	}
	if code != "" {
		msg = fmt.Sprintf("%s (codigo_erro %s)", msg, code)
	}
	return msg
}
