package tiny

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseStockPayload(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantKind  PayloadKind
		wantStock int
		wantField string
		wantCode  string
	}{
		{
			name: "wrapped deposits skip disregarded ones",
			body: `{"retorno":{"status":"OK","produto":{"id":"1","codigo":"VA-P","saldo":99,"depositos":[
				{"deposito":{"nome":"Loja","saldo":"3.000","desconsiderar":"N"}},
				{"deposito":{"nome":"Avaria","saldo":7,"desconsiderar":"S"}},
				{"deposito":{"nome":"CD","saldo":2,"desconsiderar":""}}]}}}`,
			wantKind:  PayloadDeposits,
			wantStock: 5,
			wantCode:  "VA-P",
		},
		{
			name:      "bare deposits",
			body:      `{"retorno":{"status":"OK","produto":{"depositos":[{"saldo":4},{"saldo":"1,5"}]}}}`,
			wantKind:  PayloadDeposits,
			wantStock: 5,
		},
		{
			name:      "empty deposits fall back to aliases",
			body:      `{"retorno":{"status":"OK","produto":{"depositos":[],"saldo":null,"estoque_atual":"12"}}}`,
			wantKind:  PayloadFlatField,
			wantStock: 12,
			wantField: "estoque_atual",
		},
		{
			name:      "first alias wins",
			body:      `{"retorno":{"status":"OK","produto":{"quantidade":1,"saldoFisico":8}}}`,
			wantKind:  PayloadFlatField,
			wantStock: 8,
			wantField: "saldoFisico",
		},
		{
			name:     "api error",
			body:     `{"retorno":{"status":"Erro","codigo_erro":2,"erros":[{"erro":"token invalido"}]}}`,
			wantKind: PayloadAPIError,
		},
		{
			name:     "no stock field",
			body:     `{"retorno":{"status":"OK","produto":{"nome":"x"}}}`,
			wantKind: PayloadUnknown,
		},
		{
			name:     "no produto",
			body:     `{"retorno":{"status":"OK"}}`,
			wantKind: PayloadUnknown,
		},
		{
			name:     "not json",
			body:     `<html>502</html>`,
			wantKind: PayloadUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ParseStockPayload([]byte(tt.body))
			assert.Equal(t, tt.wantKind, p.Kind)
			assert.Equal(t, tt.wantStock, p.Stock)
			assert.Equal(t, tt.wantField, p.Field)
			assert.Equal(t, tt.wantCode, p.Code)
		})
	}
}

func TestParseStockPayload_APIErrorMessage(t *testing.T) {
	p := ParseStockPayload([]byte(`{"retorno":{"status":"Erro","codigo_erro":"2","erros":[{"erro":"token invalido"},{"erro":"tente novamente"}]}}`))

	assert.Equal(t, "token invalido; tente novamente (codigo_erro 2)", p.Error)
	assert.False(t, p.HasStock())
	assert.Equal(t, "none", p.Source())
}

func TestStockPayload_Source(t *testing.T) {
	assert.Equal(t, "deposits", StockPayload{Kind: PayloadDeposits}.Source())
	assert.Equal(t, "field:saldo", StockPayload{Kind: PayloadFlatField, Field: "saldo"}.Source())
	assert.Equal(t, "api_error", PayloadAPIError.String())
}
