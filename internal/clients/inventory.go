package clients

import "sync"

// ProductRef identifies an external product by its remote id and, when known,
// its SKU code
type ProductRef struct {
	ID   string `json:"id"`
	Code string `json:"code,omitempty"`
}

// DebugEntry records why a lookup produced no stock for an item
type DebugEntry struct {
	ID      string `json:"id,omitempty"`
	Step    string `json:"step"`
	Message string `json:"message"`
}

// StockLookup is the flattened result of an inventory fetch. It is safe for
// concurrent writers.
type StockLookup struct {
	mu         sync.Mutex
	ByID       map[string]int    `json:"by_id"`
	ByCode     map[string]int    `json:"by_code"`
	SourceByID map[string]string `json:"source_by_id,omitempty"`
	Debug      []DebugEntry      `json:"debug"`
}

// NewStockLookup returns an empty lookup
func NewStockLookup() *StockLookup {
	return &StockLookup{
		ByID:       make(map[string]int),
		ByCode:     make(map[string]int),
		SourceByID: make(map[string]string),
		Debug:      []DebugEntry{},
	}
}

// Set stores the stock of ref, indexing it by code too when the code is known
func (l *StockLookup) Set(ref ProductRef, stock int, source string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ByID[ref.ID] = stock
	if ref.Code != "" {
		l.ByCode[ref.Code] = stock
	}
	if source != "" {
		l.SourceByID[ref.ID] = source
	}
}

// Note appends a debug entry
func (l *StockLookup) Note(id, step, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Debug = append(l.Debug, DebugEntry{ID: id, Step: step, Message: message})
}
