package tiny

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"look-marketplace/internal/clients"
)

const (
	DefaultBaseURL = "https://api.tiny.com.br/api2"

	endpointStock   = "produto.obter.estoque.php"
	endpointProduct = "produto.obter.php"
	endpointSearch  = "produtos.pesquisa.php"
)

var ErrMissingToken = errors.New("tiny token is required")

// Config configures the Tiny ERP client
type Config struct {
	BaseURL           string
	RequestsPerSecond float64
	Concurrency       int
	Timeout           time.Duration
	Retry             *clients.RetryConfig
}

// Client talks to the Tiny ERP API v2
type Client struct {
	baseURL     string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	retrier     *clients.Retrier
	breaker     *clients.CircuitBreaker
	concurrency int
	logger      *logrus.Entry
}

// NewClient creates a Tiny client
func NewClient(cfg Config, logger *logrus.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 2
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		retrier:     clients.NewRetrier(cfg.Retry),
		breaker:     clients.NewCircuitBreaker(5, 30*time.Second),
		concurrency: cfg.Concurrency,
		logger:      logger.WithField("component", "tiny_client"),
	}
}

// FetchStock resolves the stock of every ref. Failures never surface as an
// error: they are recorded in the lookup's debug trail and the item is left
// out of the maps.
func (c *Client) FetchStock(ctx context.Context, token string, refs []clients.ProductRef) *clients.StockLookup {
	lookup := clients.NewStockLookup()
	if strings.TrimSpace(token) == "" {
		lookup.Note("", "config", ErrMissingToken.Error())
		return lookup
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, ref := range refs {
		if ref.ID == "" {
			lookup.Note("", "input", "product ref without id")
			continue
		}
		ref := ref
		g.Go(func() error {
			c.fetchOne(gctx, token, ref, lookup)
			return nil
		})
	}
	_ = g.Wait()

	c.logger.WithFields(logrus.Fields{
		"requested": len(refs),
		"resolved":  len(lookup.ByID),
		"debug":     len(lookup.Debug),
	}).Debug("tiny stock fetch finished")
	return lookup
}

// FetchStockPayload returns the classified payload for one product, trying the
// stock endpoint and then the product endpoint.
func (c *Client) FetchStockPayload(ctx context.Context, token, id string) (StockPayload, []clients.DebugEntry) {
	var trail []clients.DebugEntry
	for _, endpoint := range []string{endpointStock, endpointProduct} {
		if !c.breaker.Allow() {
			trail = append(trail, clients.DebugEntry{ID: id, Step: endpoint, Message: "circuit open"})
			break
		}

		body, status, err := c.call(ctx, endpoint, token, url.Values{"id": {id}})
		if err != nil {
			c.breaker.RecordFailure()
			trail = append(trail, clients.DebugEntry{ID: id, Step: endpoint, Message: err.Error()})
			continue
		}
		if status < 200 || status >= 300 {
			if status >= 500 || status == http.StatusTooManyRequests {
				c.breaker.RecordFailure()
			}
			trail = append(trail, clients.DebugEntry{ID: id, Step: endpoint, Message: fmt.Sprintf("status %d", status)})
			continue
		}
		c.breaker.RecordSuccess()

		payload := ParseStockPayload(body)
		if payload.HasStock() {
			return payload, trail
		}
		trail = append(trail, clients.DebugEntry{
			ID:      id,
			Step:    endpoint,
			Message: fmt.Sprintf("%s: %s", payload.Kind, payload.Error),
		})
	}
	return StockPayload{Kind: PayloadUnknown, Error: "no stock found"}, trail
}

func (c *Client) fetchOne(ctx context.Context, token string, ref clients.ProductRef, lookup *clients.StockLookup) {
	payload, trail := c.FetchStockPayload(ctx, token, ref.ID)
	for _, entry := range trail {
		lookup.Note(entry.ID, entry.Step, entry.Message)
	}
	if !payload.HasStock() {
		return
	}
	if ref.Code == "" {
		ref.Code = payload.Code
	}
	lookup.Set(ref, payload.Stock, payload.Source())
}

// Product is one entry of a Tiny product search
type Product struct {
	ID     string          `json:"id"`
	Code   string          `json:"codigo"`
	Name   string          `json:"nome"`
	Price  decimal.Decimal `json:"preco"`
	Status string          `json:"situacao"`
	Raw    json.RawMessage `json:"-"`
}

// SearchPage is one page of produtos.pesquisa
type SearchPage struct {
	Products   []Product
	Page       int
	TotalPages int
}

// SearchProducts lists the account's products, one page at a time. Pages
// start at 1.
func (c *Client) SearchProducts(ctx context.Context, token string, page int) (*SearchPage, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrMissingToken
	}
	if page < 1 {
		page = 1
	}

	body, status, err := c.call(ctx, endpointSearch, token, url.Values{"pagina": {strconv.Itoa(page)}})
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("tiny search failed with status %d", status)
	}

	var response struct {
		Retorno struct {
			Status        string          `json:"status"`
			CodigoErro    flexString      `json:"codigo_erro"`
			Erros         json.RawMessage `json:"erros"`
			Pagina        flexNumber      `json:"pagina"`
			NumeroPaginas flexNumber      `json:"numero_paginas"`
			Produtos      []struct {
				Produto json.RawMessage `json:"produto"`
			} `json:"produtos"`
		} `json:"retorno"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse tiny search response: %w", err)
	}

	ret := response.Retorno
	if strings.EqualFold(ret.Status, "erro") {
		// codigo_erro 20 means the search matched nothing
		if string(ret.CodigoErro) == "20" {
			return &SearchPage{Page: page, TotalPages: page}, nil
		}
		return nil, fmt.Errorf("tiny search error: %s", apiErrorMessage(ret.Erros, string(ret.CodigoErro)))
	}

	result := &SearchPage{
		Products:   make([]Product, 0, len(ret.Produtos)),
		Page:       page,
		TotalPages: int(ret.NumeroPaginas.Value.IntPart()),
	}
	for _, item := range ret.Produtos {
		var p struct {
			ID       flexString `json:"id"`
			Codigo   flexString `json:"codigo"`
			Nome     string     `json:"nome"`
			Preco    flexNumber `json:"preco"`
			Situacao string     `json:"situacao"`
		}
		if err := json.Unmarshal(item.Produto, &p); err != nil {
			c.logger.WithError(err).Warn("skipping malformed tiny product")
			continue
		}
		result.Products = append(result.Products, Product{
			ID:     string(p.ID),
			Code:   string(p.Codigo),
			Name:   strings.TrimSpace(p.Nome),
			Price:  p.Preco.Value,
			Status: p.Situacao,
			Raw:    item.Produto,
		})
	}
	return result, nil
}

// call posts a form request to a Tiny endpoint. Non-2xx statuses are returned,
// not turned into errors.
func (c *Client) call(ctx context.Context, endpoint, token string, params url.Values) ([]byte, int, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, 0, err
	}

	form := url.Values{}
	for k, v := range params {
		form[k] = v
	}
	form.Set("token", token)
	form.Set("formato", "json")
	encoded := form.Encode()
	fullURL := c.baseURL + "/" + endpoint

	resp, attempt, err := c.retrier.DoHTTP(ctx, func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, strings.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")
		return c.httpClient.Do(req)
	})
	if err != nil {
		return nil, 0, fmt.Errorf("%s request failed after %d attempts: %w", endpoint, attempt.Count, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}
