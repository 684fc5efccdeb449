package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"look-marketplace/internal/clients"
)

const (
	apiVersion       = "2024-01"
	maxResponseBytes = 8 << 20
)

var errResponseTooLarge = fmt.Errorf("shopify response exceeds %d bytes", maxResponseBytes)

var (
	ErrInvalidShop    = errors.New("shop must be a *.myshopify.com domain")
	ErrMissingCode    = errors.New("authorization code is required")
	ErrMissingToken   = errors.New("shopify access token is required")
	ErrNotConfigured  = errors.New("shopify app credentials are not configured")
	shopDomainPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*\.myshopify\.com$`)
)

// Config holds the Shopify app credentials. BaseURL replaces https://<shop>
// and is only set in tests.
type Config struct {
	APIKey    string
	APISecret string
	BaseURL   string
	PageLimit int
}

// Client reads inventory from Shopify stores through the Admin API
type Client struct {
	cfg         Config
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	retrier     *clients.Retrier
	logger      *logrus.Entry
}

// NewClient creates a Shopify Admin API client
func NewClient(cfg Config, logger *logrus.Logger) *Client {
	if cfg.PageLimit <= 0 || cfg.PageLimit > 250 {
		cfg.PageLimit = 250
	}
	return &Client{
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		rateLimiter: rate.NewLimiter(rate.Limit(2), 1),
		retrier:     clients.NewRetrier(nil),
		logger:      logger.WithField("component", "shopify_client"),
	}
}

// NormalizeShop lower-cases and validates a shop domain
func NormalizeShop(shop string) (string, error) {
	shop = strings.ToLower(strings.TrimSpace(shop))
	shop = strings.TrimPrefix(shop, "https://")
	shop = strings.TrimSuffix(shop, "/")
	if !shopDomainPattern.MatchString(shop) {
		return "", ErrInvalidShop
	}
	return shop, nil
}

// TokenResult is the outcome of the OAuth code exchange
type TokenResult struct {
	AccessToken string `json:"access_token"`
	Scope       string `json:"scope"`
}

// ExchangeToken trades an OAuth authorization code for a permanent access token
func (c *Client) ExchangeToken(ctx context.Context, shop, code string) (*TokenResult, error) {
	shop, err := NormalizeShop(shop)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(code) == "" {
		return nil, ErrMissingCode
	}
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return nil, ErrNotConfigured
	}

	body, _, err := c.doRequest(ctx, http.MethodPost, c.shopURL(shop)+"/admin/oauth/access_token", "", map[string]string{
		"client_id":     c.cfg.APIKey,
		"client_secret": c.cfg.APISecret,
		"code":          code,
	})
	if err != nil {
		return nil, err
	}

	var result TokenResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if result.AccessToken == "" {
		return nil, errors.New("shopify returned no access token")
	}
	return &result, nil
}

type shopifyVariant struct {
	ID                int64  `json:"id"`
	SKU               string `json:"sku"`
	InventoryQuantity int    `json:"inventory_quantity"`
}

// FetchStock walks every product page of the shop and indexes variant stock by
// variant id and SKU. Like the Tiny fetcher it records failures in the debug
// trail instead of returning them; whatever was read before a failure is kept.
func (c *Client) FetchStock(ctx context.Context, shop, token string) *clients.StockLookup {
	lookup := clients.NewStockLookup()
	shop, err := NormalizeShop(shop)
	if err != nil {
		lookup.Note("", "config", err.Error())
		return lookup
	}
	if token == "" {
		lookup.Note("", "config", ErrMissingToken.Error())
		return lookup
	}

	params := url.Values{}
	params.Set("limit", strconv.Itoa(c.cfg.PageLimit))
	params.Set("fields", "id,variants")

	for page := 1; ; page++ {
		endpoint := fmt.Sprintf("%s/admin/api/%s/products.json?%s", c.shopURL(shop), apiVersion, params.Encode())
		body, headers, err := c.doRequest(ctx, http.MethodGet, endpoint, token, nil)
		if err != nil {
			lookup.Note("", fmt.Sprintf("products page %d", page), err.Error())
			return lookup
		}

		var response struct {
			Products []struct {
				ID       int64            `json:"id"`
				Variants []shopifyVariant `json:"variants"`
			} `json:"products"`
		}
		if err := json.Unmarshal(body, &response); err != nil {
			lookup.Note("", fmt.Sprintf("products page %d", page), "malformed payload: "+err.Error())
			return lookup
		}
		for _, p := range response.Products {
			for _, v := range p.Variants {
				ref := clients.ProductRef{ID: strconv.FormatInt(v.ID, 10), Code: strings.TrimSpace(v.SKU)}
				lookup.Set(ref, v.InventoryQuantity, "inventory_quantity")
			}
		}

		cursor, hasMore := parsePagination(headers.Get("Link"))
		if !hasMore || cursor == "" {
			break
		}
		// page_info requests accept only limit and fields
		params = url.Values{}
		params.Set("limit", strconv.Itoa(c.cfg.PageLimit))
		params.Set("fields", "id,variants")
		params.Set("page_info", cursor)
	}

	c.logger.WithFields(logrus.Fields{"shop": shop, "variants": len(lookup.ByID)}).Debug("shopify stock fetch finished")
	return lookup
}

func (c *Client) shopURL(shop string) string {
	if c.cfg.BaseURL != "" {
		return strings.TrimRight(c.cfg.BaseURL, "/")
	}
	return "https://" + shop
}

func (c *Client) doRequest(ctx context.Context, method, fullURL, token string, body interface{}) ([]byte, http.Header, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, nil, err
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, nil, err
		}
	}

	resp, _, err := c.retrier.DoHTTP(ctx, func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, method, fullURL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		if token != "" {
			req.Header.Set("X-Shopify-Access-Token", token)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		return c.httpClient.Do(req)
	})
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, nil, err
	}
	if len(respBody) > maxResponseBytes {
		return nil, nil, errResponseTooLarge
	}
	if resp.StatusCode >= 400 {
		return nil, nil, fmt.Errorf("shopify API error (status %d): %s", resp.StatusCode, truncate(string(respBody), 300))
	}
	return respBody, resp.Header, nil
}

// parsePagination extracts the next page_info cursor from a Link header of the
// form <url>; rel="next", <url>; rel="previous"
func parsePagination(linkHeader string) (string, bool) {
	if linkHeader == "" {
		return "", false
	}
	for _, part := range strings.Split(linkHeader, ",") {
		if !strings.Contains(part, `rel="next"`) {
			continue
		}
		raw := strings.Trim(strings.TrimSpace(strings.Split(part, ";")[0]), "<>")
		if parsed, err := url.Parse(raw); err == nil {
			return parsed.Query().Get("page_info"), true
		}
	}
	return "", false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
