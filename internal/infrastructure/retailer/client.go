package retailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/booksage/bookbuy-agent/internal/domain/model"
	"github.com/booksage/bookbuy-agent/internal/domain/repository"
	"github.com/booksage/bookbuy-agent/internal/infrastructure/resilience"
	"github.com/booksage/bookbuy-agent/internal/metrics"
	"github.com/booksage/bookbuy-agent/pkg/logx"
)

const (
	opSearch = "search"
	opBuy    = "buy"

	maxErrorBody = 64 << 10
	retryBackoff = 200 * time.Millisecond
)

// Options configures a retailer Client.
type Options struct {
	BaseURL       string
	SearchTimeout time.Duration
	BuyTimeout    time.Duration
	// SearchRetries is the number of extra search attempts after a transport error or 5xx.
	SearchRetries int
	Breakers      *resilience.Group
	Metrics       *metrics.Metrics
	// Transport overrides the HTTP transport; tests inject httpmock here.
	Transport http.RoundTripper
	LogBodies bool
}

// Client talks to the retailer's per-shop search and buy endpoints.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	searchTimeout time.Duration
	buyTimeout    time.Duration
	searchRetries int
	breakers      *resilience.Group
	metrics       *metrics.Metrics
	backoff       time.Duration
}

var _ repository.RetailerClient = (*Client)(nil)

func NewClient(opts Options) *Client {
	if opts.Breakers == nil {
		opts.Breakers = resilience.NewGroup(0, 0, countsAsFailure)
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		httpClient: &http.Client{
			Transport: &LoggingTransport{Base: opts.Transport, Enabled: opts.LogBodies},
		},
		searchTimeout: opts.SearchTimeout,
		buyTimeout:    opts.BuyTimeout,
		searchRetries: max(opts.SearchRetries, 0),
		breakers:      opts.Breakers,
		metrics:       opts.Metrics,
		backoff:       retryBackoff,
	}
}

// NewBreakerGroup returns per-shop breakers that only count outages, not 4xx answers.
func NewBreakerGroup(threshold int, cooldown time.Duration) *resilience.Group {
	return resilience.NewGroup(threshold, cooldown, countsAsFailure)
}

// Search asks one shop for title. Transport errors and 5xx answers are retried a bounded number of times.
func (c *Client) Search(ctx context.Context, shop, title string) (*model.Listing, error) {
	endpoint := fmt.Sprintf("%s/shops/%s/search?title=%s", c.baseURL, url.PathEscape(shop), url.QueryEscape(title))

	var listing *model.Listing
	err := c.call(ctx, shop, opSearch, func() error {
		var err error
		for attempt := 0; ; attempt++ {
			listing, err = c.searchOnce(ctx, endpoint)
			if err == nil || attempt >= c.searchRetries || !retryable(err) {
				return err
			}
			logx.Warn().Err(err).Str("shop", shop).Int("attempt", attempt+1).Msg("[Retailer] Search failed, retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoff * time.Duration(attempt+1)):
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return listing, nil
}

func (c *Client) searchOnce(ctx context.Context, endpoint string) (*model.Listing, error) {
	ctx, cancel := withTimeout(ctx, c.searchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	var listing model.Listing
	if err := c.do(req, &listing); err != nil {
		if errors.Is(err, errEmptyBody) {
			return nil, nil
		}
		return nil, err
	}
	return &listing, nil
}

// Buy places an order at one shop. It is never retried.
func (c *Client) Buy(ctx context.Context, shop string, order model.Order) (*model.Receipt, error) {
	endpoint := fmt.Sprintf("%s/shops/%s/buy", c.baseURL, url.PathEscape(shop))

	body, err := json.Marshal(order)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order: %w", err)
	}

	var receipt model.Receipt
	empty := false
	err = c.call(ctx, shop, opBuy, func() error {
		ctx, cancel := withTimeout(ctx, c.buyTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		err = c.do(req, &receipt)
		if errors.Is(err, errEmptyBody) {
			empty = true
			return nil
		}
		return err
	})
	if err != nil || empty {
		return nil, err
	}
	return &receipt, nil
}

// call runs fn behind the shop's breaker and records metrics for it.
func (c *Client) call(ctx context.Context, shop, op string, fn func() error) error {
	start := time.Now()
	err := c.breakers.Get(shop).Execute(fn)
	c.metrics.ObserveShopRequest(shop, op, outcomeLabel(err), time.Since(start))

	if err != nil {
		logx.Debug().Err(err).Str("shop", shop).Str("op", op).Msg("[Retailer] Call failed")
	}
	return err
}

// do decodes any 2xx answer into out. An empty 2xx body yields errEmptyBody.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
