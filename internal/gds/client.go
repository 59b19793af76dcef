// Package gds talks to the flight inventory provider: fare search and
// confirmation, hold orders, and the OAuth2 token those calls need.
package gds

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/tripgate/booking-backend/pkg/apperrors"
	"github.com/tripgate/booking-backend/pkg/retry"
)

// Config holds the adapter settings
type Config struct {
	BaseURL            string
	CallTimeout        time.Duration
	InventoryGoneCodes []string
	PriceChangedCodes  []string
}

// Client is the Fare Confirmation and Order adapter.
type Client struct {
	baseURL     string
	tokens      *TokenManager
	client      *http.Client
	policy      retry.Policy
	callTimeout time.Duration
	logger      *logrus.Logger

	inventoryGoneCodes map[string]bool
	priceChangedCodes  map[string]bool
}

// NewClient creates a GDS client
func NewClient(cfg Config, tokens *TokenManager, policy retry.Policy, logger *logrus.Logger) *Client {
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:            strings.TrimRight(cfg.BaseURL, "/"),
		tokens:             tokens,
		client:             &http.Client{},
		policy:             policy,
		callTimeout:        timeout,
		logger:             logger,
		inventoryGoneCodes: toSet(cfg.InventoryGoneCodes),
		priceChangedCodes:  toSet(cfg.PriceChangedCodes),
	}
}

// request describes one outbound call
type request struct {
	op     string
	method string
	path   string
	query  url.Values
	body   interface{}

	// clientErrorKind classifies 4xx answers without a more specific meaning
	clientErrorKind apperrors.Kind
	// orderErrors enables sold-out / price-discrepancy classification
	orderErrors bool
}

type response struct {
	status int
	body   []byte
}

// call runs req under the retry policy.
func (c *Client) call(ctx context.Context, req request) (*response, error) {
	var resp *response
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = c.do(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// do performs a single attempt with the per-call timeout.
func (c *Client) do(ctx context.Context, r request) (*response, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	endpoint := c.baseURL + r.path
	if len(r.query) > 0 {
		endpoint += "?" + r.query.Encode()
	}

	var payload io.Reader
	if r.body != nil {
		data, err := json.Marshal(r.body)
		if err != nil {
			return nil, apperrors.Internal(r.op, fmt.Errorf("failed to marshal request: %w", err))
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, endpoint, payload)
	if err != nil {
		return nil, apperrors.Internal(r.op, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"op":    r.op,
			"error": err.Error(),
		}).Warn("GDS request failed")
		return nil, apperrors.Wrap(apperrors.KindProviderUnavailable, r.op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindProviderUnavailable, r.op, err)
	}

	c.logger.WithFields(logrus.Fields{
		"op":         r.op,
		"status":     resp.StatusCode,
		"latency_ms": time.Since(start).Milliseconds(),
	}).Debug("GDS request completed")

	if err := c.classify(r, resp, body); err != nil {
		return nil, err
	}
	return &response{status: resp.StatusCode, body: body}, nil
}

// classify maps a provider answer to the error taxonomy. The orchestrator
// never sees provider messages, only the Kind.
func (c *Client) classify(r request, resp *http.Response, body []byte) error {
	status := resp.StatusCode
	if status >= 200 && status < 300 {
		return nil
	}

	pe := parseProviderError(body)
	msg := fmt.Sprintf("provider returned %d", status)
	if pe.code != "" || pe.title != "" {
		msg = fmt.Sprintf("provider returned %d: [%s] %s", status, pe.code, pe.title)
		if pe.detail != "" {
			msg += " (" + pe.detail + ")"
		}
	}

	switch {
	case status == http.StatusUnauthorized:
		c.tokens.Invalidate()
		return apperrors.New(apperrors.KindProviderUnavailable, r.op, msg)
	case status == http.StatusTooManyRequests:
		return apperrors.RateLimited(r.op, parseRetryAfter(resp.Header.Get("Retry-After")))
	case status >= 500:
		return apperrors.New(apperrors.KindProviderUnavailable, r.op, msg)
	}

	if r.orderErrors {
		if c.inventoryGoneCodes[pe.code] || strings.EqualFold(pe.title, "SEGMENT SELL FAILURE") {
			return apperrors.New(apperrors.KindInventoryGone, r.op, msg)
		}
		if c.priceChangedCodes[pe.code] || strings.EqualFold(pe.title, "PRICE DISCREPANCY") {
			return apperrors.New(apperrors.KindPriceChanged, r.op, msg)
		}
	}

	if status == http.StatusNotFound {
		return apperrors.New(apperrors.KindNotFound, r.op, msg)
	}

	kind := r.clientErrorKind
	if kind == "" {
		kind = apperrors.KindValidation
	}
	return apperrors.New(kind, r.op, msg)
}

type providerError struct {
	code   string
	title  string
	detail string
}

func parseProviderError(body []byte) providerError {
	if !gjson.ValidBytes(body) {
		return providerError{}
	}
	first := gjson.GetBytes(body, "errors.0")
	return providerError{
		code:   first.Get("code").String(),
		title:  first.Get("title").String(),
		detail: first.Get("detail").String(),
	}
}

// parseRetryAfter reads a Retry-After header in seconds or HTTP-date form.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			set[v] = true
		}
	}
	return set
}
