package woocommerce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"storefront-checkout/internal/model"
	"storefront-checkout/internal/transport"
)

// =============================================================================
// API SURFACES
// =============================================================================
//
// Three WooCommerce surfaces are used, each with its own authentication:
//
//   REST API v3   /wp-json/wc/v3           Basic Auth with consumer key/secret.
//                                          Orders, products, customers, coupons.
//   Store API     /wp-json/wc/store/v1     Cart-Token session, Nonce on mutations.
//                                          The shopper's cart.
//   Plugin        /wp-json/storefront/v1   Basic Auth. Shipping rates and
//                                          destination restrictions.
//
// The Store API nonce is fetched with a GET /cart preflight before every
// mutation. Nonces are never cached.
// =============================================================================

const (
	restAPIPath   = "/wp-json/wc/v3"
	storeAPIPath  = "/wp-json/wc/store/v1"
	pluginAPIPath = "/wp-json/storefront/v1"
)

// userAgent identifies this client to upstream servers.
// Required: WooCommerce CDN/WAF rate-limits requests without User-Agent.
const userAgent = "Storefront-Checkout/1.0"

// Config holds WooCommerce connection settings.
type Config struct {
	StoreURL  string
	APIKey    string
	APISecret string
	// Timeout bounds each request. Defaults to 30s.
	Timeout time.Duration
	// ChromeTLS presents a browser TLS fingerprint to the store's CDN.
	ChromeTLS bool
	// HTTPClient overrides the transport entirely, mainly for tests.
	HTTPClient *http.Client
}

// Client is the REST API v3 backend: orders, stock, customers and coupons.
// Cart and ShippingClient share its connection settings.
type Client struct {
	httpClient *http.Client
	storeURL   string
	apiKey     string
	apiSecret  string
	now        func() time.Time
}

// New creates a WooCommerce client with the given configuration.
func New(cfg Config) (*Client, error) {
	if cfg.StoreURL == "" {
		return nil, fmt.Errorf("store URL is required")
	}
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("API credentials are required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = transport.NewClient(transport.Options{
			Timeout:   cfg.Timeout,
			ChromeTLS: cfg.ChromeTLS,
			Name:      "woocommerce",
		})
	}

	return &Client{
		httpClient: httpClient,
		storeURL:   strings.TrimSuffix(cfg.StoreURL, "/"),
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		now:        time.Now,
	}, nil
}

// doJSON sends an authenticated JSON request and decodes the response into
// out when out is non-nil. resource names the entity for 404 errors.
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body, out interface{}, resource string) error {
	var reader io.Reader
	if body != nil {
		bodyJSON, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling %s request: %w", resource, err)
		}
		reader = bytes.NewReader(bodyJSON)
	}

	u := c.storeURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("creating %s request: %w", resource, err)
	}
	c.setRESTHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.NewUpstreamError("WooCommerce", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading %s response: %w", resource, err)
	}
	if resp.StatusCode >= 400 {
		return parseErrorResponse(resource, resp.StatusCode, respBody)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return model.NewUpstreamError("WooCommerce", fmt.Errorf("parsing %s response: %w", resource, err))
	}
	return nil
}

// setRESTHeaders sets headers for REST API v3 and plugin requests.
func (c *Client) setRESTHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.apiKey, c.apiSecret)
}

// setStoreAPIHeaders sets headers for Store API requests.
// Store API uses Cart-Token for session and Nonce for mutation auth, not
// Basic Auth.
func setStoreAPIHeaders(req *http.Request, cartToken, nonce string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	if cartToken != "" {
		req.Header.Set("Cart-Token", cartToken)
	}
	if nonce != "" {
		req.Header.Set("Nonce", nonce)
	}
}

// parseErrorResponse converts a WooCommerce error to an APIError.
func parseErrorResponse(resource string, statusCode int, body []byte) error {
	var wcErr WooErrorResponse
	json.Unmarshal(body, &wcErr) // Best effort parse

	switch statusCode {
	case 404:
		return model.NewNotFoundError(resource)
	case 401, 403:
		return model.NewUnauthorizedError("WooCommerce authentication failed")
	case 400:
		msg := wcErr.Message
		if msg == "" {
			msg = "invalid request"
		}
		return model.NewValidationError(resource, msg)
	case 429:
		return model.NewRateLimitError("WooCommerce")
	default:
		return model.NewUpstreamError("WooCommerce",
			fmt.Errorf("status %d: %s - %s", statusCode, wcErr.Code, wcErr.Message))
	}
}

// === Address mapping ===

func toWooAddress(a model.Address) WooAddress {
	return WooAddress{
		FirstName: a.FirstName,
		LastName:  a.LastName,
		Company:   a.Company,
		Address1:  a.Address1,
		Address2:  a.Address2,
		City:      a.City,
		State:     a.State,
		Postcode:  a.Postcode,
		Country:   a.Country,
		Email:     a.Email,
		Phone:     a.Phone,
	}
}

func fromWooAddress(a WooAddress) model.Address {
	return model.Address{
		FirstName: a.FirstName,
		LastName:  a.LastName,
		Company:   a.Company,
		Address1:  a.Address1,
		Address2:  a.Address2,
		City:      a.City,
		State:     a.State,
		Postcode:  a.Postcode,
		Country:   a.Country,
		Email:     a.Email,
		Phone:     a.Phone,
	}
}
