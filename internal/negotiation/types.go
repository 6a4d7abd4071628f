// Package negotiation checks which storefront client is calling.
//
// Every checkout request carries a Storefront-Client structured header
// (RFC 8941 dictionary) naming the client build. Clients older than the
// configured minimum are turned away with 426 so they reload before they can
// submit an order against a changed checkout contract.
package negotiation

// ClientHeader is the request header identifying the storefront build.
const ClientHeader = "Storefront-Client"

// IdempotencyKeyHeader carries the commit retry key as an sf-string.
const IdempotencyKeyHeader = "Idempotency-Key"

// ClientInfo is the parsed Storefront-Client header.
type ClientInfo struct {
	// Name is the client application, e.g. "wholesale-web".
	Name string
	// Version is the client's semantic version without the "v" prefix.
	Version string
}

// contextKey is the type for context values to avoid collisions
type contextKey string

// ClientContextKey is the context key for the caller's ClientInfo.
const ClientContextKey contextKey = "storefront.client"

// Error codes written by the middleware.
const (
	ClientRequired        = "client_required"
	ClientUpgradeRequired = "client_upgrade_required"
)
