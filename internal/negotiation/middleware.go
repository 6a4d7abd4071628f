package negotiation

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

// Middleware rejects requests from missing or outdated storefront clients
// and stores the caller's ClientInfo in the request context.
//
// Missing or malformed header: 400 client_required.
// Version below policy.MinVersion: 426 client_upgrade_required.
func Middleware(policy VersionPolicy, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isExemptPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get(ClientHeader)
			if header == "" {
				writeNegotiationError(w, http.StatusBadRequest, ClientRequired,
					"Storefront-Client header is required")
				return
			}

			info, err := ParseClientHeader(header)
			if err != nil {
				logger.Warn("invalid Storefront-Client header",
					slog.String("header", header),
					slog.String("error", err.Error()))
				writeNegotiationError(w, http.StatusBadRequest, ClientRequired,
					"Invalid Storefront-Client header: "+err.Error())
				return
			}

			if err := policy.Check(info.Version); err != nil {
				var verErr *VersionError
				if errors.As(err, &verErr) {
					logger.Info("outdated storefront client",
						slog.String("client", info.Name),
						slog.String("version", info.Version),
						slog.String("min_version", verErr.MinVersion))
					writeNegotiationError(w, http.StatusUpgradeRequired, verErr.Code, verErr.Message)
					return
				}
				writeNegotiationError(w, http.StatusBadRequest, ClientRequired, err.Error())
				return
			}

			ctx := context.WithValue(r.Context(), ClientContextKey, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// isExemptPath returns true for infrastructure paths. MCP clients are not
// storefront builds and authenticate at the transport.
func isExemptPath(path string) bool {
	switch {
	case path == "/health" || path == "/healthz":
		return true
	case path == "/metrics":
		return true
	case path == "/mcp" || strings.HasPrefix(path, "/mcp/"):
		return true
	default:
		return false
	}
}

// writeNegotiationError writes the standard error envelope.
func writeNegotiationError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}{}
	resp.Error.Code = code
	resp.Error.Message = message

	json.NewEncoder(w).Encode(resp)
}

// GetClientInfo retrieves the caller's ClientInfo from the request context.
// The second result is false for exempt paths.
func GetClientInfo(ctx context.Context) (ClientInfo, bool) {
	info, ok := ctx.Value(ClientContextKey).(ClientInfo)
	return info, ok
}
