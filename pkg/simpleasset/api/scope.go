package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/tendant/simple-asset/pkg/simpleasset"
)

// Headers set by the authenticating proxy in front of the API.
const (
	HeaderOwnerID      = "X-Owner-ID"
	HeaderAccountClass = "X-Account-Class"
	HeaderQuotaCap     = "X-Quota-Cap"
	HeaderFolderID     = "X-Folder-ID"
)

type contextKey string

const scopeKey contextKey = "asset_scope"

// ScopeMiddleware builds a simpleasset.Scope from request headers. Requests
// without a valid owner are rejected with 401.
func ScopeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ownerID, err := uuid.Parse(r.Header.Get(HeaderOwnerID))
		if err != nil || ownerID == uuid.Nil {
			writeError(w, r, http.StatusUnauthorized, "missing or invalid owner")
			return
		}

		scope := simpleasset.Scope{
			OwnerID: ownerID,
			Class:   simpleasset.AccountCapped,
		}
		switch class := simpleasset.AccountClass(r.Header.Get(HeaderAccountClass)); class {
		case "", simpleasset.AccountCapped:
		case simpleasset.AccountUncapped:
			scope.Class = simpleasset.AccountUncapped
		default:
			writeError(w, r, http.StatusBadRequest, "invalid account class")
			return
		}
		if raw := r.Header.Get(HeaderQuotaCap); raw != "" {
			capBytes, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || capBytes <= 0 {
				writeError(w, r, http.StatusBadRequest, "invalid quota cap")
				return
			}
			scope.CapBytes = capBytes
		}
		if raw := r.Header.Get(HeaderFolderID); raw != "" {
			folderID, err := uuid.Parse(raw)
			if err != nil {
				writeError(w, r, http.StatusBadRequest, "invalid folder id")
				return
			}
			scope.FolderID = &folderID
		}

		next.ServeHTTP(w, r.WithContext(WithScope(r.Context(), scope)))
	})
}

// WithScope stores scope in ctx
func WithScope(ctx context.Context, scope simpleasset.Scope) context.Context {
	return context.WithValue(ctx, scopeKey, scope)
}

// ScopeFrom returns the scope stored by ScopeMiddleware
func ScopeFrom(ctx context.Context) (simpleasset.Scope, bool) {
	scope, ok := ctx.Value(scopeKey).(simpleasset.Scope)
	return scope, ok
}
