package cart

import (
	"context"
	"net/http"

	"github.com/angelmondragon/cartsync/api/middleware"
	"github.com/angelmondragon/cartsync/internal/cartsync"
	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
)

// Sessions resolves the engine owning a shopping session.
type Sessions interface {
	Get(ctx context.Context, sessionID string) (*cartsync.Engine, error)
}

func engineFromRequest(r *http.Request, sessions Sessions) (*cartsync.Engine, error) {
	if sessions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "cart sessions unavailable")
	}
	sessionID := middleware.SessionIDFromContext(r.Context())
	if sessionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart session missing")
	}
	return sessions.Get(r.Context(), sessionID)
}

func quantityOrDefault(qty int) int {
	if qty <= 0 {
		return 1
	}
	return qty
}
