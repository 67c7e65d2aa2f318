// Package gateway defines the contract of the authoritative remote cart store
// and the failures it can report.
package gateway

import (
	"context"
	stdErrors "errors"
	"fmt"
	"net/http"

	"github.com/angelmondragon/cartsync/internal/cart"
	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
)

// Gateway is the remote cart store. Every mutation returns the new
// authoritative cart.
type Gateway interface {
	FetchCart(ctx context.Context) (cart.Snapshot, error)
	AddItem(ctx context.Context, productID string, quantity int) (cart.Snapshot, error)
	SetQuantity(ctx context.Context, productID string, quantity int) (cart.Snapshot, error)
	RemoveItem(ctx context.Context, productID string) (cart.Snapshot, error)
}

// Factory returns the gateway bound to a shopping session.
type Factory interface {
	ForSession(sessionID string) Gateway
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(sessionID string) Gateway

func (f FactoryFunc) ForSession(sessionID string) Gateway { return f(sessionID) }

// ErrNoCart is returned by FetchCart when the session has no cart yet.
var ErrNoCart = pkgerrors.New(pkgerrors.CodeNotFound, "no cart for session")

// Kind classifies a gateway failure.
type Kind int

const (
	KindNone Kind = iota
	KindNetwork
	KindRejected
	KindNoCart
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindNetwork:
		return "network"
	case KindRejected:
		return "rejected"
	case KindNoCart:
		return "no_cart"
	default:
		return "unknown"
	}
}

// Network wraps a transport failure: the store was unreachable or timed out.
func Network(err error) error {
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cart service unreachable")
}

// Rejected reports a non-2xx answer from the store.
func Rejected(status int, message string) error {
	if message == "" {
		message = http.StatusText(status)
	}
	if message == "" {
		message = "request rejected"
	}
	return pkgerrors.New(pkgerrors.CodeRejected, message).WithStatus(status)
}

// Classify maps err onto the failure taxonomy.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	if stdErrors.Is(err, ErrNoCart) {
		return KindNoCart
	}
	if stdErrors.Is(err, context.DeadlineExceeded) || stdErrors.Is(err, context.Canceled) {
		return KindNetwork
	}
	switch pkgerrors.CodeOf(err) {
	case pkgerrors.CodeDependency:
		return KindNetwork
	case pkgerrors.CodeRejected, pkgerrors.CodeConflict, pkgerrors.CodeValidation:
		return KindRejected
	}
	return KindUnknown
}

// Describe renders a short human-readable cause for err.
func Describe(err error) string {
	switch Classify(err) {
	case KindNone:
		return ""
	case KindNetwork:
		return "the cart service could not be reached"
	case KindNoCart:
		return "no cart exists yet"
	case KindRejected:
		if typed := pkgerrors.As(err); typed != nil && typed.Message() != "" {
			return fmt.Sprintf("the cart service refused the change (%d: %s)", typed.Status(), typed.Message())
		}
		return "the cart service refused the change"
	}
	return "something went wrong"
}
