package cartdto

import (
	"github.com/angelmondragon/cartsync/internal/cart"
	"github.com/angelmondragon/cartsync/internal/notify"
)

type AddItemRequest struct {
	ProductID string `json:"product_id" validate:"required,max=128"`
	Quantity  int    `json:"quantity" validate:"omitempty,min=1,max=999"`
}

type SetQuantityRequest struct {
	Quantity *int `json:"quantity" validate:"required,min=0,max=999"`
}

// CartView is the speculative cart plus the deltas still awaiting the remote store.
type CartView struct {
	SessionID string         `json:"session_id"`
	Cart      cart.State     `json:"cart"`
	Pending   map[string]int `json:"pending"`
}

type EffectiveQuantity struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Confirmed int    `json:"confirmed"`
	Pending   int    `json:"pending"`
}

type Messages struct {
	Messages []notify.Message `json:"messages"`
}

type Acknowledged struct {
	ID           string `json:"id"`
	Acknowledged bool   `json:"acknowledged"`
}
