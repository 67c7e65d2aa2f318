package cart

import (
	cartdto "github.com/angelmondragon/cartsync/api/controllers/cart/dto"
	"github.com/angelmondragon/cartsync/internal/cartsync"
)

func newCartView(engine *cartsync.Engine) cartdto.CartView {
	return cartdto.CartView{
		SessionID: engine.SessionID(),
		Cart:      engine.State(),
		Pending:   engine.PendingDeltas(),
	}
}

func newEffectiveQuantity(engine *cartsync.Engine, productID string) cartdto.EffectiveQuantity {
	confirmed := engine.Confirmed().Quantity(productID)
	effective := engine.EffectiveQuantity(productID)
	return cartdto.EffectiveQuantity{
		ProductID: productID,
		Quantity:  effective,
		Confirmed: confirmed,
		Pending:   effective - confirmed,
	}
}
