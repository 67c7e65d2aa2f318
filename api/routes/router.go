package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/cartsync/api/controllers"
	cartcontrollers "github.com/angelmondragon/cartsync/api/controllers/cart"
	"github.com/angelmondragon/cartsync/api/middleware"
	"github.com/angelmondragon/cartsync/pkg/config"
	"github.com/angelmondragon/cartsync/pkg/logger"
	"github.com/angelmondragon/cartsync/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	redisClient redis.Pinger,
	sessions cartcontrollers.Sessions,
	catalog controllers.ProductCatalog,
	metricsHandler http.Handler,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSAllowedOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, redisClient, logg))
	})
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/products", func(r chi.Router) {
			r.Get("/", controllers.ProductsList(catalog, logg))
			r.Get("/{productId}", controllers.ProductsGet(catalog, logg))
		})

		r.Route("/cart", func(r chi.Router) {
			r.Use(middleware.CartSession(logg))
			r.Get("/", cartcontrollers.CartFetch(sessions, logg))
			r.Post("/reconcile", cartcontrollers.CartReconcile(sessions, logg))
			r.Post("/items", cartcontrollers.CartAddItem(sessions, catalog, logg))
			r.Put("/items/{productId}", cartcontrollers.CartSetQuantity(sessions, logg))
			r.Delete("/items/{productId}", cartcontrollers.CartRemoveItem(sessions, logg))
			r.Get("/items/{productId}/effective-quantity", cartcontrollers.CartEffectiveQuantity(sessions, logg))
			r.Get("/messages", cartcontrollers.CartMessages(sessions, logg))
			r.Post("/messages/{messageId}/ack", cartcontrollers.CartAcknowledgeMessage(sessions, logg))
		})
	})

	return r
}
