package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/lacolombe/portal-notify/internal/handlers"
)

// NewRouter wires the dispatch API. The legacy endpoints stay unauthenticated
// for compatibility with installed clients; the /api surface requires a
// session token.
func NewRouter(
	health *handlers.HealthHandler,
	notifications *handlers.NotificationHandler,
	auth *handlers.AuthHandler,
) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", health.Health).Methods(http.MethodGet)

	r.HandleFunc("/sendParentNotification", notifications.SendParentNotification).Methods(http.MethodPost)
	r.HandleFunc("/saveFCMToken", notifications.SaveFCMToken).Methods(http.MethodPost)
	r.HandleFunc("/getNotificationStats", notifications.NotificationStats).Methods(http.MethodGet)
	r.HandleFunc("/sendTestNotification", notifications.SendTest).Methods(http.MethodPost)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/login", auth.Login).Methods(http.MethodPost)

	protected := api.NewRoute().Subrouter()
	protected.Use(auth.JWTMiddleware)
	protected.HandleFunc("/notifications", notifications.List).Methods(http.MethodGet)

	return r
}
