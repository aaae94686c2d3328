package api

import (
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/memorylane/memorylane/internal/api/recovery"
	"github.com/memorylane/memorylane/internal/api/requestid"
)

// NewRouter wires the HTTP routes onto the timeline service.
func NewRouter(svc Service, log zerolog.Logger) *mux.Router {
	router := mux.NewRouter()

	// Global middlewares
	router.Use(recovery.Middleware)
	router.Use(requestid.Middleware)

	healthHandler := NewHealthHandler()
	timelineHandler := NewTimelineHandler(svc, log)

	router.HandleFunc("/api/health", healthHandler.CheckHealth).Methods("GET")
	router.HandleFunc("/api/status", timelineHandler.GetStatus).Methods("GET")
	router.HandleFunc("/api/events", timelineHandler.GetEvents).Methods("GET")
	router.HandleFunc("/api/senders", timelineHandler.GetSenders).Methods("GET")
	router.HandleFunc("/api/asset/{provider}/{id}", timelineHandler.GetAsset).Methods("GET")

	return router
}
