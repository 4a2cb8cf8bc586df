package routers

import (
	"chain-gateway/handlers"

	"github.com/gorilla/mux"
)

// RegisterRoutes sets up all the HTTP routes of the gateway
func RegisterRoutes(r *mux.Router, h *handlers.Handler, hub *handlers.Hub) {
	api := r.PathPrefix("/api").Subrouter()

	// Blocks by id, id list, height, height range or time window
	api.HandleFunc("/blocks", h.GetBlocks).Methods("GET")

	// Accounts by address or alternate key, or a filtered listing
	api.HandleFunc("/accounts", h.GetAccounts).Methods("GET")
	api.HandleFunc("/accounts/top", h.GetTopAccounts).Methods("GET")

	// Ranked delegate registry and the upcoming forging rotation
	api.HandleFunc("/delegates", h.GetDelegates).Methods("GET")
	api.HandleFunc("/forgers", h.GetNextForgers).Methods("GET")

	api.HandleFunc("/peers", h.GetPeers).Methods("GET")
	api.HandleFunc("/network/status", h.GetNetworkStatus).Methods("GET")

	api.HandleFunc("/fees", h.GetFeeEstimates).Methods("GET")

	// Push channel for newBlock, newRound and newFeeEstimate
	if hub != nil {
		r.HandleFunc("/ws", hub.ServeWS).Methods("GET")
	}
}
