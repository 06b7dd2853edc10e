package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/duskworks/coopcore/pkg/instances"
	"github.com/duskworks/coopcore/pkg/log"
	"github.com/duskworks/coopcore/pkg/metrics"
	"github.com/duskworks/coopcore/pkg/servers"
	"github.com/duskworks/coopcore/pkg/sessions"
	"github.com/duskworks/coopcore/pkg/store"
	"github.com/duskworks/coopcore/pkg/types"
)

const transactionListLimit = 100

func HandleDumpMetrics(registry *metrics.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(registry.Snapshot()); err != nil {
			log.Error("failed to encode metrics: %v", err)
			http.Error(w, "Failed to encode metrics", http.StatusInternalServerError)
			return
		}
	}
}

func HandleIntegrityCheck(repository store.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repository == nil {
			http.Error(w, "No durable store configured", http.StatusServiceUnavailable)
			return
		}
		report, err := repository.IntegrityCheck(r.Context())
		if err != nil {
			log.Error("failed to run integrity check: %v", err)
			http.Error(w, "Failed to run integrity check", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(report); err != nil {
			log.Error("failed to encode integrity report: %v", err)
			http.Error(w, "Failed to encode integrity report", http.StatusInternalServerError)
			return
		}
	}
}

func HandleCreateLocation(registry *instances.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var loc instances.Location
		if err := json.NewDecoder(r.Body).Decode(&loc); err != nil {
			http.Error(w, "Malformed location", http.StatusBadRequest)
			return
		}
		if err := registry.RegisterLocation(loc); err != nil {
			if types.IsValidationFailed(err) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			log.Error("failed to register location: %v", err)
			http.Error(w, "Failed to register location", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}
}

func HandleListSessions(fabric *sessions.Fabric) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		type sessionSummary struct {
			ID       types.SessionID `json:"id"`
			Host     types.PeerID    `json:"host"`
			State    sessions.State  `json:"state"`
			Peers    int             `json:"peers"`
			GameMode string          `json:"gameMode"`
		}
		var summaries []sessionSummary
		for _, id := range fabric.Sessions() {
			snapshot, ok := fabric.Snapshot(id)
			if !ok {
				continue
			}
			summaries = append(summaries, sessionSummary{
				ID:       snapshot.ID,
				Host:     snapshot.Host,
				State:    snapshot.State,
				Peers:    len(snapshot.Peers),
				GameMode: snapshot.Settings.GameMode,
			})
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(summaries); err != nil {
			log.Error("failed to encode sessions: %v", err)
			http.Error(w, "Failed to encode sessions", http.StatusInternalServerError)
			return
		}
	}
}

func HandleEndSession(fabric *sessions.Fabric) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := types.SessionID(mux.Vars(r)["sessionID"])
		snapshot, ok := fabric.Snapshot(sessionID)
		if !ok {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}
		if err := fabric.End(sessionID, snapshot.Host); err != nil {
			log.Error("failed to end session %s: %v", sessionID, err)
			http.Error(w, "Failed to end session", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func HandleKickPeer(fabric *sessions.Fabric, peers *servers.PeerManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := strconv.ParseUint(mux.Vars(r)["peerID"], 10, 32)
		if err != nil {
			http.Error(w, "Malformed peer id", http.StatusBadRequest)
			return
		}
		peerID := types.PeerID(raw)
		fabric.Leave(peerID, "kicked by operator")
		if peers != nil {
			peers.Disconnect(peerID)
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func HandleListTransactions(repository store.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repository == nil {
			http.Error(w, "No durable store configured", http.StatusServiceUnavailable)
			return
		}
		raw, err := strconv.ParseUint(mux.Vars(r)["peerID"], 10, 32)
		if err != nil {
			http.Error(w, "Malformed peer id", http.StatusBadRequest)
			return
		}
		records, err := repository.ReadTransactions(r.Context(), types.PeerID(raw), transactionListLimit)
		if err != nil {
			log.Error("failed to read transactions: %v", err)
			http.Error(w, "Failed to read transactions", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(records); err != nil {
			log.Error("failed to encode transactions: %v", err)
			http.Error(w, "Failed to encode transactions", http.StatusInternalServerError)
			return
		}
	}
}
