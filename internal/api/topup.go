package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/rfid-bridge/internal/bridge"
	"github.com/nerrad567/rfid-bridge/internal/infrastructure/mqtt"
)

// topupRequest is the POST /topup body. Pointers distinguish a missing
// field from a zero value.
type topupRequest struct {
	UID    *string  `json:"uid"`
	Amount *float64 `json:"amount"`
}

// topupResponse acknowledges that the command was handed to the bus.
type topupResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	CommandID string `json:"command_id"`
}

// handleTopup validates a top-up request and forwards it to the bridge.
//
// Invalid bodies are answered with 400 before the bridge is involved.
// A disconnected bus answers 503; any other publish failure answers 502.
func (s *Server) handleTopup(w http.ResponseWriter, r *http.Request) {
	var req topupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.logger.Debug("rejecting top-up: undecodable body", "error", err)
		writeInvalidInput(w)
		return
	}
	if req.UID == nil || req.Amount == nil {
		writeInvalidInput(w)
		return
	}

	cmd := bridge.TopupCommand{UID: *req.UID, Amount: *req.Amount}
	if err := cmd.Validate(); err != nil {
		s.logger.Debug("rejecting top-up", "error", err)
		writeInvalidInput(w)
		return
	}

	receipt, err := s.bridge.SubmitTopup(r.Context(), cmd.UID, cmd.Amount)
	switch {
	case err == nil:
	case errors.Is(err, bridge.ErrValidation):
		writeInvalidInput(w)
		return
	case errors.Is(err, mqtt.ErrNotConnected):
		writeError(w, http.StatusServiceUnavailable, ErrCodeNotConnected, msgNotConnected)
		return
	default:
		s.logger.Error("top-up forward failed",
			"uid", cmd.UID,
			"request_id", r.Context().Value(ctxKeyRequestID),
			"error", err,
		)
		writeError(w, http.StatusBadGateway, ErrCodePublishFailed, msgPublishFailed)
		return
	}

	writeJSON(w, http.StatusOK, topupResponse{
		Success:   true,
		Message:   msgTopupSent,
		CommandID: receipt.CommandID,
	})
}
