package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"autosell/kraken"
	"autosell/logger"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.GetLogger().WithComponent("server").WithError(err).Warn("response encode failed")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func decodeJSONBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// writeQueryError translates exchange error kinds into HTTP statuses.
func (s *Server) writeQueryError(w http.ResponseWriter, txid string, err error) {
	switch kraken.KindOf(err) {
	case kraken.KindNotFound:
		writeError(w, http.StatusNotFound, fmt.Sprintf("order %s not found", txid))
	case kraken.KindAuth:
		writeError(w, http.StatusBadGateway, "exchange rejected credentials")
	default:
		s.log.WithComponent("server").WithError(err).WithFields(logger.Fields{"txid": txid}).Warn("order query failed")
		writeError(w, http.StatusBadGateway, "exchange query failed")
	}
}
