package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/nerrad567/sensord/internal/sensor"
)

// Response messages.
const (
	msgFetched  = "Fetched sensor data"
	msgUpdated  = "Data updated"
	msgReplaced = "Data replaced"
	msgCleared  = "Data cleared"
	msgLiveData = "Live sensor data"
)

// Envelope wraps every accessor response and every live feed push.
type Envelope struct {
	Error   bool           `json:"error"`
	Message string         `json:"message"`
	Data    sensor.Reading `json:"data"`
}

// handleGetReading returns the current reading.
func (s *Server) handleGetReading(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Envelope{Message: msgFetched, Data: s.store.Get()})
}

// handleUpdateReading creates or replaces the reading.
func (s *Server) handleUpdateReading(w http.ResponseWriter, r *http.Request) {
	reading, ok := s.decodeReading(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Message: msgUpdated, Data: s.store.Replace(reading)})
}

// handleReplaceReading replaces the reading in full.
//
// A reading always exists (possibly cleared), so there is no not-found case;
// the operation is equivalent to an update apart from its message.
func (s *Server) handleReplaceReading(w http.ResponseWriter, r *http.Request) {
	reading, ok := s.decodeReading(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, Envelope{Message: msgReplaced, Data: s.store.Replace(reading)})
}

// handleClearReading resets the reading to the cleared state.
func (s *Server) handleClearReading(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Envelope{Message: msgCleared, Data: s.store.Clear()})
}

// decodeReading reads and validates the request body. On failure it writes
// the error response and returns false; the store is not touched.
func (s *Server) decodeReading(w http.ResponseWriter, r *http.Request) (sensor.Reading, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit))
			return sensor.Reading{}, false
		}
		writeBadRequest(w, "failed to read request body")
		return sensor.Reading{}, false
	}

	reading, err := sensor.Decode(body)
	if err != nil {
		s.logger.Debug("rejected sensor reading", "error", err)
		writeValidationError(w, err.Error())
		return sensor.Reading{}, false
	}
	return reading, true
}
