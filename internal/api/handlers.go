package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/rfidgate/internal/directory"
)

// maxBodyBytes caps employee request bodies.
const maxBodyBytes = 1 << 20

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.Count(r.Context())
	if err != nil {
		s.logger.Error("failed to count employees", "error", err)
		s.writeError(w, http.StatusInternalServerError, "directory unavailable")
		return
	}

	active := 0
	if s.sessions != nil {
		active = s.sessions.ActiveSessions()
	}

	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:          "ok",
		UptimeSeconds:   int64(time.Since(s.startedAt).Seconds()),
		ActiveSessions:  active,
		Employees:       count,
		VerifierEnabled: s.config.VerifierEnabled,
		EventListeners:  s.events.Subscribers(),
	})
}

// handleListEmployees handles GET /api/v1/employees.
func (s *Server) handleListEmployees(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.List(r.Context())
	if err != nil {
		s.logger.Error("failed to list employees", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list employees")
		return
	}
	respondJSON(w, http.StatusOK, list)
}

// handleGetEmployee handles GET /api/v1/employees/{rfid}.
func (s *Server) handleGetEmployee(w http.ResponseWriter, r *http.Request) {
	rfid := chi.URLParam(r, "rfid")

	emp, err := s.store.FindByID(r.Context(), rfid)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "employee not found")
			return
		}
		s.logger.Error("failed to retrieve employee", "rfid", rfid, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve employee")
		return
	}
	respondJSON(w, http.StatusOK, emp)
}

// handleCreateEmployee handles POST /api/v1/employees. An existing record
// with the same rfid is replaced.
func (s *Server) handleCreateEmployee(w http.ResponseWriter, r *http.Request) {
	var emp directory.Employee
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&emp); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	saved, err := s.store.Save(r.Context(), emp)
	if err != nil {
		var ve *directory.ValidationError
		switch {
		case errors.As(err, &ve):
			respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid employee", Problems: ve.Problems})
		case errors.Is(err, directory.ErrConflict):
			s.writeError(w, http.StatusConflict, "email already registered to another employee")
		default:
			s.logger.Error("failed to save employee", "rfid", emp.RFID, "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to save employee")
		}
		return
	}

	s.logger.Info("employee saved", "rfid", saved.RFID)
	w.Header().Set("Location", "/api/v1/employees/"+saved.RFID)
	respondJSON(w, http.StatusCreated, saved)
}

// handleDeleteEmployee handles DELETE /api/v1/employees/{rfid}.
func (s *Server) handleDeleteEmployee(w http.ResponseWriter, r *http.Request) {
	rfid := chi.URLParam(r, "rfid")
	if strings.TrimSpace(rfid) == "" {
		s.writeError(w, http.StatusBadRequest, "rfid is required")
		return
	}

	if err := s.store.Delete(r.Context(), rfid); err != nil {
		s.logger.Error("failed to delete employee", "rfid", rfid, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to delete employee")
		return
	}

	s.logger.Info("employee deleted", "rfid", rfid)
	w.WriteHeader(http.StatusNoContent)
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
