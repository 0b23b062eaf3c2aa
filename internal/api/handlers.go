package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/askbridge/internal/bridge"
	"github.com/mattjoyce/askbridge/internal/events"
	"github.com/mattjoyce/askbridge/internal/ledger"
)

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// handleAsk handles POST /ask. Every outcome of a readable request is a 200
// with the outcome text in the response field.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)

	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if strings.TrimSpace(req.Message) == "" {
		s.writeJSON(w, http.StatusOK, AskResponse{Response: MsgNoMessage})
		return
	}

	requestID := middleware.GetReqID(r.Context())
	logger := s.logger.With("request_id", requestID)

	ctx, done, ok := s.workerContext(r.Context())
	if !ok {
		s.writeError(w, http.StatusServiceUnavailable, "server shutting down")
		return
	}

	s.events.Publish(events.TypeInvocationStarted, events.InvocationData{RequestID: requestID})

	res, err := s.executor.Execute(ctx, req.Message)
	done()
	text := ResponseText(res, err)

	if res != nil {
		s.record(context.WithoutCancel(r.Context()), res, err, requestID, len(req.Message))
	}
	s.publishOutcome(res, err, requestID)

	if err != nil {
		logger.Warn("ask failed", "error", err)
	}
	s.writeJSON(w, http.StatusOK, AskResponse{Response: text})
}

// record stores invocation metadata. Failures are logged and never change
// the response.
func (s *Server) record(ctx context.Context, res *bridge.Result, execErr error, requestID string, messageBytes int) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Record(ctx, ledger.NewEntry(res, execErr, requestID, messageBytes)); err != nil {
		s.logger.Warn("failed to record invocation", "invocation_id", res.InvocationID, "error", err)
	}
}

func (s *Server) publishOutcome(res *bridge.Result, execErr error, requestID string) {
	data := events.InvocationData{RequestID: requestID}
	if res != nil {
		data.InvocationID = res.InvocationID
		data.State = res.State.String()
		data.PID = res.PID
		data.DurationMS = res.Duration.Milliseconds()
		data.StdoutBytes = res.StdoutBytes
		data.StderrBytes = res.StderrBytes
		data.Signal = res.Signal
		if res.State == bridge.StateCompleted {
			data.Kind = res.Kind.String()
		}
		if res.ExitCode >= 0 {
			code := res.ExitCode
			data.ExitCode = &code
		}
	}

	eventType := events.TypeInvocationCompleted
	if execErr != nil {
		eventType = events.TypeInvocationFailed
		data.Error = execErr.Error()
	}
	s.events.Publish(eventType, data)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}
