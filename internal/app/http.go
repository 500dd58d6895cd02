package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"formsmith/api/internal/auth"
	"formsmith/api/internal/editor"
	"formsmith/api/internal/form"
	"formsmith/api/internal/rbac"
)

var httpRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "formsmith_http_requests_total",
		Help: "HTTP requests by method and status code.",
	},
	[]string{"method", "status"},
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
}

const maxOpsPerRequest = 200

type HTTPServer struct {
	service    *Service
	corsOrigin string
	log        zerolog.Logger
	validate   *validator.Validate
	metrics    http.Handler
}

func NewHTTPServer(service *Service, corsOrigin string, log zerolog.Logger) *HTTPServer {
	return &HTTPServer{
		service:    service,
		corsOrigin: corsOrigin,
		log:        log,
		validate:   newValidator(),
		metrics:    promhttp.Handler(),
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" {
		s.metrics.ServeHTTP(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	actor, ok := s.identify(w, r)
	if !ok {
		return
	}

	switch parts[1] {
	case "sessions":
		s.handleSessions(w, r, actor, parts)
	case "forms":
		s.handleForms(w, r, actor, parts)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
		"backup":   map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	// A failing backup store degrades readiness without failing it.
	if err := s.service.PingBackup(ctx); err != nil {
		checks["backup"] = map[string]any{
			"status": "degraded",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request, actor rbac.Identity, parts []string) {
	if len(parts) == 2 {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		var body struct {
			FormID string `json:"formId" validate:"omitempty,max=64"`
		}
		if !s.decodeValid(w, r, &body) {
			return
		}
		view, err := s.service.OpenSession(r.Context(), actor, body.FormID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, view)
		return
	}

	sessionID := parts[2]

	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			view, err := s.service.GetSession(r.Context(), actor, sessionID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, view)
		case http.MethodDelete:
			if err := s.service.CloseSession(actor, sessionID); err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(parts) != 4 || r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[3] {
	case "ops":
		var body struct {
			Ops []editor.Op `json:"ops" validate:"required,min=1,dive"`
		}
		if !s.decodeValid(w, r, &body) {
			return
		}
		if len(body.Ops) > maxOpsPerRequest {
			s.fail(w, r, domainError(http.StatusRequestEntityTooLarge, "TOO_MANY_OPS", fmt.Sprintf("At most %d operations per request", maxOpsPerRequest), map[string]int{"max": maxOpsPerRequest}))
			return
		}
		result, err := s.service.ApplyOps(r.Context(), actor, sessionID, body.Ops)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	case "save":
		view, err := s.service.SaveSession(r.Context(), actor, sessionID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	case "publish":
		result, err := s.service.PublishSession(r.Context(), actor, sessionID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	case "unpublish":
		result, err := s.service.UnpublishSession(r.Context(), actor, sessionID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleForms(w http.ResponseWriter, r *http.Request, actor rbac.Identity, parts []string) {
	query := r.URL.Query()

	if len(parts) == 2 && r.Method == http.MethodGet {
		forms, err := s.service.ListForms(r.Context(), actor, queryBool(query.Get("archived")))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"forms": forms})
		return
	}

	if len(parts) == 3 && parts[2] == "search" && r.Method == http.MethodGet {
		limit, _ := strconv.Atoi(query.Get("limit"))
		offset, _ := strconv.Atoi(query.Get("offset"))
		payload, err := s.service.SearchForms(r.Context(), actor, query.Get("q"), queryBool(query.Get("archived")), limit, offset)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) < 3 {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	formID := parts[2]

	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			view, err := s.service.GetForm(r.Context(), actor, formID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, view)
		case http.MethodDelete:
			if err := s.service.DeleteForm(r.Context(), actor, formID); err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	switch parts[3] {
	case "archive":
		if len(parts) != 4 || r.Method != http.MethodPost {
			break
		}
		var body struct {
			Archived *bool `json:"archived"`
		}
		if !s.decodeValid(w, r, &body) {
			return
		}
		archived := body.Archived == nil || *body.Archived
		view, err := s.service.ArchiveForm(r.Context(), actor, formID, archived)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
		return
	case "versions":
		s.handleVersions(w, r, actor, formID, parts)
		return
	case "collaborators":
		s.handleCollaborators(w, r, actor, formID, parts)
		return
	case "comments":
		s.handleComments(w, r, actor, formID, parts)
		return
	case "mentions":
		if len(parts) != 4 || r.Method != http.MethodGet {
			break
		}
		text := query.Get("text")
		caret := utf8.RuneCountInString(text)
		if raw := query.Get("caret"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_QUERY", "caret must be an integer", nil)
				return
			}
			caret = parsed
		}
		if selected := query.Get("select"); selected != "" {
			completed, next, err := s.service.CompleteMention(r.Context(), actor, formID, text, caret, selected)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"text": completed, "caret": next})
			return
		}
		suggestions, err := s.service.MentionSuggestions(r.Context(), actor, formID, text, caret)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"suggestions": suggestions})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleVersions(w http.ResponseWriter, r *http.Request, actor rbac.Identity, formID string, parts []string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	switch len(parts) {
	case 4:
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		versions, err := s.service.ListVersions(r.Context(), actor, formID, limit)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"versions": versions})
	case 5:
		content, err := s.service.VersionContent(r.Context(), actor, formID, parts[4])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ref": parts[4], "content": content})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleCollaborators(w http.ResponseWriter, r *http.Request, actor rbac.Identity, formID string, parts []string) {
	if len(parts) == 4 {
		switch r.Method {
		case http.MethodGet:
			collaborators, err := s.service.ListCollaborators(r.Context(), actor, formID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"collaborators": collaborators})
		case http.MethodPost:
			var body struct {
				Email string `json:"email" validate:"required,email,max=320"`
				Role  string `json:"role" validate:"required,oneof=viewer editor"`
			}
			if !s.decodeValid(w, r, &body) {
				return
			}
			result, err := s.service.AddCollaborator(r.Context(), actor, formID, body.Email, body.Role)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, result)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(parts) != 5 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	collaboratorID := parts[4]

	switch r.Method {
	case http.MethodPut:
		var body struct {
			Role string `json:"role" validate:"required,oneof=viewer editor"`
		}
		if !s.decodeValid(w, r, &body) {
			return
		}
		updated, err := s.service.UpdateCollaboratorRole(r.Context(), actor, formID, collaboratorID, body.Role)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"collaborator": updated})
	case http.MethodDelete:
		if err := s.service.RemoveCollaborator(r.Context(), actor, formID, collaboratorID); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleComments(w http.ResponseWriter, r *http.Request, actor rbac.Identity, formID string, parts []string) {
	if len(parts) == 4 {
		switch r.Method {
		case http.MethodGet:
			// ?elementId=<id> narrows to one element; an empty value means
			// form-level comments only.
			query := r.URL.Query()
			_, filtered := query["elementId"]
			list, err := s.service.ListComments(r.Context(), actor, formID, form.OnElement(query.Get("elementId")), filtered)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"comments": list})
		case http.MethodPost:
			var body struct {
				ElementID string `json:"elementId" validate:"omitempty,max=64"`
				Content   string `json:"content" validate:"required,max=2000"`
			}
			if !s.decodeValid(w, r, &body) {
				return
			}
			created, err := s.service.AddComment(r.Context(), actor, formID, form.OnElement(body.ElementID), body.Content)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"comment": created})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(parts) == 5 && r.Method == http.MethodDelete {
		if err := s.service.DeleteComment(r.Context(), actor, formID, parts[4]); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// identify resolves the bearer token. A missing token is the anonymous actor;
// a bad one is rejected.
func (s *HTTPServer) identify(w http.ResponseWriter, r *http.Request) (rbac.Identity, bool) {
	token := bearerToken(r)
	actor, err := s.service.Identify(token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return rbac.Identity{}, false
		}
		s.fail(w, r, err)
		return rbac.Identity{}, false
	}
	return actor, true
}

func (s *HTTPServer) decodeValid(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	if err := s.validate.Struct(target); err != nil {
		s.fail(w, r, err)
		return false
	}
	return true
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	event := zerolog.Ctx(r.Context()).Debug()
	if status >= http.StatusInternalServerError {
		event = zerolog.Ctx(r.Context()).Error()
	}
	event.Err(err).Str("code", code).Msg("request failed")
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		reqLog := s.log.With().Str("request_id", requestID).Logger()
		r = r.WithContext(reqLog.WithContext(r.Context()))

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		httpRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(writer.status)).Inc()
		reqLog.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", time.Since(started).Milliseconds()).
			Msg("request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	token, _ := auth.BearerToken(r.Header.Get("Authorization"))
	return token
}

func queryBool(raw string) bool {
	ok, err := strconv.ParseBool(raw)
	return err == nil && ok
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
