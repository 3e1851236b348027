package server

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/raaihank/pdf-redactor/internal/audit"
	"github.com/raaihank/pdf-redactor/internal/cache"
	"github.com/raaihank/pdf-redactor/internal/patterns"
	"github.com/raaihank/pdf-redactor/internal/redactor"
	"github.com/raaihank/pdf-redactor/internal/version"
	"github.com/raaihank/pdf-redactor/internal/websocket"
)

const (
	reasonInvalidRequest = "invalid_request"
	reasonRateLimited    = "rate_limited"
	reasonNotConfigured  = "not_configured"

	// multipart parts beyond this size spill to disk
	multipartMemory = 8 << 20
)

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

type validateRequest struct {
	Expressions []string `json:"expressions"`
}

type validateResponse struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

type patternResponse struct {
	Kind        patterns.Kind `json:"kind"`
	Name        string        `json:"name"`
	Expression  string        `json:"expression"`
	Description string        `json:"description"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	cfg := s.currentConfig()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":                "pdf-redactor",
		"version":             version.Version,
		"uptime":              time.Since(s.started).Round(time.Second).String(),
		"predefined_patterns": patterns.KindNames(),
		"default_replacement": cfg.Redaction.Replacement,
		"rate_limit_enabled":  cfg.RateLimit.Enabled,
		"cache_enabled":       s.deps.Cache != nil,
		"audit_enabled":       s.deps.Audit != nil,
		"websocket":           s.wsHub.GetStats(),
	})
}

// handlePatterns lists the predefined pattern catalog
func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	kinds := patterns.Kinds()
	out := make([]patternResponse, 0, len(kinds))
	for _, kind := range kinds {
		tmpl, err := patterns.Lookup(kind)
		if err != nil {
			continue
		}
		out = append(out, patternResponse{
			Kind:        kind,
			Name:        tmpl.Name,
			Expression:  tmpl.Expression,
			Description: tmpl.Description,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleValidate compiles the submitted expressions and reports every failure
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), reasonInvalidRequest)
		return
	}

	problems := patterns.NewMatcher(nil).Validate(req.Expressions)
	if problems == nil {
		problems = []string{}
	}
	writeJSON(w, http.StatusOK, validateResponse{Valid: len(problems) == 0, Errors: problems})
}

// redactRequest is the parsed form of a /v1/redact call
type redactRequest struct {
	filename string
	upload   []byte
	kinds    []patterns.Kind
	opts     cache.KeyOptions
}

// handleRedact redacts an uploaded PDF and returns the result
func (s *Server) handleRedact(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := getRequestID(r.Context())
	log := s.logger.WithRequestID(requestID)

	req, err := s.parseRedactRequest(w, r)
	if err != nil {
		log.Warn("Rejected redaction request", zap.Error(err))
		status, reason := statusFor(err)
		if reason == redactor.ReasonInternal {
			status, reason = http.StatusBadRequest, reasonInvalidRequest
		}
		writeError(w, status, err.Error(), reason)
		return
	}

	digest := sha256.Sum256(req.upload)
	sourceDigest := hex.EncodeToString(digest[:])

	var cacheKey string
	if s.deps.Cache != nil {
		cacheKey = s.deps.Cache.Key(req.upload, req.opts)
		entry, err := s.deps.Cache.Get(r.Context(), cacheKey)
		if err != nil {
			log.Warn("Cache lookup failed", zap.Error(err))
		}
		if entry != nil {
			s.finishRun(r, req, sourceDigest, entry.Statistics, nil, true, start)
			writePDF(w, req.filename, entry.Output, entry.Statistics, true)
			return
		}
	}

	output, stats, err := s.runRedaction(requestID, req)
	if err != nil {
		s.finishRun(r, req, sourceDigest, redactor.Statistics{}, err, false, start)
		status, reason := statusFor(err)
		writeError(w, status, err.Error(), reason)
		return
	}

	if s.deps.Cache != nil {
		if err := s.deps.Cache.Store(r.Context(), cacheKey, &cache.Entry{Output: output, Statistics: stats}); err != nil {
			log.Warn("Failed to cache result", zap.Error(err))
		}
	}

	s.finishRun(r, req, sourceDigest, stats, nil, false, start)
	writePDF(w, req.filename, output, stats, false)
}

func (s *Server) parseRedactRequest(w http.ResponseWriter, r *http.Request) (*redactRequest, error) {
	cfg := s.currentConfig()
	r.Body = http.MaxBytesReader(w, r.Body, cfg.Server.MaxUploadSize)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return nil, fmt.Errorf("invalid multipart form: %w", err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("missing file part: %w", err)
	}
	defer file.Close()

	upload, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}

	form := r.MultipartForm.Value
	req := &redactRequest{
		filename: filepath.Base(header.Filename),
		upload:   upload,
		opts: cache.KeyOptions{
			Searches:           form["searches"],
			PredefinedPatterns: form["predefined_patterns"],
			Replacement:        cfg.Redaction.Replacement,
			ValidatePatterns:   cfg.Redaction.ValidatePatterns,
		},
	}
	if v, ok := form["replacement"]; ok && len(v) > 0 {
		req.opts.Replacement = v[0]
	}
	if req.opts.IgnoreCase, err = formBool(form, "ignore_case", false); err != nil {
		return nil, err
	}
	if req.opts.ValidatePatterns, err = formBool(form, "validate_patterns", req.opts.ValidatePatterns); err != nil {
		return nil, err
	}

	req.kinds, err = patterns.ParseKinds(req.opts.PredefinedPatterns)
	if err != nil {
		return nil, err
	}
	return req, nil
}

// runRedaction runs one redaction in a private scratch directory and returns the output bytes
func (s *Server) runRedaction(requestID string, req *redactRequest) ([]byte, redactor.Statistics, error) {
	cfg := s.currentConfig()
	log := s.logger.WithRequestID(requestID)

	dir, err := os.MkdirTemp(cfg.Server.WorkDir, "redact-*")
	if err != nil {
		return nil, redactor.Statistics{}, fmt.Errorf("failed to create work directory: %w", err)
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, "input.pdf")
	dst := filepath.Join(dir, "output.pdf")
	if err := os.WriteFile(src, req.upload, 0o600); err != nil {
		return nil, redactor.Statistics{}, fmt.Errorf("failed to stage upload: %w", err)
	}

	rd, err := redactor.New(src, dst, false, s.deps.Engine, s.deps.Compressor, log.Logger)
	if err != nil {
		return nil, redactor.Statistics{}, err
	}

	stats, err := rd.Run(redactor.RunOptions{
		Needles:          req.opts.Searches,
		Replacement:      req.opts.Replacement,
		IgnoreCase:       req.opts.IgnoreCase,
		Kinds:            req.kinds,
		ValidatePatterns: req.opts.ValidatePatterns,
		Progress: func(p redactor.PageProgress) {
			s.wsHub.BroadcastEvent(websocket.Event{
				Type:      websocket.EventTypePageProcessed,
				RequestID: requestID,
				Data:      websocket.PageProcessedEvent{Filename: req.filename, PageProgress: p},
			})
		},
	})
	if err != nil {
		return nil, redactor.Statistics{}, err
	}

	output, err := os.ReadFile(dst)
	if err != nil {
		return nil, redactor.Statistics{}, fmt.Errorf("failed to read redacted output: %w", err)
	}
	return output, stats, nil
}

// finishRun broadcasts the outcome of a run and records it in the audit log
func (s *Server) finishRun(r *http.Request, req *redactRequest, digest string, stats redactor.Statistics, runErr error, cacheHit bool, start time.Time) {
	requestID := getRequestID(r.Context())
	duration := time.Since(start)

	if runErr != nil {
		s.wsHub.BroadcastEvent(websocket.Event{
			Type:      websocket.EventTypeRunFailed,
			RequestID: requestID,
			Data: websocket.RunFailedEvent{
				Filename: req.filename,
				Reason:   redactor.Reason(runErr),
				Error:    runErr.Error(),
			},
		})
	} else {
		s.wsHub.BroadcastEvent(websocket.Event{
			Type:      websocket.EventTypeRunCompleted,
			RequestID: requestID,
			Data: websocket.RunCompletedEvent{
				Filename:   req.filename,
				Statistics: stats,
				CacheHit:   cacheHit,
				DurationMS: float64(duration.Microseconds()) / 1000,
			},
		})
	}

	if s.deps.Audit == nil {
		return
	}
	used := append(append([]string{}, req.opts.PredefinedPatterns...), req.opts.Searches...)
	run := audit.NewRun(requestID, req.filename, digest, used, stats, runErr, duration)
	run.CacheHit = cacheHit
	if err := s.deps.Audit.Record(r.Context(), run); err != nil {
		s.logger.WithRequestID(requestID).Warn("Failed to record audit entry", zap.Error(err))
	}
}

// handleStats reports cache and audit statistics when those backends are configured
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	out := map[string]interface{}{
		"websocket": s.wsHub.GetStats(),
	}

	if admin, ok := s.deps.Cache.(CacheAdmin); ok {
		stats, err := admin.GetStats(r.Context())
		if err != nil {
			s.logger.Warn("Failed to read cache stats", zap.Error(err))
		} else {
			out["cache"] = stats
		}
	}
	if reader, ok := s.deps.Audit.(AuditReader); ok {
		stats, err := reader.GetStats(r.Context())
		if err != nil {
			s.logger.Warn("Failed to read audit stats", zap.Error(err))
		} else {
			out["audit"] = stats
		}
	}

	writeJSON(w, http.StatusOK, out)
}

// handleRuns lists the most recent audited runs
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	reader, ok := s.deps.Audit.(AuditReader)
	if !ok {
		writeError(w, http.StatusNotFound, "audit log is not enabled", reasonNotConfigured)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", v), reasonInvalidRequest)
			return
		}
		limit = n
	}

	runs, err := reader.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs", redactor.ReasonInternal)
		return
	}
	if runs == nil {
		runs = []*audit.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// handleClearCache drops every cached result
func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	admin, ok := s.deps.Cache.(CacheAdmin)
	if !ok {
		writeError(w, http.StatusNotFound, "result cache is not enabled", reasonNotConfigured)
		return
	}
	if err := admin.Clear(r.Context()); err != nil {
		s.logger.Error("Failed to clear cache", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to clear cache", redactor.ReasonInternal)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// statusFor maps a run error to an HTTP status and reason code
func statusFor(err error) (int, string) {
	reason := redactor.Reason(err)
	switch reason {
	case redactor.ReasonInvalidExpression, redactor.ReasonUnknownPatternKind, redactor.ReasonNoPatternsSpecified:
		return http.StatusBadRequest, reason
	case redactor.ReasonEngineFailure:
		return http.StatusUnprocessableEntity, reason
	default:
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return http.StatusRequestEntityTooLarge, reasonInvalidRequest
		}
		return http.StatusInternalServerError, reason
	}
}

func formBool(form map[string][]string, key string, def bool) (bool, error) {
	v, ok := form[key]
	if !ok || len(v) == 0 || v[0] == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v[0])
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q", key, v[0])
	}
	return b, nil
}

func writePDF(w http.ResponseWriter, filename string, output []byte, stats redactor.Statistics, cacheHit bool) {
	statsJSON, _ := json.Marshal(stats)
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "redacted-"+filename))
	w.Header().Set("X-Redaction-Stats", string(statsJSON))
	if cacheHit {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	w.WriteHeader(http.StatusOK)
	io.Copy(w, bytes.NewReader(output))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg, reason string) {
	writeJSON(w, status, errorResponse{Error: msg, Reason: reason})
}
