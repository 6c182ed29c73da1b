package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/project-ultron/sentinel/internal/category"
	"github.com/project-ultron/sentinel/internal/task"
	"github.com/project-ultron/sentinel/internal/worker"
)

const (
	defaultResultLimit = 20
	maxResultLimit     = 200
)

type reportRequest struct {
	// Either a subscription to resolve the region from, or an ad hoc
	// GeoJSON geometry.
	SubscriptionID int64           `json:"subscription_id,omitempty"`
	RegionGeoJSON  json.RawMessage `json:"region_geojson,omitempty"`
	RegionID       string          `json:"region_id,omitempty"`

	Category string `json:"category"`

	// Optional per-call parameter overrides.
	Threshold        *float64 `json:"threshold,omitempty"`
	ThresholdPercent *float64 `json:"threshold_percent,omitempty"`
	BufferMeters     *int     `json:"buffer_meters,omitempty"`
	DaysBack         *int     `json:"days_back,omitempty"`
}

// reportResult always carries the image URL fields, null when the worker
// produced none.
type reportResult struct {
	*worker.Response
	StartImageURL *string `json:"start_image_url"`
	EndImageURL   *string `json:"end_image_url"`
}

type reportResponse struct {
	Success bool          `json:"success"`
	Result  *reportResult `json:"result,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// handleReport runs one analysis synchronously and returns the worker's
// findings without persisting anything.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Category == "" {
		writeError(w, http.StatusBadRequest, "category is required")
		return
	}
	if req.SubscriptionID == 0 && len(req.RegionGeoJSON) == 0 {
		writeError(w, http.StatusBadRequest, "either subscription_id or region_geojson is required")
		return
	}

	key, ok := category.Resolve(req.Category)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown category %q", req.Category))
		return
	}
	entry, ok := task.Lookup(key)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("category %s is not dispatchable", key))
		return
	}

	geometry := req.RegionGeoJSON
	regionID := req.RegionID
	if req.SubscriptionID != 0 {
		sub, err := s.store.Subscription(r.Context(), req.SubscriptionID)
		if err != nil {
			s.logger.Error("subscription lookup failed", "error", err)
			writeError(w, http.StatusInternalServerError, "subscription lookup failed")
			return
		}
		if sub == nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("subscription %d not found", req.SubscriptionID))
			return
		}
		geometry = sub.RegionGeometry
		regionID = fmt.Sprintf("report-%d-%s", sub.ID, key)
	}
	if regionID == "" {
		regionID = fmt.Sprintf("report-adhoc-%s", key)
	}

	params := entry.Defaults.Merge(task.Params{
		Threshold:        req.Threshold,
		ThresholdPercent: req.ThresholdPercent,
		BufferMeters:     req.BufferMeters,
		DaysBack:         req.DaysBack,
	})

	resp, stderr, err := s.runner.Run(r.Context(), entry.Script, &worker.Request{
		Geometry:         geometry,
		RegionID:         regionID,
		Threshold:        params.Threshold,
		ThresholdPercent: params.ThresholdPercent,
		BufferMeters:     params.BufferMeters,
		DaysBack:         params.DaysBack,
	})
	if err != nil {
		s.logger.Error("report invocation failed", "error", err, "stderr", stderr)
		writeJSON(w, http.StatusBadGateway, reportResponse{Success: false, Error: err.Error()})
		return
	}

	result := &reportResult{
		Response:      resp,
		StartImageURL: resp.StartImageURL,
		EndImageURL:   resp.EndImageURL,
	}
	writeJSON(w, http.StatusOK, reportResponse{
		Success: resp.Success(),
		Result:  result,
		Error:   errorMessage(resp),
	})
}

func errorMessage(resp *worker.Response) string {
	if resp.Success() {
		return ""
	}
	return resp.Message
}

func (s *Server) handleLatestResults(w http.ResponseWriter, r *http.Request) {
	results, err := s.store.LatestResults(r.Context(), limitParam(r))
	if err != nil {
		s.logger.Error("latest results query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleSubscriptionResults(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription id")
		return
	}

	sub, err := s.store.Subscription(r.Context(), id)
	if err != nil {
		s.logger.Error("subscription lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if sub == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("subscription %d not found", id))
		return
	}

	results, err := s.store.ResultsBySubscription(r.Context(), id, limitParam(r))
	if err != nil {
		s.logger.Error("subscription results query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"subscription_id": id,
		"results":         results,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"service":     s.config.ServiceName,
		"fingerprint": s.config.Fingerprint,
		"uptime_s":    int64(time.Since(s.startedAt).Seconds()),
		"categories":  category.All(),
	}
	if s.status != nil {
		if summary, at := s.status.LastBatch(); summary != nil {
			status["last_batch"] = summary
			status["last_batch_at"] = at
		}
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func limitParam(r *http.Request) int {
	limit := defaultResultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxResultLimit {
		limit = maxResultLimit
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
