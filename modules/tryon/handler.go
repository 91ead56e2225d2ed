package tryon

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"quel-tryon-server/modules/common/utils"
	"quel-tryon-server/modules/tryon/pipeline"
)

// maxBodyBytes bounds a JSON request carrying two base64 images.
const maxBodyBytes = 40 << 20

type Handler struct {
	service *Service
	log     *zap.Logger
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service, log: service.log}
}

// RegisterRoutes - 라우트 등록
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/tryon", h.Generate).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/tryon/jobs", h.SubmitJob).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/tryon/jobs/{jobId}", h.GetJob).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/tryon/jobs/{jobId}/cancel", h.CancelJob).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/tryon/presets", h.ListPresets).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/tryon/presets/match", h.MatchPreset).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/tryon/presets/{id}", h.GetPreset).Methods("GET", "OPTIONS")
	h.log.Info("✅ [TryOn] Routes registered: /api/tryon, /api/tryon/jobs, /api/tryon/presets")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) (int, *ErrorBody) {
	status, body := Classify(err)
	var cd *CooldownError
	if errors.As(err, &cd) {
		w.Header().Set("Retry-After", retryAfterHeader(cd.Decision.RetryAfter))
	}
	if status >= http.StatusInternalServerError {
		h.log.Error("❌ [TryOn] Request failed", zap.Int("status", status), zap.String("code", body.Code), zap.Error(err))
	}
	return status, body
}

func preflight(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return true
	}
	return false
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return invalid("malformed JSON body: %v", err)
	}
	return nil
}

// Generate - POST /api/tryon
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	if preflight(w, r) {
		return
	}
	var req GenerateRequest
	if err := decodeBody(w, r, &req); err != nil {
		status, body := h.writeError(w, err)
		writeJSON(w, status, GenerateResponse{Error: body})
		return
	}

	res, err := h.service.Generate(r.Context(), req)
	if err != nil {
		status, body := h.writeError(w, err)
		resp := GenerateResponse{Error: body}
		if res != nil {
			resp.RequestID = res.RequestID
			resp.Stages = res.Stages
			resp.Warnings = res.Warnings
		}
		writeJSON(w, status, resp)
		return
	}
	writeJSON(w, http.StatusOK, successResponse(res))
}

func successResponse(res *pipeline.Result) GenerateResponse {
	v := res.Verification
	return GenerateResponse{
		Success:         true,
		RequestID:       res.RequestID,
		Image:           utils.ConvertImageToBase64(res.Image),
		MIMEType:        http.DetectContentType(res.Image),
		PresetUsed:      res.PresetUsed,
		SelectionMethod: res.SelectionMethod,
		PromptMode:      res.PromptMode,
		Verification:    &v,
		Reintegration:   res.Reintegration,
		Stages:          res.Stages,
		Warnings:        res.Warnings,
	}
}

// SubmitJob - POST /api/tryon/jobs
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	if preflight(w, r) {
		return
	}
	var req GenerateRequest
	if err := decodeBody(w, r, &req); err != nil {
		status, body := h.writeError(w, err)
		writeJSON(w, status, JobResponse{Error: body})
		return
	}

	jobID, pos, err := h.service.SubmitJob(r.Context(), req)
	if err != nil {
		status, body := h.writeError(w, err)
		writeJSON(w, status, JobResponse{Error: body})
		return
	}
	writeJSON(w, http.StatusAccepted, JobResponse{Success: true, JobID: jobID, Status: "pending", QueuePosition: pos})
}

// GetJob - GET /api/tryon/jobs/{jobId}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	if preflight(w, r) {
		return
	}
	job, err := h.service.GetJob(r.Context(), mux.Vars(r)["jobId"])
	if err != nil {
		status, body := h.writeError(w, err)
		writeJSON(w, status, map[string]interface{}{"success": false, "error": body})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// CancelJob - POST /api/tryon/jobs/{jobId}/cancel
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	if preflight(w, r) {
		return
	}
	jobID := mux.Vars(r)["jobId"]
	job, cancelled, err := h.service.CancelJob(r.Context(), jobID)
	if err != nil {
		status, body := h.writeError(w, err)
		writeJSON(w, status, map[string]interface{}{"success": false, "error": body})
		return
	}
	if !cancelled {
		writeJSON(w, http.StatusConflict, CancelResponse{
			JobID: jobID, Status: job.JobStatus, Message: "Job already " + job.JobStatus,
		})
		return
	}
	writeJSON(w, http.StatusOK, CancelResponse{
		Success: true, JobID: jobID, Status: job.JobStatus,
		Message: "Cancel request sent. The job stops before its next step.",
	})
}

// ListPresets - GET /api/tryon/presets[?category=]
func (h *Handler) ListPresets(w http.ResponseWriter, r *http.Request) {
	if preflight(w, r) {
		return
	}
	catalog := h.service.Presets()
	list := catalog.List()
	if category := r.URL.Query().Get("category"); category != "" {
		list = catalog.ByCategory(category)
	}
	writeJSON(w, http.StatusOK, PresetListResponse{
		Version:    catalog.Version(),
		Categories: catalog.Categories(),
		Fallback:   catalog.Fallback().ID,
		Presets:    list,
	})
}

// GetPreset - GET /api/tryon/presets/{id}
func (h *Handler) GetPreset(w http.ResponseWriter, r *http.Request) {
	if preflight(w, r) {
		return
	}
	p, err := h.service.Presets().Get(mux.Vars(r)["id"])
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"success": false,
			"error":   &ErrorBody{Code: "PRESET_NOT_FOUND", Message: "Preset not found", Detail: err.Error()},
		})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// MatchPreset - POST /api/tryon/presets/match
func (h *Handler) MatchPreset(w http.ResponseWriter, r *http.Request) {
	if preflight(w, r) {
		return
	}
	var req MatchRequest
	if err := decodeBody(w, r, &req); err != nil {
		status, body := h.writeError(w, err)
		writeJSON(w, status, map[string]interface{}{"success": false, "error": body})
		return
	}
	sel, err := h.service.MatchPreset(r.Context(), req.SceneHint)
	if err != nil {
		status, body := h.writeError(w, err)
		writeJSON(w, status, map[string]interface{}{"success": false, "error": body})
		return
	}
	writeJSON(w, http.StatusOK, MatchResponse{
		PresetID:        sel.PresetID(),
		SelectionMethod: sel.Method,
		Confidence:      sel.Confidence,
		Preset:          sel.Preset,
		Warnings:        sel.Warnings,
	})
}
