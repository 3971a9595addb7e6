package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/fieldsoftheworld/ftw-inference-api/internal/api/middleware"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/api/shared"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/domain"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/example"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/platform/logger"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/service"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/store"
)

// InferenceHandler handles processing HTTP requests: the synchronous
// example endpoint and background task submissions.
type InferenceHandler struct {
	service service.InferenceService
	logger  *slog.Logger
}

// NewInferenceHandler creates an InferenceHandler.
func NewInferenceHandler(svc service.InferenceService, logger *slog.Logger) *InferenceHandler {
	if svc == nil {
		panic("inference service cannot be nil for InferenceHandler")
	}
	if logger == nil {
		panic("logger cannot be nil for InferenceHandler")
	}
	return &InferenceHandler{
		service: svc,
		logger:  logger.With(slog.String("component", "inference_handler")),
	}
}

// RunExample handles PUT /example requests. The whole pipeline runs
// within the request and the polygons come back inline, in the format
// the Accept header asks for.
func (h *InferenceHandler) RunExample(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	var req ExampleRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	result, err := h.service.RunExample(r.Context(), example.Request{
		Inference: req.Inference,
		Polygons:  req.Polygons,
		Format:    example.FormatFromAccept(r.Header.Get("Accept")),
	})
	if err != nil {
		HandleAPIError(w, r, err, "Example processing failed")
		return
	}

	w.Header().Set("Content-Type", result.Format.MediaType())
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(result.Data); err != nil {
		log.Error("failed to write example response", slog.String("error", err.Error()))
	}
}

// SubmitInference handles PUT /projects/{id}/inference requests.
func (h *InferenceHandler) SubmitInference(w http.ResponseWriter, r *http.Request) {
	projectID := pathProjectID(r)

	var params domain.InferenceParameters
	if err := shared.DecodeJSON(r, &params); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	task, err := h.service.SubmitInference(r.Context(), projectID, &params)
	if err != nil {
		h.respondSubmitError(w, r, projectID, err, "Failed to submit inference task")
		return
	}

	h.respondSubmitted(w, r, "Inference task submitted successfully", projectID, task)
}

// SubmitPolygonize handles PUT /projects/{id}/polygons requests. An empty
// body runs polygonization with default parameters.
func (h *InferenceHandler) SubmitPolygonize(w http.ResponseWriter, r *http.Request) {
	projectID := pathProjectID(r)

	params := &domain.PolygonizationParameters{}
	if err := shared.DecodeJSON(r, params); err != nil {
		if !errors.Is(err, io.EOF) {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
			return
		}
		params = nil
	}

	task, err := h.service.SubmitPolygonize(r.Context(), projectID, params)
	if err != nil {
		h.respondSubmitError(w, r, projectID, err, "Failed to submit polygonization task")
		return
	}

	h.respondSubmitted(w, r, "Polygonization task submitted successfully", projectID, task)
}

func (h *InferenceHandler) respondSubmitted(
	w http.ResponseWriter,
	r *http.Request,
	message string,
	projectID string,
	task *domain.Task,
) {
	subject, _ := middleware.Subject(r)
	logger.FromContextOrDefault(r.Context(), h.logger).Info("task submitted",
		slog.String("project_id", projectID),
		slog.String("task_id", task.ID.String()),
		slog.String("task_type", string(task.Type)),
		slog.String("subject", subject))

	shared.RespondWithJSON(w, r, http.StatusAccepted, TaskSubmissionResponse{
		Message:   message,
		TaskID:    task.ID.String(),
		ProjectID: projectID,
		Status:    "queued",
	})
}

func (h *InferenceHandler) respondSubmitError(
	w http.ResponseWriter,
	r *http.Request,
	projectID string,
	err error,
	defaultMessage string,
) {
	if errors.Is(err, store.ErrProjectNotFound) {
		shared.RespondWithError(w, r, http.StatusNotFound,
			fmt.Sprintf("Project with ID %s not found", projectID))
		return
	}
	HandleAPIError(w, r, err, defaultMessage)
}
