package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/fieldsoftheworld/ftw-inference-api/internal/api/middleware"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/api/shared"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/domain"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/platform/logger"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/service"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/store"
)

// ProjectHandler handles project lifecycle HTTP requests.
type ProjectHandler struct {
	projects service.ProjectService
	logger   *slog.Logger
}

// NewProjectHandler creates a ProjectHandler.
func NewProjectHandler(projects service.ProjectService, logger *slog.Logger) *ProjectHandler {
	if projects == nil {
		panic("project service cannot be nil for ProjectHandler")
	}
	if logger == nil {
		panic("logger cannot be nil for ProjectHandler")
	}
	return &ProjectHandler{
		projects: projects,
		logger:   logger.With(slog.String("component", "project_handler")),
	}
}

// CreateProject handles POST /projects requests.
func (h *ProjectHandler) CreateProject(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	var req CreateProjectRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	project, err := h.projects.CreateProject(r.Context(), req.Title)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to create project")
		return
	}

	subject, _ := middleware.Subject(r)
	log.Info("project created",
		slog.String("project_id", project.ID),
		slog.String("subject", subject))
	shared.RespondWithJSON(w, r, http.StatusCreated, h.projectToResponse(r.Context(), project))
}

// ListProjects handles GET /projects requests.
func (h *ProjectHandler) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.projects.ListProjects(r.Context())
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list projects")
		return
	}

	response := ProjectsResponse{Projects: make([]ProjectResponse, 0, len(projects))}
	for _, project := range projects {
		response.Projects = append(response.Projects, h.projectToResponse(r.Context(), project))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, response)
}

// GetProject handles GET /projects/{id} requests.
func (h *ProjectHandler) GetProject(w http.ResponseWriter, r *http.Request) {
	projectID := pathProjectID(r)

	project, err := h.projects.GetProject(r.Context(), projectID)
	if err != nil {
		h.respondProjectError(w, r, projectID, err, "Failed to retrieve project")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, h.projectToResponse(r.Context(), project))
}

// DeleteProject handles DELETE /projects/{id} requests.
func (h *ProjectHandler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)
	projectID := pathProjectID(r)

	if err := h.projects.DeleteProject(r.Context(), projectID); err != nil {
		h.respondProjectError(w, r, projectID, err, "Failed to delete project")
		return
	}

	subject, _ := middleware.Subject(r)
	log.Info("project deleted",
		slog.String("project_id", projectID),
		slog.String("subject", subject))
	w.WriteHeader(http.StatusNoContent)
}

// UploadImage handles PUT /projects/{id}/images/{window} requests.
func (h *ProjectHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)
	projectID := pathProjectID(r)
	window := chi.URLParam(r, "window")

	file, filename, err := openUpload(r)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	defer func() {
		if err := file.Close(); err != nil {
			log.Warn("failed to close upload body", slog.String("error", err.Error()))
		}
	}()

	image, err := h.projects.UploadImage(r.Context(), projectID, window, filename, file)
	if err != nil {
		h.respondProjectError(w, r, projectID, err, "Failed to upload image")
		return
	}

	log.Info("image uploaded",
		slog.String("project_id", projectID),
		slog.String("window", window),
		slog.String("key", image.Key))
	w.WriteHeader(http.StatusCreated)
}

// Status handles GET /projects/{id}/status requests.
func (h *ProjectHandler) Status(w http.ResponseWriter, r *http.Request) {
	projectID := pathProjectID(r)

	details, err := h.projects.Status(r.Context(), projectID)
	if err != nil {
		h.respondProjectError(w, r, projectID, err, "Failed to retrieve project status")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, ProjectStatusResponse{
		ProjectID:      details.Project.ID,
		Status:         string(details.Project.Status),
		Progress:       details.Project.Progress,
		Parameters:     details.Project.Parameters,
		Task:           taskToInfo(details.Inference),
		PolygonizeTask: taskToInfo(details.Polygonize),
	})
}

// TaskDetails handles GET /projects/{id}/tasks/{task_id} requests.
func (h *ProjectHandler) TaskDetails(w http.ResponseWriter, r *http.Request) {
	projectID := pathProjectID(r)

	taskID, err := pathTaskID(r)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusNotFound,
			fmt.Sprintf("Task with ID %s not found", chi.URLParam(r, "task_id")))
		return
	}

	task, err := h.projects.TaskDetails(r.Context(), projectID, taskID)
	if errors.Is(err, store.ErrNotFound) {
		shared.RespondWithError(w, r, http.StatusNotFound,
			fmt.Sprintf("Task with ID %s not found", taskID))
		return
	}
	if err != nil {
		HandleAPIError(w, r, err, "Failed to retrieve task")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, taskToDetails(task))
}

// InferenceResults handles GET /projects/{id}/inference requests. The
// Accept header selects the representation: application/geo+json streams
// the stored polygons, image/tiff streams the raster, anything else gets
// download URLs for both artifacts.
func (h *ProjectHandler) InferenceResults(w http.ResponseWriter, r *http.Request) {
	projectID := pathProjectID(r)
	accept := r.Header.Get("Accept")

	switch {
	case strings.Contains(accept, "application/geo+json"):
		h.serveGeoJSON(w, r, projectID)
	case strings.Contains(accept, "image/tiff"):
		h.serveRaster(w, r, projectID)
	default:
		h.serveResultURLs(w, r, projectID)
	}
}

func (h *ProjectHandler) serveGeoJSON(w http.ResponseWriter, r *http.Request, projectID string) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	data, err := h.projects.InferenceGeoJSON(r.Context(), projectID)
	if err != nil {
		h.respondProjectError(w, r, projectID, err, "Failed to retrieve inference results")
		return
	}

	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		log.Error("failed to write geojson response",
			slog.String("project_id", projectID),
			slog.String("error", err.Error()))
	}
}

func (h *ProjectHandler) serveRaster(w http.ResponseWriter, r *http.Request, projectID string) {
	path, cleanup, err := h.projects.InferenceRaster(r.Context(), projectID)
	if err != nil {
		h.respondProjectError(w, r, projectID, err, "Failed to retrieve inference results")
		return
	}
	defer cleanup()

	w.Header().Set("Content-Type", "image/tiff")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("inference_%s.tif", projectID)))
	http.ServeFile(w, r, path)
}

func (h *ProjectHandler) serveResultURLs(w http.ResponseWriter, r *http.Request, projectID string) {
	// Enforces the completed status and the presence of artifacts.
	if _, err := h.projects.InferenceResults(r.Context(), projectID); err != nil {
		h.respondProjectError(w, r, projectID, err, "Failed to retrieve inference results")
		return
	}

	project, err := h.projects.GetProject(r.Context(), projectID)
	if err != nil {
		h.respondProjectError(w, r, projectID, err, "Failed to retrieve inference results")
		return
	}

	urls := h.projects.ResultURLs(r.Context(), project)
	shared.RespondWithJSON(w, r, http.StatusOK, ProjectResultLinks{
		Inference: urls.Inference,
		Polygons:  urls.Polygons,
	})
}

// respondProjectError writes the response for errors from project-scoped
// operations, naming the project in not-found messages.
func (h *ProjectHandler) respondProjectError(
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

func (h *ProjectHandler) projectToResponse(ctx context.Context, p *domain.Project) ProjectResponse {
	urls := h.projects.ResultURLs(ctx, p)
	return ProjectResponse{
		ID:         p.ID,
		Title:      p.Title,
		Status:     string(p.Status),
		Progress:   p.Progress,
		CreatedAt:  formatTime(p.CreatedAt),
		Parameters: p.Parameters,
		Results: ProjectResultLinks{
			Inference: urls.Inference,
			Polygons:  urls.Polygons,
		},
	}
}
