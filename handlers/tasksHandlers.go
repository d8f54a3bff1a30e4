package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"taskplanner/models"
	"taskplanner/services"
	"taskplanner/store"
	"taskplanner/utilities"
)

// TaskHandler serves the task routes on top of a TaskService.
type TaskHandler struct {
	service  *services.TaskService
	upgrader websocket.Upgrader
}

// NewTaskHandler builds the handler. allowedOrigins also governs which
// origins may open the snapshot stream; "*" allows any.
func NewTaskHandler(service *services.TaskService, allowedOrigins []string) *TaskHandler {
	return &TaskHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

type createTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Deadline    string `json:"deadline"`
}

type updateTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Deadline    string `json:"deadline"`
	Completed   bool   `json:"completed"`
}

type patchTaskRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Deadline    *string `json:"deadline"`
	Completed   *bool   `json:"completed"`
}

type completeTaskRequest struct {
	Completed *bool `json:"completed"`
}

// TaskListResponse wraps a display-ordered task list.
type TaskListResponse struct {
	Tasks []models.Task `json:"tasks"`
}

// CreateTaskHandler creates a new, incomplete task.
func (h *TaskHandler) CreateTaskHandler(w http.ResponseWriter, r *http.Request) {
	utilities.LogDebug("Creating task")

	var req createTaskRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondWithError(w, err)
		return
	}

	task, err := h.service.CreateTask(r.Context(), services.CreateTaskParams{
		Title:       req.Title,
		Description: req.Description,
		Deadline:    req.Deadline,
	})
	if err != nil {
		respondWithError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, task)
}

// ListTasksHandler returns every task, incomplete first and then by deadline.
func (h *TaskHandler) ListTasksHandler(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.service.ListTasks(r.Context())
	if err != nil {
		respondWithError(w, err)
		return
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	writeJSON(w, http.StatusOK, TaskListResponse{Tasks: tasks})
}

func (h *TaskHandler) GetTaskHandler(w http.ResponseWriter, r *http.Request) {
	task, err := h.service.GetTask(r.Context(), mux.Vars(r)["task_id"])
	if err != nil {
		respondWithError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// UpdateTaskHandler overwrites every editable field of a task.
func (h *TaskHandler) UpdateTaskHandler(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["task_id"]
	utilities.LogDebug("Updating task %s", taskID)

	var req updateTaskRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondWithError(w, err)
		return
	}

	err := h.service.UpdateTask(r.Context(), services.UpdateTaskParams{
		ID:          taskID,
		Title:       req.Title,
		Description: req.Description,
		Deadline:    req.Deadline,
		Completed:   req.Completed,
	})
	if err != nil {
		respondWithError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// PatchTaskHandler writes only the fields present in the body.
func (h *TaskHandler) PatchTaskHandler(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["task_id"]
	utilities.LogDebug("Patching task %s", taskID)

	var req patchTaskRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondWithError(w, err)
		return
	}

	task, err := h.service.PatchTask(r.Context(), taskID, services.PatchTaskParams{
		Title:       req.Title,
		Description: req.Description,
		Deadline:    req.Deadline,
		Completed:   req.Completed,
	})
	if err != nil {
		respondWithError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, task)
}

// CompleteTaskHandler sets the completion flag of a task.
func (h *TaskHandler) CompleteTaskHandler(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["task_id"]

	var req completeTaskRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondWithError(w, err)
		return
	}
	if req.Completed == nil {
		respondWithError(w, store.NewValidationError("completed", "is required"))
		return
	}

	task, err := h.service.SetCompleted(r.Context(), taskID, *req.Completed)
	if err != nil {
		respondWithError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, task)
}

func (h *TaskHandler) DeleteTaskHandler(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["task_id"]
	utilities.LogDebug("Deleting task %s", taskID)

	if err := h.service.DeleteTask(r.Context(), taskID); err != nil {
		respondWithError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
