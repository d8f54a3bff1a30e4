package main

import (
	"net/http"

	gorillahandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"taskplanner/handlers"
	"taskplanner/utilities"
)

// newRouter registers the task routes behind request logging and CORS.
func newRouter(tasks *handlers.TaskHandler, backend string, allowedOrigins []string) http.Handler {
	r := mux.NewRouter()

	r.Use(handlers.LoggingMiddleware)

	r.HandleFunc("/health", handlers.NewHealthHandler(backend)).Methods("GET")

	// --- Task routes ---
	r.HandleFunc("/task/create", tasks.CreateTaskHandler).Methods("POST")
	r.HandleFunc("/task/list", tasks.ListTasksHandler).Methods("GET")
	r.HandleFunc("/task/info/{task_id}", tasks.GetTaskHandler).Methods("GET")
	r.HandleFunc("/task/update/{task_id}", tasks.UpdateTaskHandler).Methods("PUT")
	r.HandleFunc("/task/update/{task_id}", tasks.PatchTaskHandler).Methods("PATCH")
	r.HandleFunc("/task/complete/{task_id}", tasks.CompleteTaskHandler).Methods("PUT")
	r.HandleFunc("/task/delete/{task_id}", tasks.DeleteTaskHandler).Methods("DELETE")
	r.HandleFunc("/task/stream", tasks.StreamTasksHandler).Methods("GET")

	headers := gorillahandlers.AllowedHeaders([]string{"X-Requested-With", "Content-Type", "Authorization"})
	methods := gorillahandlers.AllowedMethods([]string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"})
	origins := gorillahandlers.AllowedOrigins(allowedOrigins)
	utilities.LogInfo("CORS allowed origins: %v", allowedOrigins)

	return gorillahandlers.CORS(headers, methods, origins)(r)
}
