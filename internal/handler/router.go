package handler

import (
	"net/http"

	"collabdraw-server/pkg/response"

	"github.com/gorilla/mux"
)

type Handlers struct {
	Board      *BoardHandler
	Background *BackgroundHandler
	WebSocket  *WebSocketHandler
}

// NewRouter wires every route. Middlewares apply to all of them.
func NewRouter(h Handlers, middlewares ...mux.MiddlewareFunc) *mux.Router {
	r := mux.NewRouter()
	for _, mw := range middlewares {
		r.Use(mw)
	}

	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/boards", h.Board.Create).Methods("POST", "OPTIONS")
	api.HandleFunc("/boards/{id}", h.Board.Get).Methods("GET", "OPTIONS")
	api.HandleFunc("/boards/{id}", h.Board.Save).Methods("PUT", "OPTIONS")
	api.HandleFunc("/boards/{id}/actions", h.Board.AppendAction).Methods("POST", "OPTIONS")
	api.HandleFunc("/boards/{id}/actions", h.Board.ListActions).Methods("GET", "OPTIONS")
	api.HandleFunc("/boards/{id}/export.png", h.Board.ExportPNG).Methods("GET", "OPTIONS")
	api.HandleFunc("/boards/{id}/export.pdf", h.Board.ExportPDF).Methods("GET", "OPTIONS")
	api.HandleFunc("/boards/{id}/participants", h.Board.Participants).Methods("GET", "OPTIONS")

	api.HandleFunc("/backgrounds/generate", h.Background.Generate).Methods("POST", "OPTIONS")

	r.HandleFunc("/ws", h.WebSocket.HandleConnection)

	r.HandleFunc("/health", healthHandler).Methods("GET")
	r.HandleFunc("/", rootHandler).Methods("GET")

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	response.Message(w, http.StatusOK, "healthy")
}

func rootHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"message":"Collab Draw Server API","version":"1.0.0","endpoints":{"/api/v1/boards":"POST","/api/v1/boards/{id}":"GET, PUT","/api/v1/boards/{id}/actions":"GET, POST","/ws":"GET (websocket)"}}`))
}
