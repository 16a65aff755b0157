package handlers

import "net/http"

// Health - проверка живости процесса
// GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Root - корневой ответ сервиса
// GET /
func Root(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{
		"message": "TradingView execution service",
		"status":  "running",
	})
}
