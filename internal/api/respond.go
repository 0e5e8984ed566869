package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Envelope codes understood by existing frontends.
const (
	CodeSuccess = 10000
	CodeFailure = 10001
)

// Envelope wraps every /api/history response body.
type Envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func writeData(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(Envelope{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func httpError(w http.ResponseWriter, status int, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Envelope{
		Code:    CodeFailure,
		Message: fmt.Sprintf(format, args...),
	})
}
