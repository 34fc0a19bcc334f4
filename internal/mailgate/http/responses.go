package http

import (
	"net/http"

	"github.com/relaypost/mailgate/pkg/httpx"
)

func writeInvalidJSON(w http.ResponseWriter) {
	httpx.WriteJSON(w, http.StatusBadRequest, httpx.ErrorResponse{
		Error:            "invalid_request",
		ErrorDescription: "Invalid JSON in request body",
	})
}

func writeInvalidRequest(w http.ResponseWriter, err error) {
	httpx.WriteJSON(w, http.StatusBadRequest, httpx.ErrorResponse{
		Error:            "invalid_request",
		ErrorDescription: err.Error(),
	})
}

func writeNotFound(w http.ResponseWriter, description string) {
	httpx.WriteJSON(w, http.StatusNotFound, httpx.ErrorResponse{
		Error:            "not_found",
		ErrorDescription: description,
	})
}

func writeServerError(w http.ResponseWriter, description string) {
	httpx.WriteJSON(w, http.StatusInternalServerError, httpx.ErrorResponse{
		Error:            "server_error",
		ErrorDescription: description,
	})
}
