package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/offlinekit/docstore/internal/common"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the shared error taxonomy onto HTTP statuses. The reason of
// a not_found error is the document id, which the client relies on.
func writeError(w http.ResponseWriter, err error) {
	status, body := errorStatus(err)
	writeJSON(w, status, body)
}

func errorStatus(err error) (int, errorBody) {
	var nf *common.NotFoundError
	if errors.As(err, &nf) {
		return http.StatusNotFound, errorBody{Error: "not_found", Reason: nf.ID}
	}

	switch {
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound, errorBody{Error: "not_found", Reason: err.Error()}
	case errors.Is(err, common.ErrUnauthorized), errors.Is(err, common.ErrInvalidToken):
		return http.StatusUnauthorized, errorBody{Error: "unauthorized", Reason: "name or password is incorrect"}
	case errors.Is(err, common.ErrForbidden):
		return http.StatusForbidden, errorBody{Error: "forbidden", Reason: "insufficient privileges"}
	case errors.Is(err, common.ErrConflict):
		return http.StatusConflict, errorBody{Error: "conflict", Reason: err.Error()}
	}

	var ve common.ValidationErrors
	if errors.As(err, &ve) {
		return http.StatusBadRequest, errorBody{Error: "bad_request", Reason: ve.Error()}
	}

	return http.StatusInternalServerError, errorBody{Error: "internal", Reason: "internal server error"}
}
