package api

import (
	"encoding/json"
	"errors"
	"net/http"

	types "github.com/eagraf/habitat-deployd/core/api"
	"github.com/eagraf/habitat-deployd/core/state/deploy"
	"github.com/rs/zerolog/log"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	respBody, err := json.Marshal(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(respBody); err != nil {
		log.Error().Err(err).Msg("error writing response")
	}
}

// httpStatus maps an error code of the deployment taxonomy to an HTTP status.
func httpStatus(code deploy.Code) int {
	switch code {
	case deploy.CodeStateConflict:
		return http.StatusConflict
	case deploy.CodePreflightFailed:
		return http.StatusPreconditionFailed
	case deploy.CodeInvalidRequest:
		return http.StatusBadRequest
	case deploy.CodeNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	code := deploy.CodeOf(err)
	message := err.Error()
	var derr *deploy.Error
	if errors.As(err, &derr) && derr.Message != "" {
		message = derr.Message
	}
	if code == "" {
		code = "InternalError"
	}

	writeJSON(w, httpStatus(code), &types.ErrorResponse{
		Success: false,
		Error:   string(code),
		Message: message,
	})
}

func invalidRequest(w http.ResponseWriter, message string, err error) {
	writeError(w, deploy.NewError(deploy.CodeInvalidRequest, message, err))
}
