// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/authd/authd/pkg/errutil"
)

// MessageResponse is the body of plain status replies and errors.
type MessageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, MessageResponse{Message: msg})
}

// writeInternalError logs err with its code and replies 500 without
// leaking any detail to the client.
func (a *API) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	errutil.LogErrorContext(r.Context(), loggerFrom(r.Context(), a.logger), msg, err)
	writeError(w, http.StatusInternalServerError, "internal error")
}
