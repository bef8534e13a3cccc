// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

package httpapi

import "net/http"

// httpRequest adapts *http.Request to auth.Request.
type httpRequest struct {
	r *http.Request
}

func (h httpRequest) Header(name string) string {
	return h.r.Header.Get(name)
}

func (h httpRequest) Cookie(name string) string {
	c, err := h.r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
