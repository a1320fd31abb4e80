/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"encoding/json"
	"net/http"
)

// writeJSON encodes data directly onto the response writer, matching the
// teacher's writeJSONResponse helper in internal/web/pages_landing_editor.go.
func writeJSON(w http.ResponseWriter, data any) error {
	return json.NewEncoder(w).Encode(data)
}
