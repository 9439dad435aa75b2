// Streamrelay - Live Broadcast Event Relay and Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamrelay

package middleware

import (
	"crypto/subtle"
	"net/http"
)

// secretHeader carries the shared relay credential.
const secretHeader = "X-Relay-Secret"

// SharedSecret rejects requests that do not present the configured secret
// in the X-Relay-Secret header or, for stream clients that cannot set
// headers, a "secret" query parameter. Comparison is constant time.
func SharedSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.Header.Get(secretHeader)
			if presented == "" {
				presented = r.URL.Query().Get("secret")
			}
			if subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
