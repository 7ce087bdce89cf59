// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements shared-secret authentication for operator endpoints
// (the cron publish entry point, source enqueue, and admin operations).
// These endpoints are invoked by schedulers and scripts, not browsers, so a
// static secret compared in constant time is the right amount of machinery.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// HeaderCronSecret is the canonical header carrying the operator secret.
const HeaderCronSecret = "X-Cron-Secret"

// SecretAuth returns a Gin middleware that rejects requests not carrying the
// expected secret. The secret is accepted from, in order:
//
//  1. the headerName header (e.g. X-Cron-Secret)
//  2. an "Authorization: Bearer <secret>" header
//  3. a "secret" query parameter (for schedulers that can only set a URL)
//
// An empty configured secret fails closed with 503: a deployment that forgot
// to set the secret must not expose the endpoint unauthenticated.
func SecretAuth(headerName, secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"code":    "config_error",
				"message": "operator secret is not configured",
			})
			return
		}

		got := c.GetHeader(headerName)
		if got == "" {
			if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				got = strings.TrimPrefix(auth, "Bearer ")
			}
		}
		if got == "" {
			got = c.Query("secret")
		}

		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "unauthorized",
				"message": "invalid or missing secret",
			})
			return
		}

		// Authenticated automation must not compete with public traffic for
		// rate-limit tokens.
		MarkRateBypass(c)
		c.Next()
	}
}
