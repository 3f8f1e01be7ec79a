package mid

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/carvexyz/carve/business/web/errs"
	"github.com/carvexyz/carve/foundation/web"
)

// AdminKeyHeader carries the shared administrative key.
const AdminKeyHeader = "X-Admin-Key"

// AdminKey rejects requests that do not present the current admin key.
func AdminKey(key func() string) web.Middleware {

	// This is the actual middleware function to be executed.
	m := func(handler web.Handler) web.Handler {

		// Create the handler that will be attached in the middleware chain.
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			want := key()
			got := r.Header.Get(AdminKeyHeader)

			if want == "" || subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
				return errs.NewTrusted(errors.New("forbidden"), http.StatusForbidden)
			}

			// Call the next handler.
			return handler(ctx, w, r)
		}

		return h
	}

	return m
}
