package mid

import (
	"context"
	"net/http"
	"time"

	"github.com/ardanlabs/attendance/business/sys/metrics"
	"github.com/ardanlabs/attendance/foundation/web"
)

// Metrics updates the request counters and durations by route.
func Metrics() web.Middleware {

	// This is the actual middleware function to be executed.
	m := func(handler web.Handler) web.Handler {

		// Create the handler that will be attached in the middleware chain.
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			err := handler(ctx, w, r)

			if v, verr := web.GetValues(ctx); verr == nil {
				status := v.StatusCode
				if err != nil && status == 0 {
					status = http.StatusInternalServerError
				}
				metrics.RecordRequest(r.Method, v.Route, status, time.Since(v.Now))
			}

			// Return the error so it can be handled further up the chain.
			return err
		}

		return h
	}

	return m
}
