package internal

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vaelin/go-httpc/internal/http"
)

// Logging returns a middleware that logs each exchange with a unique
// request id, including the hops of a followed redirect chain as seen
// from outside (one entry per CtxDo call).
func Logging(logger zerolog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *PreparedRequest) (*http.Response, error) {
			l := logger.With().
				Str("request_id", uuid.NewString()).
				Str("method", req.Method).
				Str("url", req.URL).
				Logger()
			start := time.Now()
			l.Debug().Msg("request started")
			resp, err := next(ctx, req)
			if err != nil {
				l.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("request failed")
				return nil, err
			}
			l.Debug().
				Int("status", resp.StatusCode).
				Str("final_url", resp.U.String()).
				Dur("elapsed", time.Since(start)).
				Msg("request done")
			return resp, nil
		}
	}
}
