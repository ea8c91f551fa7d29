package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	apierrors "fixflow/internal/errors"
)

// FeatureChecker answers feature-gate queries from the current license
// snapshot.
type FeatureChecker interface {
	IsFeatureEnabled(ctx context.Context, feature string) bool
}

// RequireFeature blocks routes whose feature the current license does
// not cover. Reads hit the atomically-swapped snapshot, so this is
// cheap enough for hot paths.
func RequireFeature(checker FeatureChecker, feature string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !checker.IsFeatureEnabled(r.Context(), feature) {
				logger.WarnContext(r.Context(), "feature blocked by license",
					slog.String("feature", feature),
					slog.String("path", r.URL.Path),
				)
				render.Render(w, r, apierrors.ErrLicenseRequired(feature))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
