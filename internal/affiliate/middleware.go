package affiliate

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hexacloud/storefront/internal/order"
	"github.com/hexacloud/storefront/internal/tracking"
	"github.com/hexacloud/storefront/internal/validate"
)

type contextKey struct{}

// FromContext returns the attribution captured for this request, or nil.
func FromContext(ctx context.Context) *order.Attribution {
	attr, _ := ctx.Value(contextKey{}).(*order.Attribution)
	return attr
}

// withAttribution stores an attribution in the context.
func withAttribution(ctx context.Context, attr *order.Attribution) context.Context {
	return context.WithValue(ctx, contextKey{}, attr)
}

// Middleware captures ?ref= referral visits into a signed cookie and exposes
// the current attribution via the request context. A new ref always replaces
// an existing cookie (last referrer wins). tracker may be nil.
func Middleware(codec *Codec, tracker *tracking.Tracker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if ref, err := validate.AffiliateCode(r.URL.Query().Get("ref")); err == nil {
				attr := &order.Attribution{AffiliateID: ref, AffiliateCode: ref}
				if value, err := codec.Encode(*attr); err == nil {
					http.SetCookie(w, &http.Cookie{
						Name:     CookieName,
						Value:    value,
						Path:     "/",
						MaxAge:   int(codec.TTL().Seconds()),
						HttpOnly: true,
						SameSite: http.SameSiteLaxMode,
					})
					tracker.Visit(ref)
					next.ServeHTTP(w, r.WithContext(withAttribution(ctx, attr)))
					return
				} else {
					slog.WarnContext(ctx, "failed to sign attribution cookie", "error", err)
				}
			}

			if cookie, err := r.Cookie(CookieName); err == nil {
				if attr, err := codec.Decode(cookie.Value); err == nil {
					next.ServeHTTP(w, r.WithContext(withAttribution(ctx, attr)))
					return
				}
				// Tampered or expired cookie; drop it and continue unattributed.
				http.SetCookie(w, &http.Cookie{Name: CookieName, Value: "", Path: "/", MaxAge: -1})
			}

			next.ServeHTTP(w, r)
		})
	}
}
