// Package identity provides the anonymous device identity and the signed-in
// session used by the API.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"time"
)

const (
	DeviceCookieName   = "vd_device_id"
	deviceCookieMaxAge = 30 * 24 * time.Hour
)

type contextKey int

const (
	deviceIDKey contextKey = iota
	sessionKey
)

var deviceIDPattern = regexp.MustCompile(`^dev_[a-f0-9]{32}$`)

// DeviceIDFromContext extracts the device ID from the request context.
func DeviceIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(deviceIDKey).(string); ok {
		return v
	}
	return ""
}

// WithDeviceID returns a copy of ctx carrying deviceID.
func WithDeviceID(ctx context.Context, deviceID string) context.Context {
	return context.WithValue(ctx, deviceIDKey, deviceID)
}

func generateDeviceID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate device id: %w", err)
	}
	return "dev_" + hex.EncodeToString(buf), nil
}

// IsValidDeviceID reports whether id has the shape of an issued device ID.
func IsValidDeviceID(id string) bool {
	return deviceIDPattern.MatchString(id)
}

func setDeviceCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     DeviceCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(deviceCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(deviceCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

func getOrCreateDeviceID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if c, err := r.Cookie(DeviceCookieName); err == nil && IsValidDeviceID(c.Value) {
		setDeviceCookie(w, c.Value, isDev)
		return c.Value, nil
	}

	id, err := generateDeviceID()
	if err != nil {
		return "", err
	}
	setDeviceCookie(w, id, isDev)
	return id, nil
}

// Middleware injects the anonymous per-device identity, issuing a cookie on
// first visit. The device ID keys the wizard draft and the pending slot.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			deviceID, err := getOrCreateDeviceID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish device identity"}`, http.StatusInternalServerError)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithDeviceID(r.Context(), deviceID)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
