package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Checker validates API keys for one header name.
type Checker struct {
	header string
	key    string
}

// New returns a Checker. header should be lowercase; gRPC normalises
// metadata keys and HTTP header lookup is case-insensitive anyway.
func New(mode, header, key string) *Checker {
	if mode != "apikey" {
		key = ""
	}
	return &Checker{header: header, key: key}
}

// Enabled reports whether keys are being checked at all.
func (c *Checker) Enabled() bool { return c.key != "" }

// Header returns the header the key is read from.
func (c *Checker) Header() string { return c.header }

// Allow reports whether got is the expected key.
func (c *Checker) Allow(got string) bool {
	if !c.Enabled() {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(c.key)) == 1
}

// UnaryInterceptor enforces the key on every unary gRPC call.
func (c *Checker) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if !c.Enabled() {
			return handler(ctx, req)
		}

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}
		vals := md.Get(c.header)
		if len(vals) == 0 || !c.Allow(vals[0]) {
			return nil, status.Error(codes.Unauthenticated, "invalid api key")
		}
		return handler(ctx, req)
	}
}

// Middleware enforces the key on next.
func (c *Checker) Middleware(next http.Handler) http.Handler {
	if !c.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get(c.header); got == "" || !c.Allow(got) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid api key"}) //nolint:errcheck
			return
		}
		next.ServeHTTP(w, r)
	})
}
