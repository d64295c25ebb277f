package shipper

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/casewatch/casewatch/agent/internal/config"
	"github.com/casewatch/casewatch/pkg/types"
	"github.com/casewatch/casewatch/pkg/wire"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
	sendTimeout       = 10 * time.Second
)

// Shipper buffers change-event batches and ships them to casewatch-server.
// Ship() is non-blocking; when the buffer is full the oldest request is evicted.
// Run() must be called in a goroutine to drain the buffer and handle reconnection.
type Shipper struct {
	cfg    config.AgentConfig
	buf    chan item
	dialFn dialFunc
}

// dialFunc opens the gRPC connection. Tests replace it to reach an
// in-process server.
type dialFunc func(ctx context.Context, endpoint string, cfg config.AgentConfig) (*grpc.ClientConn, error)

// New creates a Shipper using the given agent config.
func New(cfg config.AgentConfig) *Shipper {
	return &Shipper{
		cfg:    cfg,
		buf:    make(chan item, cfg.BufferSize),
		dialFn: defaultDial,
	}
}

// Ship enqueues events for delivery. An empty slice is ignored.
func (s *Shipper) Ship(events []types.ChangeEvent) {
	for _, it := range toRequests(s.cfg.Source, events) {
		s.push(it)
	}
}

// Complete enqueues an IngestComplete marker behind every batch shipped so far.
func (s *Shipper) Complete() {
	s.push(item{complete: &wire.IngestCompleteRequest{Source: s.cfg.Source}})
}

// Pending reports how many requests wait in the buffer.
func (s *Shipper) Pending() int { return len(s.buf) }

func (s *Shipper) push(it item) {
	for {
		select {
		case s.buf <- it:
			return
		default:
		}
		// Buffer full: drop the oldest request, keep the newest.
		select {
		case old := <-s.buf:
			slog.Warn("shipper: buffer full, evicted oldest request",
				"events", old.size(), "buffer_cap", cap(s.buf))
		default:
		}
	}
}

// Run drains the buffer, sending requests to the server.
// It reconnects with exponential backoff when the connection is lost.
// Run blocks until ctx is cancelled.
func (s *Shipper) Run(ctx context.Context) {
	bo := newBackoff()

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := s.dialFn(ctx, s.cfg.ServerEndpoint, s.cfg)
		if err != nil {
			wait := bo.next()
			slog.Error("shipper: dial failed, will retry",
				"endpoint", s.cfg.ServerEndpoint,
				"err", err,
				"retry_in", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
				continue
			}
		}

		slog.Info("shipper: connected", "endpoint", s.cfg.ServerEndpoint)
		bo.reset()

		err = s.drain(ctx, conn)
		conn.Close()

		if ctx.Err() != nil {
			return
		}

		wait := bo.next()
		slog.Warn("shipper: connection lost, will reconnect",
			"endpoint", s.cfg.ServerEndpoint,
			"err", err,
			"retry_in", wait)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// drain reads from the buffer and sends requests until the connection fails
// or ctx is cancelled.
func (s *Shipper) drain(ctx context.Context, conn *grpc.ClientConn) error {
	client := wire.NewIngestClient(conn)

	for {
		select {
		case <-ctx.Done():
			return nil

		case it := <-s.buf:
			sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
			if s.cfg.ServerAuth.Mode == "apikey" && s.cfg.ServerAuth.KeyEnv != "" {
				sendCtx = metadata.AppendToOutgoingContext(
					sendCtx,
					s.cfg.ServerAuth.Header, s.cfg.ServerAuth.Key(),
				)
			}
			err := s.send(sendCtx, client, it)
			cancel()

			if err != nil {
				if isPermanentError(err) {
					slog.Error("shipper: permanent send error, discarding request",
						"events", it.size(), "err", err)
					continue
				}
				// Requeue; the server dedupes keys so a later resend is harmless.
				select {
				case s.buf <- it:
				default:
				}
				return fmt.Errorf("send: %w", err)
			}
		}
	}
}

func (s *Shipper) send(ctx context.Context, client *wire.IngestClient, it item) error {
	if it.complete != nil {
		resp, err := client.IngestComplete(ctx, it.complete)
		if err != nil {
			return err
		}
		slog.Info("shipper: ingest complete acknowledged", "flushed", resp.Flushed)
		return nil
	}

	resp, err := client.Enqueue(ctx, it.enqueue)
	if err != nil {
		return err
	}
	if resp.Ignored > 0 {
		slog.Warn("shipper: server ignored events",
			"batch_id", it.enqueue.BatchID, "ignored", resp.Ignored)
	}
	slog.Debug("shipper: batch delivered",
		"batch_id", it.enqueue.BatchID,
		"accepted", resp.Accepted,
		"newly_seen", resp.NewlySeen)
	return nil
}

// isPermanentError returns true for gRPC errors that indicate the request
// itself is invalid and should not be retried.
func isPermanentError(err error) bool {
	switch status.Code(err) {
	case codes.InvalidArgument, codes.Unauthenticated, codes.PermissionDenied:
		return true
	}
	return false
}

// defaultDial opens a gRPC connection to endpoint with auth configured from cfg.
func defaultDial(ctx context.Context, endpoint string, cfg config.AgentConfig) (*grpc.ClientConn, error) {
	opts, err := dialOptions(cfg)
	if err != nil {
		return nil, err
	}
	return grpc.DialContext(ctx, endpoint, opts...) //nolint:staticcheck // deprecated in 1.63 but DialContext is used for compat
}

// dialOptions builds grpc.DialOption slice based on the server auth config.
func dialOptions(cfg config.AgentConfig) ([]grpc.DialOption, error) {
	switch cfg.ServerAuth.Mode {
	case "mtls":
		tlsCfg, err := TLSConfig(cfg.ServerAuth)
		if err != nil {
			return nil, fmt.Errorf("shipper: build mtls creds: %w", err)
		}
		return []grpc.DialOption{grpc.WithTransportCredentials(credentials.NewTLS(tlsCfg))}, nil

	default: // apikey travels in metadata; "none" is local dev only
		return []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, nil
	}
}

// TLSConfig loads the client certificate and optional CA named by auth.
func TLSConfig(auth config.AuthConfig) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(auth.CertFile, auth.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load client cert: %w", err)
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if auth.CAFile != "" {
		caPEM, err := os.ReadFile(auth.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no valid certs in ca file %q", auth.CAFile)
		}
		tlsCfg.RootCAs = pool
	}

	return tlsCfg, nil
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	current time.Duration
}

func newBackoff() *backoff {
	return &backoff{current: backoffInitial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	// ±25% jitter.
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}

func (b *backoff) reset() {
	b.current = backoffInitial
}
