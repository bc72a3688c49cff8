// Package aiconn validates connections to the AI reasoning backend. The
// backend itself is an external collaborator; this package only answers
// whether a given connection id is currently serving.
package aiconn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// Validator answers whether an AI connection is usable.
type Validator interface {
	ValidateConnection(ctx context.Context, connectionID string) (bool, error)
}

// GrpcValidator validates connections by probing the backend's standard gRPC
// health service.
type GrpcValidator struct {
	conn   *grpc.ClientConn
	health grpc_health_v1.HealthClient
	addr   string
	logger *slog.Logger
}

// Config holds configuration for the validator's gRPC connection.
type Config struct {
	Address          string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultConfig returns default connection settings.
func DefaultConfig(addr string) Config {
	return Config{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   10 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// NewGrpcValidator connects to the AI backend and fails fast if it is not
// reachable within the connect timeout.
func NewGrpcValidator(cfg Config, logger *slog.Logger) (*GrpcValidator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	// Build client connection (no network I/O yet).
	conn, err := grpc.NewClient(cfg.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to AI backend at %s: %w", cfg.Address, err)
	}

	// Force a connection attempt during startup so we fail fast on bad endpoints.
	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("AI backend at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to AI backend", "address", cfg.Address)

	return &GrpcValidator{
		conn:   conn,
		health: grpc_health_v1.NewHealthClient(conn),
		addr:   cfg.Address,
		logger: logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// ValidateConnection probes the health service. The connection id maps to the
// backend's service name, so per-connection serving status is reported when
// the backend registers its connections individually.
func (v *GrpcValidator) ValidateConnection(ctx context.Context, connectionID string) (bool, error) {
	resp, err := v.health.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: connectionID})
	if err != nil {
		return false, fmt.Errorf("AI connection check failed: %w", err)
	}
	return resp.GetStatus() == grpc_health_v1.HealthCheckResponse_SERVING, nil
}

// Close closes the gRPC connection.
func (v *GrpcValidator) Close() {
	if v.conn != nil {
		if err := v.conn.Close(); err != nil {
			v.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// NoopValidator accepts every connection. Used when no AI backend is
// configured.
type NoopValidator struct{}

// ValidateConnection always reports the connection as valid.
func (NoopValidator) ValidateConnection(context.Context, string) (bool, error) {
	return true, nil
}
