package health

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
)

// stubPinger returns a fixed result from Ping.
type stubPinger struct {
	err error
}

func (s stubPinger) Ping(ctx context.Context) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx, "ping")
	if s.err != nil {
		cmd.SetErr(s.err)
	} else {
		cmd.SetVal("PONG")
	}
	return cmd
}

// TestRedisChecker_HealthCheck tests the checker against a stubbed client.
func TestRedisChecker_HealthCheck(t *testing.T) {
	pingErr := errors.New("connection refused")

	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"healthy", nil, false},
		{"unreachable", pingErr, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewRedisChecker(stubPinger{err: tt.err})

			err := checker.HealthCheck(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("HealthCheck() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, pingErr) {
				t.Errorf("expected wrapped ping error, got %v", err)
			}
		})
	}
}

// TestRedisChecker_HealthCheck_ContextCancellation tests that context cancellation works.
func TestRedisChecker_HealthCheck_ContextCancellation(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
	})
	defer client.Close()

	checker := NewRedisChecker(client)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	if err := checker.HealthCheck(ctx); err == nil {
		t.Error("expected error with cancelled context")
	}
}
