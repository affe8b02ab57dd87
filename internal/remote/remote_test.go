package remote_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/reelsync/reelsync-agent/internal/remote"
)

type statusErr struct{ retryable bool }

func (e statusErr) Error() string     { return "status" }
func (e statusErr) IsRetryable() bool { return e.retryable }

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"not found", remote.ErrNotFound, true},
		{"wrapped not found", fmt.Errorf("get video: %w", remote.ErrNotFound), true},
		{"too large", remote.ErrTooLarge, true},
		{"rejected request", statusErr{retryable: false}, true},
		{"server error", fmt.Errorf("get video: %w", statusErr{retryable: true}), false},
		{"network", errors.New("connection reset by peer"), false},
		{"deadline", context.DeadlineExceeded, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := remote.IsPermanent(tt.err); got != tt.want {
				t.Errorf("IsPermanent(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
