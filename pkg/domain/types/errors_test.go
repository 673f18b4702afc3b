package types_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/m-mizutani/flock/pkg/domain/types"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want types.ErrorKind
	}{
		{"nil", nil, ""},
		{"untagged", goerr.New("boom"), types.KindInternal},
		{"tagged", goerr.New("denied", goerr.T(types.ErrTagPermissionDenied)), types.KindPermissionDenied},
		{
			"component kind wins over the cause",
			goerr.Wrap(goerr.New("503", goerr.T(types.ErrTagTransientNetwork)), "clone failed", goerr.T(types.ErrTagCheckoutFailed)),
			types.KindCheckoutFailed,
		},
		{
			"behind a foreign wrapper",
			goerr.Wrap(fmt.Errorf("stage: %w", goerr.New("429", goerr.T(types.ErrTagRateLimited))), "push failed"),
			types.KindRateLimited,
		},
		{"context canceled", fmt.Errorf("wait: %w", context.Canceled), types.KindCanceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gt.Equal(t, types.KindOf(tt.err), tt.want)
		})
	}
}

func TestIsRetryable(t *testing.T) {
	gt.True(t, types.IsRetryable(goerr.New("x", goerr.T(types.ErrTagRateLimited))))
	gt.True(t, types.IsRetryable(goerr.New("x", goerr.T(types.ErrTagTransientNetwork))))
	gt.False(t, types.IsRetryable(goerr.New("x", goerr.T(types.ErrTagAuthenticationFailed))))
	gt.False(t, types.IsRetryable(goerr.New("x")))
}
