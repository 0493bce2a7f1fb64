package client

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/chunkvault/internal/common"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// mapError turns a gRPC status back into the sentinel the server started
// from, keeping the status message for context.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	var sentinel error
	switch st.Code() {
	case codes.NotFound:
		sentinel = common.ErrNotFound
	case codes.PermissionDenied:
		sentinel = common.ErrAccessDenied
	case codes.FailedPrecondition:
		sentinel = common.ErrIncomplete
	case codes.InvalidArgument:
		sentinel = common.ErrValidation
	case codes.DataLoss:
		sentinel = common.ErrIntegrity
	case codes.Unauthenticated:
		if st.Message() == common.ErrTokenExpired.Error() {
			return common.ErrTokenExpired
		}
		sentinel = common.ErrUnauthenticated
	case codes.Unavailable:
		// Also covers an unreachable server.
		sentinel = common.ErrUpstreamUnavailable
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	default:
		return fmt.Errorf("rpc error: %w", err)
	}
	return fmt.Errorf("%w: %s", sentinel, st.Message())
}
