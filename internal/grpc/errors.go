package grpc

import (
	"context"
	"errors"

	"github.com/getsentry/sentry-go"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Belphemur/TwinQuery/internal/apperrors"
)

const errorDomain = "twinquery.v1"

// toStatus maps an application error to a gRPC status carrying an ErrorInfo detail.
// Errors outside the known taxonomy are reported to Sentry and surface as Internal.
func toStatus(err error, method string) error {
	code, reason := classify(err)
	if code == codes.Internal {
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("rpc.method", method)
			sentry.CaptureException(err)
		})
	}

	st := status.New(code, err.Error())
	detailed, detailErr := st.WithDetails(&errdetails.ErrorInfo{
		Reason:   reason,
		Domain:   errorDomain,
		Metadata: map[string]string{"method": method},
	})
	if detailErr != nil {
		return st.Err()
	}
	return detailed.Err()
}

func classify(err error) (codes.Code, string) {
	switch {
	case errors.Is(err, context.Canceled):
		return codes.Canceled, "CANCELED"
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded, "DEADLINE_EXCEEDED"
	case errors.Is(err, &apperrors.ErrQuerySyntax{}):
		return codes.InvalidArgument, "QUERY_SYNTAX"
	case errors.Is(err, &apperrors.ErrAuthorization{}):
		return codes.PermissionDenied, "UNAUTHORIZED"
	case errors.Is(err, &apperrors.ErrNotFound{}):
		return codes.NotFound, "TWIN_NOT_FOUND"
	case errors.Is(err, &apperrors.ErrPreconditionFailed{}):
		return codes.FailedPrecondition, "ETAG_MISMATCH"
	case errors.Is(err, &apperrors.ErrTransport{}):
		return codes.Unavailable, "HUB_UNAVAILABLE"
	}
	return codes.Internal, "INTERNAL"
}
