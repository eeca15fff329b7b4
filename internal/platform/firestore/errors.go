package firestore

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/foodcourt/api/internal/repositories"
)

type errorClass int

const (
	classOther errorClass = iota
	classNotFound
	classConflict
	classUnavailable
)

var grpcClasses = map[codes.Code]errorClass{
	codes.NotFound:           classNotFound,
	codes.AlreadyExists:      classConflict,
	codes.FailedPrecondition: classConflict,
	codes.Aborted:            classConflict,
	codes.OutOfRange:         classConflict,
	codes.Unavailable:        classUnavailable,
	codes.ResourceExhausted:  classUnavailable,
	codes.Internal:           classUnavailable,
	codes.DeadlineExceeded:   classUnavailable,
}

// WrapError turns a Firestore gRPC status into a repositories.StoreError. Context errors, errors
// already classified by a repository and anything that is not a gRPC status (a service error
// returned from a transaction callback, say) come back unchanged.
func WrapError(op string, err error) error {
	var repoErr repositories.RepositoryError
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.As(err, &repoErr) {
		return err
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	if st.Code() == codes.Canceled {
		return context.Canceled
	}
	class := grpcClasses[st.Code()]
	return &repositories.StoreError{
		Op:          op,
		Err:         err,
		NotFound:    class == classNotFound,
		Conflict:    class == classConflict,
		Unavailable: class == classUnavailable,
	}
}
