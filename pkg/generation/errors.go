package generation

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrGenerationFailed matches every Failure.
	ErrGenerationFailed = errors.New("generation failed")
	ErrTimeout          = errors.New("generation timed out")
	ErrBlocked          = errors.New("generation blocked by content filter")
	ErrEmptyResponse    = errors.New("generation returned no text")
)

type Reason string

const (
	ReasonTimeout  Reason = "timeout"
	ReasonCanceled Reason = "canceled"
	ReasonBlocked  Reason = "blocked"
	ReasonEmpty    Reason = "empty"
	ReasonPanic    Reason = "panic"
	ReasonBackend  Reason = "backend"
)

// Failure is the error carried by a failed Result.
type Failure struct {
	Reason Reason
	Cause  error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("generation failed (%s): %v", f.Reason, f.Cause)
}

func (f *Failure) Unwrap() error { return f.Cause }

func (f *Failure) Is(target error) bool { return target == ErrGenerationFailed }

func classify(ctx context.Context, err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &Failure{Reason: ReasonTimeout, Cause: errors.Wrap(ErrTimeout, err.Error())}
	case errors.Is(err, context.Canceled):
		return &Failure{Reason: ReasonCanceled, Cause: err}
	case errors.Is(err, ErrBlocked):
		return &Failure{Reason: ReasonBlocked, Cause: err}
	case errors.Is(err, ErrEmptyResponse):
		return &Failure{Reason: ReasonEmpty, Cause: err}
	default:
		return &Failure{Reason: ReasonBackend, Cause: err}
	}
}
