package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aescanero/modjob/pkg/domain"
	"github.com/go-playground/validator/v10"
)

// Operation is the contract business modules implement for each job type.
// Each phase can be overridden independently; embed BaseOperation for the
// allow-all defaults.
type Operation interface {
	Validate(ctx context.Context, job *Job) error
	Authorize(ctx context.Context, job *Job) error
	Execute(ctx context.Context, job *Job) (interface{}, error)
}

// OperationFactory builds a fresh Operation for every job
type OperationFactory func() Operation

// Authorizer is the pluggable authorization callback consulted before the
// operation's own Authorize phase
type Authorizer func(ctx context.Context, job *Job) error

// BaseOperation provides no-op validation and allow-all authorization
type BaseOperation struct{}

// Validate accepts any payload
func (BaseOperation) Validate(ctx context.Context, job *Job) error { return nil }

// Authorize allows every requester
func (BaseOperation) Authorize(ctx context.Context, job *Job) error { return nil }

// Execute must be overridden
func (BaseOperation) Execute(ctx context.Context, job *Job) (interface{}, error) {
	return nil, ErrNotImplemented
}

type funcOperation struct {
	BaseOperation
	execute func(ctx context.Context, job *Job) (interface{}, error)
}

func (o *funcOperation) Execute(ctx context.Context, job *Job) (interface{}, error) {
	return o.execute(ctx, job)
}

// Simple returns a factory for an operation that only has an execute phase
func Simple(execute func(ctx context.Context, job *Job) (interface{}, error)) OperationFactory {
	return func() Operation {
		return &funcOperation{execute: execute}
	}
}

// RequireAuthenticated fails for internal and anonymous requesters
func RequireAuthenticated(job *Job) error {
	if job.Requester().Anonymous() {
		return errors.New("login required")
	}
	return nil
}

// RequireRole fails unless the requester has the given role
func RequireRole(job *Job, role string) error {
	if err := RequireAuthenticated(job); err != nil {
		return err
	}
	if job.Requester().Role != role {
		return fmt.Errorf("role %q required", role)
	}
	return nil
}

var validate = validator.New()

// Bind decodes the job payload into dst and validates it using the
// `validate` struct tags on dst.
func Bind(payload domain.Payload, dst interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	if err := validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s failed on '%s'", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("invalid payload: %s", strings.Join(msgs, ", "))
		}
		return fmt.Errorf("invalid payload: %w", err)
	}

	return nil
}
