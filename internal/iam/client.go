// Package iam wraps the identity management service that owns portal
// accounts: their existence, credentials and the authoritative enabled flag.
package iam

import (
	"context"
	"fmt"

	"github.com/xxxsen/portalauth/internal/model"
	appErr "github.com/xxxsen/portalauth/internal/pkg/errors"
)

type Registration struct {
	Username  string
	Email     string
	FirstName string
	LastName  string
	Password  string
}

// Client is the administrative view of the IAM service. EnableUser must be
// idempotent: concurrent confirmations of one verification code may both call
// it.
type Client interface {
	RegisterUser(ctx context.Context, reg Registration) (bool, error)
	IsUserEnabled(ctx context.Context, username string) (bool, error)
	EnableUser(ctx context.Context, username string) error
	IsUserExist(ctx context.Context, username string) (bool, error)
	GetUser(ctx context.Context, username string) (*model.UserProfile, error)
}

// Error reports a failed IAM call. It matches appErr.ErrIAM with errors.Is
// and unwraps to the transport or status cause.
type Error struct {
	Op     string
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("iam %s failed: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("iam %s failed: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == appErr.ErrIAM
}
