package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/portalauth/internal/config"
	"github.com/xxxsen/portalauth/internal/iam"
	appErr "github.com/xxxsen/portalauth/internal/pkg/errors"
)

const registerFailedMessage = "Failed to register user with IAM service"

var usernamePattern = regexp.MustCompile(`^[a-z0-9_.-]+$`)

type RegisterRequest struct {
	Username      string `json:"username" form:"username" validate:"required,min=6,max=64,portal_username"`
	Email         string `json:"email" form:"email" validate:"required,email,max=254"`
	FirstName     string `json:"first_name" form:"first_name" validate:"required,max=30"`
	LastName      string `json:"last_name" form:"last_name" validate:"required,max=150"`
	Password      string `json:"password" form:"password" validate:"required,min=8,max=128"`
	PasswordAgain string `json:"password_again" form:"password_again" validate:"required,eqfield=Password"`
}

// FormError is a registration failure meant to be shown next to the form.
// Field is empty for form-level errors.
type FormError struct {
	Field   string
	Message string
	Err     error
}

func (e *FormError) Error() string {
	if e.Field != "" {
		return e.Field + ": " + e.Message
	}
	return e.Message
}

func (e *FormError) Unwrap() error {
	return e.Err
}

type AccountService struct {
	iam      iam.Client
	verifier *EmailVerificationService
	validate *validator.Validate
	timeout  time.Duration
}

func NewAccountService(iamClient iam.Client, verifier *EmailVerificationService, cfg *config.Config) *AccountService {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("portal_username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})
	return &AccountService{
		iam:      iamClient,
		verifier: verifier,
		validate: v,
		timeout:  time.Duration(cfg.IAM.TimeoutSeconds) * time.Second,
	}
}

// Register creates a disabled IAM account and mails its verification link.
// There is no rollback: if the mail step fails the IAM account stays.
func (s *AccountService) Register(ctx context.Context, req RegisterRequest) error {
	req.Username = strings.ToLower(strings.TrimSpace(req.Username))
	req.Email = strings.TrimSpace(req.Email)
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	if err := s.validate.Struct(req); err != nil {
		return toFormError(err)
	}

	iamCtx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	ok, err := s.iam.RegisterUser(iamCtx, iam.Registration{
		Username:  req.Username,
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Password:  req.Password,
	})
	if err != nil {
		logutil.GetLogger(ctx).Error("register user failed", zap.String("username", req.Username), zap.Error(err))
		return &FormError{Message: registerFailedMessage, Err: err}
	}
	if !ok {
		return &FormError{Message: registerFailedMessage, Err: appErr.ErrConflict}
	}
	if _, err := s.verifier.Issue(ctx, req.Username, req.Email, req.FirstName, req.LastName); err != nil {
		return &FormError{Message: "Account created but the verification email could not be sent", Err: err}
	}
	return nil
}

func toFormError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &FormError{Message: err.Error(), Err: appErr.ErrInvalid}
	}
	first := verrs[0]
	field := fieldName(first.Field())
	var msg string
	switch first.Tag() {
	case "required":
		msg = "This field is required"
	case "email":
		msg = "Enter a valid email address"
	case "min":
		msg = fmt.Sprintf("Ensure this value has at least %s characters", first.Param())
	case "max":
		msg = fmt.Sprintf("Ensure this value has at most %s characters", first.Param())
	case "portal_username":
		msg = "Username can only contain lowercase letters, numbers, underscores, hyphens and periods"
	case "eqfield":
		msg = "Passwords do not match"
	default:
		msg = "Invalid value"
	}
	return &FormError{Field: field, Message: msg, Err: appErr.ErrInvalid}
}

func fieldName(structField string) string {
	switch structField {
	case "FirstName":
		return "first_name"
	case "LastName":
		return "last_name"
	case "PasswordAgain":
		return "password_again"
	default:
		return strings.ToLower(structField)
	}
}
