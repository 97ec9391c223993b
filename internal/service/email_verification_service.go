package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/portalauth/internal/config"
	"github.com/xxxsen/portalauth/internal/iam"
	"github.com/xxxsen/portalauth/internal/model"
	appErr "github.com/xxxsen/portalauth/internal/pkg/errors"
	"github.com/xxxsen/portalauth/internal/pkg/timeutil"
	"github.com/xxxsen/portalauth/internal/repo"
)

const (
	verifyEmailPath          = "/auth/verify-email/"
	verificationEmailSubject = "Please verify your email address"
	newUserSubject           = "New User Created"
)

// EmailVerificationService keeps the local verified flag and the IAM
// enabled flag in step. Records only move from pending to verified.
type EmailVerificationService struct {
	repo    *repo.EmailVerificationRepo
	iam     iam.Client
	sender  EmailSender
	baseURL string
	timeout time.Duration
}

func NewEmailVerificationService(repo *repo.EmailVerificationRepo, iamClient iam.Client, sender EmailSender, cfg *config.Config) *EmailVerificationService {
	return &EmailVerificationService{
		repo:    repo,
		iam:     iamClient,
		sender:  sender,
		baseURL: cfg.PublicBaseURL,
		timeout: time.Duration(cfg.IAM.TimeoutSeconds) * time.Second,
	}
}

// Issue stores a fresh code for username and mails the link. Earlier codes
// for the same username stay valid.
func (s *EmailVerificationService) Issue(ctx context.Context, username, email, firstName, lastName string) (*model.EmailVerification, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" || email == "" {
		return nil, appErr.ErrInvalid
	}
	now := timeutil.NowUnix()
	item := &model.EmailVerification{
		ID:               newID(),
		Username:         username,
		VerificationCode: newVerificationCode(),
		Verified:         false,
		Ctime:            now,
		Mtime:            now,
	}
	if err := s.repo.Create(ctx, item); err != nil {
		return nil, fmt.Errorf("create email verification: %w", err)
	}
	link := s.VerificationLink(item.VerificationCode)
	to := formatRecipient(firstName, lastName, email)
	if err := s.sender.Send(to, verificationEmailSubject, "Verification link: "+link); err != nil {
		logutil.GetLogger(ctx).Error("send verification email failed",
			zap.String("username", username), zap.Error(err))
		return item, fmt.Errorf("send verification email: %w", err)
	}
	logutil.GetLogger(ctx).Info("verification email sent", zap.String("username", username))
	return item, nil
}

func (s *EmailVerificationService) VerificationLink(code string) string {
	return s.baseURL + verifyEmailPath + code
}

// Confirm marks the record for code verified and enables the account in IAM
// when it is not enabled yet. It reports whether this call enabled the
// account. Confirming an already verified code repeats the IAM check, so a
// confirmation interrupted before the enable step can be retried.
func (s *EmailVerificationService) Confirm(ctx context.Context, code string) (bool, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return false, appErr.ErrNotFound
	}
	item, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		return false, err
	}
	logger := logutil.GetLogger(ctx).With(zap.String("username", item.Username))
	if !item.Verified {
		if err := s.repo.MarkVerified(ctx, item.ID, timeutil.NowUnix()); err != nil {
			return false, fmt.Errorf("mark verified: %w", err)
		}
		item.Verified = true
	}

	iamCtx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	enabled, err := s.iam.IsUserEnabled(iamCtx, item.Username)
	if err != nil {
		logger.Error("check user enabled failed", zap.Error(err))
		return false, err
	}
	if enabled {
		return false, nil
	}
	if err := s.iam.EnableUser(iamCtx, item.Username); err != nil {
		logger.Error("enable user failed", zap.Error(err))
		return false, err
	}
	logger.Info("user enabled after email verification")
	if err := s.sender.SendAdmins(newUserSubject, "New user: "+item.Username); err != nil {
		logger.Warn("notify admins failed", zap.Error(err))
	}
	return true, nil
}

// Resend issues a new code when username is known to IAM and has an email
// address, and silently does nothing otherwise, so callers cannot tell the
// cases apart. Only an empty username is rejected.
func (s *EmailVerificationService) Resend(ctx context.Context, username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return appErr.ErrInvalid
	}
	iamCtx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	exist, err := s.iam.IsUserExist(iamCtx, username)
	if err != nil {
		logutil.GetLogger(ctx).Error("check user exist failed", zap.String("username", username), zap.Error(err))
		return err
	}
	if !exist {
		logutil.GetLogger(ctx).Debug("resend requested for unknown user", zap.String("username", username))
		return nil
	}
	profile, err := s.iam.GetUser(iamCtx, username)
	if err != nil {
		logutil.GetLogger(ctx).Error("load user profile failed", zap.String("username", username), zap.Error(err))
		return err
	}
	email := profile.PrimaryEmail()
	if email == "" {
		logutil.GetLogger(ctx).Warn("resend requested for user without email", zap.String("username", username))
		return nil
	}
	_, err = s.Issue(ctx, username, email, profile.FirstName, profile.LastName)
	return err
}

// PendingBefore counts records still unverified that were created before cutoff.
func (s *EmailVerificationService) PendingBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.repo.CountPendingBefore(ctx, cutoff.Unix())
}
