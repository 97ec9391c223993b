package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/portalauth/internal/config"
	"github.com/xxxsen/portalauth/internal/pkg/errcode"
	appErr "github.com/xxxsen/portalauth/internal/pkg/errors"
	"github.com/xxxsen/portalauth/internal/pkg/response"
	"github.com/xxxsen/portalauth/internal/service"
)

const (
	resendFormPath = "/auth/resend-email-link"
	resendMessage  = "If the account exists, a new verification link has been sent."
	accountCreated = "Account created. Please check your email to verify your address."
	verifyNotFound = "The verification link is invalid or has expired. Request a new one below."
)

type AccountHandler struct {
	accounts *service.AccountService
	verifier *service.EmailVerificationService
	loginURL string
}

func NewAccountHandler(accounts *service.AccountService, verifier *service.EmailVerificationService, cfg *config.Config) *AccountHandler {
	return &AccountHandler{accounts: accounts, verifier: verifier, loginURL: cfg.LoginURL}
}

func (h *AccountHandler) CreateAccount(c *gin.Context) {
	var req service.RegisterRequest
	if err := c.ShouldBind(&req); err != nil {
		handleError(c, appErr.ErrInvalid)
		return
	}
	err := h.accounts.Register(c.Request.Context(), req)
	var formErr *service.FormError
	switch {
	case err == nil:
		response.Success(c, gin.H{"message": accountCreated, "username": strings.ToLower(strings.TrimSpace(req.Username))})
	case errors.As(err, &formErr):
		response.FailWithData(c, http.StatusBadRequest, errcode.ErrRegisterFailed, formErr.Message, gin.H{
			"field":    formErr.Field,
			"username": req.Username,
			"email":    req.Email,
		})
	default:
		handleError(c, err)
	}
}

// VerifyEmail confirms a code from a verification link. Unknown codes are
// sent to the resend form instead of failing.
func (h *AccountHandler) VerifyEmail(c *gin.Context) {
	_, err := h.verifier.Confirm(c.Request.Context(), c.Param("code"))
	switch {
	case err == nil:
		c.Redirect(http.StatusFound, h.loginURL)
	case appErr.IsNotFound(err):
		logutil.GetLogger(c.Request.Context()).Info("unknown verification code")
		c.Redirect(http.StatusFound, resendFormPath+"?reason=not_found")
	default:
		handleError(c, err)
	}
}

func (h *AccountHandler) ResendForm(c *gin.Context) {
	data := gin.H{"message": ""}
	if c.Query("reason") == "not_found" {
		data["message"] = verifyNotFound
	}
	response.Success(c, data)
}

type resendRequest struct {
	Username string `json:"username" form:"username"`
}

// ResendEmailLink answers the same way whether or not the username exists.
func (h *AccountHandler) ResendEmailLink(c *gin.Context) {
	var req resendRequest
	if err := c.ShouldBind(&req); err != nil {
		handleError(c, appErr.ErrInvalid)
		return
	}
	if err := h.verifier.Resend(c.Request.Context(), req.Username); err != nil {
		if errors.Is(err, appErr.ErrInvalid) {
			response.FailWithData(c, http.StatusBadRequest, errcode.ErrInvalid, "This field is required", gin.H{"field": "username"})
			return
		}
		logutil.GetLogger(c.Request.Context()).Error("resend verification failed", zap.String("username", req.Username), zap.Error(err))
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"message": resendMessage})
}
