package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Mutter0815/tenantcast/internal/otp"
	"github.com/Mutter0815/tenantcast/pkg/logx"
	"github.com/Mutter0815/tenantcast/pkg/model"
)

type otpRequest struct {
	Phone   string `json:"phone"   binding:"required"`
	Purpose string `json:"purpose"`
}

type otpVerifyRequest struct {
	Phone   string `json:"phone"   binding:"required"`
	Purpose string `json:"purpose"`
	Code    string `json:"code"    binding:"required,len=6,numeric"`
}

func purposeOf(s string) model.OTPPurpose {
	if s == "" {
		return model.PurposeLogin
	}
	return model.OTPPurpose(strings.ToUpper(s))
}

func (h *Handlers) RequestOTP(c *gin.Context) {
	var req otpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	issued, err := h.Auth.Issue(ctx, req.Phone, purposeOf(req.Purpose))
	if err != nil {
		writeOTPError(c, err)
		return
	}
	resp := gin.H{"expires_at": issued.ExpiresAt}
	if issued.Code != "" {
		resp["code"] = issued.Code
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) VerifyOTP(c *gin.Context) {
	var req otpVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	purpose := purposeOf(req.Purpose)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := h.Auth.Verify(ctx, req.Phone, purpose, req.Code); err != nil {
		writeOTPError(c, err)
		return
	}
	token, exp, err := h.Sessions.Issue(req.Phone, purpose, time.Now().UTC())
	if err != nil {
		logx.L().Errorw("session_issue_error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "token_type": "Bearer", "expires_at": exp})
}

func writeOTPError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, otp.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, otp.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, otp.ErrInvalidCode):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, otp.ErrAlreadyUsed):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, otp.ErrExpired):
		c.JSON(http.StatusGone, gin.H{"error": err.Error()})
	case errors.Is(err, otp.ErrExhausted):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	default:
		logx.L().Errorw("otp_error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "otp error"})
	}
}
