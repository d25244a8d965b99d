package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"rfidattend/internal/attendance"
	"rfidattend/internal/auth"
	"rfidattend/internal/scan"
)

type scanRequest struct {
	Tag      string     `json:"tag" binding:"required"`
	DeviceID string     `json:"device_id" binding:"required"`
	At       *time.Time `json:"at"`
}

type scanResponse struct {
	Outcome scan.Outcome           `json:"outcome"`
	Reason  scan.Reason            `json:"reason,omitempty"`
	Message string                 `json:"message"`
	Record  *scan.AttendanceRecord `json:"record,omitempty"`
	Summary *scan.Summary          `json:"summary,omitempty"`
}

// statusFor maps a resolution to an HTTP status.
func statusFor(res scan.Result) int {
	switch res.Outcome {
	case scan.OutcomeCreated:
		return http.StatusCreated
	case scan.OutcomeDuplicate:
		return http.StatusOK
	}
	switch res.Reason {
	case scan.ReasonStudentInactive, scan.ReasonStudentUnassigned, scan.ReasonDeviceClassMismatch:
		return http.StatusForbidden
	case scan.ReasonHolidayNoAttendance:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusNotFound
	}
}

func messageFor(res scan.Result) string {
	switch res.Outcome {
	case scan.OutcomeCreated:
		return "attendance recorded"
	case scan.OutcomeDuplicate:
		return "attendance already recorded"
	}
	return res.Reason.Message()
}

func (h *handler) postScan(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if dev := auth.DeviceID(c); dev != "" && dev != req.DeviceID {
		c.JSON(http.StatusForbidden, gin.H{"error": "device mismatch"})
		return
	}

	in := scan.Scan{Tag: req.Tag, DeviceID: req.DeviceID}
	if req.At != nil {
		in.At = *req.At
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.scanTimeout)
	defer cancel()

	res, err := h.svc.Scan(ctx, in)
	if err != nil {
		if errors.Is(err, scan.ErrInfrastructure) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scan could not be evaluated, retry"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(statusFor(res), scanResponse{
		Outcome: res.Outcome,
		Reason:  res.Reason,
		Message: messageFor(res),
		Record:  res.Record,
		Summary: res.Summary,
	})
}

func (h *handler) registerDevice(c *gin.Context) {
	var req struct {
		DeviceID string `json:"device_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	if err := h.svc.RegisterDevice(ctx, req.DeviceID); err != nil {
		h.log.Error("device registration failed", zap.String("device_id", req.DeviceID), zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tokens, err := h.signer.Issue(req.DeviceID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	if err := h.svc.SaveRefreshToken(ctx, req.DeviceID, tokens.RefreshToken, tokens.RefreshExp); err != nil {
		h.log.Warn("refresh token not stored", zap.String("device_id", req.DeviceID), zap.Error(err))
	}

	c.JSON(http.StatusCreated, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}

func (h *handler) listAttendance(c *gin.Context) {
	f := attendance.RecordFilter{
		StudentID: c.Query("student_id"),
		ClassID:   c.Query("class_id"),
	}
	if v := c.Query("date"); v != "" {
		d, err := scan.ParseDate(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be yyyy-mm-dd"})
			return
		}
		f.Date = d
	}
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			f.Limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			f.Offset = parsed
		}
	}
	records, err := h.svc.Records(c.Request.Context(), f)
	if err != nil {
		h.log.Error("list attendance failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	if records == nil {
		records = []scan.AttendanceRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}
