package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"classattend/internal/auth"
)

// ---------- Student self-service ----------

func studentID(c *gin.Context) string {
	claims, _ := auth.ClaimsFrom(c)
	return claims.Subject
}

func (h *Handler) Me(c *gin.Context) {
	st, err := h.svc.Student(c.Request.Context(), studentID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) MyAttendance(c *gin.Context) {
	recs, err := h.svc.StudentRecords(c.Request.Context(), studentID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": recs})
}

func (h *Handler) MyStreak(c *gin.Context) {
	n, err := h.svc.Streak(c.Request.Context(), studentID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"streak": n})
}

func (h *Handler) MarkPresent(c *gin.Context) {
	rec, err := h.svc.MarkPresent(c.Request.Context(), studentID(c), c.Param("classId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

type justifyRequest struct {
	RecordID      string `json:"record_id" binding:"required"`
	Justification string `json:"justification" binding:"required"`
}

// Justify lets a student explain an absence on one of their own records.
func (h *Handler) Justify(c *gin.Context) {
	var req justifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	rec, err := h.svc.Store().GetRecord(ctx, req.RecordID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if rec.StudentID != studentID(c) {
		forbidden(c)
		return
	}
	rec, err = h.svc.JustifyAbsence(ctx, req.RecordID, req.Justification)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}
