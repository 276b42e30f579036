package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"classattend/internal/attendance"
)

// ---------- Teacher profile ----------

func (h *Handler) TeacherProfile(c *gin.Context) {
	t, err := h.svc.Teacher(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

type teacherProfileRequest struct {
	Name   *string `json:"name"`
	Email  *string `json:"email" binding:"omitempty,email"`
	Sector *string `json:"sector"`
}

func (h *Handler) UpdateTeacherProfile(c *gin.Context) {
	var req teacherProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	t, err := h.svc.UpdateTeacherProfile(c.Request.Context(), attendance.TeacherUpdate{
		Name:   req.Name,
		Email:  req.Email,
		Sector: req.Sector,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// UploadTeacherPhoto accepts a multipart "file" or a JSON {"data": "<data URL>"}
// and stores the resulting URL on the profile.
func (h *Handler) UploadTeacherPhoto(c *gin.Context) {
	if h.photos == nil || !h.photos.Configured() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "image storage not configured"})
		return
	}
	ctx := c.Request.Context()

	var url string
	if strings.Contains(c.ContentType(), "multipart/form-data") {
		file, header, err := c.Request.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file field required"})
			return
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "read file failed"})
			return
		}
		res, err := h.photos.UploadBytes(ctx, data, header.Filename)
		if err != nil {
			h.log.Error("photo upload failed", "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "image upload failed"})
			return
		}
		url = res.SecureURL
	} else {
		var body struct {
			Data string `json:"data" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": `provide {"data": "<base64 data URL>"}`})
			return
		}
		res, err := h.photos.UploadBase64(ctx, body.Data)
		if err != nil {
			h.log.Error("photo upload failed", "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "image upload failed"})
			return
		}
		url = res.SecureURL
	}

	t, err := h.svc.UpdateTeacherProfile(ctx, attendance.TeacherUpdate{PhotoURL: &url})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// ---------- Classes ----------

func (h *Handler) ListClasses(c *gin.Context) {
	classes, err := h.svc.ListClasses(c.Request.Context(), attendance.ClassQuery{
		Name: c.Query("q"),
		Sort: c.DefaultQuery("sort", "newest"),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"classes": classes})
}

type classRequest struct {
	Name string `json:"name" binding:"required"`
}

func (h *Handler) CreateClass(c *gin.Context) {
	var req classRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	cl, err := h.svc.AddClass(c.Request.Context(), req.Name)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, cl)
}

func (h *Handler) RenameClass(c *gin.Context) {
	var req classRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	cl, err := h.svc.RenameClass(c.Request.Context(), c.Param("id"), req.Name)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cl)
}

func (h *Handler) DeleteClass(c *gin.Context) {
	if err := h.svc.DeleteClass(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// dateParam parses ?date=, defaulting to today.
func (h *Handler) dateParam(c *gin.Context) (attendance.Date, bool) {
	raw := c.Query("date")
	if raw == "" {
		return h.svc.Today(), true
	}
	d, err := attendance.ParseDate(raw)
	if err != nil {
		badRequest(c, err)
		return "", false
	}
	return d, true
}

func (h *Handler) ClassStats(c *gin.Context) {
	date, ok := h.dateParam(c)
	if !ok {
		return
	}
	st, err := h.svc.DailyStats(c.Request.Context(), c.Param("id"), date)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) ClassHistory(c *gin.Context) {
	points, err := h.svc.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": points})
}

func (h *Handler) ClassSummary(c *gin.Context) {
	rows, err := h.svc.ClassSummary(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": rows})
}

func (h *Handler) ClassExport(c *gin.Context) {
	date, ok := h.dateParam(c)
	if !ok {
		return
	}
	rows, err := h.svc.Export(c.Request.Context(), c.Param("id"), date)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *Handler) ClassAttendance(c *gin.Context) {
	date, ok := h.dateParam(c)
	if !ok {
		return
	}
	recs, err := h.svc.ClassRecords(c.Request.Context(), c.Param("id"), date)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": recs})
}

func splitIDs(raw string) []string {
	var ids []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			ids = append(ids, p)
		}
	}
	return ids
}

func (h *Handler) CompareClasses(c *gin.Context) {
	ids := splitIDs(c.Query("ids"))
	if len(ids) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ids is required"})
		return
	}
	series, err := h.svc.Compare(c.Request.Context(), ids)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"classes": series})
}

// ---------- Attendance ----------

type setStatusRequest struct {
	StudentID string `json:"student_id" binding:"required"`
	ClassID   string `json:"class_id" binding:"required"`
	Date      string `json:"date" binding:"required"`
	Status    string `json:"status" binding:"required,oneof=present absent"`
}

func (h *Handler) SetStatus(c *gin.Context) {
	var req setStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	rec, err := h.svc.SetStatus(c.Request.Context(), req.StudentID, req.ClassID, attendance.Date(req.Date), attendance.Status(req.Status))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

type decisionRequest struct {
	Decision string `json:"decision" binding:"required,oneof=approved rejected"`
}

func (h *Handler) DecideJustification(c *gin.Context) {
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	rec, err := h.svc.UpdateJustificationStatus(c.Request.Context(), c.Param("recordId"), attendance.JustificationStatus(req.Decision))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// ---------- Students ----------

func (h *Handler) ListStudents(c *gin.Context) {
	students, err := h.svc.Students(c.Request.Context(), c.Query("class_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if students == nil {
		students = []attendance.Student{}
	}
	c.JSON(http.StatusOK, gin.H{"students": students})
}

func (h *Handler) StudentProfile(c *gin.Context) {
	p, err := h.svc.StudentProfile(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type enrollmentRequest struct {
	ClassIDs []string `json:"class_ids" binding:"required,min=1"`
}

func (h *Handler) SetEnrollment(c *gin.Context) {
	var req enrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	st, err := h.svc.SetEnrollment(c.Request.Context(), c.Param("id"), req.ClassIDs)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// ---------- Communications ----------

func (h *Handler) ListCommunications(c *gin.Context) {
	logs, err := h.svc.Communications(c.Request.Context(), c.Query("student_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if logs == nil {
		logs = []attendance.CommunicationLog{}
	}
	c.JSON(http.StatusOK, gin.H{"communications": logs})
}

type draftRequest struct {
	StudentID string `json:"student_id" binding:"required"`
	ClassID   string `json:"class_id" binding:"required"`
	Type      string `json:"type" binding:"required"`
}

func (h *Handler) DraftCommunication(c *gin.Context) {
	var req draftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	text, err := h.assistant.Draft(c.Request.Context(), req.StudentID, req.ClassID, attendance.CommunicationType(req.Type))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"content": text})
}

type communicationRequest struct {
	StudentID string `json:"student_id" binding:"required"`
	ClassID   string `json:"class_id" binding:"required"`
	Type      string `json:"type" binding:"required"`
	Content   string `json:"content" binding:"required"`
}

func (h *Handler) LogCommunication(c *gin.Context) {
	var req communicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	log, err := h.svc.LogCommunication(c.Request.Context(), req.StudentID, req.ClassID, attendance.CommunicationType(req.Type), req.Content)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, log)
}

// ---------- Assistant ----------

type assistantRequest struct {
	ClassID   string   `json:"class_id"`
	ClassIDs  []string `json:"class_ids"`
	StudentID string   `json:"student_id"`
}

func (h *Handler) assistantReply(c *gin.Context, run func(req assistantRequest) (string, error)) {
	var req assistantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	text, err := run(req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"content": text})
}

func (h *Handler) AssistantSummary(c *gin.Context) {
	h.assistantReply(c, func(req assistantRequest) (string, error) {
		return h.assistant.Summary(c.Request.Context(), req.ClassID)
	})
}

func (h *Handler) AssistantAnalysis(c *gin.Context) {
	h.assistantReply(c, func(req assistantRequest) (string, error) {
		return h.assistant.Analysis(c.Request.Context(), req.ClassID)
	})
}

func (h *Handler) AssistantRisk(c *gin.Context) {
	h.assistantReply(c, func(req assistantRequest) (string, error) {
		return h.assistant.Risk(c.Request.Context(), req.ClassID, req.StudentID)
	})
}

func (h *Handler) AssistantCompare(c *gin.Context) {
	h.assistantReply(c, func(req assistantRequest) (string, error) {
		return h.assistant.Compare(c.Request.Context(), req.ClassIDs)
	})
}
