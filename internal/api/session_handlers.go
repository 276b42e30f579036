package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"classattend/internal/attendance"
	"classattend/internal/session"
)

// ---------- Login / registration ----------

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) TeacherLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	s, err := h.sessions.TeacherLogin(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

type teacherRegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email" binding:"required,email"`
	Sector   string `json:"sector"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) TeacherRegister(c *gin.Context) {
	var req teacherRegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	s, err := h.sessions.RegisterTeacher(c.Request.Context(), session.TeacherRegistration{
		Name:     req.Name,
		Email:    req.Email,
		Sector:   req.Sector,
		Password: req.Password,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

type studentRegisterRequest struct {
	ID       string   `json:"id" binding:"required"`
	Name     string   `json:"name" binding:"required"`
	Email    string   `json:"email" binding:"required,email"`
	Password string   `json:"password" binding:"required"`
	ClassIDs []string `json:"class_ids" binding:"required,min=1"`
}

// deepLink reads the optional classId/date query parameters.
func deepLink(c *gin.Context) *session.DeepLink {
	var link session.DeepLink
	if err := c.ShouldBindQuery(&link); err != nil || link.Empty() {
		return nil
	}
	return &link
}

func (h *Handler) StudentRegister(c *gin.Context) {
	var req studentRegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	s, err := h.sessions.RegisterStudent(c.Request.Context(), session.StudentRegistration{
		ID:       req.ID,
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		ClassIDs: req.ClassIDs,
	}, deepLink(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

func (h *Handler) StudentLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	s, err := h.sessions.StudentLogin(c.Request.Context(), req.Email, req.Password, deepLink(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

type publicClass struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PublicClasses lists class names for the registration form.
func (h *Handler) PublicClasses(c *gin.Context) {
	classes, err := h.svc.ListClasses(c.Request.Context(), attendance.ClassQuery{Sort: "oldest"})
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]publicClass, 0, len(classes))
	for _, cl := range classes {
		out = append(out, publicClass{ID: cl.ID, Name: cl.Name})
	}
	c.JSON(http.StatusOK, gin.H{"classes": out})
}
