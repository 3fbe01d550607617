package controller

import (
	"context"
	"strconv"
	"strings"

	"judgeflow/internal/grade/model"
	"judgeflow/internal/grade/service"
	appErr "judgeflow/pkg/errors"
	"judgeflow/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// GradeService is the service surface used by the controller.
type GradeService interface {
	Grade(ctx context.Context, input service.GradeInput) (*model.SubmissionResult, error)
	Run(ctx context.Context, input service.RunInput) (*model.RunResult, error)
	GetSubmission(ctx context.Context, submissionID string) (*model.SubmissionView, error)
	GetProgress(ctx context.Context, userID int64) (*model.UserProgress, error)
}

// GradeController handles grading HTTP endpoints.
type GradeController struct {
	gradeService GradeService
}

// NewGradeController creates a new GradeController.
func NewGradeController(gradeService GradeService) *GradeController {
	return &GradeController{gradeService: gradeService}
}

// Register mounts the grading routes on group.
func (h *GradeController) Register(group *gin.RouterGroup) {
	group.POST("/problems/:id/submissions", h.Submit)
	group.POST("/problems/:id/run", h.Run)
	group.GET("/submissions/:id", h.GetSubmission)
	group.GET("/users/:id/progress", h.GetProgress)
}

// Submit grades a submission synchronously.
func (h *GradeController) Submit(c *gin.Context) {
	problemID, ok := parseID(c)
	if !ok {
		response.BadRequest(c, "Invalid problem id")
		return
	}
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	userID := req.UserID
	if userID == 0 {
		userID = gatewayUserID(c)
	}

	result, err := h.gradeService.Grade(c.Request.Context(), service.GradeInput{
		UserID:         userID,
		ProblemID:      problemID,
		SourceCode:     req.SourceCode,
		Language:       req.Language,
		IdempotencyKey: strings.TrimSpace(c.GetHeader("Idempotency-Key")),
	})
	if err != nil {
		if appErr.Is(err, appErr.AlreadySolved) {
			response.WithCode(c, appErr.AlreadySolved, "", model.GuardResult{
				Success:       false,
				Message:       "You have already solved this problem",
				AlreadySolved: true,
			})
			return
		}
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}

// Run executes the code against one sample without persisting anything.
func (h *GradeController) Run(c *gin.Context) {
	problemID, ok := parseID(c)
	if !ok {
		response.BadRequest(c, "Invalid problem id")
		return
	}
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	result, err := h.gradeService.Run(c.Request.Context(), service.RunInput{
		ProblemID:  problemID,
		SourceCode: req.SourceCode,
		Language:   req.Language,
		Stdin:      req.Stdin,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}

// GetSubmission returns one graded submission.
func (h *GradeController) GetSubmission(c *gin.Context) {
	submissionID := strings.TrimSpace(c.Param("id"))
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	view, err := h.gradeService.GetSubmission(c.Request.Context(), submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, view)
}

// GetProgress returns a user's score and solved count.
func (h *GradeController) GetProgress(c *gin.Context) {
	userID, ok := parseID(c)
	if !ok {
		response.BadRequest(c, "Invalid user id")
		return
	}
	progress, err := h.gradeService.GetProgress(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, progress)
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// gatewayUserID reads the user id forwarded by the gateway, if any.
func gatewayUserID(c *gin.Context) int64 {
	raw, ok := c.Get("user_id")
	if !ok {
		return 0
	}
	s, _ := raw.(string)
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// SubmitRequest defines submission payload.
type SubmitRequest struct {
	UserID     int64  `json:"user_id"`
	Language   string `json:"language" binding:"required"`
	SourceCode string `json:"source_code" binding:"required"`
}

// RunRequest defines run payload. Stdin replaces the sample input when set.
type RunRequest struct {
	Language   string  `json:"language" binding:"required"`
	SourceCode string  `json:"source_code" binding:"required"`
	Stdin      *string `json:"stdin"`
}
