package controller

import (
	"net/http"
	"strings"
	"time"

	"coderun/internal/runner/service"
	appErr "coderun/pkg/errors"
	"coderun/pkg/utils/logger"
	"coderun/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultCompatLanguage = "python"
	wsWriteWait           = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// TaskController handles task HTTP endpoints.
type TaskController struct {
	taskService *service.TaskService
}

// NewTaskController creates a new TaskController.
func NewTaskController(taskService *service.TaskService) *TaskController {
	return &TaskController{taskService: taskService}
}

// Create handles submission requests.
func (h *TaskController) Create(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	out, err := h.taskService.Submit(c.Request.Context(), service.SubmitInput{
		Language: req.Language,
		Code:     req.Code,
		Input:    req.Input,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, out)
}

// Get returns the pending view or the stored result of one task.
func (h *TaskController) Get(c *gin.Context) {
	view, err := h.taskService.Poll(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, view)
}

// Watch upgrades to a websocket and sends one frame once the task finishes or the watch window ends.
func (h *TaskController) Watch(c *gin.Context) {
	taskID := strings.TrimSpace(c.Param("id"))
	if taskID == "" {
		response.BadRequest(c, "Invalid task id")
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx := logger.WithTask(c.Request.Context(), taskID)
	view, err := h.taskService.Watch(ctx, taskID)
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err != nil {
		e := appErr.GetError(err)
		logger.Warn(ctx, "watch failed", zap.Error(err))
		_ = conn.WriteJSON(response.Response{Code: e.Code, Message: e.Error(), TraceID: c.GetString("trace_id")})
	} else if err := conn.WriteJSON(view); err != nil {
		logger.Warn(ctx, "websocket write failed", zap.Error(err))
		return
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// Languages lists the accepted language tags.
func (h *TaskController) Languages(c *gin.Context) {
	langs := h.taskService.Languages()
	out := LanguagesResponse{Languages: make([]string, 0, len(langs))}
	for _, lang := range langs {
		out.Languages = append(out.Languages, string(lang))
	}
	response.Success(c, out)
}

// Execute is the unwrapped submission endpoint. The language defaults to python.
func (h *TaskController) Execute(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, compatError{Code: int(appErr.InvalidParams), Detail: "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Language) == "" {
		req.Language = defaultCompatLanguage
	}
	out, err := h.taskService.Submit(c.Request.Context(), service.SubmitInput{
		Language: req.Language,
		Code:     req.Code,
		Input:    req.Input,
	})
	if err != nil {
		writeCompatError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// Result is the unwrapped poll endpoint.
func (h *TaskController) Result(c *gin.Context) {
	view, err := h.taskService.Poll(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeCompatError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func writeCompatError(c *gin.Context, err error) {
	e := appErr.GetError(err)
	status := e.Code.HTTPStatus()
	if status >= http.StatusInternalServerError {
		logger.Error(c.Request.Context(), "request error", zap.Int("code", int(e.Code)), zap.Error(err))
	}
	c.JSON(status, compatError{Code: int(e.Code), Detail: e.Error()})
}
