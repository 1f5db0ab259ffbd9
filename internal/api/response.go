package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"agent-engine/internal/agent"
)

// Response is the envelope of every API response.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

// ErrorInfo describes a failed request.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrCodeInternal      = "INTERNAL_ERROR"
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeAgentNotFound = "AGENT_NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
)

func sendSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

func sendCreated(c *gin.Context, data interface{}, message string) {
	c.JSON(http.StatusCreated, Response{Success: true, Data: data, Message: message})
}

func sendCustomError(c *gin.Context, status int, code, message string) {
	c.JSON(status, Response{
		Success: false,
		Error:   &ErrorInfo{Code: code, Message: message},
	})
}

// sendError maps registry errors to HTTP statuses.
func sendError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, agent.ErrAgentNotFound):
		sendCustomError(c, http.StatusNotFound, ErrCodeAgentNotFound, err.Error())
	case errors.Is(err, agent.ErrInvalidAgent):
		sendCustomError(c, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, agent.ErrAgentRunning), errors.Is(err, agent.ErrAgentHasPositions):
		sendCustomError(c, http.StatusConflict, ErrCodeConflict, err.Error())
	default:
		_ = c.Error(err)
		sendCustomError(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
	}
}
