// Package response carries the JSON error envelope shared by every
// REST handler.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type Error struct {
	status  int
	Message string            `json:"error"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func NewValidationError(fields map[string]string) Error {
	return Error{status: http.StatusBadRequest, Message: "validation failed", Fields: fields}
}

func NewBadRequestError(message string) Error {
	return Error{status: http.StatusBadRequest, Message: message}
}

func NewNotFoundError(message string) Error {
	return Error{status: http.StatusNotFound, Message: message}
}

// NewRemoteError wraps a failed remote write. The optimistic change has
// already been rolled back by the time this reaches a client.
func NewRemoteError(message string) Error {
	return Error{status: http.StatusBadGateway, Message: message}
}

func NewInternalError() Error {
	return Error{status: http.StatusInternalServerError, Message: "internal error"}
}

func HandleError(e Error, c *gin.Context) {
	c.AbortWithStatusJSON(e.status, e)
}
