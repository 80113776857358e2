package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/yoockh/mockcall/internal/utils"
)

type APIError struct {
	Code    utils.Code `json:"code"`
	Message string     `json:"message"`
}

func writeError(c *gin.Context, err error) {
	status := utils.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}

	var ae *utils.AppError
	if errors.As(err, &ae) {
		c.JSON(status, APIError{
			Code:    ae.Code,
			Message: ae.Message,
		})
		return
	}

	c.JSON(status, APIError{
		Code:    utils.CodeInternal,
		Message: http.StatusText(status),
	})
}

func requireParam(c *gin.Context, op, name string) (string, bool) {
	v := c.Param(name)
	if v == "" {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "missing "+name, nil))
		return "", false
	}
	return v, true
}

// requireUUIDParam is requireParam for ids that key Postgres uuid columns.
func requireUUIDParam(c *gin.Context, op, name string) (string, bool) {
	v, ok := requireParam(c, op, name)
	if !ok {
		return "", false
	}
	if _, err := uuid.Parse(v); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, name+" must be a uuid", err))
		return "", false
	}
	return v, true
}
