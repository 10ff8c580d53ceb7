// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"chatwithcode/internal/model"
)

// StatusFor 把流水线错误映射为 HTTP 状态码。
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, model.ErrInvalidURL), errors.Is(err, model.ErrEmptyQuestion):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrBusy), errors.Is(err, model.ErrEmptyStore):
		return http.StatusConflict
	case errors.Is(err, model.ErrGeneration):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
