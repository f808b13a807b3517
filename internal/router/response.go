package router

import (
	"net/http"

	"medsupply/internal/apperr"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func ok(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"code": 0, "data": data})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "kind": apperr.KindValidation, "msg": msg})
}

// fail 把 apperr 映射成 HTTP；未分类错误一律 500，不暴露内部信息。
func fail(c *gin.Context, log *logrus.Logger, err error) {
	kind := apperr.KindOf(err)
	status := statusOf(kind)
	msg := apperr.Message(err)
	if kind == "" {
		kind = "internal"
		msg = "internal error"
	}
	if status >= http.StatusInternalServerError {
		log.WithError(err).WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
		}).Error("request failed")
	}
	c.JSON(status, gin.H{"code": status, "kind": kind, "msg": msg})
}

func statusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindInvalidState:
		return http.StatusConflict
	case apperr.KindExhaustedRetries, apperr.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
