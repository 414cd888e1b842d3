package handler

import (
	"net/http"
	"strconv"

	"github.com/codeMaster/reqtrace/internal/apperr"
	"github.com/gin-gonic/gin"
)

// Response helpers

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "success",
		"data":    data,
	})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, gin.H{
		"code":    0,
		"message": "success",
		"data":    data,
	})
}

func SuccessPaged(c *gin.Context, list interface{}, total int64, page, pageSize int) {
	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "success",
		"data": gin.H{
			"list":      list,
			"total":     total,
			"page":      page,
			"page_size": pageSize,
		},
	})
}

func Error(c *gin.Context, httpCode int, code int, message string, data interface{}) {
	c.JSON(httpCode, gin.H{
		"code":    code,
		"message": message,
		"data":    data,
	})
}

func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, 40001, message, nil)
}

// Business codes: the first three digits repeat the HTTP status.
var conflictCodes = map[apperr.Reason]int{
	apperr.ReasonNone:                  40900,
	apperr.ReasonCycleDetected:         40901,
	apperr.ReasonCrossProjectReference: 40902,
	apperr.ReasonInvalidTrace:          40903,
	apperr.ReasonDuplicateID:           40904,
	apperr.ReasonHasDependents:         40905,
	apperr.ReasonInvalidReference:      40906,
	apperr.ReasonStaleWrite:            40907,
}

// StatusOf maps err onto an HTTP status and business code.
func StatusOf(err error) (int, int) {
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		return http.StatusNotFound, 40401
	case apperr.KindValidationFailed:
		return http.StatusBadRequest, 40001
	case apperr.KindConflict:
		code, ok := conflictCodes[apperr.ReasonOf(err)]
		if !ok {
			code = 40900
		}
		return http.StatusConflict, code
	case apperr.KindTransient:
		return http.StatusServiceUnavailable, 50301
	}
	return http.StatusInternalServerError, 50001
}

// Fail writes err in the response envelope. The kind, the conflict reason
// and the offending ids go under data so callers can correct the request.
func Fail(c *gin.Context, err error) {
	status, code := StatusOf(err)
	data := gin.H{"kind": apperr.KindOf(err)}
	if r := apperr.ReasonOf(err); r != apperr.ReasonNone {
		data["reason"] = r
	}
	if ids := apperr.IDsOf(err); len(ids) > 0 {
		data["ids"] = ids
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	_ = c.Error(err)
	Error(c, status, code, msg, data)
}

func parsePage(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}

// paginate returns the page of items selected by parsePage.
func paginate[T any](items []T, page, pageSize int) []T {
	start := (page - 1) * pageSize
	if start >= len(items) {
		return []T{}
	}
	end := min(start+pageSize, len(items))
	return items[start:end]
}

func parseBool(c *gin.Context, name string) (bool, bool) {
	raw := c.Query(name)
	if raw == "" {
		return false, true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		BadRequest(c, "invalid "+name+": "+raw)
		return false, false
	}
	return v, true
}
