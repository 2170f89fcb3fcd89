package util

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// ParsePage 读取 page/limit 查询参数，非法值回退到默认值
func ParsePage(c *gin.Context, defaultLimit int) (int, int) {
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	page := DefaultPage
	limit := defaultLimit
	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v
		}
	}
	if l := c.Query("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return page, limit
}

func Float64Ptr(v float64) *float64 {
	return &v
}
