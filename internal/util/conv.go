package util

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// QueryInt 读取整型查询参数，缺省或非法时返回 def
func QueryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}
