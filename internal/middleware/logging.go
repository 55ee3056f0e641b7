// Package middleware 存放 Gin 框架的中间件。
package middleware

import (
	"askto-go/pkg/log"
	"bytes"
	"io"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

// 连续 6 位以上的数字视为可能的号码
var digitRunRe = regexp.MustCompile(`\d{6,}`)

// bodyLogWriter 用于捕获响应体
type bodyLogWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

// Write 实现了 io.Writer 接口，将响应写入 gin.ResponseWriter 和一个内部的 buffer
func (w bodyLogWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// MaskDigits 把文本中的长数字串替换为只保留后四位的形式。
func MaskDigits(s string) string {
	return digitRunRe.ReplaceAllStringFunc(s, log.MaskPhone)
}

// RequestLogger 是一个 Gin 中间件，记录请求和响应日志，其中的号码只保留后四位。
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		// 读取并重新缓存请求体
		var requestBody []byte
		if c.Request.Body != nil {
			requestBody, _ = io.ReadAll(c.Request.Body)
		}
		c.Request.Body = io.NopCloser(bytes.NewBuffer(requestBody))

		blw := &bodyLogWriter{body: bytes.NewBufferString(""), ResponseWriter: c.Writer}
		c.Writer = blw

		c.Next()

		log.Infow("HTTP Request Log",
			"statusCode", c.Writer.Status(),
			"latency", time.Since(startTime).String(),
			"clientIP", c.ClientIP(),
			"method", c.Request.Method,
			"path", MaskDigits(c.Request.URL.Path),
			"requestBody", MaskDigits(string(requestBody)),
			"responseBody", MaskDigits(blw.body.String()),
		)
	}
}
