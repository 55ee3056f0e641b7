package repository

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"

	"github.com/go-redis/redis/v8"
)

// ErrIdentityNotFound 持久层中没有该身份，画像和洞察都不能脱离身份存在。
var ErrIdentityNotFound = errors.New("identity not found")

// IsUnavailable 判断错误是否来自存储层的资源耗尽（连接池超时、客户端已关闭、连接失效），
// 这类错误需要作为系统健康信号向上传递，而不是按单轮失败处理。
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, redis.ErrClosed) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection pool timeout") ||
		strings.Contains(msg, "sql: database is closed")
}
