package goplus

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/utrading/utrading-signal-engine/pkg/logger"
)

// Recover 捕获 panic 并记录调用栈，需直接 defer 调用
func Recover() {
	if r := recover(); r != nil {
		logger.Error().Msg(panicMessage(r))
	}
}

// SafeRun 执行 fn，panic 转为 error 返回
func SafeRun(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			msg := panicMessage(r)
			logger.Error().Msg(msg)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func panicMessage(r any) string {
	const maxDepth = 32

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("panic: %v\ncallers:\n", r))
	for i := 2; i <= maxDepth; i++ {
		_, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		sb.WriteString(fmt.Sprintf("%s:%d\n", file, line))
	}
	return sb.String()
}
