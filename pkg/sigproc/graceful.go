package sigproc

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/utrading/utrading-signal-engine/pkg/goplus"
	"github.com/utrading/utrading-signal-engine/pkg/logger"
)

type HandlerFunc func(os.Signal)

// ForceExitAfter 关闭回调超过该时长仍未返回则强制退出
var ForceExitAfter = 30 * time.Second

// GracefulShutdown 收到 SIGINT/SIGTERM/SIGQUIT 后执行 shutdown，完成或超时后退出进程
func GracefulShutdown(shutdown HandlerFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	goplus.Go(func() {
		sig := <-sigChan
		logger.Info().Str("signal", sig.String()).Msg("received signal, shutting down")

		done := make(chan struct{})
		goplus.Go(func() {
			defer close(done)
			shutdown(sig)
		})

		select {
		case <-done:
		case <-time.After(ForceExitAfter):
			logger.Warn().Dur("timeout", ForceExitAfter).Msg("shutdown timed out, forcing exit")
		}

		os.Exit(0)
	})
}
