package logger

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// hasVerb 判断格式串里是否有占位符（%% 除外）
func hasVerb(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] != '%' {
			continue
		}
		if i+1 < len(s) && s[i+1] == '%' {
			i++
			continue
		}
		return true
	}
	return false
}

func logf(event *zerolog.Event, format any, args ...any) {
	if event == nil {
		return
	}
	event = event.CallerSkipFrame(2)

	s, ok := format.(string)
	switch {
	case ok && len(args) == 0:
		event.Msg(s)
	case ok && hasVerb(s):
		event.Msgf(s, args...)
	default:
		parts := make([]string, 0, len(args)+1)
		parts = append(parts, fmt.Sprint(format))
		for _, a := range args {
			parts = append(parts, fmt.Sprint(a))
		}
		event.Msg(strings.Join(parts, " "))
	}
}

func Infof(format any, v ...any) {
	logf(log.Logger.Info(), format, v...)
}

func Debugf(format any, v ...any) {
	logf(log.Logger.Debug(), format, v...)
}

func Warnf(format any, v ...any) {
	logf(log.Logger.Warn(), format, v...)
}

func Errorf(format any, v ...any) {
	logf(log.Logger.Error(), format, v...)
}
