package logger

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	DateFormat = "2006-01-02"
	TimeFormat = "2006-01-02 15:04:05"
)

// sink 持有当前生效的全部文件 writer
type sink struct {
	mu      sync.Mutex
	files   map[zerolog.Level]*lumberjack.Logger
	stop    chan struct{}
	stopped bool
}

var active = &sink{}

// initLogger 按配置替换全局 logger
func initLogger(cfg Config) error {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	if cfg.LevelFiles.IsEmpty() {
		cfg.LevelFiles = LevelFiles{{Level: INFO, Path: "logs/info.log"}}
	}
	for _, p := range cfg.LevelFiles.GetPaths() {
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return err
		}
	}

	active.mu.Lock()
	if active.stop != nil && !active.stopped {
		close(active.stop)
	}
	active.stop = make(chan struct{})
	active.stopped = false
	stop := active.stop
	active.mu.Unlock()

	install(cfg)
	go rotateDaily(cfg, stop)
	return nil
}

// install 构建 writer 并替换 log.Logger
func install(cfg Config) {
	var mask uint8
	for _, entry := range cfg.LevelFiles {
		mask |= 1 << parseLevel(entry.Level)
	}

	files := make(map[zerolog.Level]*lumberjack.Logger, len(cfg.LevelFiles))
	writers := make([]io.Writer, 0, len(cfg.LevelFiles)+1)
	for _, entry := range cfg.LevelFiles {
		lvl := parseLevel(entry.Level)
		lj := &lumberjack.Logger{
			Filename:   entry.Path,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		files[lvl] = lj
		writers = append(writers, &levelWriter{
			level: lvl,
			mask:  mask,
			out:   zerolog.ConsoleWriter{Out: lj, TimeFormat: TimeFormat, NoColor: true},
		})
	}
	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: TimeFormat})
	}

	active.mu.Lock()
	old := active.files
	active.files = files
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Caller().Logger()
	active.mu.Unlock()

	closeFiles(old)
}

// levelWriter 只接收本级别日志；未单独配置文件的级别落到 info，fatal 未配置时落到 error
type levelWriter struct {
	level zerolog.Level
	mask  uint8
	out   io.Writer
}

func (w *levelWriter) Write(p []byte) (int, error) {
	return w.out.Write(p)
}

func (w *levelWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	configured := w.mask&(1<<level) != 0
	switch {
	case level == w.level:
		return w.out.Write(p)
	case w.level == zerolog.InfoLevel && !configured:
		return w.out.Write(p)
	case w.level == zerolog.ErrorLevel && level == zerolog.FatalLevel && !configured:
		return w.out.Write(p)
	}
	return len(p), nil
}

func parseLevel(name string) zerolog.Level {
	switch name {
	case "debug", "DEBUG":
		return zerolog.DebugLevel
	case "warn", "WARN":
		return zerolog.WarnLevel
	case "error", "ERROR":
		return zerolog.ErrorLevel
	case "fatal", "FATAL":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

func closeFiles(files map[zerolog.Level]*lumberjack.Logger) {
	for lvl, lj := range files {
		if err := lj.Close(); err != nil {
			log.Logger.Err(err).Str("level", lvl.String()).Msg("close log file failed")
		}
	}
}

// rotateDaily 每天零点轮转一次
func rotateDaily(cfg Config, stop <-chan struct{}) {
	for {
		now := time.Now()
		next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		active.mu.Lock()
		var failed bool
		for lvl, lj := range active.files {
			if err := lj.Rotate(); err != nil {
				failed = true
				log.Logger.Err(err).Str("level", lvl.String()).Msg("rotate log file failed")
			}
		}
		active.mu.Unlock()
		if !failed {
			install(cfg)
			log.Logger.Info().Str("date", next.Format(DateFormat)).Msg("log files rotated")
		}
	}
}

// L 返回全局 logger
func L() zerolog.Logger {
	return log.Logger
}

// With 返回带组件字段的子 logger
func With(component string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Logger()
}

func Info() *zerolog.Event {
	return log.Logger.Info()
}

func Debug() *zerolog.Event {
	return log.Logger.Debug()
}

func Error() *zerolog.Event {
	return log.Logger.Error()
}

func Warn() *zerolog.Event {
	return log.Logger.Warn()
}

func Fatal() *zerolog.Event {
	return log.Logger.Fatal()
}

// Err 直接记录错误
func Err(err error) *zerolog.Event {
	return log.Logger.Err(err)
}

// Close 停止轮转并关闭文件
func Close() {
	active.mu.Lock()
	if active.stop != nil && !active.stopped {
		close(active.stop)
		active.stopped = true
	}
	files := active.files
	active.files = nil
	active.mu.Unlock()

	closeFiles(files)
}
