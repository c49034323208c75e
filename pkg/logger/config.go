package logger

var (
	DEBUG = "debug"
	INFO  = "info"
	WARN  = "warn"
	ERROR = "error"
	FATAL = "fatal"
)

// LevelFileEntry 单个级别对应的日志文件
type LevelFileEntry struct {
	Level string
	Path  string
}

type LevelFiles []LevelFileEntry

func (lf LevelFiles) IsEmpty() bool {
	return len(lf) == 0
}

// GetPaths 获取所有文件路径
func (lf LevelFiles) GetPaths() []string {
	paths := make([]string, 0, len(lf))
	for _, entry := range lf {
		paths = append(paths, entry.Path)
	}
	return paths
}

type Config struct {
	LevelFiles LevelFiles // 为空时只写 logs/info.log
	MaxSize    int        // 单文件大小上限（MB）
	MaxBackups int
	MaxAge     int // 天
	Level      string
	Compress   bool
	Console    bool
}

func DefaultConfig() Config {
	return Config{
		MaxSize:    10,
		MaxBackups: 100,
		MaxAge:     5,
		Level:      INFO,
	}
}

type Builder struct {
	config Config
}

func NewBuilder() *Builder {
	return &Builder{config: DefaultConfig()}
}

func (b *Builder) SetMaxSize(size int) *Builder {
	b.config.MaxSize = size
	return b
}

func (b *Builder) SetMaxBackups(backups int) *Builder {
	b.config.MaxBackups = backups
	return b
}

func (b *Builder) SetMaxAge(days int) *Builder {
	b.config.MaxAge = days
	return b
}

func (b *Builder) SetLevel(level string) *Builder {
	b.config.Level = level
	return b
}

func (b *Builder) EnableCompression(enable bool) *Builder {
	b.config.Compress = enable
	return b
}

func (b *Builder) EnableConsoleOutput(enable bool) *Builder {
	b.config.Console = enable
	return b
}

// AddLevelFile 追加一个级别文件
func (b *Builder) AddLevelFile(level, path string) *Builder {
	b.config.LevelFiles = append(b.config.LevelFiles, LevelFileEntry{Level: level, Path: path})
	return b
}

func (b *Builder) Build() error {
	return initLogger(b.config)
}
