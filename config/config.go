package config

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/utrading/utrading-signal-engine/pkg/logger"
)

type Engine struct {
	HealthServerAddr      string        `toml:"health_server_addr"`
	ClosureCron           string        `toml:"closure_cron"`     // 带秒字段的 cron 表达式
	WeekStart             string        `toml:"week_start"`       // 周线收盘日
	AnalysisTimeout       time.Duration `toml:"analysis_timeout"` // 单账户分析上限，需小于 1 分钟
	CallTimeout           time.Duration `toml:"call_timeout"`     // 外部调用超时
	MaxConcurrentAccounts int           `toml:"max_concurrent_accounts"`
	AccountReloadInterval time.Duration `toml:"account_reload_interval"`
	SymbolReloadInterval  time.Duration `toml:"symbol_reload_interval"`
}

type Trigger struct {
	Backend            string        `toml:"backend"` // memory / redis
	RefreshInterval    time.Duration `toml:"refresh_interval"`
	PriceChangePercent float64       `toml:"price_change_percent"`
	RSIOversold        float64       `toml:"rsi_oversold"`
	RSIOverbought      float64       `toml:"rsi_overbought"`
	RSIExtremeLow      float64       `toml:"rsi_extreme_low"`
	RSIExtremeHigh     float64       `toml:"rsi_extreme_high"`
	ExtremeCooldown    time.Duration `toml:"extreme_cooldown"`
	PositionCadence    time.Duration `toml:"position_cadence"`
	RSIInterval        string        `toml:"rsi_interval"`
	RSIPeriod          int           `toml:"rsi_period"`
	KlineLimit         int           `toml:"kline_limit"`
}

type Signal struct {
	DefaultExpiry        time.Duration `toml:"default_expiry"`
	EvalInterval         time.Duration `toml:"eval_interval"`
	PriceConcurrency     int           `toml:"price_concurrency"`
	DefaultStopLossPct   float64       `toml:"default_stop_loss_pct"`
	DefaultTakeProfitPct float64       `toml:"default_take_profit_pct"`
	MinConfidence        float64       `toml:"min_confidence"`
	Retention            time.Duration `toml:"retention"` // EXPIRED/CANCELLED 保留时长，0 不清理
}

type Position struct {
	MonitorInterval time.Duration `toml:"monitor_interval"`
	PriceCacheTTL   time.Duration `toml:"price_cache_ttl"`
	WorkerPoolSize  int           `toml:"worker_pool_size"`
	SnapshotFlush   time.Duration `toml:"snapshot_flush"`
	SnapshotBatch   int           `toml:"snapshot_batch"`
}

type MySQL struct {
	Driver             string   `toml:"driver"` // mysql / sqlite
	DSN                string   `toml:"dsn"`
	SlaveAddr          []string `toml:"slave_addr"`
	MaxIdleConnections int      `toml:"max_idle_connections"`
	MaxOpenConnections int      `toml:"max_open_connections"`
	SetConnMaxLifetime int      `toml:"set_conn_max_lifetime"`
	SetConnMaxIdleTime int      `toml:"set_conn_max_idle_time"`
	ProxyEnabled       bool     `toml:"proxy_enabled"`
	ProxyAddr          string   `toml:"proxy_addr"`
}

type Redis struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

type NATS struct {
	Endpoint string `toml:"endpoint"`
	Subject  string `toml:"subject"`
}

type Kafka struct {
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
}

type Feedback struct {
	Transport  string        `toml:"transport"` // nats / kafka / none
	QueueSize  int           `toml:"queue_size"`
	MaxRetry   int           `toml:"max_retry"`
	RetryDelay time.Duration `toml:"retry_delay"`
}

type Binance struct {
	Testnet        bool          `toml:"testnet"`
	RestBaseURL    string        `toml:"rest_base_url"`
	StreamURL      string        `toml:"stream_url"`
	StreamEnabled  bool          `toml:"stream_enabled"`
	StreamMaxAge   time.Duration `toml:"stream_max_age"`
	HTTPTimeout    time.Duration `toml:"http_timeout"`
	CredentialsEnv string        `toml:"credentials_env"` // 环境变量前缀
}

type Decision struct {
	Endpoint    string        `toml:"endpoint"`
	Timeout     time.Duration `toml:"timeout"`
	Methodology string        `toml:"methodology"`
}

type Logger struct {
	Level      string `toml:"level"`
	Dir        string `toml:"dir"`
	MaxSize    int    `toml:"max_size"`
	MaxBackups int    `toml:"max_backups"`
	MaxAge     int    `toml:"max_age"`
	Compress   bool   `toml:"compress"`
	Console    bool   `toml:"console"`
}

type Config struct {
	Engine   Engine   `toml:"engine"`
	Trigger  Trigger  `toml:"trigger"`
	Signal   Signal   `toml:"signal"`
	Position Position `toml:"position"`
	MySQL    MySQL    `toml:"mysql"`
	Redis    Redis    `toml:"redis"`
	NATS     NATS     `toml:"nats"`
	Kafka    Kafka    `toml:"kafka"`
	Feedback Feedback `toml:"feedback"`
	Binance  Binance  `toml:"binance"`
	Decision Decision `toml:"decision"`
	Logger   Logger   `toml:"log"`
}

// WeekStartDay 解析周线收盘日，非法值回落到周一
func (e Engine) WeekStartDay() time.Weekday {
	switch strings.ToLower(e.WeekStart) {
	case "sunday":
		return time.Sunday
	case "tuesday":
		return time.Tuesday
	case "wednesday":
		return time.Wednesday
	case "thursday":
		return time.Thursday
	case "friday":
		return time.Friday
	case "saturday":
		return time.Saturday
	default:
		return time.Monday
	}
}

var (
	cfg         *Config
	cfgPath     string
	cfgLock     sync.RWMutex
	lastModTime time.Time
	stopChan    chan struct{}
	stopOnce    sync.Once
)

func Default() *Config {
	return &Config{
		Engine: Engine{
			HealthServerAddr:      "0.0.0.0:16810",
			ClosureCron:           "0 * * * * *",
			WeekStart:             "monday",
			AnalysisTimeout:       50 * time.Second,
			CallTimeout:           8 * time.Second,
			MaxConcurrentAccounts: 16,
			AccountReloadInterval: time.Minute,
			SymbolReloadInterval:  2 * time.Hour,
		},
		Trigger: Trigger{
			Backend:            "memory",
			RefreshInterval:    4 * time.Hour,
			PriceChangePercent: 0.5,
			RSIOversold:        30,
			RSIOverbought:      70,
			RSIExtremeLow:      20,
			RSIExtremeHigh:     80,
			ExtremeCooldown:    time.Hour,
			PositionCadence:    time.Hour,
			RSIInterval:        "15m",
			RSIPeriod:          14,
			KlineLimit:         100,
		},
		Signal: Signal{
			DefaultExpiry:        24 * time.Hour,
			EvalInterval:         time.Minute,
			PriceConcurrency:     8,
			DefaultStopLossPct:   2,
			DefaultTakeProfitPct: 4,
			MinConfidence:        0.6,
			Retention:            30 * 24 * time.Hour,
		},
		Position: Position{
			MonitorInterval: 3 * time.Second,
			PriceCacheTTL:   time.Second,
			WorkerPoolSize:  16,
			SnapshotFlush:   time.Second,
			SnapshotBatch:   100,
		},
		MySQL: MySQL{
			Driver:             "mysql",
			DSN:                "root:password@tcp(localhost:3306)/utrading?charset=utf8mb4&parseTime=True&loc=UTC",
			SlaveAddr:          []string{},
			MaxIdleConnections: 16,
			MaxOpenConnections: 64,
			SetConnMaxLifetime: 7200,
			SetConnMaxIdleTime: 3600,
			ProxyAddr:          "127.0.0.1:7890",
		},
		Redis: Redis{
			Addr: "localhost:6379",
		},
		NATS: NATS{
			Endpoint: "nats://localhost:4222",
			Subject:  "trade.feedback",
		},
		Kafka: Kafka{
			Brokers: []string{"localhost:9092"},
			Topic:   "trade-feedback",
		},
		Feedback: Feedback{
			Transport:  "nats",
			QueueSize:  1024,
			MaxRetry:   3,
			RetryDelay: 2 * time.Second,
		},
		Binance: Binance{
			StreamURL:      "wss://fstream.binance.com/ws/!markPrice@arr@1s",
			StreamEnabled:  true,
			StreamMaxAge:   3 * time.Second,
			HTTPTimeout:    8 * time.Second,
			CredentialsEnv: "BINANCE",
		},
		Decision: Decision{
			Endpoint:    "http://localhost:8000",
			Timeout:     10 * time.Second,
			Methodology: "SMC",
		},
		Logger: Logger{
			Level:      "info",
			Dir:        "logs",
			MaxSize:    10,
			MaxBackups: 60,
			MaxAge:     7,
		},
	}
}

func Load(path string) error {
	c := Default()
	if _, err := toml.DecodeFile(path, c); err != nil {
		return err
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	cfgLock.Lock()
	defer cfgLock.Unlock()
	cfg = c
	cfgPath = path
	lastModTime = info.ModTime()

	return nil
}

// Get 未加载时返回默认配置
func Get() *Config {
	cfgLock.RLock()
	defer cfgLock.RUnlock()
	if cfg == nil {
		return Default()
	}
	return cfg
}

// Init 初始化配置并启动定期重载（默认10秒）
func Init(path string) error {
	return InitWithInterval(path, 10*time.Second)
}

func InitWithInterval(path string, interval time.Duration) error {
	if err := Load(path); err != nil {
		return err
	}

	stopChan = make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				reloadIfNeeded()
			case <-stopChan:
				return
			}
		}
	}()

	return nil
}

// Stop 停止配置重载
func Stop() {
	stopOnce.Do(func() {
		if stopChan != nil {
			close(stopChan)
		}
	})
}

// reloadIfNeeded 仅在文件修改时重载
func reloadIfNeeded() {
	cfgLock.RLock()
	path := cfgPath
	lastMod := lastModTime
	cfgLock.RUnlock()

	if path == "" {
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		logger.Error().Err(err).Msg("config stat failed")
		return
	}

	if info.ModTime().After(lastMod) {
		if err = Load(path); err != nil {
			logger.Error().Err(err).Msg("config reload failed")
		} else {
			logger.Info().Msg("config reloaded")
		}
	}
}
