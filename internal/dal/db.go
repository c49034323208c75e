package dal

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	proxymysql "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/proxy"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/dbresolver"

	"github.com/utrading/utrading-signal-engine/config"
	"github.com/utrading/utrading-signal-engine/internal/models"
	"github.com/utrading/utrading-signal-engine/pkg/logger"
)

// GormLogger 将 gorm 日志转到 zerolog
type GormLogger struct{}

func (l GormLogger) Printf(f string, args ...any) {
	log.Printf(f, args...)
}

var (
	db     *gorm.DB
	dbOnce sync.Once
)

// InitDB 按 driver 连接 mysql 或 sqlite，只执行一次
func InitDB(cfg config.MySQL) {
	dbOnce.Do(func() {
		var err error
		switch cfg.Driver {
		case "sqlite":
			db, err = OpenSQLite(cfg.DSN)
		default:
			db, err = connectMySQL(cfg)
		}
		if err != nil {
			panic(fmt.Sprintf("connect database failed: %v", err))
		}
	})
}

func newGormLogger() gormlogger.Interface {
	return gormlogger.New(GormLogger{}, gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

// OpenSQLite 打开 sqlite 数据库，本地运行和测试使用
func OpenSQLite(dsn string) (*gorm.DB, error) {
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: newGormLogger()})
	if err != nil {
		return nil, err
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	// sqlite 单写者
	sqlDB.SetMaxOpenConns(1)
	return conn, nil
}

// registerProxyDialer 注册 SOCKS5 代理拨号器
func registerProxyDialer(proxyAddr string) error {
	dialer, err := proxy.SOCKS5("tcp", proxyAddr, nil, &net.Dialer{})
	if err != nil {
		return fmt.Errorf("create proxy dialer failed: %w", err)
	}

	proxymysql.RegisterDialContext("dial", func(ctx context.Context, addr string) (net.Conn, error) {
		return dialer.Dial("tcp", addr)
	})

	return nil
}

func connectMySQL(cfg config.MySQL) (*gorm.DB, error) {
	if cfg.ProxyEnabled {
		if err := registerProxyDialer(cfg.ProxyAddr); err != nil {
			return nil, err
		}
		logger.Infof("mysql proxy enabled: %s", cfg.ProxyAddr)
	}

	conn, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{
		Logger:      newGormLogger(),
		PrepareStmt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect mysql master: %w", err)
	}

	maxIdleTime := time.Hour
	if cfg.SetConnMaxIdleTime > 0 {
		maxIdleTime = time.Duration(cfg.SetConnMaxIdleTime) * time.Second
	}
	maxLifetime := 2 * time.Hour
	if cfg.SetConnMaxLifetime > 0 {
		maxLifetime = time.Duration(cfg.SetConnMaxLifetime) * time.Second
	}

	// 读写分离
	if len(cfg.SlaveAddr) > 0 {
		replicas := make([]gorm.Dialector, 0, len(cfg.SlaveAddr))
		for _, addr := range cfg.SlaveAddr {
			replicas = append(replicas, mysql.Open(addr))
		}
		plugin := dbresolver.Register(dbresolver.Config{Replicas: replicas, TraceResolverMode: true}).
			SetConnMaxIdleTime(maxIdleTime).
			SetConnMaxLifetime(maxLifetime).
			SetMaxIdleConns(cfg.MaxIdleConnections).
			SetMaxOpenConns(cfg.MaxOpenConnections)
		if err = conn.Use(plugin); err != nil {
			return nil, fmt.Errorf("register dbresolver: %w", err)
		}
		logger.Infof("mysql %d slave(s) configured", len(cfg.SlaveAddr))
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConnections)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConnections)
	sqlDB.SetConnMaxIdleTime(maxIdleTime)
	sqlDB.SetConnMaxLifetime(maxLifetime)

	logger.Info().
		Int("max_idle", cfg.MaxIdleConnections).
		Int("max_open", cfg.MaxOpenConnections).
		Dur("max_idle_time", maxIdleTime).
		Dur("max_lifetime", maxLifetime).
		Msg("mysql connected")

	return conn, nil
}

func DB() *gorm.DB {
	return db
}

func Close() {
	if db == nil {
		return
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Error().Err(err).Msg("get sql.DB failed")
		return
	}
	if err = sqlDB.Close(); err != nil {
		logger.Error().Err(err).Msg("close database failed")
		return
	}
	logger.Info().Msg("database closed")
}

func modelList() []any {
	return []any{
		&models.TrackedSignal{},
		&models.Position{},
		&models.Trade{},
		&models.AnalysisAccount{},
		&models.StrategyVersion{},
	}
}

// AutoMigrate 迁移失败只记录日志，不阻断启动
func AutoMigrate() {
	if db == nil {
		log.Error().Msg("database not initialized, skip auto migration")
		return
	}
	for _, model := range modelList() {
		if err := db.AutoMigrate(model); err != nil {
			log.Warn().Err(err).Str("table", tableName(model)).Msg("auto migrate failed, continuing anyway")
		} else {
			log.Info().Str("table", tableName(model)).Msg("auto migrate success")
		}
	}
}

// Migrate 迁移全部表，出错即返回
func Migrate(conn *gorm.DB) error {
	return conn.AutoMigrate(modelList()...)
}

func tableName(model any) string {
	if t, ok := model.(interface{ TableName() string }); ok {
		return t.TableName()
	}
	return "unknown"
}
