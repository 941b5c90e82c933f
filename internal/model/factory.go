package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"promoshot/internal/config"
	"promoshot/internal/entity"
	"promoshot/internal/model/sql"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

const (
	DBTypeMySQL    = "mysql"
	DBTypeSQLite   = "sqlite"
	DBTypePostgres = "postgres"
)

const defaultSQLitePath = "datas/promoshot.db"

// schemaModels 按依赖顺序列出需要迁移的表
var schemaModels = []any{
	&entity.DbUser{},
	&entity.DbCredit{},
	&entity.DbWorkflowTemplate{},
	&entity.DbWorkflowConfiguration{},
	&entity.DbProduct{},
	&entity.DbPromptTemplate{},
	&entity.DbGenerationRequest{},
	&entity.DbGeneratedArtifact{},
	&entity.DbProcessingLog{},
}

// InitRepository 打开数据库并迁移表结构。DBType 为空时返回 nil
func InitRepository(cfg *config.Config) (Repository, error) {
	if cfg == nil || strings.TrimSpace(cfg.DBType) == "" {
		return nil, nil
	}

	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := openGormDB(dialector)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.DBType, err)
	}

	if err := MigrateSchema(db); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return sql.NewGormRepository(db), nil
}

// dialectorFor 根据配置选择驱动。未提供 DSNURL 时由分项配置拼接
func dialectorFor(cfg *config.Config) (gorm.Dialector, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.DBType)) {
	case DBTypeMySQL:
		dsn := cfg.DSNURL
		if dsn == "" {
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
				cfg.DBUser, cfg.DBPassword, cfg.DBAddr, cfg.DBPort, cfg.DBName)
		}
		return mysql.Open(dsn), nil
	case DBTypePostgres:
		dsn := cfg.DSNURL
		if dsn == "" {
			dsn = fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
				cfg.DBAddr, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort)
		}
		return postgres.Open(dsn), nil
	case DBTypeSQLite:
		dsn, err := sqliteDSN(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.DBType)
	}
}

// sqliteDSN 确保数据库目录存在，并打开 WAL 与忙等待，后台轮询与请求并发写入时不会立即返回 SQLITE_BUSY
func sqliteDSN(filePath string) (string, error) {
	if strings.TrimSpace(filePath) == "" {
		filePath = defaultSQLitePath
	}
	if dir := filepath.Dir(filePath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create directory %q: %w", dir, err)
		}
	}
	if strings.Contains(filePath, "?") {
		return filePath, nil
	}
	return filePath + "?_busy_timeout=5000&_journal_mode=WAL", nil
}

// gormLogWriter 将 GORM 的慢查询与错误转发到 logrus
type gormLogWriter struct{}

func (gormLogWriter) Printf(format string, args ...any) {
	logrus.WithField("component", "gorm").Warnf(strings.TrimSpace(format), args...)
}

func openGormDB(dialector gorm.Dialector) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.New(gormLogWriter{}, logger.Config{
			SlowThreshold:             2 * time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
		DisableForeignKeyConstraintWhenMigrating: true,
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return db, nil
}

// MigrateSchema 迁移数据库表结构
func MigrateSchema(db *gorm.DB) error {
	return db.AutoMigrate(schemaModels...)
}

// SchemaTables 返回迁移涉及的表名
func SchemaTables() []string {
	naming := schema.NamingStrategy{SingularTable: true}
	tables := make([]string, 0, len(schemaModels))
	for _, m := range schemaModels {
		if tabler, ok := m.(schema.Tabler); ok {
			tables = append(tables, tabler.TableName())
			continue
		}
		name := fmt.Sprintf("%T", m)
		name = name[strings.LastIndex(name, ".")+1:]
		tables = append(tables, naming.TableName(name))
	}
	return tables
}
