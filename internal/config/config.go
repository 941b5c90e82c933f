package config

import (
	"errors"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	HTTPPort string `env:"HTTP_PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	DBType     string `env:"DBType" envDefault:"sqlite"`
	DSNURL     string `env:"DSN_URL" envDefault:""`
	DBUser     string `env:"DBUser" envDefault:""`
	DBPassword string `env:"DBPassword" envDefault:""`
	DBAddr     string `env:"DBAddr" envDefault:""`
	DBName     string `env:"DBName" envDefault:"promoshot"`
	DBPath     string `env:"DBPath" envDefault:"datas/promoshot.db"`
	DBPort     string `env:"DBPort" envDefault:"5432"`

	StorageType          string `env:"STORAGE_TYPE" envDefault:"local"`
	StorageLocalDir      string `env:"STORAGE_LOCAL_DIR" envDefault:"datas/files"`
	StoragePublicBaseURL string `env:"STORAGE_PUBLIC_BASE_URL" envDefault:"/files"`
	UploadMaxBytes       int64  `env:"UPLOAD_MAX_BYTES" envDefault:"10485760"`

	// S3 兼容存储配置
	StorageS3Region          string `env:"STORAGE_S3_REGION"`
	StorageS3Bucket          string `env:"STORAGE_S3_BUCKET"`
	StorageS3Prefix          string `env:"STORAGE_S3_PREFIX"`
	StorageS3Endpoint        string `env:"STORAGE_S3_ENDPOINT"`
	StorageS3AccessKeyID     string `env:"STORAGE_S3_ACCESS_KEY_ID"`
	StorageS3SecretAccessKey string `env:"STORAGE_S3_SECRET_ACCESS_KEY"`
	StorageS3SessionToken    string `env:"STORAGE_S3_SESSION_TOKEN"`
	StorageS3ForcePathStyle  bool   `env:"STORAGE_S3_FORCE_PATH_STYLE" envDefault:"false"`

	// 阿里云 OSS 存储配置
	StorageOSSEndpoint        string `env:"STORAGE_OSS_ENDPOINT"`
	StorageOSSBucket          string `env:"STORAGE_OSS_BUCKET"`
	StorageOSSPrefix          string `env:"STORAGE_OSS_PREFIX"`
	StorageOSSAccessKeyID     string `env:"STORAGE_OSS_ACCESS_KEY_ID"`
	StorageOSSAccessKeySecret string `env:"STORAGE_OSS_ACCESS_KEY_SECRET"`

	// 腾讯云 COS 存储配置
	StorageCOSBucketURL string `env:"STORAGE_COS_BUCKET_URL"`
	StorageCOSPrefix    string `env:"STORAGE_COS_PREFIX"`
	StorageCOSSecretID  string `env:"STORAGE_COS_SECRET_ID"`
	StorageCOSSecretKey string `env:"STORAGE_COS_SECRET_KEY"`

	// Cloudflare R2 存储配置
	StorageR2AccountID       string `env:"STORAGE_R2_ACCOUNT_ID"`
	StorageR2Endpoint        string `env:"STORAGE_R2_ENDPOINT"`
	StorageR2Region          string `env:"STORAGE_R2_REGION" envDefault:"auto"`
	StorageR2Bucket          string `env:"STORAGE_R2_BUCKET"`
	StorageR2Prefix          string `env:"STORAGE_R2_PREFIX"`
	StorageR2AccessKeyID     string `env:"STORAGE_R2_ACCESS_KEY_ID"`
	StorageR2SecretAccessKey string `env:"STORAGE_R2_SECRET_ACCESS_KEY"`

	// Google Cloud Storage 配置
	StorageGCSBucket          string `env:"STORAGE_GCS_BUCKET"`
	StorageGCSPrefix          string `env:"STORAGE_GCS_PREFIX"`
	StorageGCSCredentialsFile string `env:"STORAGE_GCS_CREDENTIALS_FILE"`
	StorageGCSPublicBaseURL   string `env:"STORAGE_GCS_PUBLIC_BASE_URL"`

	// n8n 工作流执行器配置
	ExecutorBaseURL         string        `env:"EXECUTOR_BASE_URL"`
	ExecutorAPIKey          string        `env:"EXECUTOR_API_KEY"`
	ExecutorWebhookURL      string        `env:"EXECUTOR_WEBHOOK_URL"`
	ExecutorWebhookSecret   string        `env:"EXECUTOR_WEBHOOK_SECRET"`
	ExecutorDispatchTimeout time.Duration `env:"EXECUTOR_DISPATCH_TIMEOUT" envDefault:"60s"`
	PollInterval            time.Duration `env:"POLL_INTERVAL" envDefault:"3s"`
	PollMaxAttempts         int           `env:"POLL_MAX_ATTEMPTS" envDefault:"60"`
	PollAttemptTimeout      time.Duration `env:"POLL_ATTEMPT_TIMEOUT" envDefault:"15s"`
	MirrorArtifacts         bool          `env:"MIRROR_ARTIFACTS" envDefault:"false"`

	// 推送通道: memory | redis | postgres
	NotifyDriver  string `env:"NOTIFY_DRIVER" envDefault:"memory"`
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisChannel  string `env:"REDIS_CHANNEL" envDefault:"generation-events"`
	PGNotifyDSN   string `env:"PG_NOTIFY_DSN"`
	PGChannel     string `env:"PG_NOTIFY_CHANNEL" envDefault:"generation_events"`

	SignupBonusCredits int    `env:"SIGNUP_BONUS_CREDITS" envDefault:"1"`
	DefaultWebhookPath string `env:"DEFAULT_WEBHOOK_PATH" envDefault:"/webhook/generate-image"`
	TemplateSeedFile   string `env:"WORKFLOW_TEMPLATE_SEED_FILE"`

	JWTSecret            string `env:"JWT_SECRET" envDefault:"dev-secret-change-me"`
	JWTIssuer            string `env:"JWT_ISSUER" envDefault:"promoshot"`
	JWTExpirationMinutes int    `env:"JWT_EXPIRATION_MINUTES" envDefault:"1440"`
}

// ExecutorStatus describes which executor capabilities are usable with the current settings.
type ExecutorStatus struct {
	DispatchConfigured bool   `json:"dispatch_configured"`
	PollingConfigured  bool   `json:"polling_configured"`
	PushConfigured     bool   `json:"push_configured"`
	Reason             string `json:"reason,omitempty"`
}

// ErrExecutorNotConfigured is returned when no webhook url is available for dispatch.
var ErrExecutorNotConfigured = errors.New("executor not configured")

func ParseConfig() (Config, error) {
	// .env 文件可选
	if err := godotenv.Load(); err != nil {
		logrus.WithError(err).Debug("no .env file loaded")
	}

	var Conf Config
	err := env.Parse(&Conf)
	if err != nil {
		logrus.WithError(err).Error("env.Parse error")
		return Config{}, err
	}
	logrus.Debugf("%#v\n", Conf.Redacted())
	return Conf, nil
}

// ExecutorStatus reports the executor configuration state without failing.
func (c Config) ExecutorStatus() ExecutorStatus {
	status := ExecutorStatus{
		DispatchConfigured: strings.TrimSpace(c.ExecutorWebhookURL) != "",
		PollingConfigured:  strings.TrimSpace(c.ExecutorBaseURL) != "" && strings.TrimSpace(c.ExecutorAPIKey) != "",
		PushConfigured:     strings.TrimSpace(c.ExecutorWebhookSecret) != "",
	}
	var missing []string
	if !status.DispatchConfigured {
		missing = append(missing, "EXECUTOR_WEBHOOK_URL")
	}
	if !status.PollingConfigured {
		missing = append(missing, "EXECUTOR_BASE_URL/EXECUTOR_API_KEY")
	}
	if len(missing) > 0 {
		status.Reason = "not configured: " + strings.Join(missing, ", ")
	}
	return status
}

// Redacted returns a copy with secrets blanked, safe to log.
func (c Config) Redacted() Config {
	redact := func(v string) string {
		if v == "" {
			return ""
		}
		return "***"
	}
	c.DBPassword = redact(c.DBPassword)
	c.DSNURL = redact(c.DSNURL)
	c.StorageS3SecretAccessKey = redact(c.StorageS3SecretAccessKey)
	c.StorageS3SessionToken = redact(c.StorageS3SessionToken)
	c.StorageOSSAccessKeySecret = redact(c.StorageOSSAccessKeySecret)
	c.StorageCOSSecretKey = redact(c.StorageCOSSecretKey)
	c.StorageR2SecretAccessKey = redact(c.StorageR2SecretAccessKey)
	c.ExecutorAPIKey = redact(c.ExecutorAPIKey)
	c.ExecutorWebhookSecret = redact(c.ExecutorWebhookSecret)
	c.RedisPassword = redact(c.RedisPassword)
	c.PGNotifyDSN = redact(c.PGNotifyDSN)
	c.JWTSecret = redact(c.JWTSecret)
	return c
}
