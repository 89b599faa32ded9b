package config

import (
	"flag"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env      string   `yaml:"env" env:"ENV" env-default:"production"`
	PGSQL    PQSQL    `yaml:"pgsql" env-required:"true"`
	Redis    Redis    `yaml:"redis"`
	MinIO    MinIO    `yaml:"minio" env-required:"true"`
	Telegram Telegram `yaml:"telegram" env-required:"true"`
	Quota    Quota    `yaml:"quota"`
	Vault    Vault    `yaml:"vault"`
}

type PQSQL struct {
	Host     string `yaml:"host" env:"PG_HOST" env-default:"localhost"`
	Port     string `yaml:"port" env:"PG_PORT" env-default:"5432"`
	User     string `yaml:"user" env:"PG_USER" env-default:"postgres"`
	Password string `yaml:"password" env:"PG_PASSWORD" env-default:"password"`
	DBName   string `yaml:"dbname" env:"PG_DBNAME" env-default:"tgvault_db"`
	SSLMode  string `yaml:"sslmode" env:"PG_SSLMODE" env-default:"disable"`
}

type Redis struct {
	Address  string `yaml:"address" env:"REDIS_ADDRESS" env-default:"localhost:6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD" env-default:""`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

type MinIO struct {
	Endpoint        string `yaml:"endpoint" env:"MINIO_ENDPOINT" env-required:"true"`
	AccessKeyID     string `yaml:"access_key_id" env:"MINIO_ACCESS_KEY" env-required:"true"`
	SecretAccessKey string `yaml:"secret_access_key" env:"MINIO_SECRET_KEY" env-required:"true"`
	BucketName      string `yaml:"bucket_name" env:"MINIO_BUCKET" env-default:"vault"`
	UseSSL          bool   `yaml:"use_ssl" env:"MINIO_USE_SSL" env-default:"false"`
}

type Telegram struct {
	Token          string `yaml:"token" env:"TELEGRAM_TOKEN" env-required:"true"`
	OperatorChatID int64  `yaml:"operator_chat_id" env:"TELEGRAM_OPERATOR_CHAT_ID" env-required:"true"`
	PollTimeout    int    `yaml:"poll_timeout" env-default:"60"`
}

// TierCaps are the per-tier size limits, both in bytes.
type TierCaps struct {
	PerFileBytes int64 `yaml:"per_file_bytes" env-default:"52428800"`
	DailyBytes   int64 `yaml:"daily_bytes" env-default:"524288000"`
}

type Quota struct {
	Regular  TierCaps `yaml:"regular" env-prefix:"QUOTA_REGULAR_"`
	Premium  TierCaps `yaml:"premium" env-prefix:"QUOTA_PREMIUM_"`
	Timezone string   `yaml:"timezone" env:"QUOTA_TIMEZONE" env-default:"UTC"`
}

type Vault struct {
	SessionTTL      time.Duration `yaml:"session_ttl" env:"SESSION_TTL" env-default:"5m"`
	RetentionWindow time.Duration `yaml:"retention_window" env:"RETENTION_WINDOW" env-default:"24h"`
	SweepInterval   time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL" env-default:"1m"`
	PresignTTL      time.Duration `yaml:"presign_ttl" env:"PRESIGN_TTL" env-default:"1h"`
	YTDLPPath       string        `yaml:"ytdlp_path" env:"YTDLP_PATH" env-default:"yt-dlp"`
	TempDir         string        `yaml:"temp_dir" env:"TEMP_DIR" env-default:""`
}

func MustLoad() *Config {
	var configPath string

	configPath = os.Getenv("CONFIG_PATH")

	if configPath == "" {
		flags := flag.String("config", "", "Path to config file")
		flag.Parse()
		configPath = *flags

		if configPath == "" {
			log.Fatal("config path must be provided")
		}
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("config file does not exist at path: %s", configPath)
	}

	var cfg Config

	err := cleanenv.ReadConfig(configPath, &cfg)

	if err != nil {
		log.Fatalf("failed to read config: %s", err)
	}

	return &cfg
}
