package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	CORS       CORSConfig
	Log        LogConfig
	Attendance AttendanceConfig
	Exports    ExportsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// AttendanceConfig tunes the attendance session subsystem.
type AttendanceConfig struct {
	QRTokenPrefix    string
	FaceServiceURL   string
	FaceTimeout      time.Duration
	FaceTolerance    float64
	StatsCacheTTL    time.Duration
	BulkMaxBatchSize int
}

// ExportsConfig controls attendance report exports.
type ExportsConfig struct {
	Enabled      bool
	MaxRows      int
	DateFormat   string
	DefaultTitle string
	ArchiveDir   string
	DownloadTTL  time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		Issuer:     v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Attendance = AttendanceConfig{
		QRTokenPrefix:    v.GetString("ATTENDANCE_QR_PREFIX"),
		FaceServiceURL:   v.GetString("FACE_SERVICE_URL"),
		FaceTimeout:      parseDuration(v.GetString("FACE_SERVICE_TIMEOUT"), 5*time.Second),
		FaceTolerance:    v.GetFloat64("FACE_MATCH_TOLERANCE"),
		StatsCacheTTL:    parseDuration(v.GetString("ATTENDANCE_STATS_CACHE_TTL"), 2*time.Minute),
		BulkMaxBatchSize: v.GetInt("ATTENDANCE_BULK_MAX_BATCH"),
	}

	cfg.Exports = ExportsConfig{
		Enabled:      v.GetBool("ENABLE_EXPORTS"),
		MaxRows:      v.GetInt("EXPORTS_MAX_ROWS"),
		DateFormat:   v.GetString("EXPORTS_DATE_FORMAT"),
		DefaultTitle: v.GetString("EXPORTS_DEFAULT_TITLE"),
		ArchiveDir:   v.GetString("EXPORTS_ARCHIVE_DIR"),
		DownloadTTL:  parseDuration(v.GetString("EXPORTS_DOWNLOAD_TTL"), 24*time.Hour),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "school_attendance")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("JWT_ISSUER", "school-attendance-api")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("ATTENDANCE_QR_PREFIX", "attendance_")
	v.SetDefault("FACE_SERVICE_URL", "http://localhost:8500")
	v.SetDefault("FACE_SERVICE_TIMEOUT", "5s")
	v.SetDefault("FACE_MATCH_TOLERANCE", 0.6)
	v.SetDefault("ATTENDANCE_STATS_CACHE_TTL", "2m")
	v.SetDefault("ATTENDANCE_BULK_MAX_BATCH", 200)

	v.SetDefault("ENABLE_EXPORTS", true)
	v.SetDefault("EXPORTS_MAX_ROWS", 5000)
	v.SetDefault("EXPORTS_DATE_FORMAT", "2006-01-02 15:04:05")
	v.SetDefault("EXPORTS_DEFAULT_TITLE", "Attendance Report")
	v.SetDefault("EXPORTS_ARCHIVE_DIR", "./exports")
	v.SetDefault("EXPORTS_DOWNLOAD_TTL", "24h")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
