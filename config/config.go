package config

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

// Storage backends.
const (
	BackendSQL   = "sql"
	BackendRedis = "redis"
)

// AppConfig holds environment driven configuration values.
// Secrets have no defaults in code and must come from config.json, .env or the environment.
type AppConfig struct {
	AppPort            string
	RateLimitPerMinute int
	AllowedOrigins     []string
	MetricsEnabled     bool
	// Gin framework configuration
	GinMode string
	GinPath string
	// Admin credentials and tokens
	AdminUser     string
	AdminPass     string
	AdminPassHash string
	JWTSecret     string
	APIToken      string
	TokenTTLHours int
	// Storage
	StorageBackend      string
	PostCacheTTLSeconds int
	IndexRefreshSeconds int
	ExcerptLength       int
	DefaultCategory     string
	// SQL database
	DBDriver    string
	DatabaseURI string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	DBSSLMode   string
	// Redis
	RedisHost      string
	RedisPort      int
	RedisDB        int
	RedisPassword  string
	RedisKeyPrefix string
	// Logging configuration
	LogLevel      string
	LogPath       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool
}

var (
	cfg    AppConfig
	loaded bool
	mu     sync.RWMutex
)

// Load loads the application configuration. It should be called once during boot.
//
// Precedence: .env (optional) -> config/config.json -> defaults -> environment variables.
func Load() AppConfig {
	mu.Lock()
	defer mu.Unlock()
	if loaded {
		return cfg
	}

	// .env only fills variables that are not already set in the environment
	_ = godotenv.Load()

	var c AppConfig
	if err := loadJSONConfig(filepath.Join("config", "config.json"), &c); err != nil {
		log.Printf("ignoring invalid config/config.json: %v", err)
	}
	applyDefaults(&c)
	applyEnvOverrides(&c)
	applyDerivedDefaults(&c)

	if c.JWTSecret == "" {
		log.Fatal("JWT_SECRET must be set in environment variables")
	}

	cfg = c
	loaded = true
	return cfg
}

// Get returns the cached configuration, loading it if necessary.
func Get() AppConfig {
	mu.RLock()
	if loaded {
		defer mu.RUnlock()
		return cfg
	}
	mu.RUnlock()
	return Load()
}

// Set installs c as the active configuration, bypassing Load.
func Set(c AppConfig) {
	mu.Lock()
	cfg = c
	loaded = true
	mu.Unlock()
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// loadJSONConfig reads a grouped JSON file into out if present. A missing file is not an error.
func loadJSONConfig(path string, out *AppConfig) error {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var raw map[string]map[string]any
	if err := json.NewDecoder(f).Decode(&raw); err != nil {
		return err
	}

	if app, ok := raw["app"]; ok {
		setString(app, "AppPort", &out.AppPort)
		setString(app, "GinMode", &out.GinMode)
		setString(app, "GinPath", &out.GinPath)
		setInt(app, "RateLimitPerMinute", &out.RateLimitPerMinute)
		setBool(app, "MetricsEnabled", &out.MetricsEnabled)
		if list := getStringSlice(app, "AllowedOrigins"); len(list) > 0 {
			out.AllowedOrigins = list
		}
	}
	if admin, ok := raw["admin"]; ok {
		setString(admin, "User", &out.AdminUser)
		setString(admin, "Pass", &out.AdminPass)
		setString(admin, "PassHash", &out.AdminPassHash)
		setString(admin, "JWTSecret", &out.JWTSecret)
		setString(admin, "APIToken", &out.APIToken)
		setInt(admin, "TokenTTLHours", &out.TokenTTLHours)
	}
	if st, ok := raw["storage"]; ok {
		setString(st, "Backend", &out.StorageBackend)
		setInt(st, "PostCacheTTLSeconds", &out.PostCacheTTLSeconds)
		setInt(st, "IndexRefreshSeconds", &out.IndexRefreshSeconds)
		setInt(st, "ExcerptLength", &out.ExcerptLength)
		setString(st, "DefaultCategory", &out.DefaultCategory)
	}
	if db, ok := raw["database"]; ok {
		setString(db, "Driver", &out.DBDriver)
		setString(db, "URI", &out.DatabaseURI)
		setString(db, "Host", &out.DBHost)
		setString(db, "Port", &out.DBPort)
		setString(db, "User", &out.DBUser)
		setString(db, "Password", &out.DBPassword)
		setString(db, "Name", &out.DBName)
		setString(db, "SSLMode", &out.DBSSLMode)
	}
	if rd, ok := raw["redis"]; ok {
		setString(rd, "Host", &out.RedisHost)
		setInt(rd, "Port", &out.RedisPort)
		setInt(rd, "DB", &out.RedisDB)
		setString(rd, "Password", &out.RedisPassword)
		setString(rd, "KeyPrefix", &out.RedisKeyPrefix)
	}
	if lg, ok := raw["log"]; ok {
		setString(lg, "Level", &out.LogLevel)
		setString(lg, "Path", &out.LogPath)
		setInt(lg, "MaxSizeMB", &out.LogMaxSizeMB)
		setInt(lg, "MaxBackups", &out.LogMaxBackups)
		setInt(lg, "MaxAgeDays", &out.LogMaxAgeDays)
		setBool(lg, "Compress", &out.LogCompress)
	}
	return nil
}

func setString(m map[string]any, key string, dst *string) {
	if s, ok := m[key].(string); ok && s != "" {
		*dst = s
	}
}

func setInt(m map[string]any, key string, dst *int) {
	if f, ok := m[key].(float64); ok && f != 0 {
		*dst = int(f)
	}
}

func setBool(m map[string]any, key string, dst *bool) {
	if b, ok := m[key].(bool); ok {
		*dst = b
	}
}

func getStringSlice(m map[string]any, key string) []string {
	arr, ok := m[key].([]any)
	if !ok {
		return nil
	}
	res := make([]string, 0, len(arr))
	for _, it := range arr {
		if s, ok := it.(string); ok {
			res = append(res, s)
		}
	}
	return res
}

// applyDefaults sets sane defaults for zero-value fields.
func applyDefaults(c *AppConfig) {
	if c.AppPort == "" {
		c.AppPort = "8080"
	}
	if c.GinMode == "" {
		c.GinMode = "release"
	}
	if c.GinPath == "" {
		c.GinPath = "logs/go_gin.log"
	}
	if c.RateLimitPerMinute == 0 {
		c.RateLimitPerMinute = 60
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if c.AdminUser == "" {
		c.AdminUser = "admin"
	}
	if c.TokenTTLHours == 0 {
		c.TokenTTLHours = 72
	}
	if c.StorageBackend == "" {
		c.StorageBackend = BackendSQL
	}
	if c.IndexRefreshSeconds == 0 {
		c.IndexRefreshSeconds = 300
	}
	if c.ExcerptLength == 0 {
		c.ExcerptLength = 150
	}
	if c.DefaultCategory == "" {
		c.DefaultCategory = "Uncategorized"
	}
	if c.DBDriver == "" {
		c.DBDriver = "postgres"
	}
	if c.DBHost == "" {
		c.DBHost = "127.0.0.1"
	}
	if c.DBName == "" {
		c.DBName = "blog"
	}
	if c.DBSSLMode == "" {
		c.DBSSLMode = "disable"
	}
	if c.RedisPort == 0 {
		c.RedisPort = 6379
	}
	if c.RedisKeyPrefix == "" {
		c.RedisKeyPrefix = "blog:"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogMaxSizeMB == 0 {
		c.LogMaxSizeMB = 100
	}
	if c.LogMaxBackups == 0 {
		c.LogMaxBackups = 3
	}
	if c.LogMaxAgeDays == 0 {
		c.LogMaxAgeDays = 7
	}
}

// applyDerivedDefaults fills values that depend on other settings, after env overrides.
func applyDerivedDefaults(c *AppConfig) {
	if c.DBPort == "" {
		if c.DBDriver == "mysql" {
			c.DBPort = "3306"
		} else {
			c.DBPort = "5432"
		}
	}
	if c.DBUser == "" {
		if c.DBDriver == "mysql" {
			c.DBUser = "root"
		} else {
			c.DBUser = "postgres"
		}
	}
	if c.StorageBackend == BackendRedis {
		if c.RedisHost == "" {
			c.RedisHost = "127.0.0.1"
		}
		if c.PostCacheTTLSeconds == 0 {
			c.PostCacheTTLSeconds = 600
		}
	}
}

// applyEnvOverrides maps known environment variables onto config values when present.
func applyEnvOverrides(c *AppConfig) {
	strs := map[string]*string{
		"APP_PORT":         &c.AppPort,
		"GIN_MODE":         &c.GinMode,
		"GIN_PATH":         &c.GinPath,
		"ADMIN_USER":       &c.AdminUser,
		"ADMIN_PASS":       &c.AdminPass,
		"ADMIN_PASS_HASH":  &c.AdminPassHash,
		"JWT_SECRET":       &c.JWTSecret,
		"API_TOKEN":        &c.APIToken,
		"STORAGE_BACKEND":  &c.StorageBackend,
		"DEFAULT_CATEGORY": &c.DefaultCategory,
		"DB_DRIVER":        &c.DBDriver,
		"DATABASE_URI":     &c.DatabaseURI,
		"DB_HOST":          &c.DBHost,
		"DB_PORT":          &c.DBPort,
		"DB_USER":          &c.DBUser,
		"DB_PASSWORD":      &c.DBPassword,
		"DB_NAME":          &c.DBName,
		"DB_SSLMODE":       &c.DBSSLMode,
		"REDIS_HOST":       &c.RedisHost,
		"REDIS_PASSWORD":   &c.RedisPassword,
		"REDIS_KEY_PREFIX": &c.RedisKeyPrefix,
		"LOG_LEVEL":        &c.LogLevel,
		"LOG_PATH":         &c.LogPath,
	}
	for key, dst := range strs {
		if v := getEnv(key, ""); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"RATE_LIMIT_PER_MINUTE":  &c.RateLimitPerMinute,
		"TOKEN_TTL_HOURS":        &c.TokenTTLHours,
		"POST_CACHE_TTL_SECONDS": &c.PostCacheTTLSeconds,
		"INDEX_REFRESH_SECONDS":  &c.IndexRefreshSeconds,
		"EXCERPT_LENGTH":         &c.ExcerptLength,
		"REDIS_PORT":             &c.RedisPort,
		"REDIS_DB":               &c.RedisDB,
		"LOG_MAX_SIZE_MB":        &c.LogMaxSizeMB,
		"LOG_MAX_BACKUPS":        &c.LogMaxBackups,
		"LOG_MAX_AGE_DAYS":       &c.LogMaxAgeDays,
	}
	for key, dst := range ints {
		if v := getEnv(key, ""); v != "" {
			*dst = mustParseInt(key, v)
		}
	}

	if v := getEnv("LOG_COMPRESS", ""); v != "" {
		c.LogCompress = v == "true"
	}
	if v := getEnv("METRICS_ENABLED", ""); v != "" {
		c.MetricsEnabled = v == "true"
	}
	if v := getEnv("CORS_ALLOWED_ORIGINS", ""); v != "" {
		c.AllowedOrigins = splitAndTrim(v)
	}
}

func mustParseInt(key, val string) int {
	i, err := strconv.Atoi(val)
	if err != nil {
		log.Fatalf("invalid integer value for %s=%s: %v", key, val, err)
	}
	return i
}

func splitAndTrim(raw string) []string {
	items := []string{}
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
