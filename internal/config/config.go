package config

import (
	"os"      // For environment variables
	"strconv" // For string to int conversion
	"strings" // For splitting list values

	"github.com/joho/godotenv" // For loading .env files
)

// Config holds the application configuration
type Config struct {
	AppPort    string // Application port
	DBUser     string // Database user
	DBPassword string // Database password
	DBHost     string // Database host
	DBPort     string // Database port
	DBName     string // Database name
	JWTSecret  string // JWT secret key
	RedisAddr  string // Redis server address
	RedisPass  string // Redis password
	RedisDB    int    // Redis database number
	IsProd     bool   // Is production environment

	CORSOrigins     []string // Allowed browser origins
	RateLimitPerSec uint     // Requests per second per IP on public routes

	TxIsolation       string // Isolation level for ledger units of work
	MissingPolicy     string // skip, escrow or reattribute
	MaxHops           int    // Upper bound on upline hops when reattributing
	MongoURI          string // Audit document store, empty disables it
	MongoDB           string // Audit database name
	WorkerConcurrency int    // asynq worker goroutines
	InlineReconcile   bool   // Reconcile in the API process instead of the worker
	WorkerMetricsPort string // Port the worker serves /metrics on
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	_ = godotenv.Load() // Load .env file if present
	redisDB, _ := strconv.Atoi(os.Getenv("REDIS_DB"))
	return &Config{
		AppPort:    getEnv("APP_PORT", "8080"),     // Application port
		DBUser:     os.Getenv("DB_USER"),           // Database user
		DBPassword: os.Getenv("DB_PASSWORD"),       // Database password
		DBHost:     getEnv("DB_HOST", "127.0.0.1"), // Database host
		DBPort:     getEnv("DB_PORT", "3306"),      // Database port
		DBName:     os.Getenv("DB_NAME"),           // Database name
		JWTSecret:  os.Getenv("JWT_SECRET"),        // JWT secret key
		RedisAddr:  getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPass:  os.Getenv("REDIS_PASS"),        // Redis password
		RedisDB:    redisDB,                        // Redis database number
		IsProd:     os.Getenv("IS_PROD") == "true", // Is production environment

		CORSOrigins:       splitList(getEnv("CORS_ORIGINS", "http://localhost:3000")),
		RateLimitPerSec:   uint(getInt("RATE_LIMIT_PER_SEC", 20)),
		TxIsolation:       getEnv("DB_TX_ISOLATION", "REPEATABLE READ"),
		MissingPolicy:     getEnv("COMMISSION_MISSING_POLICY", "skip"),
		MaxHops:           getInt("COMMISSION_MAX_HOPS", 10),
		MongoURI:          os.Getenv("MONGO_URI"),
		MongoDB:           getEnv("MONGO_DB", "mlm_audit"),
		WorkerConcurrency: getInt("WORKER_CONCURRENCY", 5),
		InlineReconcile:   os.Getenv("RECONCILE_INLINE") == "true",
		WorkerMetricsPort: getEnv("WORKER_METRICS_PORT", "9091"),
	}
}

// DSN builds the MySQL data source name
func (c *Config) DSN() string {
	return c.DBUser + ":" + c.DBPassword + "@tcp(" + c.DBHost + ":" + c.DBPort + ")/" + c.DBName + "?parseTime=true"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
