package querycraft

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"log"
	"os"

	_ "github.com/denisenkom/go-mssqldb"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type AppConfig struct {
	Mode    string
	ApiPort string
	Ollama  struct {
		Enabled     bool
		Host        string
		Model       string
		Timeout     time.Duration
		Temperature float64
		MaxTokens   int
	}
	Pipeline struct {
		MinSQLLength        int
		QueryTimeout        time.Duration
		RepairMaxAttempts   int
		SchemaFilterEnabled bool
	}
	Schema struct {
		CacheTTL time.Duration
		// Synonyms mappe un alias logique vers le nom de table canonique.
		Synonyms map[string]string
	}
	TargetDatabase struct {
		Type         string // postgres | sqlserver
		Host         string
		Port         string
		User         string
		Password     string
		DatabaseName string
		SSLMode      string
	}
	RedisConfig struct {
		Host     string
		Port     string
		Password string
		DB       int
	}
	NatsConfig struct {
		URL     string
		Subject string
	}
}

var config AppConfig

func InitConfig(envfile string) {
	err := godotenv.Load(envfile)
	if err != nil {
		log.Fatal(fmt.Sprintf("Error loading %s file: %s", envfile, err))
	}
	config = AppConfig{
		Mode:    getEnvOrPanic("RUN_MODE"),
		ApiPort: getEnvOrPanic("API_PORT"),
		Ollama: struct {
			Enabled     bool
			Host        string
			Model       string
			Timeout     time.Duration
			Temperature float64
			MaxTokens   int
		}{
			Enabled:     getBoolEnvOrDefault("OLLAMA_ENABLED", true),
			Host:        GetEnv("OLLAMA_HOST", "http://localhost:11434"),
			Model:       GetEnv("OLLAMA_MODEL", "sqlcoder-7b-2"),
			Timeout:     time.Duration(getIntEnvOrDefault("OLLAMA_TIMEOUT_SECONDS", 60)) * time.Second,
			Temperature: getFloatEnvOrDefault("OLLAMA_TEMPERATURE", 0),
			MaxTokens:   getIntEnvOrDefault("OLLAMA_MAX_TOKENS", 512),
		},
		Pipeline: struct {
			MinSQLLength        int
			QueryTimeout        time.Duration
			RepairMaxAttempts   int
			SchemaFilterEnabled bool
		}{
			MinSQLLength:        getIntEnvOrDefault("MIN_SQL_LENGTH", 5),
			QueryTimeout:        time.Duration(getIntEnvOrDefault("QUERY_TIMEOUT_SECONDS", 30)) * time.Second,
			RepairMaxAttempts:   getIntEnvOrDefault("REPAIR_MAX_ATTEMPTS", 0),
			SchemaFilterEnabled: getBoolEnvOrDefault("SCHEMA_FILTER_ENABLED", false),
		},
		Schema: struct {
			CacheTTL time.Duration
			Synonyms map[string]string
		}{
			CacheTTL: time.Duration(getIntEnvOrDefault("SCHEMA_CACHE_TTL_MINUTES", 60)) * time.Minute,
			Synonyms: parseSynonyms(GetEnv("SCHEMA_SYNONYMS", "")),
		},
		TargetDatabase: struct {
			Type         string
			Host         string
			Port         string
			User         string
			Password     string
			DatabaseName string
			SSLMode      string
		}{
			Type:         GetEnv("DB_TYPE", "postgres"),
			Host:         getEnvOrPanic("DB_HOSTNAME"),
			Port:         getEnvOrPanic("DB_PORT"),
			User:         getEnvOrPanic("DB_USERNAME"),
			Password:     getEnvOrPanic("DB_PASSWORD"),
			DatabaseName: getEnvOrPanic("DB_NAME"),
			SSLMode:      GetEnv("DB_SSL_MODE", "disable"),
		},
		RedisConfig: struct {
			Host     string
			Port     string
			Password string
			DB       int
		}{
			Host:     GetEnv("REDIS_HOST", "localhost"),
			Port:     GetEnv("REDIS_PORT", "6379"),
			Password: GetEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnvOrDefault("REDIS_DB", 0),
		},
		NatsConfig: struct {
			URL     string
			Subject string
		}{
			URL:     GetEnv("NATS_URL", ""),
			Subject: GetEnv("NATS_SUBJECT", "querycraft.audit"),
		},
	}

	Logger = initLogger()
	Redis = connectToRedis(config.RedisConfig.Host, config.RedisConfig.Port, config.RedisConfig.Password, config.RedisConfig.DB)
	connectToTargetDatabase()
}

func GetConfig() AppConfig {
	return config
}

// parseSynonyms parses "alias=table,alias2=table2" into a map. Malformed pairs are skipped.
func parseSynonyms(raw string) map[string]string {
	synonyms := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		alias := strings.ToLower(strings.TrimSpace(parts[0]))
		table := strings.TrimSpace(parts[1])
		if alias == "" || table == "" {
			continue
		}
		synonyms[alias] = table
	}
	return synonyms
}

func getEnvOrPanic(key string) string {
	value := os.Getenv(key)
	if value == "" {
		log.Fatalf("%s must be set", key)
	}
	return value
}

func GetEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntEnvOrDefault(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return value
}

func getFloatEnvOrDefault(key string, defaultValue float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getBoolEnvOrDefault(key string, defaultValue bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return defaultValue
	}
	return value
}

// connectToTargetDatabase ouvre la connexion vers la base interrogée par le pipeline.
func connectToTargetDatabase() {
	db := config.TargetDatabase
	switch db.Type {
	case "postgres":
		dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			db.Host, db.Port, db.User, db.Password, db.DatabaseName, db.SSLMode)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			Logger.Fatal().Err(err).Msg("Failed to create postgres pool")
		}
		if err := pool.Ping(ctx); err != nil {
			Logger.Fatal().Err(err).Msg("Failed to ping postgres")
		}
		Pool = pool

	case "sqlserver":
		dsn := fmt.Sprintf("server=%s;port=%s;user id=%s;password=%s;database=%s",
			db.Host, db.Port, db.User, db.Password, db.DatabaseName)
		conn, err := sql.Open("sqlserver", dsn)
		if err != nil {
			Logger.Fatal().Err(err).Msg("Failed to open sqlserver connection")
		}
		conn.SetMaxIdleConns(10)
		conn.SetMaxOpenConns(10)
		conn.SetConnMaxLifetime(time.Hour)
		if err := conn.Ping(); err != nil {
			Logger.Fatal().Err(err).Msg("Failed to ping sqlserver")
		}
		SQLDB = conn

	default:
		Logger.Fatal().Msgf("Unsupported DB_TYPE: %s", db.Type)
	}
}

func initLogger() zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "15:04:05",
		NoColor:    false,
		FormatLevel: func(i interface{}) string {
			return strings.ToUpper(fmt.Sprintf("| %-6s|", i))
		},
		FormatMessage: func(i interface{}) string {
			return fmt.Sprintf("  %s  ", i)
		},
		FormatFieldName: func(i interface{}) string {
			return fmt.Sprintf("%s=", i)
		},
		FormatFieldValue: func(i interface{}) string {
			return fmt.Sprintf("%s", i)
		},
	}

	return zerolog.New(output).With().Timestamp().Caller().Logger()
}

func connectToRedis(host string, port string, password string, db int) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		panic(fmt.Sprintf("Failed to connect to Redis: %v", err))
	}

	return client
}
