package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds all application configuration in a structured way.
type Config struct {
	App        AppConfig
	Paths      PathsConfig
	Database   DatabaseConfig
	Valkey     ValkeyConfig
	Whatsapp   WhatsappConfig
	WorkerPool WorkerPoolConfig
	Hub        HubConfig
	Session    SessionConfig
	CRM        CRMConfig
}

type AppConfig struct {
	Version            string
	Port               string
	Debug              bool
	Environment        string
	BasicAuth          []string
	BasePath           string
	TrustedProxies     []string
	BaseUrl            string
	CorsAllowedOrigins []string
	ServerID           string
}

type PathsConfig struct {
	BaseDir   string
	Statics   string
	SendItems string
	Storages  string
}

type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	Name     string // File path for SQLite, DB Name for Postgres
	LogSQL   bool
}

// PostgresDSN is shared by the CRM store and the whatsmeow device store.
func (d DatabaseConfig) PostgresDSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
		d.Host, d.User, d.Password, d.Name, d.Port)
}

func (d DatabaseConfig) IsPostgres() bool {
	return d.Driver == "postgres"
}

type ValkeyConfig struct {
	Enabled   bool
	Address   string
	Password  string
	DB        int
	KeyPrefix string
}

type WhatsappConfig struct {
	LogLevel     string
	OS           string
	MaxMediaSize int64
}

type WorkerPoolConfig struct {
	Size      int
	QueueSize int
}

type HubConfig struct {
	PingInterval time.Duration
}

type SessionConfig struct {
	CreateTimeout time.Duration
	LockTTL       time.Duration
	// ReaperSpec is a cron expression; empty disables the idle reaper.
	ReaperSpec    string
	ReaperMaxIdle time.Duration
	// RestoreOnBoot reconnects sessions that were connected at shutdown.
	RestoreOnBoot bool
}

// CRMConfig points at the CRM contacts table used to fill linked_contact_id.
// An empty table disables the lookup.
type CRMConfig struct {
	ContactsTable       string
	ContactsIDColumn    string
	ContactsPhoneColumn string
}

// Global provides access to the loaded configuration globally.
var Global *Config

// LoadConfig loads configuration from Environment Variables or defaults.
func LoadConfig() (*Config, error) {
	baseDir := getEnv("APP_BASE_DIR", "storages")

	debug := getEnvBool("APP_DEBUG", false) || getEnvBool("DEBUG", false)

	var basicAuth []string
	if v := os.Getenv("APP_BASIC_AUTH"); v != "" {
		basicAuth = strings.Split(v, ",")
	}

	corsOrigins := []string{"http://localhost:3000", "http://localhost:5173"}
	if v := os.Getenv("APP_CORS_ALLOWED_ORIGINS"); v != "" {
		corsOrigins = strings.Split(v, ",")
	}

	appCfg := AppConfig{
		Version:            "v1.0.0",
		Port:               getEnv("APP_PORT", "3000"),
		Debug:              debug,
		Environment:        getEnv("APP_ENV", "development"),
		BasicAuth:          basicAuth,
		BasePath:           getEnv("APP_BASE_PATH", ""),
		BaseUrl:            getEnv("APP_BASE_URL", "http://localhost:3000"),
		CorsAllowedOrigins: corsOrigins,
		ServerID:           getEnv("SERVER_ID", ""),
	}
	if v := os.Getenv("APP_TRUSTED_PROXIES"); v != "" {
		appCfg.TrustedProxies = strings.Split(v, ",")
	}

	pathsCfg := PathsConfig{
		BaseDir:   baseDir,
		Statics:   getEnv("PATH_STATICS", "statics"),
		SendItems: getEnv("PATH_SEND_ITEMS", filepath.Join("statics", "senditems")),
		Storages:  baseDir,
	}

	dbCfg := DatabaseConfig{
		Driver:   getEnv("DB_DRIVER", "sqlite"),
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", ""),
		Name:     getEnv("DB_NAME", filepath.Join(pathsCfg.Storages, "crm.db")),
		LogSQL:   debug,
	}

	valkeyCfg := ValkeyConfig{
		Enabled:   getEnvBool("VALKEY_ENABLED", false),
		Address:   getEnv("VALKEY_ADDRESS", "localhost:6379"),
		Password:  getEnv("VALKEY_PASSWORD", ""),
		DB:        getEnvInt("VALKEY_DB", 0),
		KeyPrefix: getEnv("VALKEY_KEY_PREFIX", "azcrm:"),
	}

	waCfg := WhatsappConfig{
		LogLevel:     getEnv("WHATSAPP_LOG_LEVEL", "ERROR"),
		OS:           getEnv("WHATSAPP_OS", "AzCRM"),
		MaxMediaSize: getEnvInt64("WHATSAPP_MAX_MEDIA_SIZE", 50000000),
	}

	sessionCfg := SessionConfig{
		CreateTimeout: getEnvDuration("SESSION_CREATE_TIMEOUT", 60*time.Second),
		LockTTL:       getEnvDuration("SESSION_LOCK_TTL", 2*time.Minute),
		ReaperSpec:    getEnv("SESSION_REAPER_SPEC", ""),
		ReaperMaxIdle: getEnvDuration("SESSION_REAPER_MAX_IDLE", 72*time.Hour),
		RestoreOnBoot: getEnvBool("SESSION_RESTORE_ON_BOOT", true),
	}

	cfg := &Config{
		App:        appCfg,
		Paths:      pathsCfg,
		Database:   dbCfg,
		Valkey:     valkeyCfg,
		Whatsapp:   waCfg,
		WorkerPool: WorkerPoolConfig{Size: getEnvInt("MESSAGE_WORKER_POOL_SIZE", 20), QueueSize: getEnvInt("MESSAGE_WORKER_QUEUE_SIZE", 1000)},
		Hub:        HubConfig{PingInterval: getEnvDuration("WS_PING_INTERVAL", 30*time.Second)},
		Session:    sessionCfg,
		CRM: CRMConfig{
			ContactsTable:       getEnv("CRM_CONTACTS_TABLE", ""),
			ContactsIDColumn:    getEnv("CRM_CONTACTS_ID_COLUMN", "id"),
			ContactsPhoneColumn: getEnv("CRM_CONTACTS_PHONE_COLUMN", "phone"),
		},
	}

	Global = cfg
	return cfg, nil
}
