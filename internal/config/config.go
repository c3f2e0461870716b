package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/messenger-client/internal/logger"
)

// Бэкенды хранилища сессии.
const (
	SessionBackendFile     = "file"
	SessionBackendMemory   = "memory"
	SessionBackendRedis    = "redis"
	SessionBackendPostgres = "postgres"
)

// loadEnv подхватывает .env только вне production (в контейнере конфиг только из env).
// Уже заданные переменные окружения не перезаписываются.
func loadEnv() {
	if os.Getenv("APP_ENV") == "production" {
		return
	}
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Errorf("config: .env: %v", err)
	}
}

// RealtimeConfig: параметры realtime-соединения.
type RealtimeConfig struct {
	Path                 string
	ReconnectMin         time.Duration
	ReconnectMax         time.Duration
	ReconnectNoticeAfter int
	WriteTimeout         time.Duration
	PongTimeout          time.Duration
	MaxMessageSize       int64
	EventQueueSize       int
	TypingIdle           time.Duration
}

// SessionConfig: где хранится сессия (user, token).
type SessionConfig struct {
	Backend     string
	Path        string
	RedisURL    string
	DatabaseURL string
	Namespace   string
}

// BridgeConfig: локальный HTTP-мост для слоя отображения.
type BridgeConfig struct {
	Addr               string
	CORSAllowedOrigins string
	// Secret пропускает запросы не с loopback по заголовку X-Bridge-Secret.
	Secret       string
	RateLimitRPS float64
	RateBurst    int
	MaxClients   int
}

// Config содержит настройки клиента.
// Приоритет: переменные окружения > YAML-файл > значения по умолчанию.
type Config struct {
	APIURL      string
	HTTPTimeout time.Duration
	Realtime    RealtimeConfig
	Session     SessionConfig
	Bridge      BridgeConfig
	LogLevel    string
}

// yamlConfig: промежуточная структура для парсинга YAML (длительности в секундах/мс).
type yamlConfig struct {
	APIURL               string `yaml:"api_url"`
	WSPath               string `yaml:"ws_path"`
	HTTPTimeout          int    `yaml:"http_timeout"`
	SessionBackend       string `yaml:"session_backend"`
	SessionPath          string `yaml:"session_path"`
	SessionNamespace     string `yaml:"session_namespace"`
	RedisURL             string `yaml:"redis_url"`
	DatabaseURL          string `yaml:"database_url"`
	ReconnectMinMS       int    `yaml:"reconnect_min_ms"`
	ReconnectMaxMS       int    `yaml:"reconnect_max_ms"`
	ReconnectNoticeAfter int    `yaml:"reconnect_notice_after"`
	WSWriteTimeout       int    `yaml:"ws_write_timeout"`
	WSPongTimeout        int    `yaml:"ws_pong_timeout"`
	WSMaxMessageSize     int    `yaml:"ws_max_message_size"`
	EventQueueSize       int    `yaml:"event_queue_size"`
	TypingIdleMS         int    `yaml:"typing_idle_ms"`
	BridgeAddr           string `yaml:"bridge_addr"`
	CORSAllowedOrigins   string `yaml:"cors_allowed_origins"`
	BridgeSecret         string `yaml:"bridge_secret"`
	BridgeRateRPS        int    `yaml:"bridge_rate_rps"`
	BridgeRateBurst      int    `yaml:"bridge_rate_burst"`
	BridgeMaxClients     int    `yaml:"bridge_max_clients"`
	LogLevel             string `yaml:"log_level"`
}

func defaults() yamlConfig {
	return yamlConfig{
		APIURL:               "http://localhost:5000",
		WSPath:               "/ws",
		HTTPTimeout:          15,
		SessionBackend:       SessionBackendFile,
		RedisURL:             "redis://localhost:6379",
		ReconnectMinMS:       500,
		ReconnectMaxMS:       30000,
		ReconnectNoticeAfter: 5,
		WSWriteTimeout:       10,
		WSPongTimeout:        60,
		WSMaxMessageSize:     1 << 20,
		EventQueueSize:       256,
		TypingIdleMS:         3000,
		BridgeAddr:           "127.0.0.1:7070",
		CORSAllowedOrigins:   "*",
		BridgeRateRPS:        20,
		BridgeRateBurst:      40,
		BridgeMaxClients:     32,
		LogLevel:             "info",
	}
}

// Load загружает конфигурацию: .env, затем YAML (CONFIG_PATH или config/client.yaml), затем env.
func Load() *Config {
	loadEnv()
	yc := defaults()

	paths := []string{os.Getenv("CONFIG_PATH"), "config/client.yaml"}
	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, &yc); err != nil {
			logger.Errorf("config: ошибка парсинга %s: %v (используются значения по умолчанию)", path, err)
			yc = defaults()
		} else {
			logger.Infof("config: загружен %s", path)
		}
		break
	}
	return fromYAML(yc)
}

// fromYAML применяет переменные окружения поверх yc и собирает Config.
func fromYAML(yc yamlConfig) *Config {
	applyEnv(&yc)
	cfg := fromValues(yc)
	cfg.normalize()
	return cfg
}

// Defaults: конфигурация только из значений по умолчанию, без файла и окружения.
func Defaults() *Config {
	cfg := fromValues(defaults())
	cfg.normalize()
	return cfg
}

func applyEnv(yc *yamlConfig) {
	// NEXT_PUBLIC_API_URL: имя переменной из веб-клиента, принимаем для совместимости.
	yc.APIURL = envStr("CHAT_API_URL", envStr("NEXT_PUBLIC_API_URL", yc.APIURL))
	yc.HTTPTimeout = envInt("HTTP_TIMEOUT", yc.HTTPTimeout)
	yc.WSPath = envStr("CHAT_WS_PATH", yc.WSPath)
	yc.ReconnectMinMS = envInt("RECONNECT_MIN_MS", yc.ReconnectMinMS)
	yc.ReconnectMaxMS = envInt("RECONNECT_MAX_MS", yc.ReconnectMaxMS)
	yc.ReconnectNoticeAfter = envInt("RECONNECT_NOTICE_AFTER", yc.ReconnectNoticeAfter)
	yc.WSWriteTimeout = envInt("WS_WRITE_TIMEOUT", yc.WSWriteTimeout)
	yc.WSPongTimeout = envInt("WS_PONG_TIMEOUT", yc.WSPongTimeout)
	yc.WSMaxMessageSize = envBytes("WS_MAX_MESSAGE_SIZE", yc.WSMaxMessageSize)
	yc.EventQueueSize = envInt("EVENT_QUEUE_SIZE", yc.EventQueueSize)
	yc.TypingIdleMS = envInt("TYPING_IDLE_MS", yc.TypingIdleMS)
	yc.SessionBackend = envStr("SESSION_BACKEND", yc.SessionBackend)
	yc.SessionPath = envStr("SESSION_PATH", yc.SessionPath)
	yc.RedisURL = envStr("REDIS_URL", yc.RedisURL)
	yc.DatabaseURL = envStr("DATABASE_URL", yc.DatabaseURL)
	yc.SessionNamespace = envStr("SESSION_NAMESPACE", yc.SessionNamespace)
	yc.BridgeAddr = envStr("BRIDGE_ADDR", yc.BridgeAddr)
	yc.CORSAllowedOrigins = envStr("CORS_ALLOWED_ORIGINS", yc.CORSAllowedOrigins)
	yc.BridgeSecret = envStr("BRIDGE_SECRET", yc.BridgeSecret)
	yc.BridgeRateRPS = envInt("BRIDGE_RATE_RPS", yc.BridgeRateRPS)
	yc.BridgeRateBurst = envInt("BRIDGE_RATE_BURST", yc.BridgeRateBurst)
	yc.BridgeMaxClients = envInt("BRIDGE_MAX_CLIENTS", yc.BridgeMaxClients)
	yc.LogLevel = envStr("LOG_LEVEL", yc.LogLevel)
}

func fromValues(yc yamlConfig) *Config {
	return &Config{
		APIURL:      strings.TrimSuffix(yc.APIURL, "/"),
		HTTPTimeout: time.Duration(yc.HTTPTimeout) * time.Second,
		Realtime: RealtimeConfig{
			Path:                 yc.WSPath,
			ReconnectMin:         time.Duration(yc.ReconnectMinMS) * time.Millisecond,
			ReconnectMax:         time.Duration(yc.ReconnectMaxMS) * time.Millisecond,
			ReconnectNoticeAfter: yc.ReconnectNoticeAfter,
			WriteTimeout:         time.Duration(yc.WSWriteTimeout) * time.Second,
			PongTimeout:          time.Duration(yc.WSPongTimeout) * time.Second,
			MaxMessageSize:       int64(yc.WSMaxMessageSize),
			EventQueueSize:       yc.EventQueueSize,
			TypingIdle:           time.Duration(yc.TypingIdleMS) * time.Millisecond,
		},
		Session: SessionConfig{
			Backend:     strings.ToLower(yc.SessionBackend),
			Path:        yc.SessionPath,
			RedisURL:    yc.RedisURL,
			DatabaseURL: yc.DatabaseURL,
			Namespace:   yc.SessionNamespace,
		},
		Bridge: BridgeConfig{
			Addr:               yc.BridgeAddr,
			CORSAllowedOrigins: yc.CORSAllowedOrigins,
			Secret:             strings.TrimSpace(yc.BridgeSecret),
			RateLimitRPS:       float64(yc.BridgeRateRPS),
			RateBurst:          yc.BridgeRateBurst,
			MaxClients:         yc.BridgeMaxClients,
		},
		LogLevel: yc.LogLevel,
	}
}

// normalize подставляет значения по умолчанию вместо некорректных.
func (c *Config) normalize() {
	d := fromValues(defaults())
	if c.APIURL == "" {
		c.APIURL = d.APIURL
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = d.HTTPTimeout
	}
	if c.Realtime.ReconnectMin <= 0 {
		c.Realtime.ReconnectMin = d.Realtime.ReconnectMin
	}
	if c.Realtime.ReconnectMax < c.Realtime.ReconnectMin {
		c.Realtime.ReconnectMax = c.Realtime.ReconnectMin
	}
	if c.Realtime.WriteTimeout <= 0 {
		c.Realtime.WriteTimeout = d.Realtime.WriteTimeout
	}
	if c.Realtime.PongTimeout <= 0 {
		c.Realtime.PongTimeout = d.Realtime.PongTimeout
	}
	if c.Realtime.MaxMessageSize <= 0 {
		c.Realtime.MaxMessageSize = d.Realtime.MaxMessageSize
	}
	if c.Realtime.EventQueueSize <= 0 {
		c.Realtime.EventQueueSize = d.Realtime.EventQueueSize
	}
	if c.Realtime.TypingIdle <= 0 {
		c.Realtime.TypingIdle = d.Realtime.TypingIdle
	}
	if c.Bridge.Addr == "" {
		c.Bridge.Addr = d.Bridge.Addr
	}
	if c.Bridge.RateBurst <= 0 {
		c.Bridge.RateBurst = d.Bridge.RateBurst
	}
	if c.Bridge.MaxClients <= 0 {
		c.Bridge.MaxClients = d.Bridge.MaxClients
	}
	if !strings.HasPrefix(c.Realtime.Path, "/") {
		c.Realtime.Path = "/" + c.Realtime.Path
	}
	switch c.Session.Backend {
	case SessionBackendFile, SessionBackendMemory, SessionBackendRedis, SessionBackendPostgres:
	default:
		logger.Errorf("config: неизвестный session_backend %q, используется file", c.Session.Backend)
		c.Session.Backend = SessionBackendFile
	}
}

// WebSocketURL строит адрес realtime-канала из APIURL: http→ws, https→wss.
func (c *Config) WebSocketURL() string {
	u := c.APIURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + c.Realtime.Path
}

// envStr возвращает значение переменной окружения или fallback.
func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envInt возвращает числовое значение переменной окружения или fallback.
func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// envBytes принимает размер числом байт или в человекочитаемом виде ("1MiB", "512 KB").
func envBytes(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := humanize.ParseBytes(v)
	if err != nil || n > 1<<31 {
		logger.Errorf("config: %s=%q: неверный размер", key, v)
		return fallback
	}
	return int(n)
}
