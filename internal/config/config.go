package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	AI      AIConfig
	Speech  SpeechConfig
	Persona PersonaConfig
}

// Load 从环境变量加载服务端配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, AI: ai, Speech: speech, Persona: loadPersonaConfig()}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr     string
	LogLevel string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "5000"
	}
	logLevel := getEnvOrDefault("LOG_LEVEL", "info")

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":5000" 或 "127.0.0.1:5000"。
		return ServerConfig{Addr: port, LogLevel: logLevel}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, LogLevel: logLevel}, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey       string
	AccessKey    string
	SecretKey    string
	Model        string
	BaseURL      string
	Region       string
	Temperature  *float64
	TopP         *float64
	MaxTokens    *int
	HistoryLimit int
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials or model missing: set ARK_API_KEY + Model or an AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	historyLimit := 10
	if override, err := parseOptionalIntEnv("CHAT_HISTORY_LIMIT"); err != nil {
		return AIConfig{}, err
	} else if override != nil {
		historyLimit = max(*override, 1)
	}

	return AIConfig{
		APIKey:       strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:    strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:    strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:        strings.TrimSpace(os.Getenv("Model")),
		BaseURL:      getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:       getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:  temperature,
		TopP:         topP,
		MaxTokens:    maxTokens,
		HistoryLimit: historyLimit,
	}, nil
}

// SpeechConfig 描述语音引擎相关配置
type SpeechConfig struct {
	DefaultHost    string
	DefaultPort    string
	Timeout        int
	AudioCacheSize int
	AudioCacheTTL  int
	Enabled        bool
}

func loadSpeechConfig() (SpeechConfig, error) {
	timeout, err := parseOptionalIntEnv("VOICE_ENGINE_TIMEOUT")
	if err != nil {
		return SpeechConfig{}, err
	}
	timeoutSeconds := 30 // 默认30秒
	if timeout != nil {
		timeoutSeconds = *timeout
	}

	cacheSize, err := parseOptionalIntEnv("AUDIO_CACHE_SIZE")
	if err != nil {
		return SpeechConfig{}, err
	}
	audioCacheSize := 32
	if cacheSize != nil {
		audioCacheSize = max(*cacheSize, 1)
	}

	ttl, err := parseOptionalIntEnv("AUDIO_CACHE_TTL")
	if err != nil {
		return SpeechConfig{}, err
	}
	audioCacheTTL := 600
	if ttl != nil {
		audioCacheTTL = max(*ttl, 0)
	}

	enabled, err := parseBoolEnv("VOICE_ENABLED", true)
	if err != nil {
		return SpeechConfig{}, err
	}

	return SpeechConfig{
		DefaultHost:    getEnvOrDefault("VOICE_ENGINE_HOST", "127.0.0.1"),
		DefaultPort:    getEnvOrDefault("VOICE_ENGINE_PORT", "50021"),
		Timeout:        timeoutSeconds,
		AudioCacheSize: audioCacheSize,
		AudioCacheTTL:  audioCacheTTL,
		Enabled:        enabled,
	}, nil
}

// PersonaConfig 描述角色数据来源。
type PersonaConfig struct {
	File              string
	DBPath            string
	AvatarName        string
	AvatarFullName    string
	SystemInstruction string
}

func loadPersonaConfig() PersonaConfig {
	return PersonaConfig{
		File:              strings.TrimSpace(os.Getenv("PERSONA_FILE")),
		DBPath:            strings.TrimSpace(os.Getenv("PERSONA_DB")),
		AvatarName:        strings.TrimSpace(os.Getenv("AVATAR_NAME")),
		AvatarFullName:    strings.TrimSpace(os.Getenv("AVATAR_FULL_NAME")),
		SystemInstruction: strings.TrimSpace(os.Getenv("SYSTEM_INSTRUCTION")),
	}
}

// ClientConfig 描述终端客户端配置。
type ClientConfig struct {
	ServerURL      string
	PrefsPath      string
	TypewriterStep time.Duration
	AvatarName     string
	AudioPlayer    string
	FailureText    string
	RequestTimeout time.Duration
	LogLevel       string
	MouthInterval  time.Duration
	Beep           BeepConfig
}

// BeepConfig 描述打字机逐字显示时的提示音。
type BeepConfig struct {
	Enabled     bool
	FrequencyHz float64
	Duration    time.Duration
	Volume      float64
	VolumeEnd   float64
}

// DefaultFailureText is the system line shown when an exchange fails.
const DefaultFailureText = "An error occurred. Please try again."

// LoadClient 从环境变量加载客户端配置。
func LoadClient() (*ClientConfig, error) {
	serverURL := getEnvOrDefault("SPECTRA_SERVER_URL", "http://127.0.0.1:5000")
	if _, err := url.ParseRequestURI(serverURL); err != nil {
		return nil, fmt.Errorf("invalid SPECTRA_SERVER_URL value %q: %w", serverURL, err)
	}

	delay, err := parseOptionalIntEnv("TYPEWRITER_DELAY_MS")
	if err != nil {
		return nil, err
	}
	typewriterDelay := 50
	if delay != nil {
		typewriterDelay = max(*delay, 0)
	}

	timeout, err := parseOptionalIntEnv("SPECTRA_REQUEST_TIMEOUT")
	if err != nil {
		return nil, err
	}
	var requestTimeout time.Duration
	if timeout != nil {
		requestTimeout = time.Duration(*timeout) * time.Second
	}

	mouth, err := parseOptionalIntEnv("MOUTH_ANIMATION_INTERVAL_MS")
	if err != nil {
		return nil, err
	}
	mouthInterval := 150
	if mouth != nil {
		mouthInterval = max(*mouth, 1)
	}

	beep, err := loadBeepConfig()
	if err != nil {
		return nil, err
	}

	prefsPath := strings.TrimSpace(os.Getenv("SPECTRA_PREFS_DB"))
	if prefsPath == "" {
		prefsPath, err = defaultPrefsPath()
		if err != nil {
			return nil, err
		}
	}

	return &ClientConfig{
		ServerURL:      strings.TrimRight(serverURL, "/"),
		PrefsPath:      prefsPath,
		TypewriterStep: time.Duration(typewriterDelay) * time.Millisecond,
		AvatarName:     getEnvOrDefault("AVATAR_NAME", "Spectra"),
		AudioPlayer:    strings.TrimSpace(os.Getenv("AUDIO_PLAYER")),
		FailureText:    getEnvOrDefault("SPECTRA_FAILURE_TEXT", DefaultFailureText),
		RequestTimeout: requestTimeout,
		LogLevel:       getEnvOrDefault("LOG_LEVEL", "info"),
		MouthInterval:  time.Duration(mouthInterval) * time.Millisecond,
		Beep:           beep,
	}, nil
}

func loadBeepConfig() (BeepConfig, error) {
	enabled, err := parseBoolEnv("BEEP_ENABLED", false)
	if err != nil {
		return BeepConfig{}, err
	}
	cfg := BeepConfig{
		Enabled:     enabled,
		FrequencyHz: 800,
		Duration:    50 * time.Millisecond,
		Volume:      0.05,
		VolumeEnd:   0.01,
	}

	frequency, err := parseOptionalIntEnv("BEEP_FREQUENCY_HZ")
	if err != nil {
		return BeepConfig{}, err
	}
	if frequency != nil {
		cfg.FrequencyHz = float64(max(*frequency, 1))
	}
	duration, err := parseOptionalIntEnv("BEEP_DURATION_MS")
	if err != nil {
		return BeepConfig{}, err
	}
	if duration != nil {
		cfg.Duration = time.Duration(max(*duration, 1)) * time.Millisecond
	}
	volume, err := parseOptionalFloatEnv("BEEP_VOLUME")
	if err != nil {
		return BeepConfig{}, err
	}
	if volume != nil {
		cfg.Volume = min(max(*volume, 0), 1)
	}
	volumeEnd, err := parseOptionalFloatEnv("BEEP_VOLUME_END")
	if err != nil {
		return BeepConfig{}, err
	}
	if volumeEnd != nil {
		cfg.VolumeEnd = min(max(*volumeEnd, 0), 1)
	}
	return cfg, nil
}

func defaultPrefsPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	dir = filepath.Join(dir, "spectra")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return filepath.Join(dir, "preferences.db"), nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
