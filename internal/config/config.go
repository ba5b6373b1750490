package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the casefile server.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	AI          AIConfig
	Transcriber TranscriberConfig
	Storage     StorageConfig
	Queue       QueueConfig
	Pipeline    PipelineConfig
	Telemetry   TelemetryConfig
}

type ServerConfig struct {
	Port               int
	Env                string
	MaxUploadBytes     int64
	RateLimitPerMinute int
	BootstrapAPIKey    string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type AIConfig struct {
	Provider          string
	InferenceTimeout  time.Duration
	RequestsPerSecond float64
	OpenAI            OpenAIConfig
	Ollama            OllamaConfig
	VLLM              VLLMConfig
}

type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

type VLLMConfig struct {
	BaseURL string
	Model   string
}

type TranscriberConfig struct {
	Backend           string
	WhisperModel      string
	WhisperCPPPath    string
	WhisperCPPModel   string
	WhisperLanguage   string
	TranscribeTimeout time.Duration
}

type StorageConfig struct {
	Backend  string
	LocalDir string
	MinIO    MinIOConfig
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

type QueueConfig struct {
	Backend       string
	RabbitMQURL   string
	RabbitMQQueue string
	Prefetch      int
	WorkerCount   int
	RunLockTTL    time.Duration
}

type PipelineConfig struct {
	WorkDir       string
	SampleRateFPS int
	MaxFrames     int
	FFmpegPath    string
	FFprobePath   string
	KeepArtifacts bool
}

type TelemetryConfig struct {
	OTLPEndpoint string
	ServiceName  string
}

var validProviders = map[string]bool{
	"openai": true,
	"ollama": true,
	"vllm":   true,
}

var validTranscribers = map[string]bool{
	"openai":     true,
	"whispercpp": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:               envInt("CASEFILE_PORT", 8080),
			Env:                envString("CASEFILE_ENV", "development"),
			MaxUploadBytes:     int64(envInt("MAX_UPLOAD_MB", 512)) << 20,
			RateLimitPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
			BootstrapAPIKey:    os.Getenv("BOOTSTRAP_API_KEY"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		AI: AIConfig{
			Provider:          os.Getenv("AI_PROVIDER"),
			InferenceTimeout:  envDurationSecs("AI_INFERENCE_TIMEOUT_SECS", 120*time.Second),
			RequestsPerSecond: envFloat("AI_REQUESTS_PER_SECOND", 2),
			OpenAI: OpenAIConfig{
				APIKey:  os.Getenv("OPENAI_API_KEY"),
				Model:   envString("OPENAI_MODEL", "gpt-4.1-mini"),
				BaseURL: os.Getenv("OPENAI_BASE_URL"),
			},
			Ollama: OllamaConfig{
				BaseURL: envString("OLLAMA_BASE_URL", "http://localhost:11434/v1"),
				Model:   envString("OLLAMA_MODEL", "llava"),
			},
			VLLM: VLLMConfig{
				BaseURL: envString("VLLM_BASE_URL", "http://localhost:8000/v1"),
				Model:   envString("VLLM_MODEL", ""),
			},
		},
		Transcriber: TranscriberConfig{
			Backend:           envString("TRANSCRIBER", "openai"),
			WhisperModel:      envString("WHISPER_MODEL", "whisper-1"),
			WhisperCPPPath:    envString("WHISPERCPP_PATH", "whisper-cli"),
			WhisperCPPModel:   os.Getenv("WHISPERCPP_MODEL_PATH"),
			WhisperLanguage:   envString("WHISPER_LANGUAGE", "auto"),
			TranscribeTimeout: envDurationSecs("TRANSCRIBE_TIMEOUT_SECS", 10*time.Minute),
		},
		Storage: StorageConfig{
			Backend:           envString("STORAGE_BACKEND", "local"),
			LocalDir: envString("STORAGE_LOCAL_DIR", "data/media"),
			MinIO: MinIOConfig{
				Endpoint:  os.Getenv("MINIO_ENDPOINT"),
				AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
				SecretKey: os.Getenv("MINIO_SECRET_KEY"),
				UseSSL:    envBool("MINIO_USE_SSL", false),
				Bucket:    envString("MINIO_BUCKET", "casefile"),
			},
		},
		Queue: QueueConfig{
			Backend:           envString("QUEUE_BACKEND", "local"),
			RabbitMQURL:   os.Getenv("RABBITMQ_URL"),
			RabbitMQQueue: envString("RABBITMQ_QUEUE", "casefile.reports"),
			Prefetch:      envInt("RABBITMQ_PREFETCH", 4),
			WorkerCount:   envInt("WORKER_COUNT", 2),
			RunLockTTL:    envDuration("RUN_LOCK_TTL", 2*time.Hour),
		},
		Pipeline: PipelineConfig{
			WorkDir:       envString("PIPELINE_WORK_DIR", "data/work"),
			SampleRateFPS: envInt("PIPELINE_SAMPLE_RATE_FPS", 1),
			MaxFrames:     envInt("PIPELINE_MAX_FRAMES", 0),
			FFmpegPath:    envString("FFMPEG_PATH", "ffmpeg"),
			FFprobePath:   envString("FFPROBE_PATH", "ffprobe"),
			KeepArtifacts: envBool("PIPELINE_KEEP_ARTIFACTS", false),
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
			ServiceName:  envString("OTEL_SERVICE_NAME", "casefile"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.AI.Provider == "" {
		return fmt.Errorf("AI_PROVIDER is required")
	}
	if !validProviders[c.AI.Provider] {
		return fmt.Errorf("AI_PROVIDER must be one of openai, ollama, vllm; got %q", c.AI.Provider)
	}
	if c.AI.Provider == "openai" && c.AI.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when AI_PROVIDER is openai")
	}
	if c.AI.Provider == "vllm" && c.AI.VLLM.Model == "" {
		return fmt.Errorf("VLLM_MODEL is required when AI_PROVIDER is vllm")
	}
	if c.AI.RequestsPerSecond < 0 {
		return fmt.Errorf("AI_REQUESTS_PER_SECOND must not be negative, got %v", c.AI.RequestsPerSecond)
	}

	if !validTranscribers[c.Transcriber.Backend] {
		return fmt.Errorf("TRANSCRIBER must be one of openai, whispercpp; got %q", c.Transcriber.Backend)
	}
	if c.Transcriber.Backend == "openai" && c.AI.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when TRANSCRIBER is openai")
	}
	if c.Transcriber.Backend == "whispercpp" && c.Transcriber.WhisperCPPModel == "" {
		return fmt.Errorf("WHISPERCPP_MODEL_PATH is required when TRANSCRIBER is whispercpp")
	}

	switch c.Storage.Backend {
	case "local":
	case "minio":
		if c.Storage.MinIO.Endpoint == "" {
			return fmt.Errorf("MINIO_ENDPOINT is required when STORAGE_BACKEND is minio")
		}
		if strings.HasPrefix(c.Storage.MinIO.Endpoint, "http://") || strings.HasPrefix(c.Storage.MinIO.Endpoint, "https://") {
			return fmt.Errorf("MINIO_ENDPOINT must be host:port without scheme, got %q", c.Storage.MinIO.Endpoint)
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be one of local, minio; got %q", c.Storage.Backend)
	}

	switch c.Queue.Backend {
	case "local":
	case "rabbitmq":
		if c.Queue.RabbitMQURL == "" {
			return fmt.Errorf("RABBITMQ_URL is required when QUEUE_BACKEND is rabbitmq")
		}
	default:
		return fmt.Errorf("QUEUE_BACKEND must be one of local, rabbitmq; got %q", c.Queue.Backend)
	}
	if c.Queue.WorkerCount < 1 {
		return fmt.Errorf("WORKER_COUNT must be at least 1, got %d", c.Queue.WorkerCount)
	}

	if c.Pipeline.SampleRateFPS < 1 {
		return fmt.Errorf("PIPELINE_SAMPLE_RATE_FPS must be at least 1, got %d", c.Pipeline.SampleRateFPS)
	}
	if c.Pipeline.MaxFrames < 0 {
		return fmt.Errorf("PIPELINE_MAX_FRAMES must not be negative, got %d", c.Pipeline.MaxFrames)
	}

	if c.Telemetry.OTLPEndpoint != "" &&
		!strings.HasPrefix(c.Telemetry.OTLPEndpoint, "http://") && !strings.HasPrefix(c.Telemetry.OTLPEndpoint, "https://") {
		return fmt.Errorf("OTEL_EXPORTER_OTLP_ENDPOINT must start with http:// or https://, got %q", c.Telemetry.OTLPEndpoint)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
