package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Strategy names accepted by EVALUATOR_STRATEGY
const (
	StrategyRule  = "rule"
	StrategyModel = "model"
)

// Channel names accepted by NOTIFY_CHANNEL
const (
	ChannelNone    = "none"
	ChannelTeams   = "teams"
	ChannelVKTeams = "vkteams"
)

// Folders are the status-named locations a document moves between.
// Values are local paths or afs URLs (file://, mem://).
type Folders struct {
	Incoming string
	Approved string
	Pending  string
	Rejected string
	Failed   string // optional; extraction failures stay in Incoming when empty
}

type Database struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// DSN builds the postgres connection string.
func (d Database) DSN() string {
	return "postgres://" + d.User + ":" + d.Password + "@" + d.Host + ":" + d.Port + "/" + d.Name + "?sslmode=" + d.SSLMode
}

type Evaluator struct {
	Strategy         string
	DefaultThreshold decimal.Decimal
	MaxItems         int
	ModelTimeout     time.Duration
}

type Vertex struct {
	ProjectID       string
	Region          string
	EvaluatorModel  string
	ExtractionModel string
}

type Pipeline struct {
	Enabled      bool
	Workers      int
	QueueSize    int
	SettleDelay  time.Duration
	Extensions   []string
	MarkerPrefix string
	MarkerTTL    time.Duration
}

type Notify struct {
	Channel         string
	TeamsWebhookURL string
	VKBotToken      string
	VKBotAPIURL     string
	VKChatID        string
	Timeout         time.Duration
}

type Redis struct {
	Addr     string
	Password string
	DB       int
}

// Config is passed explicitly into every component at construction time.
type Config struct {
	Port           string
	BaseURL        string
	JWTSecret      string
	LogFile        string
	Debug          bool
	CategorySeed   string
	AllowedOrigins []string

	Database  Database
	Folders   Folders
	Evaluator Evaluator
	Vertex    Vertex
	Pipeline  Pipeline
	Notify    Notify
	Redis     Redis
}

// Load reads configs/.env (when present) and then the process environment.
func Load(envFile string) (*Config, error) {
	_ = godotenv.Load(envFile)

	threshold, err := decimal.NewFromString(getEnv("DEFAULT_THRESHOLD", "2000"))
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_THRESHOLD: %w", err)
	}

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		BaseURL:        strings.TrimRight(getEnv("BASE_URL", "http://localhost:8080"), "/"),
		JWTSecret:      getEnv("JWT_SECRET", ""),
		LogFile:        getEnv("LOG_FILE", ""),
		Debug:          getBool("DEBUG", false),
		CategorySeed:   getEnv("CATEGORY_SEED_FILE", "configs/categories.yaml"),
		AllowedOrigins: getList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173", "http://127.0.0.1:5173"}),
		Database: Database{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			Name:     getEnv("DB_NAME", "postgres"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Folders: Folders{
			Incoming: getEnv("INCOMING_FOLDER", "data/Incoming"),
			Approved: getEnv("APPROVED_FOLDER", "data/Approved"),
			Pending:  getEnv("PENDING_FOLDER", "data/Pending"),
			Rejected: getEnv("REJECTED_FOLDER", "data/Rejected"),
			Failed:   getEnv("FAILED_FOLDER", ""),
		},
		Evaluator: Evaluator{
			Strategy:         strings.ToLower(getEnv("EVALUATOR_STRATEGY", StrategyRule)),
			DefaultThreshold: threshold,
			MaxItems:         getInt("MAX_ITEMS", 5),
			ModelTimeout:     getDuration("MODEL_TIMEOUT", 20*time.Second),
		},
		Vertex: Vertex{
			ProjectID:       getEnv("PROJECT_ID", ""),
			Region:          getEnv("VERTEX_AI_REGION", "us-central1"),
			EvaluatorModel:  getEnv("VERTEX_EVALUATOR_MODEL", "gemini-1.5-flash"),
			ExtractionModel: getEnv("VERTEX_EXTRACTION_MODEL", "gemini-1.5-pro"),
		},
		Pipeline: Pipeline{
			Enabled:      getBool("WATCHER_ENABLED", true),
			Workers:      getInt("PIPELINE_WORKERS", 4),
			QueueSize:    getInt("PIPELINE_QUEUE_SIZE", 32),
			SettleDelay:  getDuration("PIPELINE_SETTLE_DELAY", 2*time.Second),
			Extensions:   getList("ALLOWED_EXTENSIONS", []string{".pdf", ".png", ".jpg", ".jpeg"}),
			MarkerPrefix: getEnv("MARKER_PREFIX", "invoiceflow:marker:"),
			MarkerTTL:    getDuration("MARKER_TTL", 0),
		},
		Notify: Notify{
			Channel:         strings.ToLower(getEnv("NOTIFY_CHANNEL", ChannelNone)),
			TeamsWebhookURL: getEnv("TEAMS_WEBHOOK_URL", ""),
			VKBotToken:      getEnv("VK_BOT_TOKEN", ""),
			VKBotAPIURL:     getEnv("VK_BOT_API_URL", ""),
			VKChatID:        getEnv("VK_CHAT_ID", ""),
			Timeout:         getDuration("NOTIFY_TIMEOUT", 10*time.Second),
		},
		Redis: Redis{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getInt("REDIS_DB", 0),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Evaluator.Strategy {
	case StrategyRule:
	case StrategyModel:
		if c.Vertex.ProjectID == "" {
			return fmt.Errorf("EVALUATOR_STRATEGY=model requires PROJECT_ID")
		}
	default:
		return fmt.Errorf("unknown EVALUATOR_STRATEGY %q", c.Evaluator.Strategy)
	}

	switch c.Notify.Channel {
	case ChannelNone:
	case ChannelTeams:
		if c.Notify.TeamsWebhookURL == "" {
			return fmt.Errorf("NOTIFY_CHANNEL=teams requires TEAMS_WEBHOOK_URL")
		}
	case ChannelVKTeams:
		if c.Notify.VKBotToken == "" || c.Notify.VKChatID == "" {
			return fmt.Errorf("NOTIFY_CHANNEL=vkteams requires VK_BOT_TOKEN and VK_CHAT_ID")
		}
	default:
		return fmt.Errorf("unknown NOTIFY_CHANNEL %q", c.Notify.Channel)
	}

	if c.Evaluator.DefaultThreshold.IsNegative() {
		return fmt.Errorf("DEFAULT_THRESHOLD must not be negative")
	}
	if c.Evaluator.MaxItems < 1 {
		return fmt.Errorf("MAX_ITEMS must be at least 1")
	}
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("PIPELINE_WORKERS must be at least 1")
	}
	if c.Pipeline.QueueSize < 1 {
		return fmt.Errorf("PIPELINE_QUEUE_SIZE must be at least 1")
	}
	if c.Folders.Incoming == "" || c.Folders.Approved == "" || c.Folders.Pending == "" || c.Folders.Rejected == "" {
		return fmt.Errorf("all four status folders must be configured")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getList(key string, fallback []string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
