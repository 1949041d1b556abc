package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrMissingCredential marks a provider call that cannot run because its API key is unset.
var ErrMissingCredential = errors.New("missing required credential")

type Config struct {
	Server    ServerConfig
	SQLite    SQLiteConfig
	Redis     RedisConfig
	Neo4j     Neo4jConfig
	Places    PlacesConfig
	Scrape    ScrapeConfig
	Email     EmailConfig
	Voice     VoiceConfig
	LLM       LLMConfig
	Discovery DiscoveryConfig
	Newsroom  NewsroomConfig
	Drip      DripConfig
	Dialer    DialerConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     int
	WriteTimeout    int
	BodyLimit       int
	RateLimitPerMin int
	AllowedOrigins  []string
	IsDevelopment   bool
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	LockTTL  int
}

type Neo4jConfig struct {
	Enabled  bool
	URI      string
	Username string
	Password string
	Database string
}

type PlacesConfig struct {
	APIKey     string
	BaseURL    string
	TimeoutSec int
}

type ScrapeConfig struct {
	APIKey     string
	BaseURL    string
	TimeoutSec int
	UserAgent  string
}

type EmailConfig struct {
	APIKey     string
	BaseURL    string
	From       string
	ReplyTo    string
	TimeoutSec int
}

type VoiceConfig struct {
	APIKey        string
	BaseURL       string
	AgentID       string
	PhoneNumberID string
	TimeoutSec    int
}

type LLMConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
	TimeoutSec  int
}

type DiscoveryConfig struct {
	DefaultBusinessType string
	Categories          []string
	PrefixBatchSize     int
	ZipsPerPrefix       int
	FiberZipCap         int
	ZipDelayMs          int
	ScrapeEmails        bool
}

type NewsroomConfig struct {
	SiteURL      string
	SearchQuery  string
	MapSearch    string
	SearchLimit  int
	ArticleBatch int
	MaxLocations int
}

type DripConfig struct {
	BatchSize int
}

type DialerConfig struct {
	CooldownHours  int
	FetchWindow    int
	MaxCallsPerRun int
	CallDelayMs    int
	WindowStart    int
	WindowEnd      int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func (c DialerConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownHours) * time.Hour
}

func (c DiscoveryConfig) ZipDelay() time.Duration {
	return time.Duration(c.ZipDelayMs) * time.Millisecond
}

func (c DialerConfig) CallDelay() time.Duration {
	return time.Duration(c.CallDelayMs) * time.Millisecond
}

// RequireKey returns ErrMissingCredential naming the setting when value is empty.
func RequireKey(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s", ErrMissingCredential, name)
	}
	return nil
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/leadflow")

	v.SetEnvPrefix("LEADFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// Defaults returns the configuration with no file and no environment applied.
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	_ = v.Unmarshal(&config)
	return &config
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 300)
	v.SetDefault("server.bodyLimit", 1048576)
	v.SetDefault("server.rateLimitPerMin", 120)
	v.SetDefault("server.isDevelopment", false)

	v.SetDefault("sqlite.path", "./data/leadflow.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lockTTL", 900)

	v.SetDefault("neo4j.enabled", false)
	v.SetDefault("neo4j.uri", "bolt://localhost:7687")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("neo4j.database", "neo4j")

	// credentials default to empty so AutomaticEnv can bind them during Unmarshal
	for _, key := range []string{
		"redis.password", "neo4j.password", "places.apiKey", "scrape.apiKey", "email.apiKey",
		"email.replyTo", "voice.apiKey", "voice.agentID", "voice.phoneNumberID", "llm.apiKey",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("server.allowedOrigins", []string{"*"})

	v.SetDefault("places.baseURL", "https://maps.googleapis.com/maps/api")
	v.SetDefault("places.timeoutSec", 15)

	v.SetDefault("scrape.baseURL", "https://api.firecrawl.dev")
	v.SetDefault("scrape.timeoutSec", 45)
	v.SetDefault("scrape.userAgent", "Mozilla/5.0 (compatible; leadflow/1.0)")

	v.SetDefault("email.baseURL", "https://api.resend.com")
	v.SetDefault("email.from", "Business Fiber Team <offers@example.com>")
	v.SetDefault("email.timeoutSec", 15)

	v.SetDefault("voice.baseURL", "https://api.elevenlabs.io")
	v.SetDefault("voice.timeoutSec", 20)

	v.SetDefault("llm.baseURL", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.maxTokens", 300)
	v.SetDefault("llm.timeoutSec", 30)

	v.SetDefault("discovery.defaultBusinessType", "restaurants")
	v.SetDefault("discovery.categories", []string{
		"restaurants", "dental offices", "law firms", "auto repair shops",
		"medical clinics", "real estate offices", "accounting firms", "retail stores",
	})
	v.SetDefault("discovery.prefixBatchSize", 3)
	v.SetDefault("discovery.zipsPerPrefix", 2)
	v.SetDefault("discovery.fiberZipCap", 5)
	v.SetDefault("discovery.zipDelayMs", 200)
	v.SetDefault("discovery.scrapeEmails", true)

	v.SetDefault("newsroom.siteURL", "https://corporate.charter.com/newsroom")
	v.SetDefault("newsroom.searchQuery", "site:corporate.charter.com fiber broadband expansion launch")
	v.SetDefault("newsroom.mapSearch", "fiber")
	v.SetDefault("newsroom.searchLimit", 20)
	v.SetDefault("newsroom.articleBatch", 5)
	v.SetDefault("newsroom.maxLocations", 5)

	v.SetDefault("drip.batchSize", 50)

	v.SetDefault("dialer.cooldownHours", 72)
	v.SetDefault("dialer.fetchWindow", 20)
	v.SetDefault("dialer.maxCallsPerRun", 5)
	v.SetDefault("dialer.callDelayMs", 2000)
	v.SetDefault("dialer.windowStart", 8)
	v.SetDefault("dialer.windowEnd", 22)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
