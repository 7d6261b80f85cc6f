package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Paths      PathsConfig      `yaml:"paths"`
	Database   DatabaseConfig   `yaml:"database"`
	LLM        LLMConfig        `yaml:"llm"`
	Queue      QueueConfig      `yaml:"queue"`
	Validation ValidationConfig `yaml:"validation"`
	Script     ScriptConfig     `yaml:"script"`
	Segments   SegmentsConfig   `yaml:"segments"`
	Research   ResearchConfig   `yaml:"research"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type PathsConfig struct {
	StorageDir   string `yaml:"storage_dir"`
	ConfigDir    string `yaml:"config_dir"`
	PipelineFile string `yaml:"pipeline_file"`
}

// DatabaseConfig selects the project store. An empty DSN keeps everything in memory.
type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"max_conns"`
}

type LLMConfig struct {
	Provider    string  `yaml:"provider"` // anthropic | groq
	Model       string  `yaml:"model"`
	GroqModel   string  `yaml:"groq_model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	APIKey      string  `yaml:"-"`
}

type QueueConfig struct {
	Backend       string            `yaml:"backend"` // memory | postgres
	Concurrency   int               `yaml:"concurrency"`
	Attempts      int               `yaml:"attempts"`
	Backoff       time.Duration     `yaml:"backoff"`
	KeepCompleted int               `yaml:"keep_completed"`
	KeepFailed    int               `yaml:"keep_failed"`
	PollInterval  time.Duration     `yaml:"poll_interval"`
	Lanes         map[string]string `yaml:"lanes"`
}

type ValidationConfig struct {
	MinWords        int     `yaml:"min_words"`
	MaxWords        int     `yaml:"max_words"`
	MaxParts        int     `yaml:"max_parts"`
	MaxOverlap      float64 `yaml:"max_overlap"`
	StrictWordCount bool    `yaml:"strict_word_count"`
	MinIdeaMinutes  float64 `yaml:"min_idea_minutes"`
	MaxIdeaMinutes  float64 `yaml:"max_idea_minutes"`
}

type ScriptConfig struct {
	Channel      string `yaml:"channel"`
	Format       string `yaml:"format"`
	DefaultAngle string `yaml:"default_angle"`
}

type SegmentsConfig struct {
	FaceLockPhrase string `yaml:"face_lock_phrase"`
	NegativePrompt string `yaml:"negative_prompt"`
}

type ResearchConfig struct {
	Subreddits      []string `yaml:"subreddits"`
	RedditLimit     int      `yaml:"reddit_limit"`
	RedditTime      string   `yaml:"reddit_time"`
	MinRedditScore  int      `yaml:"min_reddit_score"`
	YouTubeResults  int64    `yaml:"youtube_results"`
	ReferencePages  []string `yaml:"reference_pages"`
	MaxExcerptChars int      `yaml:"max_excerpt_chars"`
	UserAgent       string   `yaml:"user_agent"`
}

// Load reads config.yaml, applies defaults and overlays secrets from the environment
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyEnv()
	return cfg, nil
}

// Parse decodes yaml bytes and fills unset fields with defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration suitable for running everything in memory.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Paths.StorageDir == "" {
		c.Paths.StorageDir = "storage"
	}
	if c.Paths.PipelineFile == "" {
		c.Paths.PipelineFile = "pipeline.yaml"
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = 10
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "anthropic"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "claude-sonnet-4-20250514"
	}
	if c.LLM.GroqModel == "" {
		c.LLM.GroqModel = "llama-3.3-70b-versatile"
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.7
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 16000
	}

	if c.Queue.Backend == "" {
		c.Queue.Backend = "memory"
	}
	if c.Queue.Concurrency == 0 {
		c.Queue.Concurrency = 2
	}
	if c.Queue.Attempts == 0 {
		c.Queue.Attempts = 3
	}
	if c.Queue.Backoff == 0 {
		c.Queue.Backoff = 2 * time.Second
	}
	if c.Queue.KeepCompleted == 0 {
		c.Queue.KeepCompleted = 100
	}
	if c.Queue.KeepFailed == 0 {
		c.Queue.KeepFailed = 500
	}
	if c.Queue.PollInterval == 0 {
		c.Queue.PollInterval = 5 * time.Second
	}

	if c.Validation.MinWords == 0 {
		c.Validation.MinWords = 3000
	}
	if c.Validation.MaxWords == 0 {
		c.Validation.MaxWords = 6000
	}
	if c.Validation.MaxParts == 0 {
		c.Validation.MaxParts = 6
	}
	if c.Validation.MaxOverlap == 0 {
		c.Validation.MaxOverlap = 0.35
	}
	if c.Validation.MinIdeaMinutes == 0 {
		c.Validation.MinIdeaMinutes = 5
	}
	if c.Validation.MaxIdeaMinutes == 0 {
		c.Validation.MaxIdeaMinutes = 8
	}

	if c.Script.Channel == "" {
		c.Script.Channel = "Simple Mind Studio"
	}
	if c.Script.Format == "" {
		c.Script.Format = "faceless_storytelling"
	}
	if c.Script.DefaultAngle == "" {
		c.Script.DefaultAngle = "calm psychological reframe"
	}

	if c.Segments.FaceLockPhrase == "" {
		c.Segments.FaceLockPhrase = "same face as reference character, identical facial features"
	}
	if c.Segments.NegativePrompt == "" {
		c.Segments.NegativePrompt = "different face, distorted face, extra fingers, text, watermark, logo, blurry"
	}

	if c.Research.RedditLimit == 0 {
		c.Research.RedditLimit = 10
	}
	if c.Research.RedditTime == "" {
		c.Research.RedditTime = "month"
	}
	if c.Research.YouTubeResults == 0 {
		c.Research.YouTubeResults = 5
	}
	if c.Research.MaxExcerptChars == 0 {
		c.Research.MaxExcerptChars = 1500
	}
	if c.Research.UserAgent == "" {
		c.Research.UserAgent = "script-studio/1.0"
	}
}

// applyEnv fills secrets and deployment overrides from the process environment.
func (c *Config) applyEnv() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("STORAGE_DIR"); v != "" {
		c.Paths.StorageDir = v
	}
	if v := os.Getenv("CONFIG_DIR"); v != "" {
		c.Paths.ConfigDir = v
	}
	switch c.LLM.Provider {
	case "groq":
		c.LLM.APIKey = os.Getenv("GROQ_API_KEY")
	default:
		c.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
}

// Validate rejects settings that would make the workers misbehave.
func (c *Config) Validate() error {
	switch c.Queue.Backend {
	case "memory", "postgres":
	default:
		return fmt.Errorf("queue.backend must be memory or postgres, got %q", c.Queue.Backend)
	}
	switch c.LLM.Provider {
	case "anthropic", "groq":
	default:
		return fmt.Errorf("llm.provider must be anthropic or groq, got %q", c.LLM.Provider)
	}
	if c.Queue.Concurrency < 1 {
		return fmt.Errorf("queue.concurrency must be positive")
	}
	if c.Validation.MinWords > c.Validation.MaxWords {
		return fmt.Errorf("validation.min_words (%d) exceeds max_words (%d)", c.Validation.MinWords, c.Validation.MaxWords)
	}
	if c.Validation.MaxOverlap <= 0 || c.Validation.MaxOverlap > 1 {
		return fmt.Errorf("validation.max_overlap must be in (0, 1]")
	}
	return nil
}
