package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/auditlane/auditlane/pkg/errors"
)

// Config holds everything one action run needs. All values come from the
// environment: action inputs arrive as INPUT_* variables, the workflow
// context as GITHUB_* variables.
type Config struct {
	GitHub    GitHubConfig    `json:"github"`
	LLM       LLMConfig       `json:"llm"`
	Audit     AuditConfig     `json:"audit"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Cache     CacheConfig     `json:"cache"`
	Logging   LoggingConfig   `json:"logging"`
}

// GitHubConfig identifies the repository under audit and how to
// authenticate against the platform API.
type GitHubConfig struct {
	Token             string `json:"-"`
	Repository        string `json:"repository"` // owner/name
	CommitSHA         string `json:"commit_sha"`
	PRNumber          int    `json:"pr_number"` // 0 when not a PR run
	BaseURL           string `json:"base_url"`
	AppID             int64  `json:"app_id"`
	AppInstallationID int64  `json:"app_installation_id"`
	AppPrivateKey     string `json:"-"`
}

// LLMConfig configures the optional LLM analysis calls.
type LLMConfig struct {
	APIKey  string        `json:"-"`
	BaseURL string        `json:"base_url"`
	Model   string        `json:"model"`
	Timeout time.Duration `json:"timeout"`
}

// Enabled reports whether LLM analysis was configured for this run.
func (c LLMConfig) Enabled() bool {
	return c.APIKey != ""
}

// AuditConfig holds the compliance evaluation inputs.
type AuditConfig struct {
	Frameworks     []string `json:"frameworks"`
	MinReviewers   int      `json:"min_reviewers"`
	MaxAdminRatio  float64  `json:"max_admin_ratio"`
	OutputDir      string   `json:"output_dir"`
	PostComment    bool     `json:"post_comment"`
	CreateCheckRun bool     `json:"create_check_run"`
}

// RateLimitConfig mirrors the resilience layer's admission limits.
type RateLimitConfig struct {
	MaxRequestsPerMinute  int     `json:"max_requests_per_minute"`
	MaxConcurrentRequests int     `json:"max_concurrent_requests"`
	MaxRetries            int     `json:"max_retries"`
	BackoffMultiplier     float64 `json:"backoff_multiplier"`
}

// CacheConfig bounds the response cache.
type CacheConfig struct {
	TTL     time.Duration `json:"ttl"`
	MaxSize int           `json:"max_size"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Load reads configuration from the environment with sensible defaults.
// A local .env file is honoured when present so the action can be run
// outside a workflow during development.
func Load() (*Config, error) {
	_ = godotenv.Load()

	config := &Config{
		GitHub: GitHubConfig{
			Token:             getEnvString("GITHUB_TOKEN", getEnvString("INPUT_GITHUB_TOKEN", "")),
			Repository:        getEnvString("GITHUB_REPOSITORY", ""),
			CommitSHA:         getEnvString("GITHUB_SHA", ""),
			PRNumber:          prNumberFromRef(getEnvString("GITHUB_REF", "")),
			BaseURL:           getEnvString("GITHUB_API_URL", "https://api.github.com"),
			AppID:             getEnvInt64("AUDITLANE_APP_ID", 0),
			AppInstallationID: getEnvInt64("AUDITLANE_APP_INSTALLATION_ID", 0),
			AppPrivateKey:     getEnvString("AUDITLANE_APP_PRIVATE_KEY", ""),
		},
		LLM: LLMConfig{
			APIKey:  getEnvString("INPUT_LLM_API_KEY", getEnvString("OPENAI_API_KEY", "")),
			BaseURL: getEnvString("INPUT_LLM_BASE_URL", "https://api.openai.com/v1"),
			Model:   getEnvString("INPUT_LLM_MODEL", "gpt-4o-mini"),
			Timeout: getEnvDuration("INPUT_LLM_TIMEOUT", 60*time.Second),
		},
		Audit: AuditConfig{
			Frameworks:     splitList(getEnvString("INPUT_FRAMEWORKS", "soc2")),
			MinReviewers:   getEnvInt("INPUT_MIN_REVIEWERS", 2),
			MaxAdminRatio:  getEnvFloat("INPUT_MAX_ADMIN_RATIO", 0.3),
			OutputDir:      getEnvString("INPUT_OUTPUT_DIR", "auditlane-reports"),
			PostComment:    getEnvBool("INPUT_POST_COMMENT", true),
			CreateCheckRun: getEnvBool("INPUT_CREATE_CHECK_RUN", false),
		},
		RateLimit: RateLimitConfig{
			MaxRequestsPerMinute:  getEnvInt("INPUT_MAX_REQUESTS_PER_MINUTE", 50),
			MaxConcurrentRequests: getEnvInt("INPUT_MAX_CONCURRENT_REQUESTS", 10),
			MaxRetries:            getEnvInt("INPUT_MAX_RETRIES", 3),
			BackoffMultiplier:     getEnvFloat("INPUT_BACKOFF_MULTIPLIER", 2.0),
		},
		Cache: CacheConfig{
			TTL:     getEnvDuration("INPUT_CACHE_TTL", time.Hour),
			MaxSize: getEnvInt("INPUT_CACHE_MAX_SIZE", 100),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("INPUT_LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the configuration the run cannot proceed without.
func (c *Config) Validate() error {
	if c.GitHub.Token == "" && (c.GitHub.AppID == 0 || c.GitHub.AppPrivateKey == "") {
		return errors.NewConfigMissingError("GITHUB_TOKEN")
	}
	if c.GitHub.Repository == "" {
		return errors.NewConfigMissingError("GITHUB_REPOSITORY")
	}
	if !strings.Contains(c.GitHub.Repository, "/") {
		return errors.NewConfigInvalidError("GITHUB_REPOSITORY", "repository must be in owner/name form")
	}
	if len(c.Audit.Frameworks) == 0 {
		return errors.NewConfigMissingError("INPUT_FRAMEWORKS")
	}
	if c.Audit.MinReviewers < 1 {
		return errors.NewConfigInvalidError("INPUT_MIN_REVIEWERS", "minimum reviewers must be at least 1")
	}
	if c.Audit.MaxAdminRatio <= 0 || c.Audit.MaxAdminRatio > 1 {
		return errors.NewConfigInvalidError("INPUT_MAX_ADMIN_RATIO", "admin ratio must be in (0, 1]")
	}
	return nil
}

// Owner returns the repository owner half of owner/name.
func (c *GitHubConfig) Owner() string {
	parts := strings.SplitN(c.Repository, "/", 2)
	return parts[0]
}

// Repo returns the repository name half of owner/name.
func (c *GitHubConfig) Repo() string {
	parts := strings.SplitN(c.Repository, "/", 2)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

// prNumberFromRef extracts the pull request number from a workflow ref such
// as "refs/pull/123/merge". Returns 0 for branch and tag refs.
func prNumberFromRef(ref string) int {
	parts := strings.Split(ref, "/")
	if len(parts) >= 3 && parts[0] == "refs" && parts[1] == "pull" {
		if n, err := strconv.Atoi(parts[2]); err == nil {
			return n
		}
	}
	return 0
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
