package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the application configuration
type Config struct {
	Forge struct {
		Kind  string `koanf:"kind"`
		URL   string `koanf:"url"`
		Token string `koanf:"token"`
	} `koanf:"forge"`

	Bot struct {
		Name  string `koanf:"name"`
		Email string `koanf:"email"`
	} `koanf:"bot"`

	CensusFile string `koanf:"census_file"`

	// Repositories maps forge repository paths to their integration
	// settings.
	Repositories map[string]RepositoryConfig `koanf:"repositories"`

	Integration struct {
		// LockTimeoutSeconds bounds how long an integration waits for
		// the per-repository lock.
		LockTimeoutSeconds int  `koanf:"lock_timeout_seconds"`
		IgnoreStaleReviews bool `koanf:"ignore_stale_reviews"`
		// ControlRepoURL is the clone URL of the repository holding
		// the integrity records. Empty disables ledger verification.
		ControlRepoURL string `koanf:"control_repo_url"`
		// ControlRepoBranch is the control repository's base branch,
		// from which new record branches start.
		ControlRepoBranch string `koanf:"control_repo_branch"`
		// WorkDir is where local clones are materialized.
		WorkDir string `koanf:"work_dir"`
	} `koanf:"integration"`

	Scheduler struct {
		Workers             int     `koanf:"workers"`
		PollIntervalSeconds int     `koanf:"poll_interval_seconds"`
		RequestsPerSecond   float64 `koanf:"requests_per_second"`
	} `koanf:"scheduler"`

	Webhook struct {
		Port   int    `koanf:"port"`
		Secret string `koanf:"secret"`
	} `koanf:"webhook"`
}

// RepositoryConfig holds per-repository integration settings.
type RepositoryConfig struct {
	TargetRef string `koanf:"target_ref"`
}

// LockTimeout returns the configured lock timeout as a duration.
func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.Integration.LockTimeoutSeconds) * time.Second
}

// PollInterval returns the configured poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Scheduler.PollIntervalSeconds) * time.Second
}

// LoadConfig loads the configuration from a file
func LoadConfig(configPath string) (*Config, error) {
	var k = koanf.New(".")

	// Set up default configuration
	k.Load(confmap.Provider(map[string]interface{}{
		"forge.kind":                       "gitlab",
		"integration.lock_timeout_seconds": 600,
		"integration.ignore_stale_reviews": true,
		"integration.control_repo_branch":  "master",
		"integration.work_dir":             "./mbdata/repos",
		"scheduler.workers":                4,
		"scheduler.poll_interval_seconds":  30,
		"scheduler.requests_per_second":    5.0,
		"webhook.port":                     8080,
	}, "."), nil)

	// Load from TOML file if it exists
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		// Try to load from default locations
		defaultPaths := []string{"./mbdata/mergebot.toml", "./mergebot.toml", "$HOME/.mergebot.toml"}
		for _, path := range defaultPaths {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	// Load from environment variables with prefix MERGEBOT_
	k.Load(env.Provider("MERGEBOT_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(s), "_", ".", -1)
	}), nil)

	// Unmarshal into Config struct
	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	return &config, nil
}

// InitConfig initializes a new configuration file
func InitConfig(configPath string) error {
	// Check if file already exists
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	// Create sample configuration
	sampleConfig := `# mergebot configuration

[forge]
kind = "gitlab"
url = "https://gitlab.example.com"
token = "your-forge-token"

[bot]
name = "mergebot"
email = "mergebot@example.com"

census_file = "./mbdata/census.toml"

[repositories."project/repo"]
target_ref = "master"

[integration]
lock_timeout_seconds = 600
ignore_stale_reviews = true
control_repo_url = ""
control_repo_branch = "master"
work_dir = "./mbdata/repos"

[scheduler]
workers = 4
poll_interval_seconds = 30
requests_per_second = 5.0

[webhook]
port = 8080
secret = ""
`

	return os.WriteFile(configPath, []byte(sampleConfig), 0644)
}

// Validate validates the configuration
func Validate(config *Config) error {
	if config.Forge.Kind != "gitlab" {
		return fmt.Errorf("unsupported forge kind %q", config.Forge.Kind)
	}
	if config.Forge.URL == "" {
		return fmt.Errorf("forge url is required")
	}
	if config.Forge.Token == "" {
		return fmt.Errorf("forge token is required")
	}
	if config.Bot.Name == "" {
		return fmt.Errorf("bot name is required")
	}
	if config.Bot.Email == "" {
		return fmt.Errorf("bot email is required")
	}
	if config.CensusFile == "" {
		return fmt.Errorf("census_file is required")
	}
	if len(config.Repositories) == 0 {
		return fmt.Errorf("at least one repository must be configured")
	}
	for name, repo := range config.Repositories {
		if repo.TargetRef == "" {
			return fmt.Errorf("repository %s is missing target_ref", name)
		}
	}
	if config.Scheduler.Workers < 1 {
		return fmt.Errorf("scheduler workers must be at least 1")
	}
	return nil
}
