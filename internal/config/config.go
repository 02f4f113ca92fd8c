package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const defaultExternalHTTPTimeout = 90 * time.Second
const defaultExternalHTTPTimeoutSeconds = int(defaultExternalHTTPTimeout / time.Second)

type Config struct {
	LLMProvider            string `yaml:"llm_provider"`
	LLMModel               string `yaml:"llm_model"`
	LLMBaseURL             string `yaml:"llm_base_url"`
	LLMSampleSize          int    `yaml:"llm_sample_size"`
	LLMMaxRetries          int    `yaml:"llm_max_retries"`
	LLMTimeoutSeconds      int    `yaml:"llm_timeout_seconds"`
	LLMDescriptionMaxChars int    `yaml:"llm_description_max_chars"`
	LLMMaxPayloadChars     int    `yaml:"llm_max_payload_chars"`
	AnthropicAPIKey        string `yaml:"anthropic_api_key"`
	OpenAIAPIKey           string `yaml:"openai_api_key"`

	// Response keys agreed with the insight service.
	InsightFindingsKey        string `yaml:"insight_findings_key"`
	InsightRecommendationsKey string `yaml:"insight_recommendations_key"`

	DBPath string `yaml:"db_path"`
	// Backward compatibility for the old key name.
	DBName      string `yaml:"db_name"`
	MappingPath string `yaml:"mapping_path"`

	ClusterK          int `yaml:"cluster_k"`
	ClusterMaxRecords int `yaml:"cluster_max_records"`
	ClusterTopTerms   int `yaml:"cluster_top_terms"`

	ReportOutputDir            string `yaml:"report_output_dir"`
	SlackBotToken              string `yaml:"slack_bot_token"`
	ReportChannelID            string `yaml:"report_channel_id"`
	AnalysisSchedule           string `yaml:"analysis_schedule"`
	WatchWorkbookPath          string `yaml:"watch_workbook_path"`
	ExternalHTTPTimeoutSeconds int    `yaml:"external_http_timeout_seconds"`
	Timezone                   string `yaml:"timezone"`

	Location *time.Location `yaml:"-"` // computed from Timezone, not from YAML
}

func LoadConfig() Config {
	var cfg Config

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("Error parsing %s: %v", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverride(&cfg.LLMBaseURL, "LLM_BASE_URL")
	envOverrideInt(&cfg.LLMSampleSize, "LLM_SAMPLE_SIZE")
	envOverrideInt(&cfg.LLMMaxRetries, "LLM_MAX_RETRIES")
	envOverrideInt(&cfg.LLMTimeoutSeconds, "LLM_TIMEOUT_SECONDS")
	envOverrideInt(&cfg.LLMDescriptionMaxChars, "LLM_DESCRIPTION_MAX_CHARS")
	envOverrideInt(&cfg.LLMMaxPayloadChars, "LLM_MAX_PAYLOAD_CHARS")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverride(&cfg.InsightFindingsKey, "INSIGHT_FINDINGS_KEY")
	envOverride(&cfg.InsightRecommendationsKey, "INSIGHT_RECOMMENDATIONS_KEY")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.MappingPath, "MAPPING_PATH")
	envOverrideInt(&cfg.ClusterK, "CLUSTER_K")
	envOverrideInt(&cfg.ClusterMaxRecords, "CLUSTER_MAX_RECORDS")
	envOverrideInt(&cfg.ClusterTopTerms, "CLUSTER_TOP_TERMS")
	envOverride(&cfg.ReportOutputDir, "REPORT_OUTPUT_DIR")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.ReportChannelID, "REPORT_CHANNEL_ID")
	envOverrideAllowEmpty(&cfg.AnalysisSchedule, "ANALYSIS_SCHEDULE")
	envOverride(&cfg.WatchWorkbookPath, "WATCH_WORKBOOK_PATH")
	envOverrideInt(&cfg.ExternalHTTPTimeoutSeconds, "EXTERNAL_HTTP_TIMEOUT_SECONDS")
	envOverride(&cfg.Timezone, "TIMEZONE")

	applyDefaults(&cfg)

	switch cfg.LLMProvider {
	case "anthropic", "openai":
	default:
		log.Fatalf("llm_provider must be 'anthropic' or 'openai', got '%s'", cfg.LLMProvider)
	}
	if !cfg.InsightEnabled() {
		log.Printf("WARNING: no %s API key configured. Remote insight is disabled; local clustering remains available.", cfg.LLMProvider)
	}

	if strings.EqualFold(cfg.Timezone, "Local") {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			log.Fatalf("invalid timezone '%s': %v", cfg.Timezone, err)
		}
		cfg.Location = loc
	}

	if cfg.LLMSampleSize < 1 {
		log.Fatalf("invalid llm_sample_size '%d': must be >= 1", cfg.LLMSampleSize)
	}
	if cfg.LLMMaxRetries < 0 || cfg.LLMMaxRetries > 10 {
		log.Fatalf("invalid llm_max_retries '%d': must be between 0 and 10", cfg.LLMMaxRetries)
	}
	if cfg.LLMTimeoutSeconds < 1 {
		log.Fatalf("invalid llm_timeout_seconds '%d': must be >= 1", cfg.LLMTimeoutSeconds)
	}
	if cfg.LLMDescriptionMaxChars < 20 {
		log.Fatalf("invalid llm_description_max_chars '%d': must be >= 20", cfg.LLMDescriptionMaxChars)
	}
	if cfg.LLMMaxPayloadChars < cfg.LLMDescriptionMaxChars {
		log.Fatalf("invalid llm_max_payload_chars '%d': must be >= llm_description_max_chars", cfg.LLMMaxPayloadChars)
	}
	if cfg.ClusterK < 1 {
		log.Fatalf("invalid cluster_k '%d': must be >= 1", cfg.ClusterK)
	}
	if cfg.ClusterMaxRecords < 1 {
		log.Fatalf("invalid cluster_max_records '%d': must be >= 1", cfg.ClusterMaxRecords)
	}
	if cfg.ClusterTopTerms < 1 {
		log.Fatalf("invalid cluster_top_terms '%d': must be >= 1", cfg.ClusterTopTerms)
	}
	if cfg.ExternalHTTPTimeoutSeconds < 5 {
		log.Fatalf("invalid external_http_timeout_seconds '%d': must be >= 5", cfg.ExternalHTTPTimeoutSeconds)
	}
	if cfg.InsightFindingsKey == cfg.InsightRecommendationsKey {
		log.Fatalf("insight_findings_key and insight_recommendations_key must differ, both are '%s'", cfg.InsightFindingsKey)
	}
	if s := strings.TrimSpace(cfg.AnalysisSchedule); s != "" {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		if _, err := parser.Parse(s); err != nil {
			log.Fatalf("invalid analysis_schedule '%s': %v", s, err)
		}
	}

	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = "anthropic"
	}
	if cfg.LLMSampleSize == 0 {
		cfg.LLMSampleSize = 10
	}
	if cfg.LLMMaxRetries == 0 {
		cfg.LLMMaxRetries = 3
	}
	if cfg.LLMTimeoutSeconds == 0 {
		cfg.LLMTimeoutSeconds = 120
	}
	if cfg.LLMDescriptionMaxChars == 0 {
		cfg.LLMDescriptionMaxChars = 600
	}
	if cfg.LLMMaxPayloadChars == 0 {
		cfg.LLMMaxPayloadChars = 24000
	}
	if cfg.InsightFindingsKey == "" {
		cfg.InsightFindingsKey = "findings"
	}
	if cfg.InsightRecommendationsKey == "" {
		cfg.InsightRecommendationsKey = "recommendations"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = strings.TrimSpace(cfg.DBName)
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./tickets.db"
	}
	if cfg.ClusterK == 0 {
		cfg.ClusterK = 3
	}
	if cfg.ClusterMaxRecords == 0 {
		cfg.ClusterMaxRecords = 5000
	}
	if cfg.ClusterTopTerms == 0 {
		cfg.ClusterTopTerms = 5
	}
	if cfg.ReportOutputDir == "" {
		cfg.ReportOutputDir = "./reports"
	}
	if cfg.ExternalHTTPTimeoutSeconds == 0 {
		cfg.ExternalHTTPTimeoutSeconds = defaultExternalHTTPTimeoutSeconds
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideAllowEmpty(field *string, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

// APIKey returns the credential for the configured provider.
func (c Config) APIKey() string {
	if c.LLMProvider == "openai" {
		return c.OpenAIAPIKey
	}
	return c.AnthropicAPIKey
}

// InsightEnabled is false when the provider credential is absent; the
// clustering path stays usable offline.
func (c Config) InsightEnabled() bool {
	return strings.TrimSpace(c.APIKey()) != ""
}

func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.ReportChannelID != ""
}

func (c Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutSeconds) * time.Second
}
