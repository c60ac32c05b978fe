package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// StaticRule mirrors the rule provider payload so rules can be inlined in
// the config file when no provider endpoint exists (RULE_PROVIDER_MODE=static).
type StaticRule struct {
	PTS                      string   `yaml:"pts"`
	ProcessingEntity         string   `yaml:"processing_entity"`
	IncludedBusinessStatuses []string `yaml:"included_business_statuses"`
	IncludedDirections       []string `yaml:"included_directions"`
	IncludedSettlementTypes  []string `yaml:"included_settlement_types"`
}

type Config struct {
	DatabaseURL string `yaml:"database_url"`
	APIPort     int    `yaml:"api_port"`

	RuleProviderMode   string       `yaml:"rule_provider_mode"` // http | static
	RuleProviderURL    string       `yaml:"rule_provider_url"`
	RuleRefreshMinutes int          `yaml:"rule_refresh_minutes"`
	StaticRules        []StaticRule `yaml:"static_rules"`

	// passthrough: missing exchange rate treated as 1.0 (USD passthrough).
	// fail: ingestion fails when a non-USD currency has no stored rate.
	MissingRatePolicy string `yaml:"missing_rate_policy"`

	LimitMode     string `yaml:"limit_mode"` // fixed | table
	FixedLimitUSD string `yaml:"fixed_limit_usd"`

	NotifierURLs        []string `yaml:"notifier_urls"`
	NotifierMaxAttempts int      `yaml:"notifier_max_attempts"`

	FXRateURL        string `yaml:"fx_rate_url"`
	FXRefreshMinutes int    `yaml:"fx_refresh_minutes"`

	JWTSecret string `yaml:"jwt_secret"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
