package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Vocabulary    Vocabulary    `yaml:"vocabulary"`
	Scoring       Scoring       `yaml:"scoring"`
	Blend         Blend         `yaml:"blend"`
	Ingest        Ingest        `yaml:"ingest"`
	HTTP          HTTP          `yaml:"http"`
	Sources       Sources       `yaml:"sources"`
	Summarization Summarization `yaml:"summarization"`
	Output        Output        `yaml:"output"`
	Server        Server        `yaml:"server"`
}

// Vocabulary holds the versioned term lists that drive filtering and scoring.
type Vocabulary struct {
	Version        int         `yaml:"version" validate:"gte=1"`
	Keywords       []string    `yaml:"keywords"`
	FocusTerms     []string    `yaml:"focus_terms"`
	CategoryCodes  []string    `yaml:"category_codes"`
	HardExclude    []string    `yaml:"hard_exclude" validate:"min=1,dive,required"`
	Consulting     []string    `yaml:"consulting"`
	PriorityTopics []string    `yaml:"priority_topics" validate:"min=1,dive,required"`
	CoreFocus      []string    `yaml:"core_focus"`
	Negative       []string    `yaml:"negative"`
	NoticeTypes    NoticeTiers `yaml:"notice_types"`
}

// NoticeTiers groups category-label fragments by bonus tier.
type NoticeTiers struct {
	Top     []string `yaml:"top"`
	Middle  []string `yaml:"middle"`
	Minimal []string `yaml:"minimal"`
}

// Scoring holds the rule scorer's weights and caps.
type Scoring struct {
	HardExcludeScore    float64 `yaml:"hard_exclude_score" validate:"gte=0,lte=100"`
	KeywordExact        float64 `yaml:"keyword_exact"`
	KeywordSoft         float64 `yaml:"keyword_soft"`
	KeywordCap          float64 `yaml:"keyword_cap"`
	ConsultingWeight    float64 `yaml:"consulting_weight"`
	ConsultingCap       float64 `yaml:"consulting_cap"`
	PriorityTitleWeight float64 `yaml:"priority_title_weight"`
	PriorityBodyWeight  float64 `yaml:"priority_body_weight"`
	PriorityCap         float64 `yaml:"priority_cap"`
	CoreTextWeight      float64 `yaml:"core_text_weight"`
	CoreTextCap         float64 `yaml:"core_text_cap"`
	CoreTitleWeight     float64 `yaml:"core_title_weight"`
	CoreTitleCap        float64 `yaml:"core_title_cap"`
	CategoryBoost       float64 `yaml:"category_boost"`
	CategoryPenalty     float64 `yaml:"category_penalty"`
	NegativeWeight      float64 `yaml:"negative_weight"`
	NegativeCap         float64 `yaml:"negative_cap"`
	NoticeTypeTop       float64 `yaml:"notice_type_top"`
	NoticeTypeMiddle    float64 `yaml:"notice_type_middle"`
	NoticeTypeMinimal   float64 `yaml:"notice_type_minimal"`
	RecencyMax          float64 `yaml:"recency_max"`
	RecencyHalfLifeDays float64 `yaml:"recency_half_life_days" validate:"gt=0"`
	URLBoost            float64 `yaml:"url_boost"`
}

type Blend struct {
	Alpha   float64 `yaml:"alpha" validate:"gte=0,lte=1"`
	TopN    int     `yaml:"top_n" validate:"gte=0"`
	Workers int     `yaml:"workers" validate:"gte=1"`
	Enrich  bool    `yaml:"enrich"`
}

type Ingest struct {
	MaxRecords int `yaml:"max_records" validate:"gte=1"`
	MaxPages   int `yaml:"max_pages" validate:"gte=1"`
}

type HTTP struct {
	TimeoutSeconds    int     `yaml:"timeout_seconds" validate:"gte=1"`
	MaxAttempts       int     `yaml:"max_attempts" validate:"gte=1,lte=10"`
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gt=0"`
	UserAgent         string  `yaml:"user_agent"`
}

type Sources struct {
	CanadaBuys    CanadaBuys    `yaml:"canadabuys"`
	SAM           SAM           `yaml:"sam"`
	MERX          MERX          `yaml:"merx"`
	BidsCanada    BidsCanada    `yaml:"bidscanada"`
	GlobalTenders GlobalTenders `yaml:"globaltenders"`
	Feeds         []Feed        `yaml:"feeds" validate:"dive"`
}

type CanadaBuys struct {
	Enabled bool   `yaml:"enabled"`
	Scope   string `yaml:"scope" validate:"oneof=new all"`
}

type SAM struct {
	Enabled   bool     `yaml:"enabled"`
	APIKeyEnv string   `yaml:"api_key_env"`
	Keywords  []string `yaml:"keywords"`
	NAICS     []string `yaml:"naics"`
	PSC       []string `yaml:"psc"`
	States    []string `yaml:"states"`
	DaysBack  int      `yaml:"days_back" validate:"gte=1"`
	PageSize  int      `yaml:"page_size" validate:"gte=1,lte=1000"`
}

// MERX feeds use the compact "slug|url|flag|flag;slug|url" form. Known flags
// are force_keyword and use_api.
type MERX struct {
	Enabled   bool   `yaml:"enabled"`
	Feeds     string `yaml:"feeds"`
	HTMLFirst bool   `yaml:"html_first"`
}

type BidsCanada struct {
	Enabled     bool     `yaml:"enabled"`
	ListingURL  string   `yaml:"listing_url" validate:"omitempty,url"`
	SearchTerms []string `yaml:"search_terms"`
	SearchLimit int      `yaml:"search_limit" validate:"gte=0"`
}

type GlobalTenders struct {
	Enabled   bool   `yaml:"enabled"`
	SearchURL string `yaml:"search_url" validate:"omitempty,url"`
}

type Feed struct {
	URL  string `yaml:"url" validate:"url"`
	Name string `yaml:"name"`
}

type Summarization struct {
	Provider     string `yaml:"provider" validate:"oneof=ollama openai gemini"`
	Model        string `yaml:"model"`
	OllamaURL    string `yaml:"ollama_url"`
	OpenAIModel  string `yaml:"openai_model"`
	APIKeyEnv    string `yaml:"api_key_env"`
	GeminiModel  string `yaml:"gemini_model"`
	GeminiKeyEnv string `yaml:"gemini_key_env"`
	MaxTokens    int    `yaml:"max_tokens" validate:"gte=64"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Port int `yaml:"port" validate:"gte=1,lte=65535"`
}

// ConfigDir returns the XDG config directory for bidradar.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "bidradar")
}

// DataDir returns the XDG data directory for bidradar.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "bidradar")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/bidradar/config.yaml > ./config.yaml
// An empty path with a nil error means no file exists and the embedded
// defaults apply.
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", nil
}

// Load reads a config YAML file layered over the embedded defaults, applies
// environment overrides and validates the result. An empty path loads the
// defaults alone.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		data = b
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the embedded defaults without environment overrides.
func Default() (*Config, error) {
	return parse(nil)
}

// parse decodes the embedded defaults and then the given YAML on top of them.
// Lists present in data replace the default lists wholesale.
func parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(DefaultConfigYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing default config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks the structural rules on the loaded configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// applyEnv overlays the environment variables understood by bidradar. List
// values are comma separated; an empty variable leaves the setting alone.
func (c *Config) applyEnv(getenv func(string) string) error {
	lists := map[string]*[]string{
		"FILTER_KEYWORDS":         &c.Vocabulary.Keywords,
		"FOCUS_TERMS":             &c.Vocabulary.FocusTerms,
		"FILTER_UNSPSC":           &c.Vocabulary.CategoryCodes,
		"HARD_EXCLUDE_TERMS":      &c.Vocabulary.HardExclude,
		"NEGATIVE_KEYWORDS":       &c.Vocabulary.Negative,
		"POSITIVE_BOOST_TERMS":    &c.Vocabulary.Consulting,
		"AI_PRIORITY_TERMS":       &c.Vocabulary.PriorityTopics,
		"CORE_FOCUS_TERMS":        &c.Vocabulary.CoreFocus,
		"BIDSCANADA_SEARCH_TERMS": &c.Sources.BidsCanada.SearchTerms,
	}
	for name, dst := range lists {
		if v := splitCSV(getenv(name)); len(v) > 0 {
			*dst = v
		}
	}

	if v := strings.TrimSpace(getenv("RECENCY_HALF_LIFE_DAYS")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("RECENCY_HALF_LIFE_DAYS: %w", err)
		}
		c.Scoring.RecencyHalfLifeDays = f
	}
	if v := strings.TrimSpace(getenv("BLEND_ALPHA")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("BLEND_ALPHA: %w", err)
		}
		c.Blend.Alpha = f
	}
	if v := strings.TrimSpace(getenv("AI_TOP_N")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("AI_TOP_N: %w", err)
		}
		c.Blend.TopN = n
	}

	if v := strings.ToLower(strings.TrimSpace(getenv("CANADABUYS_SCOPE"))); v != "" {
		c.Sources.CanadaBuys.Scope = v
	}
	if v := strings.TrimSpace(getenv("MERX_FEEDS")); v != "" {
		c.Sources.MERX.Feeds = v
	}
	if v := strings.TrimSpace(getenv("MERX_HTML_FIRST")); v != "" {
		c.Sources.MERX.HTMLFirst = !strings.EqualFold(v, "false")
	}
	if v := strings.TrimSpace(getenv("BIDSCANADA_LISTING_URL")); v != "" {
		c.Sources.BidsCanada.ListingURL = v
	}
	if v := strings.TrimSpace(getenv("GLOBALTENDERS_CONSULTANCY_URL")); v != "" {
		c.Sources.GlobalTenders.SearchURL = v
	}
	if v := strings.TrimSpace(getenv("BIDRADAR_DATA_DIR")); v != "" {
		c.Output.DataDir = v
	}
	return nil
}

// SAMAPIKey returns the SAM.gov key from the configured environment variable.
func (c *Config) SAMAPIKey() string {
	return os.Getenv(c.Sources.SAM.APIKeyEnv)
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// DBPath is the sqlite file inside the data directory.
func (c *Config) DBPath() string {
	return filepath.Join(c.GetDataDir(), "bidradar.db")
}

// SnapshotDir holds raw source payloads kept for offline fallback.
func (c *Config) SnapshotDir() string {
	return filepath.Join(c.GetDataDir(), "snapshots")
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
