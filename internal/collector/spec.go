package collector

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openfinance/datacenter/internal/errs"
	"github.com/openfinance/datacenter/internal/mapping"
	"github.com/openfinance/datacenter/internal/models"
)

// Spec is a fully declarative collector definition, loaded from YAML or
// JSON. Everything a collector does — request shape, auth, parsing,
// mapping, dedup — is config, not code.
type Spec struct {
	CollectorID string           `yaml:"collector_id" json:"collector_id"`
	Name        string           `yaml:"name" json:"name"`
	Source      string           `yaml:"source" json:"source"`
	DataType    models.DataType  `yaml:"data_type" json:"data_type"`
	Frequency   models.Frequency `yaml:"frequency" json:"frequency"`
	Request     RequestSpec      `yaml:"request" json:"request"`
	Auth        AuthSpec         `yaml:"auth" json:"auth"`
	Parser      ParserSpec       `yaml:"parser" json:"parser"`
	// FieldMapping entries are either "source: target" (raw) or
	// "source: {target, type, default, converter}".
	FieldMapping   map[string]interface{} `yaml:"field_mapping" json:"field_mapping"`
	RequiredFields []string               `yaml:"required_fields" json:"required_fields"`
	DedupKeys      []string               `yaml:"dedup_keys" json:"dedup_keys"`
	DedupEnabled   *bool                  `yaml:"dedup_enabled" json:"dedup_enabled"`
	RateLimit      float64                `yaml:"rate_limit" json:"rate_limit"`
	MaxRetries     int                    `yaml:"max_retries" json:"max_retries"`
	RetryDelaySec  float64                `yaml:"retry_delay" json:"retry_delay"`
	Metadata       map[string]string      `yaml:"metadata" json:"metadata"`
}

// RequestSpec declares the outbound HTTP surface. URL placeholders in
// {braces} substitute from run params.
type RequestSpec struct {
	Method     string                 `yaml:"method" json:"method"`
	URL        string                 `yaml:"url" json:"url"`
	Headers    map[string]string      `yaml:"headers" json:"headers"`
	Params     map[string]string      `yaml:"params" json:"params"`
	Body       map[string]interface{} `yaml:"body" json:"body"`
	TimeoutSec int                    `yaml:"timeout" json:"timeout"`
	Pagination *PaginationSpec        `yaml:"pagination" json:"pagination"`
}

// PaginationSpec drives sequential page fetching when the endpoint pages
// its results. Total comes from the parser's total_path.
type PaginationSpec struct {
	PageParam string `yaml:"page_param" json:"page_param"`
	SizeParam string `yaml:"size_param" json:"size_param"`
	PageSize  int    `yaml:"page_size" json:"page_size"`
	StartPage int    `yaml:"start_page" json:"start_page"`
	MaxPages  int    `yaml:"max_pages" json:"max_pages"`
}

// AuthSpec declares how the API key is applied. Key resolution order:
// source-settings key, then the config value; both honor ${NAME}/$NAME
// environment references resolved at call time.
type AuthSpec struct {
	Type       string `yaml:"type" json:"type"` // none, api_key, bearer, custom
	APIKey     string `yaml:"api_key" json:"api_key"`
	HeaderName string `yaml:"header_name" json:"header_name"`
	Prefix     string `yaml:"prefix" json:"prefix"`
}

// ParserSpec locates the record array inside the response JSON.
type ParserSpec struct {
	DataPath  string `yaml:"data_path" json:"data_path"`
	TotalPath string `yaml:"total_path" json:"total_path"`
	ErrorPath string `yaml:"error_path" json:"error_path"`
	// ErrorCheck is the value at ErrorPath that means success ("0" by
	// convention for mainland data vendors).
	ErrorCheck string `yaml:"error_check" json:"error_check"`
}

// Timeout returns the per-request timeout with a 30s default.
func (r RequestSpec) Timeout() time.Duration {
	if r.TimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(r.TimeoutSec) * time.Second
}

// RetryDelay returns the retry base delay with a 1s default.
func (s *Spec) RetryDelay() time.Duration {
	if s.RetryDelaySec <= 0 {
		return time.Second
	}
	return time.Duration(s.RetryDelaySec * float64(time.Second))
}

// Dedup reports whether dedup is on; it defaults to enabled.
func (s *Spec) Dedup() bool {
	return s.DedupEnabled == nil || *s.DedupEnabled
}

// LoadSpec reads a collector spec from a YAML or JSON file. JSON parses
// through the YAML decoder.
func LoadSpec(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.E(errs.CategoryConfiguration, "load collector spec",
			fmt.Errorf("read %s: %w", path, err))
	}
	return ParseSpec(data)
}

// ParseSpec builds and validates a Spec from raw bytes.
func ParseSpec(data []byte) (*Spec, error) {
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, errs.E(errs.CategoryConfiguration, "parse collector spec", err)
	}
	if err := spec.Validate(); err != nil {
		return nil, errs.E(errs.CategoryConfiguration, "validate collector spec", err)
	}
	return &spec, nil
}

// Validate checks the parts a collector cannot run without.
func (s *Spec) Validate() error {
	if s.CollectorID == "" {
		return fmt.Errorf("collector_id is required")
	}
	if s.Source == "" {
		return fmt.Errorf("collector %s: source is required", s.CollectorID)
	}
	if s.Request.URL == "" {
		return fmt.Errorf("collector %s: request.url is required", s.CollectorID)
	}
	switch s.Request.Method {
	case "", "GET", "POST":
	default:
		return fmt.Errorf("collector %s: unsupported method %q", s.CollectorID, s.Request.Method)
	}
	switch s.Auth.Type {
	case "", "none", "api_key", "bearer", "custom":
	default:
		return fmt.Errorf("collector %s: unsupported auth type %q", s.CollectorID, s.Auth.Type)
	}
	if _, err := s.Rules(); err != nil {
		return err
	}
	return nil
}

// Rules compiles the field_mapping config into mapping rules.
func (s *Spec) Rules() ([]mapping.Rule, error) {
	rules := make([]mapping.Rule, 0, len(s.FieldMapping))
	for src, raw := range s.FieldMapping {
		switch v := raw.(type) {
		case string:
			rules = append(rules, mapping.Rule{Source: src, Target: v, Type: mapping.TypeRaw})
		case map[string]interface{}:
			rule := mapping.Rule{Source: src, Type: mapping.TypeRaw}
			if t, ok := v["target"].(string); ok {
				rule.Target = t
			}
			if rule.Target == "" {
				return nil, fmt.Errorf("collector %s: field %q has no target", s.CollectorID, src)
			}
			if ft, ok := v["type"].(string); ok {
				rule.Type = mapping.FieldType(ft)
			}
			rule.Default = v["default"]
			if req, ok := v["required"].(bool); ok {
				rule.Required = req
			}
			if name, ok := v["converter"].(string); ok && name != "" {
				conv := mapping.BuiltinConverter(name)
				if conv == nil {
					return nil, fmt.Errorf("collector %s: unknown converter %q", s.CollectorID, name)
				}
				rule.Converter = conv
			}
			rules = append(rules, rule)
		default:
			return nil, fmt.Errorf("collector %s: field %q: mapping must be string or map", s.CollectorID, src)
		}
	}
	return rules, nil
}
