package runtime

import (
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
)

type limitsConfig struct {
	Timeout time.Duration `default:"30s" validate:"gte=0"`
	Rate    float64       `validate:"gte=0"`
}

func TestApplyDefaultsFillsZeroValues(t *testing.T) {
	cfg := &limitsConfig{}
	if err := ApplyDefaults(cfg); err != nil {
		t.Fatalf("ApplyDefaults failed: %v", err)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.Timeout)
	}

	cfg = &limitsConfig{Timeout: time.Minute}
	if err := ApplyDefaults(cfg); err != nil {
		t.Fatalf("ApplyDefaults failed: %v", err)
	}
	if cfg.Timeout != time.Minute {
		t.Errorf("Timeout = %v, explicit value was overwritten", cfg.Timeout)
	}
}

func TestValidateConfigNamesTheField(t *testing.T) {
	err := validateConfig(limitsConfig{Rate: -1})
	if err == nil {
		t.Fatal("expected a validation error")
	}
	if !strings.Contains(err.Error(), "Rate") {
		t.Errorf("error %q does not name the failing field", err)
	}
}

func TestPrepareConfigDefaultsThenValidates(t *testing.T) {
	cfg := &limitsConfig{}
	if err := prepareConfig(cfg); err != nil {
		t.Fatalf("prepareConfig failed: %v", err)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want the default", cfg.Timeout)
	}

	if err := prepareConfig(&limitsConfig{Rate: -1}); err == nil {
		t.Error("invalid config passed prepareConfig")
	}
	if err := prepareConfig(nil); err == nil {
		t.Error("nil config passed prepareConfig")
	}
}

func TestHostnamePortTag(t *testing.T) {
	type listenConfig struct {
		Addr string `validate:"hostname_port"`
	}
	for _, tc := range []struct {
		addr string
		ok   bool
	}{
		{"0.0.0.0:8080", true},
		{":8080", true},
		{"localhost:http", true},
		{"no-port", false},
		{"host:", false},
		{"host:notaport", false},
	} {
		err := validateConfig(listenConfig{Addr: tc.addr})
		if (err == nil) != tc.ok {
			t.Errorf("addr %q: err = %v, want ok=%v", tc.addr, err, tc.ok)
		}
	}
}

func TestRegisterCustomValidator(t *testing.T) {
	err := RegisterCustomValidator("starts_upper", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s != "" && s[0] >= 'A' && s[0] <= 'Z'
	})
	if err != nil {
		t.Fatalf("RegisterCustomValidator failed: %v", err)
	}

	type titled struct {
		Name string `validate:"starts_upper"`
	}
	if err := validateConfig(titled{Name: "Valid"}); err != nil {
		t.Errorf("Valid rejected: %v", err)
	}
	if err := validateConfig(titled{Name: "invalid"}); err == nil {
		t.Error("lowercase value passed the custom tag")
	}
}

func TestNewServerConfig(t *testing.T) {
	cfg, err := NewServerConfig("")
	if err != nil {
		t.Fatalf("NewServerConfig failed: %v", err)
	}
	if cfg.Listen != ":8080" {
		t.Errorf("Listen = %q, want the default :8080", cfg.Listen)
	}

	cfg, err = NewServerConfig("127.0.0.1:9090")
	if err != nil {
		t.Fatalf("NewServerConfig failed: %v", err)
	}
	if cfg.Listen != "127.0.0.1:9090" {
		t.Errorf("Listen = %q, explicit address was overwritten", cfg.Listen)
	}

	if _, err := NewServerConfig("not-an-address"); err == nil {
		t.Error("malformed listen address accepted")
	}
}

func TestLoadRuleAppliesHTTPDefaults(t *testing.T) {
	rule, err := LoadRule([]byte(validRuleDoc), "")
	if err != nil {
		t.Fatalf("LoadRule failed: %v", err)
	}
	if rule.HTTP.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want the 30s default", rule.HTTP.Timeout)
	}
}

func TestLoadRuleRejectsNegativeRateLimit(t *testing.T) {
	doc := strings.Replace(validRuleDoc, "http:", "http:\n  rate_limit: -2", 1)
	if _, err := LoadRule([]byte(doc), ""); err == nil {
		t.Error("negative rate limit accepted")
	}
}
