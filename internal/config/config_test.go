package config

import "testing"

func TestLoadEnvOverlay(t *testing.T) {
	t.Setenv("KV_URL", "redis.internal:6379")
	t.Setenv("LLM_API_KEY", "sk-test")
	t.Setenv("API_KEY_INTERNAL", "deadbeef")
	t.Setenv("API_PORT", "9100")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.KVURL != "redis.internal:6379" {
		t.Errorf("KVURL = %q", cfg.KVURL)
	}
	if cfg.APIPort != 9100 {
		t.Errorf("APIPort = %d, want 9100", cfg.APIPort)
	}
	if cfg.MCPPort != Default().MCPPort {
		t.Errorf("MCPPort should retain default, got %d", cfg.MCPPort)
	}
}

func TestValidateRequiresSecrets(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error without KV_URL/LLM_API_KEY/API_KEY_INTERNAL")
	}
}
