package orchestrator

import (
	"strings"
	"testing"
)

func TestAppNameDeterministic(t *testing.T) {
	t.Parallel()
	a := AppName("Tenant-42")
	b := AppName("Tenant-42")
	if a != b {
		t.Fatalf("AppName not deterministic: %q vs %q", a, b)
	}
	if a != "agent-tenant-tenant-42" {
		t.Fatalf("AppName = %q", a)
	}
}

func TestAppNameSanitizes(t *testing.T) {
	t.Parallel()
	got := AppName("user@example.com")
	if strings.ContainsAny(got, "@.") {
		t.Fatalf("AppName not sanitized: %q", got)
	}
	if !IsManagedName(got) {
		t.Fatalf("AppName %q should match the managed convention", got)
	}
}

func TestIsManagedName(t *testing.T) {
	t.Parallel()
	if IsManagedName("coolify-proxy") {
		t.Fatal("unmanaged name classified as managed")
	}
	if !IsManagedName("agent-tenant-abc") {
		t.Fatal("managed name not recognized")
	}
}

func TestNormalizeState(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want string
	}{
		{raw: "running", want: StateRunning},
		{raw: "running (healthy)", want: StateRunning},
		{raw: "running:healthy", want: StateRunning},
		{raw: "starting", want: StateStarting},
		{raw: "restarting", want: StateStarting},
		{raw: "exited", want: StateStopped},
		{raw: "stopped", want: StateStopped},
		{raw: "dead", want: StateFailed},
		{raw: "degraded", want: StateFailed},
		{raw: "", want: StateUnknown},
		{raw: "something-new", want: StateUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			if got := NormalizeState(tt.raw); got != tt.want {
				t.Fatalf("NormalizeState(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestEnvKeyName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{in: "anthropic", want: "AGENT_KEY_ANTHROPIC"},
		{in: "openai-api-key", want: "AGENT_KEY_OPENAIAPIKEY"},
		{in: "my key.2", want: "AGENT_KEY_MYKEY2"},
	}
	for _, tt := range tests {
		if got := envKeyName(tt.in); got != tt.want {
			t.Fatalf("envKeyName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBuildEnvVars(t *testing.T) {
	t.Parallel()
	envs := buildEnvVars(TenantConfig{
		TenantID: "t1",
		Model:    "claude-sonnet",
		Channels: []string{"web", "telegram"},
		APIKeys:  map[string]string{"anthropic": "sk-a", "telegram-bot": "sk-t"},
	})

	byKey := map[string]string{}
	for _, e := range envs {
		if !e.IsLiteral {
			t.Fatalf("env %s should be literal", e.Key)
		}
		byKey[e.Key] = e.Value
	}

	if byKey["TENANT_ID"] != "t1" {
		t.Fatalf("TENANT_ID = %q", byKey["TENANT_ID"])
	}
	if byKey["AGENT_MODEL"] != "claude-sonnet" {
		t.Fatalf("AGENT_MODEL = %q", byKey["AGENT_MODEL"])
	}
	if byKey["AGENT_CHANNELS"] != "web,telegram" {
		t.Fatalf("AGENT_CHANNELS = %q", byKey["AGENT_CHANNELS"])
	}
	if byKey["AGENT_KEY_ANTHROPIC"] != "sk-a" {
		t.Fatalf("AGENT_KEY_ANTHROPIC = %q", byKey["AGENT_KEY_ANTHROPIC"])
	}
	if byKey["AGENT_KEY_TELEGRAMBOT"] != "sk-t" {
		t.Fatalf("AGENT_KEY_TELEGRAMBOT = %q", byKey["AGENT_KEY_TELEGRAMBOT"])
	}
}

func TestTenantURL(t *testing.T) {
	t.Parallel()
	o := New(newFakePlane(), testSettings(), nil, nil)
	if got := o.TenantURL("acme"); got != "https://acme.agents.example.com" {
		t.Fatalf("TenantURL = %q", got)
	}
}
