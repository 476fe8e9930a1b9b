package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoad_Defaults(t *testing.T) {
	p := writeConfig(t, "log:\n  level: info\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPPort != DefaultHTTPPort {
		t.Errorf("http_port: got %d, want %d", cfg.Server.HTTPPort, DefaultHTTPPort)
	}
	if cfg.Conveyor.Period != DefaultPeriod {
		t.Errorf("conveyor.period: got %v, want %v", cfg.Conveyor.Period, DefaultPeriod)
	}
	if cfg.Conveyor.ClassifyDelay != 1500*time.Millisecond {
		t.Errorf("conveyor.classify_delay: got %v, want 1.5s", cfg.Conveyor.ClassifyDelay)
	}
	if cfg.Dashboard.Filter != "all" {
		t.Errorf("dashboard.filter: got %q, want all", cfg.Dashboard.Filter)
	}
	if cfg.Dashboard.LogLimit != 100 {
		t.Errorf("dashboard.log_limit: got %d, want 100", cfg.Dashboard.LogLimit)
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("storage.backend: got %q, want memory", cfg.Storage.Backend)
	}
	if cfg.Notify.MQTT.Enabled() {
		t.Error("mqtt: expected disabled without a broker")
	}
}

func TestParse_EmptyDocument(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Tracing.Exporter != "none" {
		t.Errorf("tracing.exporter: got %q, want none", cfg.Tracing.Exporter)
	}
}

func TestLoad_Full(t *testing.T) {
	p := writeConfig(t, `log:
  level: debug
server:
  http_port: 9091
  auth:
    mode: apikey
    key_env: SORTLINE_KEY
    header: x-sort-key
conveyor:
  period: 2s
  detect_delay: 100ms
  classify_delay: 200ms
  route_delay: 300ms
  cooldown: 50ms
  seed: 42
  autostart: true
dashboard:
  filter: "3600"
  refresh_interval: 1s
  log_limit: 20
storage:
  backend: postgres
  dsn_env: MY_DSN
notify:
  webhooks:
    - type: slack
      url_env: SLACK_URL
  mqtt:
    broker: tcp://localhost:1883
    topic: line/alerts
    qos: 1
alerts:
  rules:
    - name: low-accuracy
      condition: "accuracy_pct < 80"
      severity: warning
      cooldown: 5m
tracing:
  exporter: stdout
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.SlogLevel().String() != "DEBUG" {
		t.Errorf("log level: got %v, want DEBUG", cfg.Log.SlogLevel())
	}
	if cfg.Server.Auth.EffectiveHeader() != "x-sort-key" {
		t.Errorf("header: got %q, want x-sort-key", cfg.Server.Auth.EffectiveHeader())
	}
	if cfg.Conveyor.Seed != 42 || !cfg.Conveyor.Autostart {
		t.Errorf("conveyor: got seed=%d autostart=%v", cfg.Conveyor.Seed, cfg.Conveyor.Autostart)
	}
	if cfg.Conveyor.RouteDelay != 300*time.Millisecond {
		t.Errorf("route_delay: got %v, want 300ms", cfg.Conveyor.RouteDelay)
	}
	if cfg.Dashboard.Filter != "3600" || cfg.Dashboard.LogLimit != 20 {
		t.Errorf("dashboard: got filter=%q limit=%d", cfg.Dashboard.Filter, cfg.Dashboard.LogLimit)
	}
	if cfg.Storage.DSNEnv != "MY_DSN" {
		t.Errorf("dsn_env: got %q, want MY_DSN", cfg.Storage.DSNEnv)
	}
	if cfg.Notify.MQTT.ClientID != DefaultMQTTClientID {
		t.Errorf("mqtt.client_id: got %q, want default", cfg.Notify.MQTT.ClientID)
	}
	if cfg.Notify.MQTT.QoS != 1 {
		t.Errorf("mqtt.qos: got %d, want 1", cfg.Notify.MQTT.QoS)
	}
	if len(cfg.Alerts.Rules) != 1 || cfg.Alerts.Rules[0].Cooldown != 5*time.Minute {
		t.Errorf("alerts.rules: got %+v", cfg.Alerts.Rules)
	}
}

func TestEnvResolvers(t *testing.T) {
	t.Setenv("SORTLINE_TEST_KEY", "secret")
	t.Setenv("SORTLINE_TEST_DSN", "postgres://x")
	t.Setenv("SORTLINE_TEST_HOOK", "http://hook")

	if got := (AuthConfig{KeyEnv: "SORTLINE_TEST_KEY"}).Key(); got != "secret" {
		t.Errorf("Key: got %q", got)
	}
	if got := (StorageConfig{DSNEnv: "SORTLINE_TEST_DSN"}).DSN(); got != "postgres://x" {
		t.Errorf("DSN: got %q", got)
	}
	if got := (WebhookConfig{URLEnv: "SORTLINE_TEST_HOOK"}).URL(); got != "http://hook" {
		t.Errorf("URL: got %q", got)
	}
	if got := (WebhookConfig{}).URL(); got != "" {
		t.Errorf("URL without env: got %q, want empty", got)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"port":          "server:\n  http_port: 70000\n",
		"auth mode":     "server:\n  auth:\n    mode: mtls\n",
		"apikey no env": "server:\n  auth:\n    mode: apikey\n",
		"period":        "conveyor:\n  period: 0s\n",
		"negative":      "conveyor:\n  cooldown: -1s\n",
		"filter":        "dashboard:\n  filter: soon\n",
		"log limit":     "dashboard:\n  log_limit: 0\n",
		"backend":       "storage:\n  backend: sqlite\n",
		"webhook":       "notify:\n  webhooks:\n    - type: pagerduty\n",
		"levels":        "notify:\n  levels: [warning]\n",
		"qos":           "notify:\n  mqtt:\n    broker: tcp://b:1883\n    qos: 3\n",
		"rule name":     "alerts:\n  rules:\n    - condition: \"fault_count > 1\"\n",
		"exporter":      "tracing:\n  exporter: jaeger\n",
		"level":         "log:\n  level: trace\n",
		"yaml":          "server: [\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Errorf("Load: expected error for %s", name)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "read") {
		t.Errorf("Load: got %v, want read error", err)
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	p := writeConfig(t, "dashboard:\n  filter: all\n")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, p, func(c *Config) { got <- c }) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)

	// A broken file must not be delivered.
	if err := os.WriteFile(p, []byte("dashboard:\n  filter: later\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(p, []byte("dashboard:\n  filter: \"60\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	// A truncating write may surface an intermediate empty file first.
	deadline := time.After(3 * time.Second)
	for reloaded := false; !reloaded; {
		select {
		case c := <-got:
			if c.Dashboard.Filter == "later" {
				t.Fatal("invalid config was delivered")
			}
			reloaded = c.Dashboard.Filter == "60"
		case <-deadline:
			t.Fatal("timed out waiting for reload")
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatch_WriteBurstReloadsOnce(t *testing.T) {
	p := writeConfig(t, "dashboard:\n  filter: all\n")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 8)
	go WatchDebounced(ctx, p, 200*time.Millisecond, func(c *Config) { got <- c }) //nolint:errcheck
	time.Sleep(100 * time.Millisecond)

	for _, f := range []string{"10", "20", "30", "120"} {
		if err := os.WriteFile(p, []byte("dashboard:\n  filter: \""+f+"\"\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case c := <-got:
		if c.Dashboard.Filter != "120" {
			t.Errorf("reloaded filter: got %q, want 120", c.Dashboard.Filter)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
	select {
	case c := <-got:
		t.Errorf("burst produced a second reload (filter %q)", c.Dashboard.Filter)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestWatch_AtomicRenameSaves(t *testing.T) {
	p := writeConfig(t, "dashboard:\n  filter: all\n")
	dir := filepath.Dir(p)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 8)
	go WatchDebounced(ctx, p, 20*time.Millisecond, func(c *Config) { got <- c }) //nolint:errcheck
	time.Sleep(100 * time.Millisecond)

	// Neighbouring files are ignored.
	if err := os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-got:
		t.Fatalf("reload for an unrelated file (filter %q)", c.Dashboard.Filter)
	case <-time.After(200 * time.Millisecond):
	}

	// Two consecutive rename saves, both seen without re-adding the file.
	for _, f := range []string{"60", "3600"} {
		tmp := filepath.Join(dir, ".config.yaml.tmp")
		if err := os.WriteFile(tmp, []byte("dashboard:\n  filter: \""+f+"\"\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		if err := os.Rename(tmp, p); err != nil {
			t.Fatal(err)
		}
		select {
		case c := <-got:
			if c.Dashboard.Filter != f {
				t.Errorf("rename save: got filter %q, want %q", c.Dashboard.Filter, f)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for rename save %q", f)
		}
	}
}
