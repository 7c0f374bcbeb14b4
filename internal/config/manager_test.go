package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := writeTemp(t, "config.yaml", `
telegram:
  token: "123:abc"
  owner_user_ids: [1, 2]
  poll_timeout: "10s"
logging:
  level: "debug"
  console: true
scheduler:
  timezone: "Asia/Shanghai"
  failure_threshold: 5
storage:
  driver: "file"
  path: "./cue.db"
`)
	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("Token = %q", cfg.Telegram.Token)
	}
	if len(cfg.Telegram.OwnerUserIDs) != 2 || cfg.Telegram.OwnerUserIDs[1] != 2 {
		t.Fatalf("OwnerUserIDs = %v", cfg.Telegram.OwnerUserIDs)
	}
	if cfg.Scheduler.Timezone != "Asia/Shanghai" || cfg.Scheduler.FailureThreshold != 5 {
		t.Fatalf("Scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Storage.Driver != "file" {
		t.Fatalf("Storage = %+v", cfg.Storage)
	}
	if cfg.Notifier != nil || cfg.Agent != nil {
		t.Fatal("omitted optional sections must stay nil")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeTemp(t, "config.yaml", `
telegram:
  token: "123:abc"
  tokn_typo: "oops"
`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected unknown-field error")
	}
}

func TestParseRejectsTrailingJSON(t *testing.T) {
	t.Parallel()
	path := writeTemp(t, "config.json", `{"telegram":{"token":"a"}}{"extra":1}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected trailing-data error")
	}
}

func TestPublishDropsOldestForSlowSubscriber(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	first := &Config{}
	second := &Config{Scheduler: SchedulerConfig{Timezone: "UTC"}}
	m.publish(first)
	m.publish(second)

	select {
	case got := <-ch:
		if got != second {
			t.Fatal("slow subscriber must see the newest config")
		}
	case <-time.After(time.Second):
		t.Fatal("no config delivered")
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Scheduler: SchedulerConfig{Timezone: "UTC", FailureThreshold: 3}}
	newCfg := &Config{
		Scheduler: SchedulerConfig{Timezone: "Asia/Shanghai", FailureThreshold: 3},
		Storage:   StorageConfig{Driver: "sqlite"},
	}

	sections, attrs := SummarizeChange(oldCfg, newCfg)
	if len(sections) != 2 || sections[0] != "scheduler" || sections[1] != "storage" {
		t.Fatalf("sections = %v, want [scheduler storage]", sections)
	}
	if len(attrs) == 0 {
		t.Fatal("expected structured attrs for changed sections")
	}

	// Identical configs (including a changed token, which is never compared)
	// report no changes.
	same := &Config{Telegram: TelegramConfig{Token: "a"}}
	same2 := &Config{Telegram: TelegramConfig{Token: "b"}}
	if sections, _ := SummarizeChange(same, same2); len(sections) != 0 {
		t.Fatalf("token-only change must not be reported, got %v", sections)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationField("x", "90s")
	if err != nil || d != 90*time.Second {
		t.Fatalf("got (%v, %v)", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty: got (%v, %v)", d, err)
	}
	if _, err := ParseDurationField("x", "not-a-duration"); err == nil {
		t.Fatal("expected parse error")
	}
}
