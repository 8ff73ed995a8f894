package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := &Config{
		DefaultSession: "site-a",
		ServerURL:      "https://chat.example.com",
		UserID:         "u1",
		ReconnectMax:   Duration{10 * time.Second},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultSession != "site-a" {
		t.Errorf("DefaultSession = %q, want %q", loaded.DefaultSession, "site-a")
	}
	if loaded.ServerURL != "https://chat.example.com" {
		t.Errorf("ServerURL = %q", loaded.ServerURL)
	}
	if loaded.ReconnectMax.Duration != 10*time.Second {
		t.Errorf("ReconnectMax = %v, want 10s", loaded.ReconnectMax.Duration)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestLoadLayeredSessionOverridesGlobal(t *testing.T) {
	tmpDir := t.TempDir()
	global := filepath.Join(tmpDir, "config.toml")
	sess := filepath.Join(tmpDir, "session.toml")

	if err := os.WriteFile(global, []byte("server_url = \"https://a\"\nuser_id = \"u1\"\nreconnect_initial = \"1s\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(sess, []byte("user_id = \"u2\"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadLayered(global, sess)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ServerURL != "https://a" {
		t.Errorf("ServerURL = %q, want https://a", cfg.ServerURL)
	}
	if cfg.UserID != "u2" {
		t.Errorf("UserID = %q, want u2 (session override)", cfg.UserID)
	}
	if cfg.ReconnectInitial.Duration != time.Second {
		t.Errorf("ReconnectInitial = %v, want 1s", cfg.ReconnectInitial.Duration)
	}
}

func TestLoadLayeredMissingFilesAreSkipped(t *testing.T) {
	cfg, err := LoadLayered("/nonexistent/a.toml", "/nonexistent/b.toml")
	if err != nil {
		t.Fatalf("LoadLayered() error = %v", err)
	}
	if cfg.ServerURL != "" {
		t.Errorf("ServerURL = %q, want empty", cfg.ServerURL)
	}
}

func TestLoadLayeredMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("server_url = "), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadLayered(path, ""); err == nil {
		t.Error("LoadLayered() expected error for malformed file")
	}
}

func TestApplyEnv(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("FIELDCHAT_SERVER_URL", "https://env")
	t.Setenv("FIELDCHAT_USER_ID", "env-user")

	cfg := &Config{ServerURL: "https://file", UserID: "file-user", Token: "tok"}
	cfg.ApplyEnv()

	if cfg.ServerURL != "https://env" || cfg.UserID != "env-user" {
		t.Errorf("got %q/%q, want env overrides", cfg.ServerURL, cfg.UserID)
	}
	if cfg.Token != "tok" {
		t.Errorf("Token = %q, want tok (no env set)", cfg.Token)
	}
}

func TestWithDefaultsAndValidate(t *testing.T) {
	cfg := (&Config{}).WithDefaults()
	if cfg.LogLevel != DefaultLogLevel {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.ReconnectInitial.Duration != DefaultReconnectInitial || cfg.ReconnectMax.Duration != DefaultReconnectMax {
		t.Errorf("reconnect = %v/%v", cfg.ReconnectInitial.Duration, cfg.ReconnectMax.Duration)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should fail without server_url")
	}
	cfg.ServerURL = "https://x"
	cfg.UserID = "u1"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, &Config{DefaultSession: "main"}); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}

func TestUpdateKeepsUnsetFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions", "crew", "session.toml")

	if _, err := Update(path, &Config{ServerURL: "https://chat", UserID: "u1"}); err != nil {
		t.Fatalf("Update() on missing file error = %v", err)
	}
	cfg, err := Update(path, &Config{Token: "secret"})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if cfg.ServerURL != "https://chat" || cfg.UserID != "u1" || cfg.Token != "secret" {
		t.Errorf("returned config = %+v", cfg)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.ServerURL != "https://chat" || loaded.UserID != "u1" || loaded.Token != "secret" {
		t.Errorf("stored config = %+v", loaded)
	}
}

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(old) })
}
