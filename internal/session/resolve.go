package session

import "github.com/matheus3301/fieldchat/internal/config"

const DefaultSessionName = "main"

// Resolve determines the active session name using precedence:
// 1. flagOverride (--session flag)
// 2. config.toml default_session
// 3. "main"
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	cfg, err := config.Load(ConfigPath())
	if err == nil && cfg.DefaultSession != "" {
		return cfg.DefaultSession
	}
	return DefaultSessionName
}

// LoadConfig returns the effective configuration for a session: global file,
// session file, then environment, with defaults filled in.
func LoadConfig(name string) (*config.Config, error) {
	cfg, err := config.LoadLayered(ConfigPath(), SessionConfigPath(name))
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	return cfg.WithDefaults(), nil
}
