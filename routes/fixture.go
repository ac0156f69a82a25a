package routes

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config overlays the tunables the canonical routes expose without
// touching step logic: route registration itself stays fixed at
// startup, but the approval timeout and max-payload-length the
// chat-durable route enforces are reasonable to source from an
// ops-owned YAML file.
type Config struct {
	ApprovalTimeoutMinutes float64 `yaml:"approvalTimeoutMinutes"`
	MaxPayloadLength       int     `yaml:"maxPayloadLength"`
}

// DefaultConfig returns the chat-durable route's built-in tunables.
func DefaultConfig() Config {
	return Config{ApprovalTimeoutMinutes: 60, MaxPayloadLength: MaxPayloadLength}
}

// LoadConfig reads a Config from a YAML file, falling back to
// DefaultConfig for any zero-valued field.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read route config: %w", err)
	}
	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return Config{}, fmt.Errorf("parse route config: %w", err)
	}
	if overlay.ApprovalTimeoutMinutes > 0 {
		cfg.ApprovalTimeoutMinutes = overlay.ApprovalTimeoutMinutes
	}
	if overlay.MaxPayloadLength > 0 {
		cfg.MaxPayloadLength = overlay.MaxPayloadLength
	}
	return cfg, nil
}
