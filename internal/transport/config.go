package transport

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const bootstrapEnvVar = "NEXT_PUBLIC_WAKU_BOOTSTRAP"

// defaultBootstrapNodes is used when neither the config file nor the
// environment variable supplies addresses.
var defaultBootstrapNodes = []string{
	"/dns4/boot-1.veil.chat/tcp/443/wss",
	"/dns4/boot-2.veil.chat/tcp/443/wss",
}

// Config is the transport's yaml-tagged configuration struct.
type Config struct {
	BootstrapNodes []string `yaml:"bootstrapNodes"`
	PublishRPS     float64  `yaml:"publishRPS"`
	PublishBurst   int      `yaml:"publishBurst"`
}

// LoadConfig reads NEXT_PUBLIC_WAKU_BOOTSTRAP as a comma-separated list
// of addresses, trimming whitespace around each entry, and falling back
// to the built-in default list when unset or empty.
func LoadConfig() Config {
	cfg := Config{}
	applyEnvAndDefaults(&cfg)
	return cfg
}

// LoadConfigFile layers file, environment, and defaults: bootstrap
// addresses from the yaml file at path are used unless the environment
// variable overrides them, and the built-in defaults fill any remaining
// gap. A missing file is not an error; a file that exists but fails to
// parse is.
func LoadConfigFile(path string) (Config, error) {
	cfg := Config{}
	raw, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, err
		}
	} else if !os.IsNotExist(err) {
		return Config{}, err
	}
	applyEnvAndDefaults(&cfg)
	return cfg, nil
}

func applyEnvAndDefaults(cfg *Config) {
	if env := parseBootstrapEnv(); len(env) > 0 {
		cfg.BootstrapNodes = env
	}
	if len(cfg.BootstrapNodes) == 0 {
		cfg.BootstrapNodes = append([]string(nil), defaultBootstrapNodes...)
	}
}

func parseBootstrapEnv() []string {
	raw := strings.TrimSpace(os.Getenv(bootstrapEnvVar))
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	nodes := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			nodes = append(nodes, p)
		}
	}
	return nodes
}
