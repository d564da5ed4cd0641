package config

// CLIConfig is the saved tokvault-cli configuration. Flags and
// TOKVAULT_CLI_* environment variables take precedence over it.
type CLIConfig struct {
	// Server is the tokvault-server base URL.
	Server string `yaml:"server"`

	// Token is an internal API bearer token (see "tokvault-cli auth issue").
	Token string `yaml:"token,omitempty"`

	// Output is the default output format: table, json or yaml.
	Output string `yaml:"output"`

	// CAFile is a PEM bundle trusted in addition to the system roots.
	CAFile string `yaml:"ca_file,omitempty"`
}

// Default returns the default CLI configuration.
func Default() *CLIConfig {
	return &CLIConfig{
		Server: "http://127.0.0.1:8080",
		Output: "table",
	}
}
