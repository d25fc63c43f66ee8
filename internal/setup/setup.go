// Package setup registers the MCP server with desktop MCP clients.
package setup

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// ServerName is the key the server is registered under in the client config.
const ServerName = "pharmgx-risk"

// DataDirEnv is the environment variable the server reads its data directory from.
const DataDirEnv = "PHARMGX_DATA_DIR"

const binaryName = "mcp-server"

// ClientConfig represents the desktop client configuration file structure.
type ClientConfig struct {
	MCPServers map[string]MCPServerConfig `json:"mcpServers"`
}

// MCPServerConfig represents a single MCP server configuration.
type MCPServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Options contains options for the setup process.
type Options struct {
	BinaryPath string
	DataDir    string
	APIKey     string // written as OPENROUTER_API_KEY when set
}

// Status represents the current setup status.
type Status struct {
	ConfigPath       string
	ServerConfigured bool
	ServerPath       string
	DataDir          string
	FeedbackDB       bool
	Issues           []string
}

// DefaultConfigPath returns the path to the desktop client's config file.
func DefaultConfigPath() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support", "Claude")
	case "linux":
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			configDir = filepath.Join(xdg, "Claude")
			break
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, ".config", "Claude")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		configDir = filepath.Join(appData, "Claude")
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}

	return filepath.Join(configDir, "claude_desktop_config.json"), nil
}

// DefaultDataDir returns the data directory used when none is configured.
func DefaultDataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".pharmgx-risk")
}

// LoadClientConfig reads the client config. A missing file yields an empty config.
func LoadClientConfig(configPath string) (*ClientConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &ClientConfig{MCPServers: make(map[string]MCPServerConfig)}, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config ClientConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if config.MCPServers == nil {
		config.MCPServers = make(map[string]MCPServerConfig)
	}

	return &config, nil
}

// SaveClientConfig writes the config, creating its directory if needed.
func SaveClientConfig(configPath string, config *ClientConfig) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Configure adds or replaces the server entry in the client config at
// configPath. Other registered servers are left untouched.
func Configure(configPath string, opts Options) error {
	config, err := LoadClientConfig(configPath)
	if err != nil {
		return err
	}

	binaryPath := opts.BinaryPath
	if binaryPath == "" {
		binaryPath, err = findBinary()
		if err != nil {
			return fmt.Errorf("could not find server binary: %w", err)
		}
	}

	entry := MCPServerConfig{
		Command: binaryPath,
		Env:     make(map[string]string),
	}
	if opts.DataDir != "" {
		entry.Env[DataDirEnv] = opts.DataDir
	}
	if opts.APIKey != "" {
		entry.Env["OPENROUTER_API_KEY"] = opts.APIKey
	}
	config.MCPServers[ServerName] = entry

	return SaveClientConfig(configPath, config)
}

// GetStatus reports whether the server is registered in the client config at
// configPath and whether its binary and data directory exist.
func GetStatus(configPath string) (*Status, error) {
	status := &Status{ConfigPath: configPath, Issues: []string{}}

	config, err := LoadClientConfig(configPath)
	if err != nil {
		return nil, err
	}

	if entry, ok := config.MCPServers[ServerName]; ok {
		status.ServerConfigured = true
		status.ServerPath = entry.Command
		status.DataDir = entry.Env[DataDirEnv]
		if _, err := os.Stat(entry.Command); os.IsNotExist(err) {
			status.Issues = append(status.Issues, fmt.Sprintf("Server binary not found at: %s", entry.Command))
		}
	} else {
		status.Issues = append(status.Issues, "Server is not registered with the desktop client")
	}

	if status.DataDir == "" {
		status.DataDir = DefaultDataDir()
	}
	if _, err := os.Stat(filepath.Join(status.DataDir, "feedback.db")); err == nil {
		status.FeedbackDB = true
	}

	return status, nil
}

func findBinary() (string, error) {
	if path, err := exec.LookPath(binaryName); err == nil {
		return path, nil
	}

	locations := []string{
		"./" + binaryName,
		"./build/" + binaryName,
		filepath.Join(os.Getenv("HOME"), ".local", "bin", binaryName),
		"/usr/local/bin/" + binaryName,
	}
	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			if abs, err := filepath.Abs(loc); err == nil {
				return abs, nil
			}
			return loc, nil
		}
	}

	return "", fmt.Errorf("binary '%s' not found in common locations", binaryName)
}
