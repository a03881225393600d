package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// ServersFile is the on-disk shape of the optional MCP server preload file.
type ServersFile struct {
	MCPServers map[string]MCPServerConfig `yaml:"mcp_servers"`
}

// LoadServersFile reads, env-expands, parses, and validates a server preload
// file. A missing file is an error; callers decide whether the file is
// optional by checking the path first.
func LoadServersFile(path string) (map[string]MCPServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &LoadError{File: path, Err: ErrConfigNotFound}
		}
		return nil, &LoadError{File: path, Err: err}
	}

	data = ExpandEnv(data)

	var file ServersFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, &LoadError{File: path, Err: fmt.Errorf("%w: %v", ErrInvalidYAML, err)}
	}

	for id, cfg := range file.MCPServers {
		if err := cfg.Validate(); err != nil {
			return nil, &LoadError{File: path, Err: fmt.Errorf("server %q: %w", id, err)}
		}
	}

	slog.Info("Loaded MCP server definitions", "path", path, "count", len(file.MCPServers))
	return file.MCPServers, nil
}
