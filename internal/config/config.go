// Package config loads and validates litterbox's per-repo configuration:
// `.litterbox.toml`, optionally layered with `.litterbox.local.toml`,
// where the local file's set fields override the shared one's.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/throwparty/litterbox/internal/domain"
)

const (
	fileName      = ".litterbox.toml"
	localFileName = ".litterbox.local.toml"
)

// ProjectConfig is the `[project]` table.
type ProjectConfig struct {
	Slug string `toml:"slug"`
}

// DockerConfig is the `[docker]` table.
type DockerConfig struct {
	Image        string `toml:"image"`
	SetupCommand string `toml:"setup-command"`
}

// Config is the fully merged, validated `.litterbox.toml`.
type Config struct {
	Project ProjectConfig          `toml:"project"`
	Docker  DockerConfig           `toml:"docker"`
	Ports   []domain.ForwardedPort `toml:"ports"`
}

// Load reads `.litterbox.toml` from dir, layering `.litterbox.local.toml`
// over it when present, and validates the result.
func Load(dir string) (*Config, error) {
	cfg, err := loadFile(filepath.Join(dir, fileName))
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("%w: %s not found in %s", domain.ErrMissingKey, fileName, dir)
	}

	local, err := loadFile(filepath.Join(dir, localFileName))
	if err != nil {
		return nil, err
	}
	if local != nil {
		merge(cfg, local)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrConfig, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse %s: %v", domain.ErrConfig, path, err)
	}

	return &cfg, nil
}

// merge layers local over base: non-empty scalars override, a non-empty
// ports table replaces the base table wholesale (overlaying individual
// ports is not supported).
func merge(base, local *Config) {
	if local.Project.Slug != "" {
		base.Project.Slug = local.Project.Slug
	}
	if local.Docker.Image != "" {
		base.Docker.Image = local.Docker.Image
	}
	if local.Docker.SetupCommand != "" {
		base.Docker.SetupCommand = local.Docker.SetupCommand
	}
	if len(local.Ports) > 0 {
		base.Ports = local.Ports
	}
}

// Validate checks that image and setup-command are
// required and non-empty, port names slugify uniquely, and every target is
// positive.
func (c *Config) Validate() error {
	if c.Docker.Image == "" {
		return fmt.Errorf("%w: docker.image", domain.ErrMissingKey)
	}
	if c.Docker.SetupCommand == "" {
		return fmt.Errorf("%w: docker.setup-command", domain.ErrMissingKey)
	}

	seen := make(map[string]string, len(c.Ports))
	for _, p := range c.Ports {
		if p.Target == 0 {
			return fmt.Errorf("%w: port %q: target must be > 0", domain.ErrConfig, p.Name)
		}
		slug := domain.Slugify(p.Name)
		if slug == "" {
			return fmt.Errorf("%w: port %q: slugifies to empty name", domain.ErrConfig, p.Name)
		}
		if other, ok := seen[slug]; ok {
			return fmt.Errorf("%w: ports %q and %q collide on token %q", domain.ErrConfig, other, p.Name, slug)
		}
		seen[slug] = p.Name
	}

	return nil
}

// SandboxConfig projects the loaded config into the domain.SandboxConfig
// shape the sandbox provider's Create consumes.
func (c *Config) SandboxConfig() domain.SandboxConfig {
	return domain.SandboxConfig{
		Image:          c.Docker.Image,
		SetupCommand:   c.Docker.SetupCommand,
		ForwardedPorts: c.Ports,
	}
}
