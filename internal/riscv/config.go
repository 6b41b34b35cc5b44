package riscv

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// MachineConfig describes everything needed to boot one machine, loaded
// from a YAML config file next to the firmware/kernel images (teacher
// pattern: cmd/ccapp/site_config.go's yaml.Unmarshal-based config load).
type MachineConfig struct {
	XLen     int    `yaml:"xlen"`
	RAMSize  uint64 `yaml:"ram_size"`
	Firmware string `yaml:"firmware"`
	Kernel   string `yaml:"kernel,omitempty"`
	Initrd   string `yaml:"initrd,omitempty"`
	Cmdline  string `yaml:"cmdline,omitempty"`

	NumVirtio int `yaml:"num_virtio,omitempty"`

	Framebuffer *FramebufferConfig `yaml:"framebuffer,omitempty"`
}

type FramebufferConfig struct {
	Width  uint32 `yaml:"width"`
	Height uint32 `yaml:"height"`
}

// DefaultMachineConfig matches the source's reference defaults: RV64,
// 256MiB RAM, no kernel/initrd/framebuffer.
func DefaultMachineConfig() MachineConfig {
	return MachineConfig{
		XLen:    64,
		RAMSize: 256 * 1024 * 1024,
	}
}

// LoadMachineConfig reads and parses a YAML machine config file, filling in
// DefaultMachineConfig's values for anything left zero.
func LoadMachineConfig(path string) (MachineConfig, error) {
	cfg := DefaultMachineConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("riscv: reading machine config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("riscv: parsing machine config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the machine boot glue cannot lay out.
func (c MachineConfig) Validate() error {
	switch c.XLen {
	case 32, 64, 128:
	default:
		return fmt.Errorf("riscv: xlen must be 32, 64 or 128, got %d", c.XLen)
	}
	if c.RAMSize == 0 {
		return fmt.Errorf("riscv: ram_size must be non-zero")
	}
	if c.Firmware == "" {
		return fmt.Errorf("riscv: firmware image path is required")
	}
	if c.NumVirtio < 0 {
		return fmt.Errorf("riscv: num_virtio must not be negative")
	}
	return nil
}
