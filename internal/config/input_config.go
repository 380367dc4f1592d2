// File: internal/config/input_config.go
// This file defines the InputConfig struct, which holds the timing defaults of the
// input tool: how long buttons and keys are held and how scroll gestures are paced.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// InputConfig holds the default timings of synthesized input.
type InputConfig struct {
	ClickDelayMs    int     `mapstructure:"click_delay_ms" yaml:"click_delay_ms"`
	KeyDelayMs      int     `mapstructure:"key_delay_ms" yaml:"key_delay_ms"`
	FrameIntervalMs int     `mapstructure:"frame_interval_ms" yaml:"frame_interval_ms"`
	DefaultVelocity float64 `mapstructure:"default_velocity" yaml:"default_velocity"`
	// HumanizePointer moves the pointer along a curved, eased path before each click.
	HumanizePointer bool    `mapstructure:"humanize_pointer" yaml:"humanize_pointer"`
	FittsA          float64 `mapstructure:"fitts_a" yaml:"fitts_a"`
	FittsB          float64 `mapstructure:"fitts_b" yaml:"fitts_b"`
	PerlinAmplitude float64 `mapstructure:"perlin_amplitude" yaml:"perlin_amplitude"`
}

// setInputDefaults centralizes the input defaults.
func setInputDefaults(v *viper.Viper) {
	v.SetDefault("input.click_delay_ms", 50)
	v.SetDefault("input.key_delay_ms", 50)
	// One record per 60fps frame.
	v.SetDefault("input.frame_interval_ms", 16)
	v.SetDefault("input.default_velocity", 1000.0)
	v.SetDefault("input.humanize_pointer", false)
	v.SetDefault("input.fitts_a", 100.0)
	v.SetDefault("input.fitts_b", 120.0)
	v.SetDefault("input.perlin_amplitude", 1.5)
}

// Validate checks the input timings.
func (i *InputConfig) Validate() error {
	if i.ClickDelayMs <= 0 {
		return fmt.Errorf("click_delay_ms must be a positive integer")
	}
	if i.KeyDelayMs <= 0 {
		return fmt.Errorf("key_delay_ms must be a positive integer")
	}
	if i.FrameIntervalMs <= 0 {
		return fmt.Errorf("frame_interval_ms must be a positive integer")
	}
	if i.DefaultVelocity <= 0 {
		return fmt.Errorf("default_velocity must be positive")
	}
	if i.HumanizePointer && (i.FittsA < 0 || i.FittsB < 0 || i.PerlinAmplitude < 0) {
		return fmt.Errorf("fitts_a, fitts_b and perlin_amplitude must not be negative")
	}
	return nil
}
