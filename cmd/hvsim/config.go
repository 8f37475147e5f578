//go:build !rp2040

package main

import (
	"os"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	"hvsupply/services/bridge"
	"hvsupply/services/config"
)

// SimConfig is the simulator file. Firmware is layered over the embedded
// profile of the simulated board.
type SimConfig struct {
	// I2CBus selects a Linux i2c-dev bus for real expander and ADC parts.
	// Negative keeps the simulated register files.
	I2CBus   int           `koanf:"i2c_bus" yaml:"i2c_bus"`
	Bridge   bridge.Config `koanf:"bridge" yaml:"bridge"`
	Firmware config.Config `koanf:"firmware" yaml:"firmware"`
}

func defaultSimConfig(boardID uint8) SimConfig {
	fw, _ := config.Load(boardID)
	return SimConfig{
		I2CBus:   -1,
		Bridge:   bridge.Config{Exchange: "hvsupply"},
		Firmware: fw,
	}
}

// loadSimConfig reads path over the defaults. A missing file is not an error.
func loadSimConfig(path string, boardID uint8) (SimConfig, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaultSimConfig(boardID), "koanf"), nil); err != nil {
		return SimConfig{}, err
	}
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return SimConfig{}, err
		}
	}
	var c SimConfig
	if err := k.Unmarshal("", &c); err != nil {
		return SimConfig{}, err
	}
	if err := c.Firmware.Validate(); err != nil {
		return SimConfig{}, err
	}
	return c, nil
}
