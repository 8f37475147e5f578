//go:build linux && !rp2040

package main

import (
	"sync"

	i2c "github.com/d2r2/go-i2c"
	logger "github.com/d2r2/go-logger"
)

// i2cDev adapts a Linux i2c-dev bus to the drivers.I2C surface. One handle
// is opened per target address on first use.
type i2cDev struct {
	bus int

	mu   sync.Mutex
	devs map[uint16]*i2c.I2C
}

func openI2C(bus int) (*i2cDev, error) {
	_ = logger.ChangePackageLogLevel("i2c", logger.InfoLevel)
	return &i2cDev{bus: bus, devs: map[uint16]*i2c.I2C{}}, nil
}

func (d *i2cDev) get(addr uint16) (*i2c.I2C, error) {
	if dev, ok := d.devs[addr]; ok {
		return dev, nil
	}
	dev, err := i2c.NewI2C(uint8(addr), d.bus)
	if err != nil {
		return nil, err
	}
	d.devs[addr] = dev
	return dev, nil
}

func (d *i2cDev) Tx(addr uint16, w, r []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	dev, err := d.get(addr)
	if err != nil {
		return err
	}
	if len(w) > 0 {
		if _, err := dev.WriteBytes(w); err != nil {
			return err
		}
	}
	if len(r) > 0 {
		if _, err := dev.ReadBytes(r); err != nil {
			return err
		}
	}
	return nil
}

func (d *i2cDev) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for a, dev := range d.devs {
		dev.Close()
		delete(d.devs, a)
	}
}
