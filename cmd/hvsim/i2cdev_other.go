//go:build !linux && !rp2040

package main

import "errors"

type i2cDev struct{}

func openI2C(bus int) (*i2cDev, error) {
	return nil, errors.New("i2c-dev is only available on linux")
}

func (d *i2cDev) Tx(addr uint16, w, r []byte) error { return errors.New("no i2c bus") }
func (d *i2cDev) Close()                            {}
