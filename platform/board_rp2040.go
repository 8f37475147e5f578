//go:build rp2040

package platform

import (
	"machine"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"

	"hvsupply/hw"
)

// Open configures both I2C buses, the console UART, the PWM analog output
// and every GPIO the services use. Pin directions and pulls are left to
// the owning service.
func Open() (*Board, error) {
	// Expander on i2c0, standard mode.
	exp := machine.I2C0
	if err := exp.Configure(machine.I2CConfig{
		Frequency: 100 * machine.KHz,
		SDA:       machine.Pin(PinExpanderSDA),
		SCL:       machine.Pin(PinExpanderSCL),
	}); err != nil {
		return nil, err
	}

	// ADC on i2c1, fast mode.
	adc := machine.I2C1
	if err := adc.Configure(machine.I2CConfig{
		Frequency: 400 * machine.KHz,
		SDA:       machine.Pin(PinADCSDA),
		SCL:       machine.Pin(PinADCSCL),
	}); err != nil {
		return nil, err
	}

	con := uartx.UART0
	_ = con.Configure(uartx.UARTConfig{
		BaudRate: 115200,
		TX:       machine.Pin(PinConsoleTX),
		RX:       machine.Pin(PinConsoleRX),
	})

	dac, err := newPWMDAC(machine.Pin(PinDAC))
	if err != nil {
		return nil, err
	}

	b := &Board{
		ID0:           pin(PinBoardID0),
		ID1:           pin(PinBoardID1),
		Drive:         pin(PinDrive),
		Capture:       pin(PinCapture),
		ExpanderReset: pin(PinExpanderReset),
		KillN:         pin(PinKillN),
		DAC:           dac,
		ExpanderBus:   exp,
		ADCBus:        adc,
		Console:       con,
	}
	b.Buttons[0] = pin(PinBtnPrimary)
	b.Buttons[1] = pin(PinBtnPolarity)
	b.Buttons[2] = pin(PinBtnFrequency)
	return b, nil
}

func pin(n int) *rp2Pin { return &rp2Pin{p: machine.Pin(n), n: n} }

// ---- GPIO (includes IRQ support) ----

type rp2Pin struct {
	p machine.Pin
	n int
}

func (r *rp2Pin) ConfigureInput(pull hw.Pull) error {
	var mode machine.PinMode
	switch pull {
	case hw.PullUp:
		mode = machine.PinInputPullup
	case hw.PullDown:
		mode = machine.PinInputPulldown
	default:
		mode = machine.PinInput
	}
	r.p.Configure(machine.PinConfig{Mode: mode})
	return nil
}

func (r *rp2Pin) ConfigureOutput(initial bool) error {
	r.p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	r.p.Set(initial)
	return nil
}

func (r *rp2Pin) Set(level bool) { r.p.Set(level) }
func (r *rp2Pin) Get() bool      { return r.p.Get() }

func (r *rp2Pin) Toggle() {
	if r.p.Get() {
		r.p.Low()
	} else {
		r.p.High()
	}
}

func (r *rp2Pin) Number() int { return r.n }

func (r *rp2Pin) SetIRQ(edge hw.Edge, handler func()) error {
	return r.p.SetInterrupt(toPinChange(edge), func(machine.Pin) { handler() })
}

func (r *rp2Pin) ClearIRQ() error {
	var zero machine.PinChange
	return r.p.SetInterrupt(zero, nil)
}

func toPinChange(e hw.Edge) machine.PinChange {
	switch e {
	case hw.EdgeRising:
		return machine.PinRising
	case hw.EdgeFalling:
		return machine.PinFalling
	case hw.EdgeBoth:
		return machine.PinToggle
	default:
		var zero machine.PinChange
		return zero
	}
}

// ---- PWM analog output ----

// pwmPeripheral covers TinyGo's unexported *pwmGroup.
type pwmPeripheral interface {
	Configure(config machine.PWMConfig) error
	Channel(pin machine.Pin) (uint8, error)
	Top() uint32
	Set(channel uint8, value uint32)
}

// pwmDAC drives an RC-filtered PWM pin as a 12-bit output. Code 4095 maps
// to full duty, i.e. the 3.0 V rail after the filter.
type pwmDAC struct {
	pwm pwmPeripheral
	ch  uint8
}

// ~30.5 kHz carrier: at 125 MHz this gives a Top of about 4095, one count
// per DAC code.
const pwmPeriodNS = 32768

func newPWMDAC(p machine.Pin) (*pwmDAC, error) {
	slice := pwmSlice(uint8((uint32(p) >> 1) & 0x7))
	if err := slice.Configure(machine.PWMConfig{Period: pwmPeriodNS}); err != nil {
		return nil, err
	}
	ch, err := slice.Channel(p)
	if err != nil {
		return nil, err
	}
	slice.Set(ch, 0)
	return &pwmDAC{pwm: slice, ch: ch}, nil
}

func (d *pwmDAC) SetCode(code uint16) error {
	if code > hw.MaxCode {
		code = hw.MaxCode
	}
	top := d.pwm.Top()
	d.pwm.Set(d.ch, (uint32(code)*(top+1))/(hw.MaxCode+1))
	return nil
}

func pwmSlice(n uint8) pwmPeripheral {
	switch n {
	case 0:
		return machine.PWM0
	case 1:
		return machine.PWM1
	case 2:
		return machine.PWM2
	case 3:
		return machine.PWM3
	case 4:
		return machine.PWM4
	case 5:
		return machine.PWM5
	case 6:
		return machine.PWM6
	default:
		return machine.PWM7
	}
}
