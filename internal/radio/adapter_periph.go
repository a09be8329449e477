package radio

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// realPin wraps a gpio.PinIO to satisfy the Pin interface.
type realPin struct {
	gpio.PinIO
	stopWatch chan struct{}
}

func (p *realPin) Out(l Level) error {
	if l == High {
		return p.PinIO.Out(gpio.High)
	}
	return p.PinIO.Out(gpio.Low)
}

func (p *realPin) In(pull Pull) error {
	var pPull gpio.Pull
	switch pull {
	case PullFloat:
		pPull = gpio.Float
	case PullDown:
		pPull = gpio.PullDown
	case PullUp:
		pPull = gpio.PullUp
	default:
		pPull = gpio.PullNoChange
	}
	return p.PinIO.In(pPull, gpio.NoEdge)
}

func (p *realPin) Read() Level {
	if p.PinIO.Read() == gpio.High {
		return High
	}
	return Low
}

func (p *realPin) Watch(edge Edge, handler func()) error {
	var pEdge gpio.Edge
	switch edge {
	case RisingEdge:
		pEdge = gpio.RisingEdge
	case FallingEdge:
		pEdge = gpio.FallingEdge
	case BothEdges:
		pEdge = gpio.BothEdges
	default:
		pEdge = gpio.NoEdge
	}

	if err := p.PinIO.In(gpio.PullUp, pEdge); err != nil {
		return err
	}

	p.stopWatch = make(chan struct{})

	go func() {
		for {
			if p.PinIO.WaitForEdge(-1) {
				select {
				case <-p.stopWatch:
					return
				default:
					handler()
				}
			} else {
				select {
				case <-p.stopWatch:
					return
				default:
				}
			}
		}
	}()
	return nil
}

func (p *realPin) Unwatch() error {
	if p.stopWatch != nil {
		close(p.stopWatch)
		p.stopWatch = nil
	}
	return p.PinIO.In(gpio.PullUp, gpio.NoEdge)
}

// LinuxConfig holds the configuration for the periph.io-backed Linux driver.
type LinuxConfig struct {
	Config
	// CEPin is the GPIO pin number (BCM numbering) for Chip Enable. Defaults to 25.
	CEPin int
	// IRQPin is the GPIO pin number (BCM numbering) for the interrupt line.
	// Optional; polling is used if zero.
	IRQPin int
	// SpiBusPath is the SPI device path. Defaults to "/dev/spidev0.0".
	SpiBusPath string
	// SpiClockHz is the SPI clock frequency. Defaults to 1000000.
	SpiClockHz int
}

// NewLinux initializes periph.io's host, GPIO and SPI, and programs the
// radio per spec §4.1.
func NewLinux(c LinuxConfig, logger Logger) (*Transceiver, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("radio: initialize periph.io host: %w", err)
	}

	if c.SpiBusPath == "" {
		c.SpiBusPath = "/dev/spidev0.0"
	}
	p, err := spireg.Open(c.SpiBusPath)
	if err != nil {
		return nil, fmt.Errorf("radio: open SPI port: %w", err)
	}

	if c.SpiClockHz == 0 {
		c.SpiClockHz = 1000000
	}
	conn, err := p.Connect(physic.Frequency(c.SpiClockHz)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("radio: create SPI connection: %w", err)
	}

	if c.CEPin == 0 {
		c.CEPin = 25
	}
	ceName := fmt.Sprintf("GPIO%d", c.CEPin)
	realCE := gpioreg.ByName(ceName)
	if realCE == nil {
		p.Close()
		return nil, fmt.Errorf("radio: open CE pin %s", ceName)
	}
	ceWrapper := &realPin{PinIO: realCE}

	var irqWrapper Pin
	if c.IRQPin != 0 {
		irqName := fmt.Sprintf("GPIO%d", c.IRQPin)
		realIRQ := gpioreg.ByName(irqName)
		if realIRQ == nil {
			p.Close()
			return nil, fmt.Errorf("radio: open IRQ pin %s", irqName)
		}
		irqWrapper = &realPin{PinIO: realIRQ}
	}

	t, err := New(c.Config, conn, ceWrapper, irqWrapper, logger)
	if err != nil {
		p.Close()
		return nil, err
	}
	t.closer = p
	return t, nil
}
