//go:build linux

package hal

import (
	"fmt"
	"sync"
	"time"

	"github.com/stianeikeland/go-rpio/v4"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// RPiProvider drives real pins on a Raspberry Pi: go-rpio for register-
// level digital I/O (lowest latency, critical for pulse timing), periph.io
// over SPI for the joystick ADC (MCP3008-style 10-bit channel 0).
type RPiProvider struct {
	mu       sync.Mutex
	pins     map[int]rpio.Pin
	adcPort  spi.PortCloser
	adcConn  spi.Conn
	adcChan  int
	start    time.Time
}

// RPiConfig names the SPI bus the joystick ADC is wired to.
type RPiConfig struct {
	ADCBus     string // e.g. "/dev/spidev0.0"
	ADCChannel int    // MCP3008 input channel (0-7)
}

// NewRPiProvider opens go-rpio and, if an ADC bus is configured, the SPI
// port for the joystick channel. Failure here is fatal per spec.md §7
// (HardwareUnavailable).
func NewRPiProvider(cfg RPiConfig) (*RPiProvider, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("%w: rpio.Open: %v", ErrUnavailable, err)
	}

	p := &RPiProvider{
		pins:    make(map[int]rpio.Pin),
		adcChan: cfg.ADCChannel,
		start:   time.Now(),
	}

	if cfg.ADCBus != "" {
		if _, err := host.Init(); err != nil {
			rpio.Close()
			return nil, fmt.Errorf("%w: periph host.Init: %v", ErrUnavailable, err)
		}
		port, err := spireg.Open(cfg.ADCBus)
		if err != nil {
			rpio.Close()
			return nil, fmt.Errorf("%w: spireg.Open(%s): %v", ErrUnavailable, cfg.ADCBus, err)
		}
		conn, err := port.Connect(physic.MegaHertz, spi.Mode0, 8)
		if err != nil {
			port.Close()
			rpio.Close()
			return nil, fmt.Errorf("%w: spi.Connect: %v", ErrUnavailable, err)
		}
		p.adcPort, p.adcConn = port, conn
	}

	return p, nil
}

func (p *RPiProvider) pin(n int) rpio.Pin {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pn, ok := p.pins[n]; ok {
		return pn
	}
	pn := rpio.Pin(n)
	p.pins[n] = pn
	return pn
}

func (p *RPiProvider) ReadDigital(pinNum int) (bool, error) {
	return p.pin(pinNum).Read() == rpio.High, nil
}

func (p *RPiProvider) WriteDigital(pinNum int, value bool) error {
	pn := p.pin(pinNum)
	pn.Output()
	if value {
		pn.High()
	} else {
		pn.Low()
	}
	return nil
}

// ReadAnalog reads the joystick's 10-bit sample over the MCP3008 SPI
// protocol: a 3-byte transaction, start bit + single/diff + channel
// select, result folded out of the low 10 bits of the reply.
func (p *RPiProvider) ReadAnalog(channel int) (int, error) {
	p.mu.Lock()
	conn := p.adcConn
	p.mu.Unlock()

	if conn == nil || channel != p.adcChan {
		return 0, &ReadError{Op: "ReadAnalog", Err: ErrNoSuchChannel}
	}

	tx := []byte{1, byte((8 + channel) << 4), 0}
	rx := make([]byte, 3)
	if err := conn.Tx(tx, rx); err != nil {
		return 0, &ReadError{Op: "ReadAnalog", Err: err}
	}
	value := int(rx[1]&0x03)<<8 | int(rx[2])
	return value, nil
}

func (p *RPiProvider) NowMicros() uint64 {
	return uint64(time.Since(p.start).Microseconds())
}

func (p *RPiProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.adcPort != nil {
		p.adcPort.Close()
	}
	return rpio.Close()
}
