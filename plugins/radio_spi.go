package plugins

import (
	"fmt"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// AD9361 SPI framing: a 16-bit instruction word followed by one data byte.
// Bit 15 of the instruction selects write, bits 11..0 carry the register
// address. The populated register map ends at 0x3FF.
const (
	spiWriteFlag = 0x8000
	spiAddrMask  = 0x0FFF
)

// SPIDevice is the register transport for the transceiver. It satisfies
// ad9361.RegisterIO with one 3-byte full-duplex transaction per access.
type SPIDevice struct {
	conn   spi.Conn
	port   spi.PortCloser
	device string
	speed  physic.Frequency
}

// NewSPIDevice opens an SPI port using periph.io and configures it for the
// transceiver: mode 0, 8-bit words.
func NewSPIDevice(device string, speed uint32) (*SPIDevice, error) {
	// Initialize periph.io host
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph.io: %w", err)
	}

	// Open SPI port
	port, err := spireg.Open(device)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI device %s: %w", device, err)
	}

	// AD9361 requires SPI Mode 0 (CPOL=0, CPHA=0)
	conn, err := port.Connect(physic.Frequency(speed)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to connect to SPI device: %w", err)
	}

	return &SPIDevice{
		conn:   conn,
		port:   port,
		device: device,
		speed:  physic.Frequency(speed) * physic.Hertz,
	}, nil
}

// Close closes the SPI port.
func (s *SPIDevice) Close() error {
	if s.port != nil {
		return s.port.Close()
	}
	return nil
}

// Poke writes one register.
func (s *SPIDevice) Poke(addr uint16, value uint8) error {
	if s.conn == nil {
		return fmt.Errorf("spi device not open")
	}

	cmd := spiWriteFlag | (addr & spiAddrMask)
	tx := []byte{byte(cmd >> 8), byte(cmd), value}
	rx := make([]byte, len(tx))

	if err := s.conn.Tx(tx, rx); err != nil {
		return fmt.Errorf("failed to write register 0x%03X: %w", addr, err)
	}

	return nil
}

// Peek reads one register. The chip shifts the value out on the third
// byte of the transaction, while the bus clocks the instruction word in.
func (s *SPIDevice) Peek(addr uint16) (uint8, error) {
	if s.conn == nil {
		return 0, fmt.Errorf("spi device not open")
	}

	cmd := addr & spiAddrMask
	tx := []byte{byte(cmd >> 8), byte(cmd), 0x00}
	rx := make([]byte, len(tx))

	if err := s.conn.Tx(tx, rx); err != nil {
		return 0, fmt.Errorf("failed to read register 0x%03X: %w", addr, err)
	}

	return rx[2], nil
}

// DeviceInfo provides information about the SPI device
func (s *SPIDevice) DeviceInfo() string {
	if s.conn == nil {
		return fmt.Sprintf("Device: %s (closed)", s.device)
	}
	return fmt.Sprintf("Device: %s, Speed: %s", s.device, s.speed)
}

// IsOpen returns true if the SPI device is open
func (s *SPIDevice) IsOpen() bool {
	return s.conn != nil && s.port != nil
}
