package plugins

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/linht/sdr-manager/ad9361"
)

// RadioPlugin drives an AD9361 transceiver over SPI.
//
// Unlike the transient connections simpler hardware plugins use, the radio
// keeps one device open for the life of the process: bring-up runs a full
// calibration pass that takes seconds, and the driver carries tuning and
// gain state the chip depends on between requests.
type RadioPlugin struct {
	config RadioConfig
	board  ad9361.BoardParams

	mu   sync.Mutex
	spi  *SPIDevice
	gpio *ResetController
	dev  *ad9361.Device
}

// RadioConfig holds the radio plugin configuration.
type RadioConfig struct {
	SPIDevice  string `yaml:"spi_device"`
	SPISpeed   uint32 `yaml:"spi_speed"`
	GPIOChip   string `yaml:"gpio_chip"`
	ResetLine  int    `yaml:"reset_line"`
	TablesPath string `yaml:"tables_path"`

	Board struct {
		ClockingMode     string `yaml:"clocking_mode"`
		DigitalInterface string `yaml:"digital_interface"`
		Timing           struct {
			RXClockDelay uint8 `yaml:"rx_clock_delay"`
			RXDataDelay  uint8 `yaml:"rx_data_delay"`
			TXClockDelay uint8 `yaml:"tx_clock_delay"`
			TXDataDelay  uint8 `yaml:"tx_data_delay"`
		} `yaml:"timing"`
		RXBandEdges [2]float64 `yaml:"rx_band_edges"`
		TXBandEdge  float64    `yaml:"tx_band_edge"`
	} `yaml:"board"`
}

// boardParams maps the YAML board description onto the driver's types.
func (cfg *RadioConfig) boardParams() (ad9361.BoardParams, error) {
	var board ad9361.BoardParams

	switch cfg.Board.ClockingMode {
	case "", "xtal_n":
		board.ClockingMode = ad9361.ClockingXTALN
	case "xtal_p":
		board.ClockingMode = ad9361.ClockingXTALP
	default:
		return board, fmt.Errorf("unknown clocking_mode %q (use xtal_n or xtal_p)", cfg.Board.ClockingMode)
	}

	switch cfg.Board.DigitalInterface {
	case "", "lvds":
		board.DigitalInterface = ad9361.InterfaceLVDS
	case "lvcmos":
		board.DigitalInterface = ad9361.InterfaceLVCMOS
	default:
		return board, fmt.Errorf("unknown digital_interface %q (use lvds or lvcmos)", cfg.Board.DigitalInterface)
	}

	board.Timing = ad9361.InterfaceTiming{
		RXClockDelay: cfg.Board.Timing.RXClockDelay,
		RXDataDelay:  cfg.Board.Timing.RXDataDelay,
		TXClockDelay: cfg.Board.Timing.TXClockDelay,
		TXDataDelay:  cfg.Board.Timing.TXDataDelay,
	}
	board.RXBandEdges = cfg.Board.RXBandEdges
	board.TXBandEdge = cfg.Board.TXBandEdge

	return board, nil
}

// NewRadioPlugin creates a new radio plugin instance
func NewRadioPlugin(cfg RadioConfig) (*RadioPlugin, error) {
	if cfg.SPIDevice == "" {
		return nil, fmt.Errorf("spi_device is required in radio plugin configuration")
	}
	if cfg.GPIOChip == "" {
		return nil, fmt.Errorf("gpio_chip is required in radio plugin configuration")
	}

	// Set defaults if not configured
	if cfg.SPISpeed == 0 {
		cfg.SPISpeed = 10000000 // Default 10 MHz
	}
	if cfg.TablesPath == "" {
		cfg.TablesPath = "tables.yaml"
	}

	board, err := cfg.boardParams()
	if err != nil {
		return nil, err
	}

	slog.Info("Radio plugin initializing",
		"spi_device", cfg.SPIDevice,
		"spi_speed", cfg.SPISpeed,
		"gpio_chip", cfg.GPIOChip,
		"reset_line", cfg.ResetLine,
		"tables_path", cfg.TablesPath)

	return &RadioPlugin{
		config: cfg,
		board:  board,
	}, nil
}

// Name returns the plugin identifier
func (p *RadioPlugin) Name() string {
	return "radio"
}

// RegisterRoutes adds the plugin's HTTP routes
func (p *RadioPlugin) RegisterRoutes(app *fiber.App) {
	api := app.Group("/api/radio")

	// Device lifecycle endpoints
	api.Post("/init", p.handleInit)
	api.Post("/close", p.handleClose)
	api.Get("/status", p.handleStatus)
	api.Get("/info", p.handleInfo)

	// Clocking and tuning endpoints
	api.Post("/clock-rate", p.handleSetClockRate)
	api.Post("/tune", p.handleTune)

	// Gain and chain control
	api.Post("/gain", p.handleSetGain)
	api.Post("/chains", p.handleSetChains)

	// Diagnostics
	api.Post("/test-tone", p.handleTestTone)
	api.Post("/loopback", p.handleLoopback)
	api.Get("/register/:addr", p.handleReadRegister)
	api.Post("/register/:addr", p.handleWriteRegister)

	// WebSocket status stream
	api.Get("/ws", websocket.New(p.handleStatusStream))

	slog.Info("Radio plugin routes registered")
}

// Shutdown releases the SPI port and GPIO line
func (p *RadioPlugin) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeLocked()
}

// closeLocked tears down the device handles. Caller holds p.mu.
func (p *RadioPlugin) closeLocked() error {
	var errs []error

	if p.spi != nil {
		if err := p.spi.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close SPI device: %w", err))
		}
		p.spi = nil
	}

	if p.gpio != nil {
		if err := p.gpio.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close GPIO: %w", err))
		}
		p.gpio = nil
	}

	p.dev = nil

	if len(errs) > 0 {
		return fmt.Errorf("errors closing radio: %v", errs)
	}
	return nil
}

// device returns the persistent driver handle, opening the SPI port and
// pulsing the hardware reset line on first use.
func (p *RadioPlugin) device() (*ad9361.Device, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.dev != nil {
		return p.dev, nil
	}

	tables, err := loadTables(p.config.TablesPath)
	if err != nil {
		return nil, err
	}

	spiDev, err := NewSPIDevice(p.config.SPIDevice, p.config.SPISpeed)
	if err != nil {
		return nil, err
	}

	gpio, err := NewResetController(p.config.GPIOChip, p.config.ResetLine)
	if err != nil {
		spiDev.Close()
		return nil, err
	}

	if err := gpio.Reset(); err != nil {
		spiDev.Close()
		gpio.Close()
		return nil, fmt.Errorf("failed to reset transceiver: %w", err)
	}

	dev, err := ad9361.New(spiDev, p.board, tables, slog.Default())
	if err != nil {
		spiDev.Close()
		gpio.Close()
		return nil, err
	}

	p.spi = spiDev
	p.gpio = gpio
	p.dev = dev

	slog.Info("Radio device connected", "spi", spiDev.DeviceInfo(), "gpio", gpio.Info())
	return dev, nil
}

// statusSnapshot reads the driver status without forcing a connect. An
// unconnected radio reports zero values with connected=false.
func (p *RadioPlugin) statusSnapshot() (ad9361.DeviceStatus, bool, error) {
	p.mu.Lock()
	dev := p.dev
	p.mu.Unlock()

	if dev == nil {
		return ad9361.DeviceStatus{}, false, nil
	}
	status, err := dev.Status()
	return status, true, err
}

// loadTables reads the board calibration tables the driver programs into
// the chip. Shape validation happens in ad9361.New.
func loadTables(path string) (*ad9361.Tables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tables file: %w", err)
	}

	var tables ad9361.Tables
	if err := yaml.Unmarshal(data, &tables); err != nil {
		return nil, fmt.Errorf("failed to parse tables file %s: %w", path, err)
	}

	return &tables, nil
}

// parseDirection maps the wire direction names onto the driver's type.
func parseDirection(s string) (ad9361.Direction, error) {
	switch strings.ToLower(s) {
	case "rx":
		return ad9361.RX, nil
	case "tx":
		return ad9361.TX, nil
	default:
		return 0, fmt.Errorf("direction must be rx or tx, got %q", s)
	}
}

// sendDeviceError maps driver errors onto HTTP statuses: input the caller
// can fix is a 400, calling an operation before init is a 409, anything
// else counts as a hardware fault.
func sendDeviceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ad9361.ErrNotInitialized):
		return SendErrorMessage(c, 409, "Device not initialized, POST /api/radio/init first")
	case errors.Is(err, ad9361.ErrOutOfRange),
		errors.Is(err, ad9361.ErrNoValidDivider),
		errors.Is(err, ad9361.ErrQuadCalFreqRange),
		errors.Is(err, ad9361.ErrUnsupportedTapCount):
		return SendError(c, 400, err)
	default:
		return SendError(c, 500, err)
	}
}

// Device lifecycle handlers

func (p *RadioPlugin) handleInit(c *fiber.Ctx) error {
	dev, err := p.device()
	if err != nil {
		slog.Error("Failed to connect radio", "error", err)
		return SendError(c, 500, err)
	}

	// Bring-up takes a few seconds; tag the run so its log lines can be
	// pulled out of a busy log.
	runID := uuid.New().String()
	slog.Info("Radio bring-up starting", "run_id", runID)

	if err := dev.Initialize(); err != nil {
		slog.Error("Radio bring-up failed", "run_id", runID, "error", err)
		return sendDeviceError(c, err)
	}

	status, err := dev.Status()
	if err != nil {
		return SendError(c, 500, err)
	}

	slog.Info("Radio bring-up complete",
		"run_id", runID,
		"ensm_state", fmt.Sprintf("0x%X", status.ENSMState),
		"clock_rate", status.ClockRate)

	return SendSuccess(c, map[string]interface{}{
		"run_id": runID,
		"status": status,
	}, "Radio initialized")
}

func (p *RadioPlugin) handleClose(c *fiber.Ctx) error {
	p.mu.Lock()
	err := p.closeLocked()
	p.mu.Unlock()

	if err != nil {
		return SendError(c, 500, err)
	}

	slog.Info("Radio device released")
	return SendSuccess(c, nil, "Radio device released")
}

func (p *RadioPlugin) handleStatus(c *fiber.Ctx) error {
	status, connected, err := p.statusSnapshot()
	if err != nil {
		return SendError(c, 500, err)
	}

	return SendSuccess(c, map[string]interface{}{
		"connected": connected,
		"status":    status,
	}, "")
}

func (p *RadioPlugin) handleInfo(c *fiber.Ctx) error {
	p.mu.Lock()
	spiInfo := "not connected"
	gpioInfo := "not connected"
	if p.spi != nil {
		spiInfo = p.spi.DeviceInfo()
	}
	if p.gpio != nil {
		gpioInfo = p.gpio.Info()
	}
	p.mu.Unlock()

	return SendSuccess(c, map[string]interface{}{
		"config": p.config,
		"spi":    spiInfo,
		"gpio":   gpioInfo,
	}, "")
}

// Clocking and tuning handlers

func (p *RadioPlugin) handleSetClockRate(c *fiber.Ctx) error {
	var req struct {
		RateHz float64 `json:"rate_hz"`
	}
	if err := c.BodyParser(&req); err != nil {
		return SendErrorMessage(c, 400, "Invalid request body")
	}
	if req.RateHz <= 0 {
		return SendErrorMessage(c, 400, "rate_hz must be positive")
	}

	dev, err := p.device()
	if err != nil {
		return SendError(c, 500, err)
	}

	bw, err := dev.SetClockRate(req.RateHz)
	if err != nil {
		slog.Error("Failed to set clock rate", "rate_hz", req.RateHz, "error", err)
		return sendDeviceError(c, err)
	}

	slog.Info("Clock rate set", "requested_hz", req.RateHz, "baseband_bw_hz", bw)
	return SendSuccess(c, map[string]interface{}{
		"requested_hz":   req.RateHz,
		"baseband_bw_hz": bw,
	}, "Clock rate set")
}

func (p *RadioPlugin) handleTune(c *fiber.Ctx) error {
	var req struct {
		Direction string  `json:"direction"`
		FreqHz    float64 `json:"freq_hz"`
	}
	if err := c.BodyParser(&req); err != nil {
		return SendErrorMessage(c, 400, "Invalid request body")
	}

	dir, err := parseDirection(req.Direction)
	if err != nil {
		return SendError(c, 400, err)
	}
	if req.FreqHz <= 0 {
		return SendErrorMessage(c, 400, "freq_hz must be positive")
	}

	dev, err := p.device()
	if err != nil {
		return SendError(c, 500, err)
	}

	actual, err := dev.Tune(dir, req.FreqHz)
	if err != nil {
		slog.Error("Failed to tune", "direction", dir.String(), "freq_hz", req.FreqHz, "error", err)
		return sendDeviceError(c, err)
	}

	slog.Info("Tuned", "direction", dir.String(), "requested_hz", req.FreqHz, "actual_hz", actual)
	return SendSuccess(c, map[string]interface{}{
		"direction":    dir.String(),
		"requested_hz": req.FreqHz,
		"actual_hz":    actual,
	}, "Tuned")
}

// Gain and chain handlers

func (p *RadioPlugin) handleSetGain(c *fiber.Ctx) error {
	var req struct {
		Direction string  `json:"direction"`
		Chain     int     `json:"chain"`
		GainDB    float64 `json:"gain_db"`
	}
	if err := c.BodyParser(&req); err != nil {
		return SendErrorMessage(c, 400, "Invalid request body")
	}

	dir, err := parseDirection(req.Direction)
	if err != nil {
		return SendError(c, 400, err)
	}

	var chain ad9361.Chain
	switch req.Chain {
	case 0, 1: // chain 1 when unspecified
		chain = ad9361.Chain1
	case 2:
		chain = ad9361.Chain2
	default:
		return SendErrorMessage(c, 400, "chain must be 1 or 2")
	}

	dev, err := p.device()
	if err != nil {
		return SendError(c, 500, err)
	}

	actual, err := dev.SetGain(dir, chain, req.GainDB)
	if err != nil {
		slog.Error("Failed to set gain",
			"direction", dir.String(), "chain", int(chain), "gain_db", req.GainDB, "error", err)
		return sendDeviceError(c, err)
	}

	slog.Info("Gain set",
		"direction", dir.String(), "chain", int(chain),
		"requested_db", req.GainDB, "actual_db", actual)

	return SendSuccess(c, map[string]interface{}{
		"direction":    dir.String(),
		"chain":        int(chain),
		"requested_db": req.GainDB,
		"actual_db":    actual,
	}, "Gain set")
}

func (p *RadioPlugin) handleSetChains(c *fiber.Ctx) error {
	var req struct {
		TX1 bool `json:"tx1"`
		TX2 bool `json:"tx2"`
		RX1 bool `json:"rx1"`
		RX2 bool `json:"rx2"`
	}
	if err := c.BodyParser(&req); err != nil {
		return SendErrorMessage(c, 400, "Invalid request body")
	}

	dev, err := p.device()
	if err != nil {
		return SendError(c, 500, err)
	}

	if err := dev.SetActiveChains(req.TX1, req.TX2, req.RX1, req.RX2); err != nil {
		slog.Error("Failed to set active chains", "error", err)
		return sendDeviceError(c, err)
	}

	slog.Info("Active chains set", "tx1", req.TX1, "tx2", req.TX2, "rx1", req.RX1, "rx2", req.RX2)
	return SendSuccess(c, map[string]interface{}{
		"tx1": req.TX1,
		"tx2": req.TX2,
		"rx1": req.RX1,
		"rx2": req.RX2,
	}, "Active chains set")
}

// Diagnostics handlers

func (p *RadioPlugin) handleTestTone(c *fiber.Ctx) error {
	dev, err := p.device()
	if err != nil {
		return SendError(c, 500, err)
	}

	if err := dev.OutputTestTone(); err != nil {
		slog.Error("Failed to enable test tone", "error", err)
		return sendDeviceError(c, err)
	}

	slog.Info("Test tone enabled")
	return SendSuccess(c, nil, "Test tone enabled")
}

func (p *RadioPlugin) handleLoopback(c *fiber.Ctx) error {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.BodyParser(&req); err != nil {
		return SendErrorMessage(c, 400, "Invalid request body")
	}

	dev, err := p.device()
	if err != nil {
		return SendError(c, 500, err)
	}

	if err := dev.DataPortLoopback(req.Enabled); err != nil {
		slog.Error("Failed to set loopback", "enabled", req.Enabled, "error", err)
		return sendDeviceError(c, err)
	}

	slog.Info("Data port loopback set", "enabled", req.Enabled)
	return SendSuccess(c, map[string]interface{}{
		"enabled": req.Enabled,
	}, "Loopback updated")
}

func (p *RadioPlugin) handleReadRegister(c *fiber.Ctx) error {
	addr, err := c.ParamsInt("addr")
	if err != nil || addr < 0 || addr > 0x3FF {
		return SendErrorMessage(c, 400, "Invalid register address")
	}

	dev, err := p.device()
	if err != nil {
		return SendError(c, 500, err)
	}

	value, err := dev.PeekRegister(uint16(addr))
	if err != nil {
		return SendError(c, 500, err)
	}

	desc := RegisterDescriptions[uint16(addr)]
	if desc == "" {
		desc = "Unknown register"
	}

	return SendSuccess(c, map[string]interface{}{
		"address":     fmt.Sprintf("0x%03X", addr),
		"value":       fmt.Sprintf("0x%02X", value),
		"value_dec":   value,
		"description": desc,
	}, "")
}

func (p *RadioPlugin) handleWriteRegister(c *fiber.Ctx) error {
	addr, err := c.ParamsInt("addr")
	if err != nil || addr < 0 || addr > 0x3FF {
		return SendErrorMessage(c, 400, "Invalid register address")
	}

	var req struct {
		Value uint8 `json:"value"`
	}
	if err := c.BodyParser(&req); err != nil {
		return SendErrorMessage(c, 400, "Invalid request body")
	}

	dev, err := p.device()
	if err != nil {
		return SendError(c, 500, err)
	}

	if err := dev.PokeRegister(uint16(addr), req.Value); err != nil {
		return SendError(c, 500, err)
	}

	slog.Info("Register written",
		"address", fmt.Sprintf("0x%03X", addr),
		"value", fmt.Sprintf("0x%02X", req.Value))

	return SendSuccess(c, map[string]interface{}{
		"address": fmt.Sprintf("0x%03X", addr),
		"value":   fmt.Sprintf("0x%02X", req.Value),
	}, "Register written")
}

// Register the plugin
func init() {
	Register("radio", func(config interface{}) (Plugin, error) {
		cfg, ok := config.(RadioConfig)
		if !ok {
			return nil, fmt.Errorf("invalid config for radio plugin: expected RadioConfig")
		}
		return NewRadioPlugin(cfg)
	})
}
