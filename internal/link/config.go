package link

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SerialPortProfile is the Bluetooth service class id of the serial port
// profile exposed by telemetry radios.
var SerialPortProfile = uuid.MustParse("00001101-0000-1000-8000-00805F9B34FB")

// Config selects and parameterizes one transport.
type Config struct {
	Kind      Kind            `toml:"kind" json:"kind"`
	Bluetooth BluetoothConfig `toml:"bluetooth" json:"bluetooth"`
	TCP       TCPConfig       `toml:"tcp" json:"tcp"`
	USB       USBConfig       `toml:"usb" json:"usb"`
}

type BluetoothConfig struct {
	// Address is the remote device address, "AA:BB:CC:DD:EE:FF".
	Address string `toml:"address" json:"address"`
	// Channel is the RFCOMM channel; zero uses DefaultRFCOMMChannel.
	Channel uint8 `toml:"channel" json:"channel"`
	// Service defaults to SerialPortProfile.
	Service uuid.UUID `toml:"service" json:"service"`
}

type TCPConfig struct {
	Host string `toml:"host" json:"host"`
	Port int    `toml:"port" json:"port"`
}

type USBConfig struct {
	Device   string `toml:"device" json:"device"`
	Baud     int    `toml:"baud" json:"baud"`
	DataBits int    `toml:"data_bits" json:"data_bits"`
	StopBits int    `toml:"stop_bits" json:"stop_bits"`
	// Parity is one of "none", "odd", "even", "mark", "space".
	Parity string `toml:"parity" json:"parity"`
	// ReadTimeout bounds each blocking read on the port.
	ReadTimeout time.Duration `toml:"-" json:"-"`
}

const (
	DefaultRFCOMMChannel uint8 = 1
	DefaultBaud                = 57600
	DefaultSerialTimeout       = 100 * time.Millisecond
)

// TCP returns a tcp Config for host:port.
func TCP(host string, port int) Config {
	return Config{Kind: KindTCP, TCP: TCPConfig{Host: host, Port: port}}
}

// USB returns a usb Config for device at baud, 8N1.
func USB(device string, baud int) Config {
	return Config{Kind: KindUSB, USB: USBConfig{Device: device, Baud: baud}}
}

// Bluetooth returns a bluetooth Config for the given device address.
func Bluetooth(address string) Config {
	return Config{Kind: KindBluetooth, Bluetooth: BluetoothConfig{Address: address}}
}

// WithDefaults fills zero fields for the selected transport.
func (c Config) WithDefaults() Config {
	c.Kind = Kind(strings.ToLower(strings.TrimSpace(string(c.Kind))))
	switch c.Kind {
	case KindBluetooth:
		if c.Bluetooth.Channel == 0 {
			c.Bluetooth.Channel = DefaultRFCOMMChannel
		}
		if c.Bluetooth.Service == uuid.Nil {
			c.Bluetooth.Service = SerialPortProfile
		}
	case KindUSB:
		if c.USB.Baud == 0 {
			c.USB.Baud = DefaultBaud
		}
		if c.USB.DataBits == 0 {
			c.USB.DataBits = 8
		}
		if c.USB.StopBits == 0 {
			c.USB.StopBits = 1
		}
		if strings.TrimSpace(c.USB.Parity) == "" {
			c.USB.Parity = "none"
		}
		if c.USB.ReadTimeout <= 0 {
			c.USB.ReadTimeout = DefaultSerialTimeout
		}
	}
	return c
}

// Validate checks the fields the selected transport needs.
func (c Config) Validate() error {
	switch c.Kind {
	case KindTCP:
		if strings.TrimSpace(c.TCP.Host) == "" {
			return fmt.Errorf("%w: tcp host is required", ErrInvalidConfig)
		}
		if c.TCP.Port <= 0 || c.TCP.Port > 65535 {
			return fmt.Errorf("%w: tcp port %d out of range", ErrInvalidConfig, c.TCP.Port)
		}
	case KindUSB:
		if strings.TrimSpace(c.USB.Device) == "" {
			return fmt.Errorf("%w: usb device is required", ErrInvalidConfig)
		}
		if c.USB.Baud <= 0 {
			return fmt.Errorf("%w: usb baud must be > 0", ErrInvalidConfig)
		}
		if c.USB.DataBits < 5 || c.USB.DataBits > 8 {
			return fmt.Errorf("%w: usb data bits %d", ErrInvalidConfig, c.USB.DataBits)
		}
		if c.USB.StopBits != 1 && c.USB.StopBits != 2 {
			return fmt.Errorf("%w: usb stop bits %d", ErrInvalidConfig, c.USB.StopBits)
		}
		if _, err := parseParity(c.USB.Parity); err != nil {
			return err
		}
	case KindBluetooth:
		if _, err := parseBDAddr(c.Bluetooth.Address); err != nil {
			return err
		}
		if c.Bluetooth.Channel == 0 || c.Bluetooth.Channel > 30 {
			return fmt.Errorf("%w: rfcomm channel %d", ErrInvalidConfig, c.Bluetooth.Channel)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidConfig, c.Kind)
	}
	return nil
}

// Target is a human readable endpoint for logs and errors.
func (c Config) Target() string {
	switch c.Kind {
	case KindTCP:
		return net.JoinHostPort(c.TCP.Host, strconv.Itoa(c.TCP.Port))
	case KindUSB:
		return fmt.Sprintf("%s@%d", c.USB.Device, c.USB.Baud)
	case KindBluetooth:
		return fmt.Sprintf("%s/%d", c.Bluetooth.Address, c.Bluetooth.Channel)
	default:
		return ""
	}
}

// parseBDAddr parses a colon separated device address into the little-endian
// byte order the kernel expects.
func parseBDAddr(s string) ([6]uint8, error) {
	var out [6]uint8
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 6 {
		return out, fmt.Errorf("%w: bluetooth address %q", ErrInvalidConfig, s)
	}
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 16, 8)
		if err != nil || len(p) != 2 {
			return out, fmt.Errorf("%w: bluetooth address %q", ErrInvalidConfig, s)
		}
		out[5-i] = uint8(v)
	}
	return out, nil
}
