package config

import (
	"fmt"
	"os"
	"strings"
)

// Template returns a starter config for a transport kind.
func Template(kind string) (string, error) {
	var linkSection string
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "tcp", "sitl":
		linkSection = tcpTemplate
	case "usb", "serial":
		linkSection = usbTemplate
	case "bluetooth", "bt":
		linkSection = bluetoothTemplate
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
	return linkSection + commonTemplate, nil
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const tcpTemplate = `[link]
kind = "tcp"
dial_timeout = "5s"

[link.tcp]
host = "127.0.0.1"
port = 5760
`

const usbTemplate = `[link]
kind = "usb"

[link.usb]
device = "/dev/ttyACM0"
baud = 115200
data_bits = 8
stop_bits = 1
parity = "none"
read_timeout = "100ms"
`

const bluetoothTemplate = `[link]
kind = "bluetooth"
dial_timeout = "10s"

[link.bluetooth]
address = "00:11:22:33:44:55"
channel = 1
service = "00001101-0000-1000-8000-00805f9b34fb"
`

const commonTemplate = `
[session]
system_id = 255
component_id = 190
heartbeat_interval = "1s"
heartbeat_timeout = "5s"

[signing]
mode = "v2"
# key = "<64 hex characters>"
# passphrase = ""

[params]
quiescence_timeout = "1s"
settle_window = "300ms"
max_retries = 3
ack_timeout = "1s"
max_set_attempts = 3
batch_pacing = "50ms"
encoding = "cast"

[api]
addr = "127.0.0.1:8760"
cors_origins = ["http://localhost:3000"]
# bearer token required on POST/PUT/DELETE routes; empty leaves them open
token = ""

[store]
enabled = true
path = "groundctl.db"
`
