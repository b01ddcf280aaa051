package vehicle

import (
	"context"
	"fmt"
	"regexp"

	"github.com/danmuck/groundctl/internal/params"
)

var serialRE = regexp.MustCompile(`^SERIAL(\d+)_(PROTOCOL|BAUD)$`)

// SerialPort is one SERIALn_* group. Baud is the autopilot's code, which
// for ArduPilot is the rate in kbaud (57 for 57600).
type SerialPort struct {
	Number   int `json:"number"`
	Protocol int `json:"protocol"`
	Baud     int `json:"baud"`
}

// Protocol names for common SERIALn_PROTOCOL values.
var protocolNames = map[int]string{
	-1: "None",
	1:  "MAVLink1",
	2:  "MAVLink2",
	5:  "GPS",
	10: "FrSky SPort",
	23: "RCIN",
	28: "Scripting",
}

// ProtocolName returns a label for the port's protocol, or its number.
func (p SerialPort) ProtocolName() string {
	if name, ok := protocolNames[p.Protocol]; ok {
		return name
	}
	return fmt.Sprintf("protocol %d", p.Protocol)
}

// SerialPorts lists ports that have a PROTOCOL parameter.
func (r *Repository) SerialPorts() []SerialPort {
	groups := instances(r.src.Snapshot(), serialRE)
	out := make([]SerialPort, 0, len(groups))
	for _, n := range sortedKeys(groups) {
		g := groups[n]
		proto, ok := g["PROTOCOL"]
		if !ok {
			continue
		}
		out = append(out, SerialPort{Number: n, Protocol: int(proto), Baud: int(g["BAUD"])})
	}
	return out
}

func (r *Repository) SetSerialProtocol(ctx context.Context, n, protocol int) params.Result {
	return r.set(ctx, fmt.Sprintf("SERIAL%d_PROTOCOL", n), float64(protocol))
}

func (r *Repository) SetSerialBaud(ctx context.Context, n, baud int) params.Result {
	return r.set(ctx, fmt.Sprintf("SERIAL%d_BAUD", n), float64(baud))
}
