package params

import (
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/groundctl/internal/protocol/dialect"
	"github.com/danmuck/groundctl/internal/session"
)

var (
	ErrSyncIncomplete = errors.New("params: sync incomplete")
	ErrUnknownParam   = errors.New("params: unknown parameter")
	ErrSetRejected    = errors.New("params: remote did not accept value")
	ErrClosed         = errors.New("params: synchronizer closed")
	// ErrAckTimeout is a protocol timeout scoped to one write.
	ErrAckTimeout = fmt.Errorf("params: no acknowledgment: %w", session.ErrProtocolTimeout)
)

// Parameter is one cached table entry.
type Parameter struct {
	Name  string            `json:"name"`
	Index uint16            `json:"index"`
	Type  dialect.ParamType `json:"type"`
	// Value is the current, possibly locally edited, value.
	Value float64 `json:"value"`
	// Original is the last value confirmed by the remote.
	Original    float64 `json:"original"`
	Group       string  `json:"group"`
	Description string  `json:"description,omitempty"`
}

func (p Parameter) Dirty() bool { return p.Value != p.Original }

// Group returns the name prefix before the first underscore, so
// "SERVO3_FUNCTION" groups under "SERVO3".
func Group(name string) string {
	if i := strings.IndexByte(name, '_'); i > 0 {
		return name[:i]
	}
	return name
}

// Progress reports a bulk load.
type Progress struct {
	Current      int    `json:"current"`
	Total        int    `json:"total"`
	Complete     bool   `json:"complete"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Err returns ErrSyncIncomplete with the error message, or nil.
func (p Progress) Err() error {
	if p.ErrorMessage == "" {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrSyncIncomplete, p.ErrorMessage)
}

// Result is the outcome of one acknowledged write.
type Result struct {
	Name  string  `json:"name"`
	OK    bool    `json:"ok"`
	Value float64 `json:"value"`
	// Observed is the last value the remote reported, when any ack arrived.
	Observed    float64 `json:"observed"`
	HasObserved bool    `json:"has_observed"`
	Attempts    int     `json:"attempts"`
	Err         error   `json:"-"`
}

// Message is the error text, or empty on success.
func (r Result) Message() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}
