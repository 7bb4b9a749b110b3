package tunnel

import (
	"strconv"

	qerrors "github.com/sara-star-quant/httq-go/internal/errors"
	"github.com/sara-star-quant/httq-go/pkg/protocol"
)

// protocolSentinels are the failures counted as protocol errors rather
// than crypto or I/O errors.
var protocolSentinels = []error{
	qerrors.ErrInvalidMessage,
	qerrors.ErrUnsupportedVersion,
	qerrors.ErrUnsupportedCipherSuite,
	qerrors.ErrAlgorithmMismatch,
	qerrors.ErrTranscriptMismatch,
	qerrors.ErrInvalidState,
	qerrors.ErrMessageTooLarge,
	qerrors.ErrPeerAlert,
}

func isProtocolError(err error) bool {
	if err == nil {
		return false
	}
	var perr *qerrors.ProtocolError
	if qerrors.As(err, &perr) {
		return true
	}
	for _, target := range protocolSentinels {
		if qerrors.Is(err, target) {
			return true
		}
	}
	return false
}

// alertError is an alert the peer sent. errors.Is matches it against the
// sentinel for its code.
type alertError struct {
	msg protocol.AlertMessage
}

func newAlertError(m *protocol.AlertMessage) *alertError {
	return &alertError{msg: *m}
}

func (e *alertError) Error() string {
	severity := "warning"
	if e.msg.Level == protocol.AlertLevelFatal {
		severity = "fatal"
	}
	detail := e.msg.Description
	if detail == "" {
		detail = "code " + strconv.Itoa(int(e.msg.Code))
	}
	return "peer " + severity + " alert " + e.msg.Code.String() + ": " + detail
}

func (e *alertError) Unwrap() error {
	return e.msg.Code.Err()
}

func isPeerAlert(err error) bool {
	var aerr *alertError
	return qerrors.As(err, &aerr)
}
