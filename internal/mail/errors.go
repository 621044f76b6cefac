package mail

import (
	"errors"
	"fmt"
	"net/textproto"
	"sort"
	"strings"
)

// Reason is the closed set of dispatch failure kinds. Retry decisions are
// made from the Reason, never from the underlying error type.
type Reason string

const (
	ReasonConfig            Reason = "CONFIG_ERROR"
	ReasonAttachmentRead    Reason = "ATTACHMENT_READ_ERROR"
	ReasonTransientProtocol Reason = "TRANSIENT_PROTOCOL_ERROR"
	ReasonPermanentProtocol Reason = "PERMANENT_PROTOCOL_ERROR"
	ReasonAuthFailed        Reason = "AUTH_FAILED"
	ReasonRecipientRejected Reason = "RECIPIENT_REJECTED"
)

var _ error = &Error{}

// Error is a classified dispatch failure.
type Error struct {
	Reason  Reason
	Message string
	Cause   error
}

func (e *Error) Error() string {
	s := fmt.Sprintf("%s: %s", e.Reason, e.Message)
	if e.Cause != nil {
		s += fmt.Sprintf(": %v", e.Cause)
	}
	return s
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Transient reports whether retrying the same job can succeed.
func (e *Error) Transient() bool {
	return e.Reason == ReasonTransientProtocol
}

func newError(reason Reason, message string, cause error) *Error {
	return &Error{Reason: reason, Message: message, Cause: cause}
}

func newConfigError(message string) *Error {
	return newError(ReasonConfig, message, nil)
}

func newAttachmentError(path string, cause error) *Error {
	return newError(ReasonAttachmentRead, fmt.Sprintf("reading attachment %s", path), cause)
}

func newTransientError(message string, cause error) *Error {
	return newError(ReasonTransientProtocol, message, cause)
}

func newRecipientRejectedError(rejected map[string]string) *Error {
	addrs := make([]string, 0, len(rejected))
	for addr := range rejected {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	pairs := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		pairs = append(pairs, fmt.Sprintf("%s: %s", addr, rejected[addr]))
	}
	return newError(ReasonRecipientRejected,
		fmt.Sprintf("server rejected recipients [%s]", strings.Join(pairs, "; ")), nil)
}

// classify maps an underlying transport fault into the closed Reason set.
// SMTP 4xx replies and network/IO faults are worth retrying; 5xx replies
// will fail identically on retry.
func classify(op string, err error) *Error {
	var mailErr *Error
	if errors.As(err, &mailErr) {
		return mailErr
	}
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) && protoErr.Code >= 500 {
		return newError(ReasonPermanentProtocol, op, err)
	}
	return newTransientError(op, err)
}

// classifyAuth maps definitive server rejections (5xx replies and the
// client-side refusal to send credentials over cleartext) to AUTH_FAILED:
// those fail the same way on every retry. Anything else — 4xx replies,
// connection drops, timeouts — goes through classify and keeps its retry
// budget.
func classifyAuth(err error) *Error {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		if protoErr.Code >= 500 {
			return newError(ReasonAuthFailed, "authenticating", err)
		}
		return newTransientError("authenticating", err)
	}
	if strings.Contains(err.Error(), "unencrypted connection") {
		return newError(ReasonAuthFailed, "authenticating", err)
	}
	return classify("authenticating", err)
}
