// Package errors defines the error taxonomy shared by connection, dispatch
// and emitter code. Every error a node surfaces as status is a *FlowError.
package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies a FlowError.
type ErrorType string

const (
	ErrorTypeConfiguration ErrorType = "configuration_error"
	ErrorTypeDecode        ErrorType = "decode_error"
	ErrorTypeConnection    ErrorType = "connection_error"
	ErrorTypeNoServer      ErrorType = "no_server"
	ErrorTypeTransmit      ErrorType = "transmit_error"
)

// FlowError is a classified error with an optional detail string.
// Message is what a node shows as its status text.
type FlowError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
	cause   error
}

func (e *FlowError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Details)
	}
	return e.Message
}

func (e *FlowError) Unwrap() error {
	return e.cause
}

func newFlowError(t ErrorType, message string, details []string) *FlowError {
	detail := ""
	if len(details) > 0 {
		detail = details[0]
	}
	return &FlowError{Type: t, Message: message, Details: detail}
}

// NewConfigurationError reports invalid static node configuration, such as
// command args that are not a JSON object.
func NewConfigurationError(message string, details ...string) *FlowError {
	return newFlowError(ErrorTypeConfiguration, message, details)
}

// NewDecodeError reports an inbound frame that could not be parsed.
func NewDecodeError(message string, details ...string) *FlowError {
	return newFlowError(ErrorTypeDecode, message, details)
}

// NewConnectionError reports a transport failure.
func NewConnectionError(message string, details ...string) *FlowError {
	return newFlowError(ErrorTypeConnection, message, details)
}

// NewNoServerError reports a node built without a connection reference.
func NewNoServerError(details ...string) *FlowError {
	return newFlowError(ErrorTypeNoServer, "no server", details)
}

// NewTransmitError reports a frame that could not be handed to the transport.
func NewTransmitError(message string, details ...string) *FlowError {
	return newFlowError(ErrorTypeTransmit, message, details)
}

// Wrap classifies err under t, keeping it reachable through errors.Is/As.
func Wrap(t ErrorType, message string, err error) *FlowError {
	if err == nil {
		return &FlowError{Type: t, Message: message}
	}
	return &FlowError{Type: t, Message: message, Details: err.Error(), cause: err}
}

// GetFlowError extracts a FlowError from an error chain.
func GetFlowError(err error) *FlowError {
	var flowErr *FlowError
	if errors.As(err, &flowErr) {
		return flowErr
	}
	return nil
}

func isType(err error, t ErrorType) bool {
	flowErr := GetFlowError(err)
	return flowErr != nil && flowErr.Type == t
}

func IsConfigurationError(err error) bool { return isType(err, ErrorTypeConfiguration) }

func IsDecodeError(err error) bool { return isType(err, ErrorTypeDecode) }

func IsConnectionError(err error) bool { return isType(err, ErrorTypeConnection) }

func IsNoServerError(err error) bool { return isType(err, ErrorTypeNoServer) }

func IsTransmitError(err error) bool { return isType(err, ErrorTypeTransmit) }
