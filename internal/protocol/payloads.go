package protocol

import "errors"

// Status values carried on the status channel.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusMetrics      Status = "metrics"
)

// MetricsSnapshot is the connection-count view pushed to clients.
type MetricsSnapshot struct {
	Active    int64 `json:"active"`
	Total     int64 `json:"total"`
	Timestamp int64 `json:"timestamp"`
}

// StatusPayload is the data of a status envelope.
type StatusPayload struct {
	Status      Status           `json:"status"`
	Connections int64            `json:"connections,omitempty"`
	Metrics     *MetricsSnapshot `json:"metrics,omitempty"`
	Reason      string           `json:"reason,omitempty"`
}

// HeartbeatPayload is the data of a heartbeat ping.
type HeartbeatPayload struct {
	Type    string          `json:"type"`
	Metrics MetricsSnapshot `json:"metrics"`
}

// CelebrationPayload is the data of a celebration envelope.
type CelebrationPayload struct {
	MovieID   string `json:"movieId"`
	Timestamp int64  `json:"timestamp"`
}

// ErrorPayload is the data of an error envelope.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorPayloadFrom maps any error to a wire error payload, keeping the code of
// a CodedError.
func ErrorPayloadFrom(err error) ErrorPayload {
	var coded *CodedError
	if errors.As(err, &coded) {
		return ErrorPayload{Code: coded.Code, Message: coded.Message}
	}
	return ErrorPayload{Code: CodeMalformed, Message: err.Error()}
}
