// Package client contains the client-side plumbing that talks to the
// outside world: the local SQLite database bootstrap and the gRPC client of
// the system of record.
//
// # Database
//
// OpenDatabase opens the device database in WAL mode with a busy timeout
// and immediate write transactions, then applies the embedded goose
// migrations.
//
// # Remote
//
// GRPCClient implements Remote over the wire package's RecordSync service.
// It attaches the configured access token to every call and maps gRPC
// status codes to ErrUnavailable and ErrUnauthorized so that callers can
// tell transient failures from ones that need user action. Health uses the
// standard gRPC health service and doubles as the connectivity probe.
package client
