// Package client is the Go client of the chunkvault gRPC edge.
//
// GRPCClient owns a connection, injects the access token into every call
// through interceptors and maps gRPC status codes back to the sentinel
// errors of package common, so callers can match them with errors.Is.
//
// Upload frames the body into 1 MiB messages; Download writes the
// streamed frames to an io.Writer in order.
package client
