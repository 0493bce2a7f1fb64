// Package common contains shared constants and sentinel errors used across
// chunkvault components.
package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the
// access token on inbound and outbound requests.
const AccessTokenHeaderName = "access_token"

// DefaultContentType is stored with chunks whose content type is unknown.
const DefaultContentType = "application/octet-stream"
