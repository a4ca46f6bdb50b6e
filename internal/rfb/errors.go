package rfb

import "errors"

var (
	// ErrProtocolViolation indicates bytes that violate the RFB wire
	// format: unknown message types, bad lengths, malformed handshakes.
	ErrProtocolViolation = errors.New("rfb: protocol violation")

	// ErrUnsupportedFeature indicates a server requirement this client
	// does not implement, such as an unknown security type or encoding.
	ErrUnsupportedFeature = errors.New("rfb: unsupported feature")

	// ErrAuthenticationFailed indicates the security handshake was
	// rejected, by either side.
	ErrAuthenticationFailed = errors.New("rfb: authentication failed")

	// ErrDecode indicates a rectangle failed to decode.
	ErrDecode = errors.New("rfb: decode failed")
)
