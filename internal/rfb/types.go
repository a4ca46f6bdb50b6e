// Package rfb implements the client side of the Remote Framebuffer
// protocol: the handshake state machine, security negotiation, the normal
// phase server-message loop and the client message serializers. Pixels are
// delivered to a render.Renderer; bytes move through a transport.Transport.
package rfb

// ConnectionState tracks the connection lifecycle. Disconnected is
// terminal.
type ConnectionState string

const (
	StateUnused        ConnectionState = "unused"
	StateConnecting    ConnectionState = "connecting"
	StateConnected     ConnectionState = "connected"
	StateDisconnecting ConnectionState = "disconnecting"
	StateDisconnected  ConnectionState = "disconnected"
)

// InitState tracks handshake progress inside the connecting state.
type InitState string

const (
	InitNone                 InitState = ""
	InitProtocolVersion      InitState = "ProtocolVersion"
	InitSecurity             InitState = "Security"
	InitSecurityReason       InitState = "SecurityReason"
	InitAuthentication       InitState = "Authentication"
	InitSecurityResult       InitState = "SecurityResult"
	InitClientInitialisation InitState = "ClientInitialisation"
	InitServerInitialisation InitState = "ServerInitialisation"
)

// Version is the negotiated protocol version, capped at 3.8.
type Version int

const (
	Version33 Version = 33
	Version37 Version = 37
	Version38 Version = 38
)

func (v Version) String() string {
	switch v {
	case Version33:
		return "3.3"
	case Version37:
		return "3.7"
	case Version38:
		return "3.8"
	default:
		return "unknown"
	}
}

// Security types.
const (
	secTypeNone      = 1
	secTypeVNCAuth   = 2
	secTypeRA2ne     = 6
	secTypeTight     = 16
	secTypeVeNCrypt  = 19
	secTypeXVP       = 22
	secTypeARD       = 30
	secTypeMSLogonII = 113
	secTypePlain     = 256
)

// Tight security sub-auth capability codes.
const (
	tightAuthNone      = 1
	tightAuthVNC       = 2
	tightAuthUnixLogon = 129
)

// Server message types.
const (
	msgFramebufferUpdate      = 0
	msgSetColorMapEntries     = 1
	msgBell                   = 2
	msgServerCutText          = 3
	msgEndOfContinuousUpdates = 150
	msgServerFence            = 248
	msgServerXVP              = 250
)

// Client message types.
const (
	msgSetPixelFormat           = 0
	msgSetEncodings             = 2
	msgFramebufferUpdateRequest = 3
	msgKeyEvent                 = 4
	msgPointerEvent             = 5
	msgClientCutText            = 6
	msgEnableContinuousUpdates  = 150
	msgClientFence              = 248
	msgClientXVP                = 250
	msgSetDesktopSize           = 251
	msgQEMUMessage              = 255
)

// Pseudo-encoding identifiers.
const (
	pseudoQualityLevel0     int32 = -32
	pseudoCompressLevel0    int32 = -256
	pseudoDesktopSize       int32 = -223
	pseudoLastRect          int32 = -224
	pseudoCursor            int32 = -239
	pseudoQEMUExtKeyEvent   int32 = -258
	pseudoDesktopName       int32 = -307
	pseudoExtDesktopSize    int32 = -308
	pseudoXvp               int32 = -309
	pseudoFence             int32 = -312
	pseudoContinuousUpdates int32 = -313
	pseudoExtClipboard      int32 = -1063131698 // 0xC0A1E5CE
	pseudoVMwareCursor      int32 = 0x574D5664
)

// Fence flags.
const (
	fenceBlockBefore uint32 = 1 << 0
	fenceBlockAfter  uint32 = 1 << 1
	fenceRequest     uint32 = 1 << 31
)

// XVP operations.
const (
	xvpOpFail     = 0
	xvpOpInit     = 1
	XVPOpShutdown = 2
	XVPOpReboot   = 3
	XVPOpReset    = 4
)

// Name the Intel AMT KVM server announces; it only speaks depth 8.
const intelAMTServerName = "Intel(r) AMT KVM"

// PixelFormat is the 16-byte wire structure describing pixel layout.
type PixelFormat struct {
	BitsPerPixel uint8
	Depth        uint8
	BigEndian    uint8
	TrueColor    uint8
	RedMax       uint16
	GreenMax     uint16
	BlueMax      uint16
	RedShift     uint8
	GreenShift   uint8
	BlueShift    uint8
}

// Credentials carries the secrets the security handshakes consume.
type Credentials struct {
	Username string
	Password string
	Target   string
}

// Options configures a client at construction. Runtime-tunable knobs
// (ViewOnly, quality, compression, dot cursor) have setters on the Client.
type Options struct {
	Credentials      Credentials
	Shared           bool
	RepeaterID       string
	ViewOnly         bool
	QualityLevel     int
	CompressionLevel int
	ShowDotCursor    bool
}

// DefaultOptions returns the options a browser session starts with.
func DefaultOptions() Options {
	return Options{
		Shared:           true,
		QualityLevel:     6,
		CompressionLevel: 2,
	}
}
