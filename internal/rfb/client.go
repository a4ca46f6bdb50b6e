package rfb

import (
	"errors"
	"sync"
	"time"

	"github.com/kulaginds/vnc-html5/internal/logging"
	"github.com/kulaginds/vnc-html5/internal/rfb/encoding"
	"github.com/kulaginds/vnc-html5/internal/rfb/render"
	"github.com/kulaginds/vnc-html5/internal/rfb/stream"
	"github.com/kulaginds/vnc-html5/internal/transport"
)

const disconnectTimeout = 3 * time.Second

// Client drives one RFB connection: it owns the stream buffer, the decoder
// map, the connection state and the renderer reference. All protocol reads
// happen on the single read driver goroutine inside Run.
type Client struct {
	transport transport.Transport
	sock      *stream.Buffer
	renderer  render.Renderer
	events    Events
	opts      Options

	// sendMu keeps each client message contiguous on the wire when input
	// producers and the read driver send concurrently.
	sendMu sync.Mutex

	stateMu   sync.Mutex
	state     ConnectionState
	initState InitState

	version    Version
	authScheme int32
	tightVNC   bool

	fbWidth  int
	fbHeight int
	fbDepth  int
	fbName   string

	screenID    uint32
	screenFlags uint32
	xvpVersion  uint8

	supportsFence             bool
	supportsContinuousUpdates bool
	enabledContinuousUpdates  bool
	supportsSetDesktopSize    bool
	qemuExtKeyEventSupported  bool

	clipboard clipboardState

	viewOnly         bool
	qualityLevel     int
	compressionLevel int
	showDotCursor    bool

	decoders map[int32]encoding.Decoder

	disconnTimer *time.Timer
	pumpDone     chan struct{}
}

// New creates a client over an open transport. The renderer must be
// non-nil; construction fails otherwise because there is nothing to clean
// up yet.
func New(t transport.Transport, r render.Renderer, events Events, opts Options) (*Client, error) {
	if r == nil {
		return nil, errors.New("rfb: renderer is required")
	}

	c := &Client{
		transport:        t,
		renderer:         r,
		events:           events,
		opts:             opts,
		state:            StateUnused,
		fbDepth:          24,
		viewOnly:         opts.ViewOnly,
		qualityLevel:     clampLevel(opts.QualityLevel),
		compressionLevel: clampLevel(opts.CompressionLevel),
		showDotCursor:    opts.ShowDotCursor,
		pumpDone:         make(chan struct{}),
	}

	c.sock = stream.New(t.WriteMessage)

	c.decoders = map[int32]encoding.Decoder{
		encoding.TypeRaw:      &encoding.Raw{},
		encoding.TypeCopyRect: &encoding.CopyRect{},
		encoding.TypeRRE:      &encoding.RRE{},
		encoding.TypeHextile:  &encoding.Hextile{},
		encoding.TypeTight:    encoding.NewTight(),
		encoding.TypeTightPNG: encoding.NewTightPNG(),
		encoding.TypeZRLE:     &encoding.ZRLE{},
		encoding.TypeJPEG:     &encoding.JPEG{},
	}

	c.clipboard.init()

	return c, nil
}

// Run performs the handshake and then processes server messages until the
// connection ends. It always returns after dispatching the disconnect
// event; the returned error is nil for a locally requested clean close.
func (c *Client) Run() error {
	c.setState(StateConnecting)

	go c.readPump()

	err := c.handshake()
	if err == nil {
		c.setState(StateConnected)
		c.events.connect()

		err = c.normalLoop()
	}

	return c.teardown(err)
}

// readPump moves transport chunks into the stream buffer. It runs until
// the transport closes, at which point any pending stream demand fails.
func (c *Client) readPump() {
	defer close(c.pumpDone)

	for {
		chunk, err := c.transport.ReadMessage()
		if err != nil {
			c.sock.Close(stream.ErrClosed)

			return
		}

		c.sock.ReceiveChunk(chunk)
	}
}

// Disconnect requests a clean close. Calling it while already
// disconnecting is a no-op; the forced-disconnect timer guarantees the
// terminal state even when the peer never closes.
func (c *Client) Disconnect() {
	c.stateMu.Lock()

	if c.state == StateDisconnecting || c.state == StateDisconnected {
		c.stateMu.Unlock()

		return
	}

	c.state = StateDisconnecting

	c.disconnTimer = time.AfterFunc(disconnectTimeout, func() {
		logging.Warn("rfb: disconnect timed out, forcing close")
		c.setState(StateDisconnected)
	})

	c.stateMu.Unlock()

	if err := c.transport.Close(); err != nil {
		logging.Debug("rfb: transport close: %v", err)
	}
}

// teardown drives the state machine to disconnected and fires the
// disconnect event exactly once.
func (c *Client) teardown(runErr error) error {
	clean := false

	c.stateMu.Lock()

	switch c.state {
	case StateDisconnecting, StateDisconnected:
		// Locally requested close (possibly already forced to disconnected
		// by the timeout): the failed read that unwound the driver is
		// expected.
		clean = errors.Is(runErr, stream.ErrClosed)
		if clean {
			runErr = nil
		}
	}

	c.state = StateDisconnected

	if c.disconnTimer != nil {
		c.disconnTimer.Stop()
	}

	c.stateMu.Unlock()

	if err := c.transport.Close(); err != nil {
		logging.Debug("rfb: transport close: %v", err)
	}

	if runErr != nil {
		logging.Error("rfb: connection failed: %v", runErr)
	}

	c.events.disconnect(clean)

	return runErr
}

func (c *Client) setState(s ConnectionState) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if c.state == StateDisconnected {
		logging.Debug("rfb: ignoring state change %s after disconnect", s)

		return
	}

	c.state = s
}

// State returns the connection state.
func (c *Client) State() ConnectionState {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	return c.state
}

func (c *Client) setInitState(s InitState) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	c.initState = s
}

// FramebufferSize returns the current framebuffer dimensions.
func (c *Client) FramebufferSize() (int, int) {
	return c.fbWidth, c.fbHeight
}

// DesktopName returns the server-announced desktop name.
func (c *Client) DesktopName() string {
	return c.fbName
}

// SetViewOnly toggles suppression of outgoing input events.
func (c *Client) SetViewOnly(v bool) {
	c.viewOnly = v
}

// SetQualityLevel updates the requested JPEG quality [0,9] and re-sends
// the encoding list.
func (c *Client) SetQualityLevel(q int) {
	q = clampLevel(q)
	if q == c.qualityLevel {
		return
	}

	c.qualityLevel = q
	c.resendEncodings()
}

// SetCompressionLevel updates the requested compression level [0,9] and
// re-sends the encoding list.
func (c *Client) SetCompressionLevel(l int) {
	l = clampLevel(l)
	if l == c.compressionLevel {
		return
	}

	c.compressionLevel = l
	c.resendEncodings()
}

// SetShowDotCursor toggles the dot fallback for an invisible remote
// cursor.
func (c *Client) SetShowDotCursor(show bool) {
	c.showDotCursor = show
	c.refreshCursor()
}

func (c *Client) resendEncodings() {
	if c.State() != StateConnected {
		return
	}

	if err := c.sendEncodings(); err != nil {
		logging.Warn("rfb: re-send encodings: %v", err)
	}
}

func clampLevel(v int) int {
	if v < 0 {
		return 0
	}

	if v > 9 {
		return 9
	}

	return v
}
