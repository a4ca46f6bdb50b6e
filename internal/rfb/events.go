package rfb

// Events holds the callbacks the engine fires. All callbacks are optional
// and are invoked from the read driver goroutine; they must not block on
// the engine.
type Events struct {
	// Connect fires when the handshake completes and the connection
	// reaches the normal phase.
	Connect func()

	// Disconnect fires exactly once when the connection ends. clean is
	// true when the closure was requested locally.
	Disconnect func(clean bool)

	// CredentialsRequired is consulted when a security handshake needs
	// credentials that were not supplied up front. types names the missing
	// fields ("username", "password", "target").
	CredentialsRequired func(types []string) (Credentials, error)

	// ServerVerification asks the host application to approve the server
	// identity presented during RSA-based handshakes. Returning an error
	// aborts the connection.
	ServerVerification func(typ string, publicKey []byte) error

	// SecurityFailure reports a server-announced security failure, with
	// the server's reason text when the protocol version carries one.
	SecurityFailure func(status uint32, reason string)

	// Clipboard delivers server clipboard text.
	Clipboard func(text string)

	// Bell rings the terminal bell.
	Bell func()

	// DesktopName reports the (possibly updated) server desktop name.
	DesktopName func(name string)

	// Capabilities reports capability changes, such as XVP power control.
	Capabilities func(caps map[string]bool)

	// ClippingViewport reports whether the remote framebuffer is larger
	// than the local view.
	ClippingViewport func(clipping bool)
}

func (e *Events) connect() {
	if e.Connect != nil {
		e.Connect()
	}
}

func (e *Events) disconnect(clean bool) {
	if e.Disconnect != nil {
		e.Disconnect(clean)
	}
}

func (e *Events) securityFailure(status uint32, reason string) {
	if e.SecurityFailure != nil {
		e.SecurityFailure(status, reason)
	}
}

func (e *Events) clipboard(text string) {
	if e.Clipboard != nil {
		e.Clipboard(text)
	}
}

func (e *Events) bell() {
	if e.Bell != nil {
		e.Bell()
	}
}

func (e *Events) desktopName(name string) {
	if e.DesktopName != nil {
		e.DesktopName(name)
	}
}

func (e *Events) capabilities(caps map[string]bool) {
	if e.Capabilities != nil {
		e.Capabilities(caps)
	}
}
