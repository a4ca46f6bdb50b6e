package rfb

import (
	"crypto/rand"
	"fmt"

	"github.com/kulaginds/vnc-html5/internal/auth"
	"github.com/kulaginds/vnc-html5/internal/logging"
)

// authenticate dispatches to the handshake for the negotiated security
// scheme.
func (c *Client) authenticate() error {
	c.setInitState(InitAuthentication)

	switch c.authScheme {
	case secTypeNone:
		return nil
	case secTypeVNCAuth:
		return c.authVNC()
	case secTypeTight:
		return c.authTight()
	case secTypeVeNCrypt:
		return c.authVeNCrypt()
	case secTypePlain:
		return c.authPlain()
	case secTypeXVP:
		return c.authXVP()
	case secTypeARD:
		return c.authARD()
	case secTypeMSLogonII:
		return c.authMSLogonII()
	case secTypeRA2ne:
		return c.authRA2()
	default:
		return fmt.Errorf("%w: security scheme %d", ErrUnsupportedFeature, c.authScheme)
	}
}

// requireCredentials returns credentials with the named fields present,
// consulting the CredentialsRequired callback when the configured ones are
// incomplete.
func (c *Client) requireCredentials(fields ...string) (Credentials, error) {
	creds := c.opts.Credentials

	missing := make([]string, 0, len(fields))

	for _, f := range fields {
		switch f {
		case "username":
			if creds.Username == "" {
				missing = append(missing, f)
			}
		case "password":
			if creds.Password == "" {
				missing = append(missing, f)
			}
		case "target":
			if creds.Target == "" {
				missing = append(missing, f)
			}
		}
	}

	if len(missing) == 0 {
		return creds, nil
	}

	if c.events.CredentialsRequired == nil {
		return creds, fmt.Errorf("%w: credentials required: %v", ErrAuthenticationFailed, missing)
	}

	supplied, err := c.events.CredentialsRequired(missing)
	if err != nil {
		return creds, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}

	if supplied.Username != "" {
		creds.Username = supplied.Username
	}

	if supplied.Password != "" {
		creds.Password = supplied.Password
	}

	if supplied.Target != "" {
		creds.Target = supplied.Target
	}

	c.opts.Credentials = creds

	return creds, nil
}

// authVNC answers the classic challenge: DES-encrypt 16 challenge bytes
// with the password-derived key.
func (c *Client) authVNC() error {
	creds, err := c.requireCredentials("password")
	if err != nil {
		return err
	}

	challenge, err := c.sock.ReadBytes(16)
	if err != nil {
		return err
	}

	response, err := auth.GenDES(creds.Password, challenge)
	if err != nil {
		return err
	}

	if err := c.sock.PushBytes(response); err != nil {
		return err
	}

	return c.sock.Flush()
}

// Tight tunnel and auth capability tuples: u32 code, 4-byte vendor,
// 8-byte signature.
type tightCapability struct {
	code      uint32
	vendor    string
	signature string
}

func (c *Client) readTightCapability() (tightCapability, error) {
	var cap tightCapability

	code, err := c.sock.ReadU32()
	if err != nil {
		return cap, err
	}

	vendor, err := c.sock.ReadString(4)
	if err != nil {
		return cap, err
	}

	sig, err := c.sock.ReadString(8)
	if err != nil {
		return cap, err
	}

	return tightCapability{code: code, vendor: vendor, signature: sig}, nil
}

// authTight negotiates the TightVNC security extension: tunnel selection
// (only NOTUNNEL), then a sub-auth chosen from the server's capability
// list.
func (c *Client) authTight() error {
	c.tightVNC = true

	numTunnels, err := c.sock.ReadU32()
	if err != nil {
		return err
	}

	if numTunnels > 0 {
		found := false

		for i := uint32(0); i < numTunnels; i++ {
			cap, err := c.readTightCapability()
			if err != nil {
				return err
			}

			// Some servers advertise NOTUNNEL under the SICR vendor with a
			// SCHANNEL signature; accept it as the same thing.
			if cap.code == 0 || (cap.vendor == "SICR" && cap.signature == "SCHANNEL") {
				found = true
			}
		}

		if !found {
			return fmt.Errorf("%w: no supported tight tunnel", ErrUnsupportedFeature)
		}

		// Select NOTUNNEL.
		if err := c.sock.Push32(0); err != nil {
			return err
		}

		if err := c.sock.Flush(); err != nil {
			return err
		}
	}

	subAuthCount, err := c.sock.ReadU32()
	if err != nil {
		return err
	}

	if subAuthCount == 0 {
		// No auth required.
		return nil
	}

	offered := make(map[string]bool, subAuthCount)

	for i := uint32(0); i < subAuthCount; i++ {
		cap, err := c.readTightCapability()
		if err != nil {
			return err
		}

		offered[cap.vendor+cap.signature] = true
	}

	// Client preference order: no auth, then VNC auth, then Unix logon.
	chosen := int32(-1)

	switch {
	case offered["STDVNOAUTH__"]:
		chosen = tightAuthNone
	case offered["STDVVNCAUTH_"]:
		chosen = tightAuthVNC
	case offered["TGHTULGNAUTH"]:
		chosen = tightAuthUnixLogon
	}

	if chosen == -1 {
		return fmt.Errorf("%w: no supported tight sub-auth", ErrUnsupportedFeature)
	}

	if err := c.sock.Push32(uint32(chosen)); err != nil {
		return err
	}

	if err := c.sock.Flush(); err != nil {
		return err
	}

	switch chosen {
	case tightAuthNone:
		return nil
	case tightAuthVNC:
		return c.authVNC()
	default:
		return c.authTightUnixLogon()
	}
}

// authTightUnixLogon sends length-prefixed UTF-8 username and password.
func (c *Client) authTightUnixLogon() error {
	creds, err := c.requireCredentials("username", "password")
	if err != nil {
		return err
	}

	s := c.sock

	_ = s.Push32(uint32(len(creds.Username)))
	_ = s.Push32(uint32(len(creds.Password)))
	_ = s.PushString(creds.Username)
	_ = s.PushString(creds.Password)

	return s.Flush()
}

// authVeNCrypt runs the VeNCrypt version/subtype negotiation and then the
// chosen inner handshake. Only version 0.2 is spoken.
func (c *Client) authVeNCrypt() error {
	major, err := c.sock.ReadU8()
	if err != nil {
		return err
	}

	minor, err := c.sock.ReadU8()
	if err != nil {
		return err
	}

	if major != 0 || minor != 2 {
		return fmt.Errorf("%w: vencrypt version %d.%d", ErrUnsupportedFeature, major, minor)
	}

	_ = c.sock.Push8(0)
	_ = c.sock.Push8(2)

	if err := c.sock.Flush(); err != nil {
		return err
	}

	ack, err := c.sock.ReadU8()
	if err != nil {
		return err
	}

	if ack != 0 {
		return fmt.Errorf("%w: vencrypt version rejected", ErrAuthenticationFailed)
	}

	count, err := c.sock.ReadU8()
	if err != nil {
		return err
	}

	if count == 0 {
		return fmt.Errorf("%w: vencrypt offered no subtypes", ErrProtocolViolation)
	}

	supported := []uint32{
		secTypePlain,
		secTypeNone,
		secTypeVNCAuth,
		secTypeRA2ne,
		secTypeXVP,
		secTypeARD,
		secTypeMSLogonII,
	}

	chosen := uint32(0)

	for i := uint8(0); i < count; i++ {
		subtype, err := c.sock.ReadU32()
		if err != nil {
			return err
		}

		if chosen != 0 {
			continue
		}

		for _, s := range supported {
			if subtype == s {
				chosen = subtype
				break
			}
		}
	}

	if chosen == 0 {
		return fmt.Errorf("%w: no supported vencrypt subtype", ErrUnsupportedFeature)
	}

	logging.Debug("rfb: vencrypt subtype %d", chosen)

	if err := c.sock.Push32(chosen); err != nil {
		return err
	}

	if err := c.sock.Flush(); err != nil {
		return err
	}

	c.authScheme = int32(chosen)

	return c.authenticate()
}

// authPlain sends UTF-8 username and password with u32 length prefixes.
func (c *Client) authPlain() error {
	creds, err := c.requireCredentials("username", "password")
	if err != nil {
		return err
	}

	s := c.sock

	_ = s.Push32(uint32(len(creds.Username)))
	_ = s.Push32(uint32(len(creds.Password)))
	_ = s.PushString(creds.Username)
	_ = s.PushString(creds.Password)

	return s.Flush()
}

// authXVP prefixes the VNCAuth handshake with the XVP user and target
// names.
func (c *Client) authXVP() error {
	creds, err := c.requireCredentials("username", "password", "target")
	if err != nil {
		return err
	}

	s := c.sock

	_ = s.Push8(uint8(len(creds.Username)))
	_ = s.Push8(uint8(len(creds.Target)))
	_ = s.PushString(creds.Username)
	_ = s.PushString(creds.Target)

	if err := s.Flush(); err != nil {
		return err
	}

	return c.authVNC()
}

// ARD credential buffer layout: username at 0, password at 64, both
// null-terminated in 64-byte fields, surrounding bytes random.
const (
	ardCredentialSize = 128
	ardFieldSize      = 64
)

// authARD performs the Apple Remote Desktop handshake: DH key agreement
// over a server-supplied group, then AES-ECB of the credential buffer
// under the MD5 of the shared secret.
func (c *Client) authARD() error {
	creds, err := c.requireCredentials("username", "password")
	if err != nil {
		return err
	}

	generator, err := c.sock.ReadBytes(2)
	if err != nil {
		return err
	}

	keyLength, err := c.sock.ReadU16()
	if err != nil {
		return err
	}

	prime, err := c.sock.ReadBytes(int(keyLength))
	if err != nil {
		return err
	}

	serverPublic, err := c.sock.ReadBytes(int(keyLength))
	if err != nil {
		return err
	}

	keypair, err := auth.NewDHKeyPair(generator, prime, int(keyLength))
	if err != nil {
		return err
	}

	sharedSecret := keypair.SharedSecret(serverPublic)
	aesKey := auth.MD5Sum(sharedSecret)

	credentials := make([]byte, ardCredentialSize)
	if _, err := rand.Read(credentials); err != nil {
		return fmt.Errorf("ard: random credentials: %w", err)
	}

	writeNullTerminated(credentials[0:ardFieldSize], creds.Username)
	writeNullTerminated(credentials[ardFieldSize:], creds.Password)

	ciphertext, err := auth.AESECBEncrypt(aesKey, credentials)
	if err != nil {
		return err
	}

	s := c.sock

	_ = s.PushBytes(ciphertext)
	_ = s.PushBytes(keypair.PublicBytes())

	return s.Flush()
}

// writeNullTerminated copies s into field, truncated to leave room for the
// terminating NUL.
func writeNullTerminated(field []byte, s string) {
	n := copy(field[:len(field)-1], s)
	field[n] = 0
}

// authMSLogonII runs the MS-Logon II handshake: 64-bit DH, then DES-CBC
// encrypted credential blocks keyed by the shared secret.
func (c *Client) authMSLogonII() error {
	creds, err := c.requireCredentials("username", "password")
	if err != nil {
		return err
	}

	generator, err := c.sock.ReadBytes(8)
	if err != nil {
		return err
	}

	prime, err := c.sock.ReadBytes(8)
	if err != nil {
		return err
	}

	serverPublic, err := c.sock.ReadBytes(8)
	if err != nil {
		return err
	}

	keypair, err := auth.NewDHKeyPair(generator, prime, 8)
	if err != nil {
		return err
	}

	secret := keypair.SharedSecret(serverPublic)

	username := make([]byte, 256)
	password := make([]byte, 64)

	if _, err := rand.Read(username); err != nil {
		return fmt.Errorf("mslogon: random buffer: %w", err)
	}

	if _, err := rand.Read(password); err != nil {
		return fmt.Errorf("mslogon: random buffer: %w", err)
	}

	writeNullTerminated(username, creds.Username)
	writeNullTerminated(password, creds.Password)

	usernameEnc, err := auth.DESCBCEncrypt(secret, secret, username)
	if err != nil {
		return err
	}

	passwordEnc, err := auth.DESCBCEncrypt(secret, secret, password)
	if err != nil {
		return err
	}

	s := c.sock

	_ = s.PushBytes(keypair.PublicBytes())
	_ = s.PushBytes(usernameEnc)
	_ = s.PushBytes(passwordEnc)

	return s.Flush()
}
