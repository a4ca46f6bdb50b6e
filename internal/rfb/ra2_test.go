package rfb

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"encoding/binary"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kulaginds/vnc-html5/internal/auth"
)

// ra2Server simulates the server side of the RSA-AES handshake.
type ra2Server struct {
	t   *testing.T
	mt  *mockTransport
	key *rsa.PrivateKey

	serverPublicKey []byte
	clientPublicKey []byte
	clientRSA       *rsa.PublicKey

	toClient   *auth.RA2Cipher
	fromClient *auth.RA2Cipher
}

func newRA2Server(t *testing.T, mt *mockTransport) *ra2Server {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	return &ra2Server{t: t, mt: mt, key: key}
}

func pad(p []byte, n int) []byte {
	out := make([]byte, n)
	copy(out[n-len(p):], p)

	return out
}

// sendPublicKey announces the server key (phase 1).
func (s *ra2Server) sendPublicKey() {
	const bits = 2048

	n := pad(s.key.N.Bytes(), 256)
	e := pad(big.NewInt(int64(s.key.E)).Bytes(), 256)

	s.serverPublicKey = append([]byte{0, 0, bits >> 8 & 0xFF, bits & 0xFF}, append(n, e...)...)

	msg := make([]byte, 4)
	binary.BigEndian.PutUint32(msg, bits)
	msg = append(msg, n...)
	msg = append(msg, e...)

	s.mt.serve(msg)
}

// receiveClientKey parses the client key announcement (phase 2).
func (s *ra2Server) receiveClientKey() {
	frame := s.mt.expectFrame(s.t)
	require.Len(s.t, frame, 4+256+256)

	require.Equal(s.t, uint32(2048), binary.BigEndian.Uint32(frame))

	s.clientPublicKey = frame

	s.clientRSA = &rsa.PublicKey{
		N: new(big.Int).SetBytes(frame[4 : 4+256]),
		E: int(new(big.Int).SetBytes(frame[4+256:]).Int64()),
	}
}

// exchangeRandoms completes phases 3 and 4, returning both randoms.
func (s *ra2Server) exchangeRandoms() (clientRandom, serverRandom []byte) {
	frame := s.mt.expectFrame(s.t)
	require.Equal(s.t, uint16(256), binary.BigEndian.Uint16(frame))

	var err error

	clientRandom, err = rsa.DecryptPKCS1v15(nil, s.key, frame[2:])
	require.NoError(s.t, err)
	require.Len(s.t, clientRandom, 16)

	serverRandom = make([]byte, 16)
	_, err = rand.Read(serverRandom)
	require.NoError(s.t, err)

	encrypted, err := rsa.EncryptPKCS1v15(rand.Reader, s.clientRSA, serverRandom)
	require.NoError(s.t, err)

	msg := []byte{1, 0} // 256 big-endian
	msg = append(msg, encrypted...)
	s.mt.serve(msg)

	return clientRandom, serverRandom
}

// setupCiphers derives the direction ciphers from the randoms (phase 5).
func (s *ra2Server) setupCiphers(clientRandom, serverRandom []byte) {
	clientKey := sha1.Sum(append(append([]byte{}, serverRandom...), clientRandom...))
	serverKey := sha1.Sum(append(append([]byte{}, clientRandom...), serverRandom...))

	var err error

	s.fromClient, err = auth.NewRA2Cipher(clientKey[:16])
	require.NoError(s.t, err)

	s.toClient, err = auth.NewRA2Cipher(serverKey[:16])
	require.NoError(s.t, err)
}

// receiveAEAD reads and opens one client AEAD frame.
func (s *ra2Server) receiveAEAD() []byte {
	frame := s.mt.expectFrame(s.t)
	length := int(binary.BigEndian.Uint16(frame))

	msg, err := s.fromClient.ReceiveMessage(length, frame[2:])
	require.NoError(s.t, err)

	return msg
}

func TestRA2Handshake(t *testing.T) {
	opts := DefaultOptions()
	opts.Credentials = Credentials{Username: "alice", Password: "sekrit"}

	var verifiedKey []byte

	c, mt, _ := testClient(t, opts, Events{
		ServerVerification: func(typ string, publicKey []byte) error {
			assert.Equal(t, "RSA", typ)

			verifiedKey = publicKey

			return nil
		},
	})

	errCh := runClient(c)

	mt.serve([]byte("RFB 003.008\n"))
	mt.expectFrame(t)

	mt.serve([]byte{1, secTypeRA2ne})
	mt.expectFrame(t)

	server := newRA2Server(t, mt)
	server.sendPublicKey()
	server.receiveClientKey()

	clientRandom, serverRandom := server.exchangeRandoms()
	server.setupCiphers(clientRandom, serverRandom)

	// Hash verification, both directions.
	clientHash := sha1.Sum(append(append([]byte{}, server.clientPublicKey...), server.serverPublicKey...))
	serverHash := sha1.Sum(append(append([]byte{}, server.serverPublicKey...), server.clientPublicKey...))

	gotClientHash := server.receiveAEAD()
	assert.Equal(t, clientHash[:], gotClientHash)

	mt.serve(server.toClient.MakeMessage(serverHash[:]))

	// Subtype 1: username and password expected.
	mt.serve(server.toClient.MakeMessage([]byte{1}))

	creds := server.receiveAEAD()

	want := []byte{5}
	want = append(want, "alice"...)
	want = append(want, 0x00, 6)
	want = append(want, "sekrit"...)
	assert.Equal(t, want, creds)

	assert.Equal(t, server.serverPublicKey, verifiedKey)

	c.Disconnect()
	waitErr(t, errCh)
}

func TestRA2Handshake_BadServerHashRejected(t *testing.T) {
	opts := DefaultOptions()
	opts.Credentials = Credentials{Username: "u", Password: "p"}

	c, mt, _ := testClient(t, opts, Events{})
	errCh := runClient(c)

	mt.serve([]byte("RFB 003.008\n"))
	mt.expectFrame(t)

	mt.serve([]byte{1, secTypeRA2ne})
	mt.expectFrame(t)

	server := newRA2Server(t, mt)
	server.sendPublicKey()
	server.receiveClientKey()

	clientRandom, serverRandom := server.exchangeRandoms()
	server.setupCiphers(clientRandom, serverRandom)

	server.receiveAEAD() // client hash, discarded

	// Send garbage in place of the server hash.
	mt.serve(server.toClient.MakeMessage(bytes.Repeat([]byte{0x55}, 20)))

	err := waitErr(t, errCh)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestRA2Handshake_TinyServerKeyRejected(t *testing.T) {
	c, mt, _ := testClient(t, DefaultOptions(), Events{})
	errCh := runClient(c)

	mt.serve([]byte("RFB 003.008\n"))
	mt.expectFrame(t)

	mt.serve([]byte{1, secTypeRA2ne})
	mt.expectFrame(t)

	mt.serve([]byte{0, 0, 0x02, 0x00}) // 512 bits

	err := waitErr(t, errCh)
	assert.ErrorIs(t, err, ErrProtocolViolation)
}
