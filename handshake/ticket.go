package handshake

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"fmt"

	"spice/wire"
)

// ticketSize is the padded password length SPICE ticket auth always
// encrypts, including the trailing NUL (spec §4.3 step 4).
const ticketSize = 60

// cipherTextSize is the RSA-1024 OAEP ciphertext length, always 128 bytes
// regardless of password length.
const cipherTextSize = 128

// padTicket pads password to exactly ticketSize bytes, NUL-terminated
// and NUL-padded, truncating if the password itself is too long to leave
// room for the terminator.
func padTicket(password string) [ticketSize]byte {
	var buf [ticketSize]byte
	n := len(password)
	if n > ticketSize-1 {
		n = ticketSize - 1
	}
	copy(buf[:n], password[:n])
	// buf[n:] already zero, which supplies the trailing NUL and padding.
	return buf
}

// parseServerPubKey parses the server's RSA-1024 X.509
// SubjectPublicKeyInfo carried in LinkReplyData.PubKey.
func parseServerPubKey(der []byte) (*rsa.PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("spice: parsing server public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("spice: server public key is not RSA")
	}
	return rsaPub, nil
}

// encryptTicket pads password and encrypts it with RSA-OAEP
// (MGF1-SHA1, OAEP-SHA1) under the server's public key, producing the
// fixed 128-byte ciphertext sent in step 4 of the handshake.
func encryptTicket(pubKeyDER [wire.PubKeySize]byte, password string) ([]byte, error) {
	pub, err := parseServerPubKey(pubKeyDER[:])
	if err != nil {
		return nil, err
	}
	padded := padTicket(password)
	ct, err := rsa.EncryptOAEP(sha1.New(), rand.Reader, pub, padded[:], nil)
	if err != nil {
		return nil, fmt.Errorf("spice: encrypting ticket: %w", err)
	}
	if len(ct) != cipherTextSize {
		return nil, fmt.Errorf("spice: unexpected ciphertext length %d, want %d", len(ct), cipherTextSize)
	}
	return ct, nil
}
