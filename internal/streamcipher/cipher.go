// Package streamcipher wraps the ChaCha20 stream cipher used to encrypt
// file contents before upload. Encryption and decryption are the same
// XOR-keystream operation.
package streamcipher

import "golang.org/x/crypto/chacha20"

// KeySize is the length in bytes of the cipher key.
const KeySize = chacha20.KeySize

// NonceSize is the length in bytes of the fixed nonce.
const NonceSize = chacha20.NonceSize

// fixedNonce is reused across every file under a given key. Nonce reuse
// under a fixed key leaks the XOR of any two plaintexts encrypted with it;
// this is preserved for bit-compatibility with the source protocol and is
// a known, deliberate weakness — see the design notes on fixed nonces.
var fixedNonce = [NonceSize]byte{0x24, 0x24, 0x24, 0x24, 0x24, 0x24, 0x24, 0x24, 0x24, 0x24, 0x24, 0x24}

// DefaultKey is the "simplest scheme" constant cipher key: every client
// that has not been configured with a user secret encrypts under this
// same key. This is what makes identical plaintexts uploaded by distinct
// clients produce byte-identical ciphertexts on the wire — bucket
// isolation is by bucket_id alone, never by key secrecy.
var DefaultKey = [KeySize]byte{0x42, 0x42, 0x42, 0x42, 0x42, 0x42, 0x42, 0x42, 0x42, 0x42, 0x42, 0x42, 0x42, 0x42, 0x42, 0x42, 0x42, 0x42, 0x42, 0x42, 0x42, 0x42, 0x42, 0x42, 0x42, 0x42, 0x42, 0x42, 0x42, 0x42, 0x42, 0x42}

// Apply runs the ChaCha20 keystream over data in place using key and the
// fixed nonce. It returns an error only if the cipher cannot be created.
func Apply(key [KeySize]byte, data []byte) error {
	cipher, err := chacha20.NewUnauthenticatedCipher(key[:], fixedNonce[:])
	if err != nil {
		return err
	}
	cipher.XORKeyStream(data, data)
	return nil
}
