// Package algolab implements the wire protocol of the AlgoLab brokerage
// endpoint: credential encryption, request signing, the JSON-over-HTTPS
// client, and classification of endpoint failures into a closed set of
// domain error kinds.
package algolab

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// Cipher encrypts credential values before they cross the wire, using the
// symmetric scheme the endpoint expects: AES-128-CBC keyed by the
// base64-decoded brokerage API code, a zero IV, PKCS#7 padding, and base64
// output.
type Cipher struct {
	block cipher.Block
}

// NewCipher builds a Cipher from the brokerage-assigned API code. The code
// is the base64 encoding of the 16-byte AES key.
func NewCipher(apiCode string) (*Cipher, error) {
	key, err := base64.StdEncoding.DecodeString(apiCode)
	if err != nil {
		return nil, fmt.Errorf("decoding api code: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("initialising cipher: %w", err)
	}

	return &Cipher{block: block}, nil
}

// Encrypt encrypts plaintext and returns the base64-encoded ciphertext.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", fmt.Errorf("plaintext cannot be empty")
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, len(padded))

	// The endpoint mandates a fixed all-zero IV.
	iv := make([]byte, aes.BlockSize)
	cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(out, padded)

	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. The endpoint never requires client-side
// decryption; this exists for verification and tests.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	if encoded == "" {
		return "", fmt.Errorf("ciphertext cannot be empty")
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decoding ciphertext: %w", err)
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return "", fmt.Errorf("ciphertext length %d is not a multiple of the block size", len(data))
	}

	iv := make([]byte, aes.BlockSize)
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(c.block, iv).CryptBlocks(out, data)

	unpadded, err := pkcs7Unpad(out, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(unpadded), nil
}

// checker computes the request-signing header: the lowercase hex SHA-256 of
// apiKey + host + endpoint + compacted JSON body.
func checker(apiKey, host, endpoint string, body []byte) string {
	compact := &bytes.Buffer{}
	compact.Grow(len(body))
	for _, b := range body {
		switch b {
		case ' ', '\t', '\n', '\r':
		default:
			compact.WriteByte(b)
		}
	}

	sum := sha256.Sum256([]byte(apiKey + host + endpoint + compact.String()))
	return hex.EncodeToString(sum[:])
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty padded data")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, fmt.Errorf("invalid padding length %d", n)
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("invalid padding byte")
		}
	}
	return data[:len(data)-n], nil
}
