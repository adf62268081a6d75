// Package credentials issues the random tokens handed to people: one-time
// secrets, access keys, project codes, and the QR image of an access payload.
package credentials

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/skip2/go-qrcode"
	"golang.org/x/crypto/bcrypt"
)

const (
	alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	upperDigits  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	AccessKeyLength   = 10
	ProjectCodeLength = 8
	SecretLength      = 20
)

// Generator produces the random strings; tests swap in fixed sequences.
type Generator interface {
	AccessKey() (string, error)
	ProjectCode() (string, error)
	Secret() (string, error)
}

// Random is the crypto/rand backed Generator.
type Random struct{}

func (Random) AccessKey() (string, error)   { return randomString(alphanumeric, AccessKeyLength) }
func (Random) ProjectCode() (string, error) { return randomString(upperDigits, ProjectCodeLength) }
func (Random) Secret() (string, error)      { return randomString(alphanumeric, SecretLength) }

func randomString(alphabet string, n int) (string, error) {
	limit := big.NewInt(int64(len(alphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("random string: %w", err)
		}
		out[i] = alphabet[idx.Int64()]
	}
	return string(out), nil
}

// ValidAccessKey reports whether s has the access key shape [A-Za-z0-9]{10}.
func ValidAccessKey(s string) bool {
	return len(s) == AccessKeyLength && only(s, alphanumeric)
}

// ValidProjectCode reports whether s has the project code shape [A-Z0-9]{8}.
func ValidProjectCode(s string) bool {
	return len(s) == ProjectCodeLength && only(s, upperDigits)
}

func only(s, alphabet string) bool {
	for i := 0; i < len(s); i++ {
		ok := false
		for j := 0; j < len(alphabet); j++ {
			if s[i] == alphabet[j] {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// HashSecret bcrypt-hashes a clear-text secret.
func HashSecret(secret string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	return string(b), err
}

func CheckSecret(hash, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// QRPayload renders the literal access payload encoded in QR images.
func QRPayload(role, firstName, eventTitle, key string) string {
	return fmt.Sprintf("role=%s; person=%s; event=%s; key=%s", role, firstName, eventTitle, key)
}

// RenderQR encodes payload as a 256px PNG.
func RenderQR(payload string) ([]byte, error) {
	png, err := qrcode.Encode(payload, qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("render qr: %w", err)
	}
	return png, nil
}
