package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidToken covers malformed and forged download tokens.
	ErrInvalidToken = errors.New("invalid download token")
	// ErrExpiredToken is returned once a token's deadline has passed.
	ErrExpiredToken = errors.New("download token expired")
)

// SignedURLSigner issues short-lived download tokens for export files.
// Token layout: <exportID>.<unix expiry>.<base64 name>.<hex hmac>.
type SignedURLSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSignedURLSigner constructs a signer with the provided secret and TTL.
func NewSignedURLSigner(secret string, ttl time.Duration) *SignedURLSigner {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &SignedURLSigner{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Generate returns a signed token referencing the export and its file name.
func (s *SignedURLSigner) Generate(exportID, name string) (string, time.Time, error) {
	if exportID == "" || name == "" {
		return "", time.Time{}, fmt.Errorf("export id and file name required")
	}
	if strings.Contains(exportID, ".") {
		return "", time.Time{}, fmt.Errorf("export id must not contain dots")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := s.now().Add(s.ttl).Truncate(time.Second)
	ts := strconv.FormatInt(expiresAt.Unix(), 10)
	encoded := base64.RawURLEncoding.EncodeToString([]byte(name))
	token := strings.Join([]string{exportID, ts, encoded, s.sign(exportID, ts, encoded)}, ".")
	return token, expiresAt, nil
}

// Parse validates a token and returns the export id and file name.
func (s *SignedURLSigner) Parse(token string) (exportID, name string, err error) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 {
		return "", "", ErrInvalidToken
	}
	exportID, ts, encoded, signature := parts[0], parts[1], parts[2], parts[3]

	if !hmac.Equal([]byte(s.sign(exportID, ts, encoded)), []byte(signature)) {
		return "", "", ErrInvalidToken
	}
	expUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return "", "", ErrInvalidToken
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", "", ErrInvalidToken
	}
	if !s.now().Before(time.Unix(expUnix, 0)) {
		return "", "", ErrExpiredToken
	}
	return exportID, string(raw), nil
}

func (s *SignedURLSigner) sign(exportID, ts, encoded string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(exportID + "|" + ts + "|" + encoded))
	return hex.EncodeToString(mac.Sum(nil))
}
