package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

// dummySalt and dummyHash keep the unknown-user path as expensive as a
// real verification.
var (
	dummySalt = base64.StdEncoding.EncodeToString(make([]byte, saltLen))
	dummyHash = base64.StdEncoding.EncodeToString(make([]byte, argonKeyLen))
)

// HashPassword returns the base64 encoded argon2id hash and salt.
func HashPassword(password string) (hash string, salt string, err error) {
	rawSalt := make([]byte, saltLen)
	if _, err := rand.Read(rawSalt); err != nil {
		return "", "", fmt.Errorf("generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), rawSalt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return base64.StdEncoding.EncodeToString(key), base64.StdEncoding.EncodeToString(rawSalt), nil
}

// VerifyPassword compares password against a hash made by HashPassword.
func VerifyPassword(password, hash, salt string) (bool, error) {
	rawSalt, err := base64.StdEncoding.DecodeString(salt)
	if err != nil {
		return false, fmt.Errorf("decode salt: %w", err)
	}
	rawHash, err := base64.StdEncoding.DecodeString(hash)
	if err != nil {
		return false, fmt.Errorf("decode hash: %w", err)
	}

	key := argon2.IDKey([]byte(password), rawSalt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return subtle.ConstantTimeCompare(rawHash, key) == 1, nil
}

// BurnPassword spends the same work as VerifyPassword and always fails.
func BurnPassword(password string) {
	_, _ = VerifyPassword(password, dummyHash, dummySalt)
}

// SharedPasswordMatches compares against the legacy shared password in
// constant time. An empty shared password never matches.
func SharedPasswordMatches(shared, password string) bool {
	if shared == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(shared), []byte(password)) == 1
}
