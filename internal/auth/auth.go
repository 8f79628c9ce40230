// Package auth generates API keys and checks them against bcrypt hashes.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidAPIKey is returned when a key does not match its hash.
var ErrInvalidAPIKey = errors.New("invalid API key")

// GenerateAPIKey returns 32 random bytes, base64url encoded.
func GenerateAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// HashAPIKey returns the bcrypt hash to store in configuration.
func HashAPIKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckAPIKey compares key with a hash from HashAPIKey.
func CheckAPIKey(key, hash string) error {
	if key == "" || hash == "" {
		return ErrInvalidAPIKey
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err != nil {
		return ErrInvalidAPIKey
	}
	return nil
}
