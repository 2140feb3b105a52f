// Package helper holds small utilities shared across jwtsecrets packages.
package helper

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid"
)

// GenerateIDAt returns a ULID carrying the millisecond timestamp of t.
// Token ids are minted this way so that they sort by issue time.
func GenerateIDAt(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}

// GenerateRequestID returns a fresh ULID for an incoming request.
func GenerateRequestID() string {
	return GenerateIDAt(time.Now())
}
