// Package idgen generates entity ids, password salts and the hashes
// used for credentials and session tokens.
package idgen

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"
)

// argon2id parameters; changing these invalidates stored hashes.
const (
	hashTime    = 1
	hashMemory  = 64 * 1024
	hashThreads = 4
	hashKeyLen  = 32
)

// RandomID returns a 32-character lowercase hex id. Every entity id in
// the system (and every unhashed session token) has this shape.
func RandomID() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")
}

// Salt returns a 128-bit salt, hex encoded.
func Salt() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("reading random bytes: %v", err))
	}
	return hex.EncodeToString(b)
}

// HashPassword derives the stored hash for a password and salt.
func HashPassword(password, salt string) string {
	key := argon2.IDKey([]byte(password), []byte(salt), hashTime, hashMemory, hashThreads, hashKeyLen)
	return hex.EncodeToString(key)
}

// VerifyPassword reports whether password+salt derive hash. The
// comparison is constant time.
func VerifyPassword(password, salt, hash string) bool {
	derived := HashPassword(password, salt)
	return subtle.ConstantTimeCompare([]byte(derived), []byte(hash)) == 1
}

// HashToken hashes an opaque session token for storage. Only the hash
// is ever persisted; the unhashed token goes back to the caller once.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
