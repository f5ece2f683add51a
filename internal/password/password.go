// Package password hashes and verifies local credentials. New hashes use
// argon2id; bcrypt hashes are accepted on verify and flagged for rehash.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Params are the argon2id cost parameters.
type Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
	SaltLen int
}

// DefaultParams is used by Hash and by NewHasher.
var DefaultParams = Params{Time: 3, Memory: 64 * 1024, Threads: 2, KeyLen: 32, SaltLen: 16}

var errInvalidHash = errors.New("invalid password hash")

// Hasher verifies and produces password hashes with fixed parameters.
type Hasher struct {
	params Params
}

// NewHasher returns a Hasher using DefaultParams.
func NewHasher() *Hasher {
	return &Hasher{params: DefaultParams}
}

// NewHasherWithParams returns a Hasher with custom argon2id costs.
func NewHasherWithParams(p Params) *Hasher {
	return &Hasher{params: p}
}

// Hash produces an argon2id hash for a new or changed credential.
func (h *Hasher) Hash(password string) (string, error) {
	salt := make([]byte, h.params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	sum := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.Memory, h.params.Threads, h.params.KeyLen)
	return argon2Hash{params: h.params, salt: salt, sum: sum}.String(), nil
}

// Verify compares password against an argon2id or bcrypt hash. A hash that
// cannot be parsed is an error, a mismatch is not.
func (h *Hasher) Verify(password, hash string) (bool, error) {
	if isBcrypt(hash) {
		return verifyBcrypt(password, hash)
	}
	decoded, err := parseArgon2(hash)
	if err != nil {
		return false, err
	}
	p := decoded.params
	actual := argon2.IDKey([]byte(password), decoded.salt, p.Time, p.Memory, p.Threads, uint32(len(decoded.sum)))
	return subtle.ConstantTimeCompare(actual, decoded.sum) == 1, nil
}

// NeedsRehash reports whether hash was produced by bcrypt or with argon2id
// costs weaker than the hasher's.
func (h *Hasher) NeedsRehash(hash string) bool {
	if isBcrypt(hash) {
		return true
	}
	decoded, err := parseArgon2(hash)
	if err != nil {
		return false
	}
	p := decoded.params
	return p.Time < h.params.Time || p.Memory < h.params.Memory || p.Threads < h.params.Threads
}

// Hash returns an argon2id hash string with DefaultParams.
func Hash(password string) (string, error) {
	return NewHasher().Hash(password)
}

// Verify checks password against an encoded argon2id or bcrypt hash.
func Verify(password, hash string) (bool, error) {
	return NewHasher().Verify(password, hash)
}

// argon2Hash is the decoded $argon2id$v=..$m=..,t=..,p=..$salt$sum form.
type argon2Hash struct {
	params Params
	salt   []byte
	sum    []byte
}

func (a argon2Hash) String() string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		a.params.Memory,
		a.params.Time,
		a.params.Threads,
		base64.RawStdEncoding.EncodeToString(a.salt),
		base64.RawStdEncoding.EncodeToString(a.sum),
	)
}

func parseArgon2(hash string) (argon2Hash, error) {
	parts := strings.Split(hash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return argon2Hash{}, errInvalidHash
	}
	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || !strings.HasPrefix(parts[2], "v=") || version != argon2.Version {
		return argon2Hash{}, errInvalidHash
	}

	var out argon2Hash
	for i, field := range strings.Split(parts[3], ",") {
		key, value, ok := strings.Cut(field, "=")
		if !ok || i > 2 {
			return argon2Hash{}, errInvalidHash
		}
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return argon2Hash{}, errInvalidHash
		}
		switch {
		case i == 0 && key == "m":
			out.params.Memory = uint32(n)
		case i == 1 && key == "t":
			out.params.Time = uint32(n)
		case i == 2 && key == "p" && n <= 255:
			out.params.Threads = uint8(n)
		default:
			return argon2Hash{}, errInvalidHash
		}
	}
	if out.params.Threads == 0 {
		return argon2Hash{}, errInvalidHash
	}

	if out.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return argon2Hash{}, errInvalidHash
	}
	if out.sum, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil || len(out.sum) == 0 {
		return argon2Hash{}, errInvalidHash
	}
	out.params.KeyLen = uint32(len(out.sum))
	out.params.SaltLen = len(out.salt)
	return out, nil
}

func isBcrypt(hash string) bool {
	return strings.HasPrefix(hash, "$2a$") || strings.HasPrefix(hash, "$2b$") || strings.HasPrefix(hash, "$2y$")
}

func verifyBcrypt(password, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, errInvalidHash
	}
}
