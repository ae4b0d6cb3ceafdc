package resource

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	saltLen      = 16
	digestLen    = 32
	argonTime    = 1
	argonMemory  = 19 * 1024
	argonThreads = 1
)

// Secret carries a sensitive value. Only a salted argon2id digest is ever
// serialized, so stored state can still tell whether the value changed.
type Secret struct {
	plain  string
	salt   []byte
	digest []byte
}

// NewSecret wraps plain with a fresh random salt. An empty value gives the
// zero Secret.
func NewSecret(plain string) Secret {
	if plain == "" {
		return Secret{}
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		panic(fmt.Sprintf("failed to read random salt: %v", err))
	}
	return Secret{plain: plain, salt: salt, digest: derive(plain, salt)}
}

func derive(plain string, salt []byte) []byte {
	return argon2.IDKey([]byte(plain), salt, argonTime, argonMemory, argonThreads, digestLen)
}

// Reveal returns the plain value. It is empty for secrets decoded from state.
func (s Secret) Reveal() string {
	return s.plain
}

func (s Secret) IsZero() bool {
	return len(s.digest) == 0
}

// matches recomputes the digest of plain under s's salt.
func (s Secret) matches(plain string) bool {
	return subtle.ConstantTimeCompare(derive(plain, s.salt), s.digest) == 1
}

// Equal reports whether both secrets hold the same value. A secret decoded
// from state is compared by rederiving the other side's plain value with
// the stored salt.
func (s Secret) Equal(o Secret) bool {
	switch {
	case s.IsZero() || o.IsZero():
		return s.IsZero() == o.IsZero()
	case s.plain != "" && o.plain != "":
		return subtle.ConstantTimeCompare([]byte(s.plain), []byte(o.plain)) == 1
	case s.plain != "":
		return o.matches(s.plain)
	case o.plain != "":
		return s.matches(o.plain)
	default:
		return subtle.ConstantTimeCompare(s.salt, o.salt) == 1 &&
			subtle.ConstantTimeCompare(s.digest, o.digest) == 1
	}
}

func (s Secret) String() string {
	return "[secret]"
}

func (s Secret) GoString() string {
	return "resource.Secret{[secret]}"
}

type secretJSON struct {
	Salt     string `json:"salt,omitempty"`
	Argon2ID string `json:"argon2id,omitempty"`
}

func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(secretJSON{
		Salt:     hex.EncodeToString(s.salt),
		Argon2ID: hex.EncodeToString(s.digest),
	})
}

func (s *Secret) UnmarshalJSON(data []byte) error {
	var v secretJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("failed to unmarshal secret: %w", err)
	}
	salt, err := hex.DecodeString(v.Salt)
	if err != nil {
		return fmt.Errorf("failed to decode secret salt: %w", err)
	}
	digest, err := hex.DecodeString(v.Argon2ID)
	if err != nil {
		return fmt.Errorf("failed to decode secret digest: %w", err)
	}
	if len(digest) > 0 && len(salt) == 0 {
		return fmt.Errorf("secret digest stored without a salt")
	}
	*s = Secret{salt: salt, digest: digest}
	return nil
}
