package ipc

import (
	"crypto/sha256"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/irdest-go/ratman/id"
	"github.com/irdest-go/ratman/internal/cos"
)

// sessionTTL bounds how long an issued ClientAuth remains valid before
// the client must re-register, per spec.md §4.8 step 2.
const sessionTTL = 24 * time.Hour

type authClaims struct {
	ClientID string `json:"cid"`
	jwt.RegisteredClaims
}

// AuthManager issues and verifies ClientAuth tokens. The wire format
// fixes id.ClientAuth.Token at 32 bytes, so the signed JWT itself never
// travels on the wire: AuthManager mints one on Register, keeps it in
// memory keyed by client_id, and hands the client only a commitment to
// it (token = sha256(jwt)). Verify checks the commitment and then
// parses the cached JWT to confirm it has not expired, so a restarted
// router rejects every session without touching the journal.
type AuthManager struct {
	key []byte

	mu       sync.RWMutex
	sessions map[id.Ident32]string
}

func NewAuthManager(key []byte) *AuthManager {
	return &AuthManager{key: key, sessions: make(map[id.Ident32]string)}
}

// Register mints a fresh ClientAuth for a client connecting for the
// first time.
func (m *AuthManager) Register() (id.ClientAuth, error) {
	clientID := id.RandomIdent32()
	now := time.Now()
	claims := authClaims{
		ClientID: clientID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(sessionTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
	if err != nil {
		return id.ClientAuth{}, cos.NewErrClient("auth-sign", "mint session token: %v", err)
	}

	m.mu.Lock()
	m.sessions[clientID] = signed
	m.mu.Unlock()

	return id.ClientAuth{ClientID: clientID, Token: commitment(signed)}, nil
}

func commitment(signed string) id.Ident32 {
	return id.Ident32(sha256.Sum256([]byte(signed)))
}

// Verify checks that auth names a currently issued, unexpired session.
func (m *AuthManager) Verify(auth *id.ClientAuth) error {
	if auth == nil {
		return cos.NewErrClient("no-auth", "request requires prior registration")
	}
	m.mu.RLock()
	signed, ok := m.sessions[auth.ClientID]
	m.mu.RUnlock()
	if !ok {
		return cos.NewErrClient("bad-auth", "unknown client_id")
	}
	if commitment(signed) != auth.Token {
		return cos.NewErrClient("bad-auth", "token does not match client_id")
	}

	parsed, err := jwt.ParseWithClaims(signed, &authClaims{}, func(*jwt.Token) (any, error) {
		return m.key, nil
	})
	if err != nil || !parsed.Valid {
		m.mu.Lock()
		delete(m.sessions, auth.ClientID)
		m.mu.Unlock()
		return cos.NewErrClient("expired-auth", "session token expired or invalid")
	}
	return nil
}

// Forget drops a client's session, used on disconnect cleanup.
func (m *AuthManager) Forget(clientID id.Ident32) {
	m.mu.Lock()
	delete(m.sessions, clientID)
	m.mu.Unlock()
}
