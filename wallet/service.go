package wallet

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrChallengeNotFound signals no live challenge exists for the address.
	ErrChallengeNotFound = errors.New("wallet: no challenge issued for address")
	// ErrVerificationFailed signals the signature did not verify. The
	// challenge is kept so the client may retry.
	ErrVerificationFailed = errors.New("wallet: signature verification failed")
	// ErrPublicKeyRequired signals an unverified login was attempted with
	// dev mode disabled.
	ErrPublicKeyRequired = errors.New("wallet: public key required")
)

// Challenge is the response to a challenge request.
type Challenge struct {
	Address   string
	Challenge string
}

// Session is issued after successful wallet verification. Unverified is set
// only on the dev-mode path that accepted a signature without a public key.
type Session struct {
	Token      string
	Address    string
	Unverified bool
}

// Service implements challenge-response wallet authentication over
// secp256k1 signatures.
type Service struct {
	store     *ChallengeStore
	jwtSecret []byte
	devMode   bool
	tokenTTL  time.Duration
	now       func() time.Time
}

// NewService creates the wallet auth service. devMode permits issuing a
// session without signature verification when no public key is supplied; it
// must stay off in production.
func NewService(store *ChallengeStore, jwtSecret string, devMode bool) *Service {
	return &Service{
		store:     store,
		jwtSecret: []byte(jwtSecret),
		devMode:   devMode,
		tokenTTL:  24 * time.Hour,
		now:       time.Now,
	}
}

// RequestChallenge issues a fresh challenge for the wallet address.
func (s *Service) RequestChallenge(address string) (Challenge, error) {
	normalized := NormalizeAddress(address)
	if normalized == "" {
		return Challenge{}, fmt.Errorf("wallet: address required")
	}

	text, err := s.store.Issue(normalized)
	if err != nil {
		return Challenge{}, err
	}
	return Challenge{Address: normalized, Challenge: text}, nil
}

// Verify checks the signature over the stored challenge and issues a
// session token bound to the wallet address. The challenge is consumed only
// on success (or on the explicit dev-mode acceptance); a failed verification
// leaves it in place for a retry.
func (s *Service) Verify(address, signature, publicKey string) (Session, error) {
	normalized := NormalizeAddress(address)

	challenge, ok := s.store.Peek(normalized)
	if !ok {
		return Session{}, ErrChallengeNotFound
	}

	if strings.TrimSpace(publicKey) == "" {
		if !s.devMode {
			return Session{}, ErrPublicKeyRequired
		}
		// Accepted unverified. The warning flag travels with the session so
		// callers cannot mistake this for a proven key.
		s.store.Consume(normalized)
		token, err := s.issueToken(normalized)
		if err != nil {
			return Session{}, err
		}
		return Session{Token: token, Address: normalized, Unverified: true}, nil
	}

	sigBytes, err := decodeKeyMaterial(signature)
	if err != nil {
		return Session{}, fmt.Errorf("%w: decode signature: %v", ErrVerificationFailed, err)
	}
	pubBytes, err := decodeKeyMaterial(publicKey)
	if err != nil {
		return Session{}, fmt.Errorf("%w: decode public key: %v", ErrVerificationFailed, err)
	}

	if !verifySecp256k1(pubBytes, []byte(challenge), sigBytes) {
		return Session{}, ErrVerificationFailed
	}

	s.store.Consume(normalized)
	token, err := s.issueToken(normalized)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, Address: normalized}, nil
}

// VerifyToken validates a session token and returns the bound address.
func (s *Service) VerifyToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return "", fmt.Errorf("wallet: parse token: %w", err)
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		address, ok := claims["wallet"].(string)
		if !ok || address == "" {
			return "", fmt.Errorf("wallet: token missing wallet claim")
		}
		return address, nil
	}
	return "", fmt.Errorf("wallet: invalid token")
}

func (s *Service) issueToken(address string) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"wallet": address,
		"exp":    now.Add(s.tokenTTL).Unix(),
		"iat":    now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("wallet: sign token: %w", err)
	}
	return signed, nil
}

// verifySecp256k1 checks sig against the Keccak256 digest of the message.
// Accepts 33- or 65-byte public keys and 64- or 65-byte (recovery id
// appended) signatures.
func verifySecp256k1(pubKey, message, sig []byte) bool {
	if len(sig) == 65 {
		sig = sig[:64]
	}
	if len(sig) != 64 {
		return false
	}
	if len(pubKey) != 33 && len(pubKey) != 65 {
		return false
	}
	digest := ethcrypto.Keccak256(message)
	return ethcrypto.VerifySignature(pubKey, digest, sig)
}

// decodeKeyMaterial accepts 0x-prefixed hex, base64, or bare hex, in that
// order of preference.
func decodeKeyMaterial(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty value")
	}
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		return hex.DecodeString(raw[2:])
	}
	if b, err := base64.StdEncoding.DecodeString(raw); err == nil {
		return b, nil
	}
	return hex.DecodeString(raw)
}
