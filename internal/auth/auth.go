// Package auth signs and verifies the tokens sockets authenticate with.
package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/luciancaetano/meshnet"
)

// DefaultExpiry applies when neither the engine nor the sign call sets one.
const DefaultExpiry = 24 * time.Hour

// DefaultAlgorithm is used when Options.Algorithm is empty.
const DefaultAlgorithm = "HS256"

// Token verification failures. All of them match meshnet.ErrAuthentication.
var (
	ErrTokenExpired          = meshnet.ErrAuthTokenExpired
	ErrTokenMalformed        = meshnet.ErrAuthTokenMalformed
	ErrTokenSignatureInvalid = meshnet.ErrAuthTokenInvalid
)

type keyKind int

const (
	keyNone keyKind = iota
	keyShared
	keyPair
)

// Key is the engine's key material: nothing, a shared secret, or an
// asymmetric key pair.
type Key struct {
	kind    keyKind
	secret  []byte
	private any
	public  any
}

// SharedKey returns a symmetric key for the HS* algorithms.
func SharedKey(secret []byte) Key {
	return Key{kind: keyShared, secret: append([]byte(nil), secret...)}
}

// KeyPair returns an asymmetric key. private and public are crypto keys such
// as *rsa.PrivateKey / *rsa.PublicKey.
func KeyPair(private, public any) Key {
	return Key{kind: keyPair, private: private, public: public}
}

// ParseKeyPair parses PEM-encoded keys for the given algorithm family.
func ParseKeyPair(algorithm string, privatePEM, publicPEM []byte) (Key, error) {
	var (
		private any
		public  any
		err     error
	)
	switch {
	case strings.HasPrefix(algorithm, "RS"), strings.HasPrefix(algorithm, "PS"):
		if private, err = jwt.ParseRSAPrivateKeyFromPEM(privatePEM); err != nil {
			return Key{}, fmt.Errorf("parse private key: %w", err)
		}
		if public, err = jwt.ParseRSAPublicKeyFromPEM(publicPEM); err != nil {
			return Key{}, fmt.Errorf("parse public key: %w", err)
		}
	case strings.HasPrefix(algorithm, "ES"):
		if private, err = jwt.ParseECPrivateKeyFromPEM(privatePEM); err != nil {
			return Key{}, fmt.Errorf("parse private key: %w", err)
		}
		if public, err = jwt.ParseECPublicKeyFromPEM(publicPEM); err != nil {
			return Key{}, fmt.Errorf("parse public key: %w", err)
		}
	case algorithm == "EdDSA":
		if private, err = jwt.ParseEdPrivateKeyFromPEM(privatePEM); err != nil {
			return Key{}, fmt.Errorf("parse private key: %w", err)
		}
		if public, err = jwt.ParseEdPublicKeyFromPEM(publicPEM); err != nil {
			return Key{}, fmt.Errorf("parse public key: %w", err)
		}
	default:
		return Key{}, fmt.Errorf("algorithm %q does not use a key pair", algorithm)
	}
	return KeyPair(private, public), nil
}

// Options configures an Engine.
type Options struct {
	// Algorithm is fixed for the engine's lifetime. Defaults to HS256.
	Algorithm string
	// Key is the signing/verification material. With no key, HS* engines
	// generate a random 256-bit secret on first use.
	Key Key
	// DefaultExpiry applies to tokens signed without an explicit expiry.
	DefaultExpiry time.Duration
	// VerifyAlgorithms restricts the algorithms accepted when verifying.
	// Defaults to Algorithm.
	VerifyAlgorithms []string
}

// SignOptions overlays one Sign call.
type SignOptions struct {
	// Algorithm must be empty: the algorithm cannot change at runtime.
	Algorithm string
	// ExpiresIn overrides the engine default for this token.
	ExpiresIn time.Duration
	Issuer    string
	Audience  []string
}

// VerifyOptions overlays one Verify call.
type VerifyOptions struct {
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// Engine signs and verifies JWT auth tokens. It is safe for concurrent use.
type Engine struct {
	method        jwt.SigningMethod
	key           Key
	defaultExpiry time.Duration
	verifyAlgs    []string

	secretOnce sync.Once
	secret     []byte
	secretErr  error

	now func() time.Time
}

// New validates opts and returns an Engine.
func New(opts Options) (*Engine, error) {
	alg := opts.Algorithm
	if alg == "" {
		alg = DefaultAlgorithm
	}
	method := jwt.GetSigningMethod(alg)
	if method == nil || alg == "none" {
		return nil, meshnet.Errorf(meshnet.ErrInvalidArgument, "unsupported auth algorithm %q", alg)
	}

	symmetric := strings.HasPrefix(alg, "HS")
	switch {
	case symmetric && opts.Key.kind == keyPair:
		return nil, meshnet.Errorf(meshnet.ErrInvalidArgument, "algorithm %s requires a shared secret, not a key pair", alg)
	case !symmetric && opts.Key.kind != keyPair:
		return nil, meshnet.Errorf(meshnet.ErrInvalidArgument, "algorithm %s requires a private/public key pair", alg)
	case opts.Key.kind == keyPair && (opts.Key.private == nil || opts.Key.public == nil):
		return nil, meshnet.Errorf(meshnet.ErrInvalidArgument, "key pair needs both a private and a public key")
	}
	if opts.Key.kind == keyPair {
		if err := checkKeyType(alg, opts.Key); err != nil {
			return nil, err
		}
	}

	expiry := opts.DefaultExpiry
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	verifyAlgs := opts.VerifyAlgorithms
	if len(verifyAlgs) == 0 {
		verifyAlgs = []string{alg}
	}

	return &Engine{
		method:        method,
		key:           opts.Key,
		defaultExpiry: expiry,
		verifyAlgs:    append([]string(nil), verifyAlgs...),
		now:           time.Now,
	}, nil
}

func checkKeyType(alg string, k Key) error {
	var ok bool
	switch {
	case strings.HasPrefix(alg, "RS"), strings.HasPrefix(alg, "PS"):
		_, ok = k.private.(*rsa.PrivateKey)
	case strings.HasPrefix(alg, "ES"):
		_, ok = k.private.(*ecdsa.PrivateKey)
	case alg == "EdDSA":
		_, ok = k.private.(ed25519.PrivateKey)
	}
	if !ok {
		return meshnet.Errorf(meshnet.ErrInvalidArgument, "private key of type %T cannot sign %s", k.private, alg)
	}
	return nil
}

// Algorithm returns the signing algorithm.
func (e *Engine) Algorithm() string {
	return e.method.Alg()
}

// DefaultExpiry returns the expiry applied to tokens without one.
func (e *Engine) DefaultExpiry() time.Duration {
	return e.defaultExpiry
}

// Sign returns a signed token carrying claims.
//
// claims is never modified. An "exp" claim is added unless claims already
// has one.
func (e *Engine) Sign(ctx context.Context, claims meshnet.Claims, opts SignOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if opts.Algorithm != "" {
		return "", meshnet.Errorf(meshnet.ErrInvalidArgument, meshnet.ErrMsgAlgorithmOverride)
	}

	mc := jwt.MapClaims(maps.Clone(claims))
	if mc == nil {
		mc = jwt.MapClaims{}
	}

	now := e.now()
	if exp, ok := mc["exp"]; !ok || exp == nil {
		expiresIn := opts.ExpiresIn
		if expiresIn <= 0 {
			expiresIn = e.defaultExpiry
		}
		mc["exp"] = now.Add(expiresIn).Unix()
	}
	if _, ok := mc["iat"]; !ok {
		mc["iat"] = now.Unix()
	}
	if opts.Issuer != "" {
		mc["iss"] = opts.Issuer
	}
	if len(opts.Audience) > 0 {
		mc["aud"] = append([]string(nil), opts.Audience...)
	}

	key, err := e.signingKey()
	if err != nil {
		return "", err
	}
	return jwt.NewWithClaims(e.method, mc).SignedString(key)
}

// Verify checks token's signature and expiry and returns its claims.
//
// token is typed any so callers can pass decoded wire data straight in; a
// non-string fails with meshnet.ErrInvalidArgument.
func (e *Engine) Verify(ctx context.Context, token any, opts VerifyOptions) (meshnet.Claims, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	signed, ok := token.(string)
	if !ok {
		return nil, meshnet.Errorf(meshnet.ErrInvalidArgument, meshnet.ErrMsgInvalidTokenFormat)
	}

	key, err := e.verificationKey()
	if err != nil {
		return nil, err
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods(e.verifyAlgs),
		jwt.WithTimeFunc(e.now),
	}
	if opts.Leeway > 0 {
		parserOpts = append(parserOpts, jwt.WithLeeway(opts.Leeway))
	}
	if opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(opts.Issuer))
	}
	if opts.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(opts.Audience))
	}

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(signed, claims, func(*jwt.Token) (any, error) {
		return key, nil
	}, parserOpts...)
	if err != nil {
		return nil, classify(err)
	}
	return meshnet.Claims(claims), nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return meshnet.Errorf(ErrTokenExpired, "%v", err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return meshnet.Errorf(ErrTokenMalformed, "%v", err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return meshnet.Errorf(ErrTokenSignatureInvalid, "%v", err)
	default:
		return meshnet.Errorf(meshnet.ErrAuthentication, "%v", err)
	}
}

func (e *Engine) signingKey() (any, error) {
	if e.key.kind == keyPair {
		return e.key.private, nil
	}
	return e.sharedSecret()
}

func (e *Engine) verificationKey() (any, error) {
	if e.key.kind == keyPair {
		return e.key.public, nil
	}
	return e.sharedSecret()
}

func (e *Engine) sharedSecret() ([]byte, error) {
	if e.key.kind == keyShared {
		return e.key.secret, nil
	}
	e.secretOnce.Do(func() {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			e.secretErr = fmt.Errorf("generate auth key: %w", err)
			return
		}
		e.secret = secret
	})
	return e.secret, e.secretErr
}
