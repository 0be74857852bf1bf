// Package keys implements Curve25519 keypair generation, public-key
// derivation, and key-format validation for WireGuard identities.
//
// Derivation is grounded directly on the teacher's
// internal/services/vpn/wireguard.go generateKeyPair: scalar clamping
// followed by curve25519.ScalarBaseMult. Validation is grounded on the
// teacher's use of wgtypes.ParseKey in generateKeyPairManual.
package keys

import (
	"github.com/graemester/wgfriend/internal/wgerr"
	"golang.org/x/crypto/curve25519"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// KeySize is the length in bytes of a decoded Curve25519 scalar.
const KeySize = 32

// GenerateKeypair produces a fresh Curve25519 private/public keypair
// encoded as base64. It uses a cryptographically secure RNG; there is
// no deterministic or seeded mode, per contract.
func GenerateKeypair() (priv, pub string, err error) {
	key, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		return "", "", wgerr.Wrap(wgerr.KindInput, wgerr.ErrMalformedKey.Tag, "generate keypair", err)
	}
	return key.String(), key.PublicKey().String(), nil
}

// DerivePublic computes the public key for a given private key. It is
// pure: no I/O, total on any validated private key, matching the
// teacher's curve25519.ScalarBaseMult usage directly rather than going
// through wgctrl's device/kernel path.
func DerivePublic(priv string) (string, error) {
	key, err := wgtypes.ParseKey(priv)
	if err != nil {
		return "", wgerr.Wrap(wgerr.KindInput, wgerr.ErrMalformedKey.Tag, "invalid private key", err)
	}

	var privBytes, pubBytes [KeySize]byte
	copy(privBytes[:], key[:])

	// Clamp for Curve25519, matching the teacher's generateKeyPair.
	privBytes[0] &= 248
	privBytes[31] &= 127
	privBytes[31] |= 64

	curve25519.ScalarBaseMult(&pubBytes, &privBytes)

	pub := wgtypes.Key(pubBytes)
	return pub.String(), nil
}

// ValidatePrivate reports whether s decodes to a 32-byte Curve25519
// scalar. It does not check clamping — WireGuard private keys are
// accepted unclamped by convention (wgctrl clamps on use).
func ValidatePrivate(s string) bool {
	_, err := wgtypes.ParseKey(s)
	return err == nil
}

// ValidatePublic reports whether s decodes to a 32-byte Curve25519
// point encoding.
func ValidatePublic(s string) bool {
	_, err := wgtypes.ParseKey(s)
	return err == nil
}

// MustValidate returns wgerr.ErrMalformedKey (MalformedKey) if s is not
// a well-formed base64-encoded 32-byte key, nil otherwise. The parser and
// orchestrator do their own checks through ValidatePrivate/ValidatePublic
// and do not call it.
func MustValidate(s string) error {
	if !ValidatePublic(s) {
		return wgerr.New(wgerr.KindInput, wgerr.ErrMalformedKey.Tag, "key must be 32 bytes base64-encoded")
	}
	return nil
}
