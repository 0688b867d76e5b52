package delegation

import (
	"crypto/ed25519"
	"fmt"

	"evault/internal/custody"
	"evault/pkg/domain"
)

// SignWithEphemeral opens the custody envelope, signs payload with the
// ephemeral private key, and wipes the plaintext seed before returning. This
// is the only boundary where decrypted key material exists, and it never
// leaves this function.
func SignWithEphemeral(env custody.Envelope, passphrase string, payload []byte) (signature []byte, signer domain.Identity, err error) {
	seed, err := custody.Decrypt(env, passphrase)
	if err != nil {
		return nil, domain.Identity{}, err
	}
	defer wipe(seed)

	if len(seed) != ed25519.SeedSize {
		return nil, domain.Identity{}, fmt.Errorf("invalid ephemeral key bytes: got %d, want %d", len(seed), ed25519.SeedSize)
	}

	priv := ed25519.NewKeyFromSeed(seed)
	defer wipe(priv)

	signature = ed25519.Sign(priv, payload)
	signer = domain.IdentityFromPublicKey(priv.Public().(ed25519.PublicKey))
	return signature, signer, nil
}

// VerifyEphemeral checks a signature produced by SignWithEphemeral.
func VerifyEphemeral(signer domain.Identity, payload, signature []byte) bool {
	return ed25519.Verify(ed25519.PublicKey(signer[:]), payload, signature)
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
