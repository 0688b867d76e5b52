package domain

import (
	"crypto/ed25519"
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"

	dErrors "evault/pkg/domain-errors"
)

type DomainSuite struct {
	suite.Suite
}

func TestDomainSuite(t *testing.T) {
	suite.Run(t, new(DomainSuite))
}

func (s *DomainSuite) TestParseIdentity() {
	s.Run("round trips through hex", func() {
		pub, _, err := ed25519.GenerateKey(nil)
		s.Require().NoError(err)
		id := IdentityFromPublicKey(pub)

		parsed, err := ParseIdentity(id.String())
		s.Require().NoError(err)
		s.Equal(id, parsed)
	})

	s.Run("rejects empty input", func() {
		_, err := ParseIdentity("")
		s.True(dErrors.Is(err, dErrors.CodeBadRequest))
	})

	s.Run("rejects non-hex input", func() {
		_, err := ParseIdentity("not hex at all")
		s.True(dErrors.Is(err, dErrors.CodeBadRequest))
	})

	s.Run("rejects the wrong length", func() {
		_, err := ParseIdentity("deadbeef")
		s.True(dErrors.Is(err, dErrors.CodeBadRequest))
	})

	s.Run("serializes as lowercase hex in JSON", func() {
		id := Identity{0xAB, 0xCD}
		raw, err := json.Marshal(id)
		s.Require().NoError(err)
		s.True(strings.HasPrefix(string(raw), `"abcd`))

		var back Identity
		s.Require().NoError(json.Unmarshal(raw, &back))
		s.Equal(id, back)
	})
}

func (s *DomainSuite) TestDerivation() {
	parent := Identity{0x01}
	ephemeral := Identity{0x02}

	s.Run("vault address is deterministic per pair", func() {
		first, firstBump := VaultAddress(parent, ephemeral)
		second, secondBump := VaultAddress(parent, ephemeral)
		s.Equal(first, second)
		s.Equal(firstBump, secondBump)
		s.False(first.IsZero())
	})

	s.Run("distinct pairs land on distinct addresses", func() {
		base, _ := VaultAddress(parent, ephemeral)
		otherEphemeral, _ := VaultAddress(parent, Identity{0x03})
		otherParent, _ := VaultAddress(Identity{0x03}, ephemeral)
		swapped, _ := VaultAddress(Identity(ephemeral), Identity(parent))

		s.NotEqual(base, otherEphemeral)
		s.NotEqual(base, otherParent)
		s.NotEqual(base, swapped)
	})

	s.Run("delegation address is derived from the vault alone", func() {
		vault, _ := VaultAddress(parent, ephemeral)
		first, _ := DelegationAddress(vault)
		second, _ := DelegationAddress(vault)
		s.Equal(first, second)
		s.NotEqual(vault, first)
	})
}

func (s *DomainSuite) TestCheckedArithmetic() {
	s.Run("CheckedAdd", func() {
		sum, err := CheckedAdd(40_000, 2_000)
		s.Require().NoError(err)
		s.Equal(uint64(42_000), sum)

		_, err = CheckedAdd(math.MaxUint64, 1)
		s.ErrorIs(err, ErrMathOverflow)
	})

	s.Run("CheckedMul", func() {
		product, err := CheckedMul(3, 10_000)
		s.Require().NoError(err)
		s.Equal(uint64(30_000), product)

		product, err = CheckedMul(0, math.MaxUint64)
		s.Require().NoError(err)
		s.Zero(product)

		_, err = CheckedMul(math.MaxUint64, 2)
		s.ErrorIs(err, ErrMathOverflow)
	})

	s.Run("CheckedAddInt64", func() {
		sum, err := CheckedAddInt64(-5, 10)
		s.Require().NoError(err)
		s.Equal(int64(5), sum)

		_, err = CheckedAddInt64(math.MaxInt64, 1)
		s.ErrorIs(err, ErrMathOverflow)

		_, err = CheckedAddInt64(math.MinInt64, -1)
		s.ErrorIs(err, ErrMathOverflow)
	})
}

func (s *DomainSuite) TestSessionID() {
	id := NewSessionID()
	parsed, err := ParseSessionID(id.String())
	s.Require().NoError(err)
	s.Equal(id, parsed)

	_, err = ParseSessionID("definitely-not-a-uuid")
	s.True(dErrors.Is(err, dErrors.CodeBadRequest))
}
