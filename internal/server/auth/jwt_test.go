package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/chunkvault/internal/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ns = "https://chunkvault/"

func TestGenerateAndParse_Success(t *testing.T) {
	t.Parallel()

	secret := []byte("super-secret")
	want := Identity{Subject: "user-123", Email: "a@example.com", Name: "Ann"}

	tok, err := GenerateToken(want, ns, secret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	got, err := ParseIdentity(tok, ns, secret)
	if err != nil {
		t.Fatalf("ParseIdentity error: %v", err)
	}
	if got != want {
		t.Fatalf("identity mismatch: got %+v want %+v", got, want)
	}
}

func TestGenerateToken_EmptySubject(t *testing.T) {
	t.Parallel()

	_, err := GenerateToken(Identity{Email: "x@example.com"}, ns, []byte("k"), time.Hour)
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestParseIdentity_Expired(t *testing.T) {
	t.Parallel()

	secret := []byte("secret")

	tok, err := GenerateToken(Identity{Subject: "u1"}, ns, secret, -1*time.Second)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	_, err = ParseIdentity(tok, ns, secret)
	if !errors.Is(err, common.ErrTokenExpired) {
		t.Fatalf("expected common.ErrTokenExpired, got %v", err)
	}
}

func TestParseIdentity_WrongSecret(t *testing.T) {
	t.Parallel()

	tok, err := GenerateToken(Identity{Subject: "u2"}, ns, []byte("right-secret"), time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	_, err = ParseIdentity(tok, ns, []byte("wrong-secret"))
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestParseIdentity_MalformedString(t *testing.T) {
	t.Parallel()

	_, err := ParseIdentity("not.a.jwt", ns, []byte("k"))
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestParseIdentity_RejectsOtherAlgorithms(t *testing.T) {
	t.Parallel()

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{"sub": "u3"}).SignedString([]byte("k"))
	require.NoError(t, err)

	_, err = ParseIdentity(tok, ns, []byte("k"))
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestParseIdentity_MissingSubject(t *testing.T) {
	t.Parallel()

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"email": "a@example.com"}).SignedString([]byte("k"))
	require.NoError(t, err)

	_, err = ParseIdentity(tok, ns, []byte("k"))
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestResolveIdentity(t *testing.T) {
	tests := []struct {
		name   string
		claims map[string]any
		want   Identity
	}{
		{
			name:   "top level",
			claims: map[string]any{"sub": "s", "email": "e@x", "name": "N"},
			want:   Identity{Subject: "s", Email: "e@x", Name: "N"},
		},
		{
			name:   "namespaced fallback",
			claims: map[string]any{"sub": "s", ns + "email": "ns@x", ns + "name": "NS"},
			want:   Identity{Subject: "s", Email: "ns@x", Name: "NS"},
		},
		{
			name:   "top level wins over namespaced",
			claims: map[string]any{"sub": "s", "email": "top@x", ns + "email": "ns@x"},
			want:   Identity{Subject: "s", Email: "top@x"},
		},
		{
			name:   "nickname then given_name",
			claims: map[string]any{"sub": "s", "nickname": "nick", "given_name": "Given"},
			want:   Identity{Subject: "s", Name: "nick"},
		},
		{
			name:   "given_name last",
			claims: map[string]any{"sub": "s", "name": " ", "given_name": "Given"},
			want:   Identity{Subject: "s", Name: "Given"},
		},
		{
			name:   "non-string values ignored",
			claims: map[string]any{"sub": 42, "email": true},
			want:   Identity{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveIdentity(tt.claims, ns))
		})
	}
}

func TestContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := WithIdentity(context.Background(), Identity{Subject: "s"})
	id, ok := FromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "s", id.Subject)

	_, ok = FromContext(WithIdentity(context.Background(), Identity{}))
	assert.False(t, ok)
}
