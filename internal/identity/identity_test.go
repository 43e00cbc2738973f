package identity

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func TestValidate(t *testing.T) {
	a, err := Validate(Actor{ID: "  nurse-1 ", Role: " Staff"})
	require.NoError(t, err)
	assert.Equal(t, Actor{ID: "nurse-1", Role: RoleStaff}, a)

	_, err = Validate(Actor{ID: "", Role: RoleStaff})
	assert.ErrorIs(t, err, ErrMissingSubject)

	_, err = Validate(Actor{ID: "x", Role: "janitor"})
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestActorContext(t *testing.T) {
	assert.Equal(t, System, FromContext(context.Background()))

	ctx := WithActor(context.Background(), Actor{ID: "dr-1", Role: RoleStaff})
	assert.Equal(t, "dr-1", FromContext(ctx).ID)

	assert.Equal(t, "signal:stripe", Signal("stripe").ID)
	assert.Equal(t, System, Signal(" "))
}

func TestTokensRoundTrip(t *testing.T) {
	tokens := NewTokens("secret", "clinic")
	raw, err := tokens.Issue(Actor{ID: "reception-7", Role: RoleReception}, time.Hour)
	require.NoError(t, err)

	a, err := tokens.FromBearer("Bearer " + raw)
	require.NoError(t, err)
	assert.Equal(t, Actor{ID: "reception-7", Role: RoleReception}, a)
	assert.True(t, HasRole(a, RoleAdmin, RoleReception))
	assert.False(t, HasRole(a, RoleAdmin))
}

func TestTokensRejects(t *testing.T) {
	tokens := NewTokens("secret", "clinic")
	raw, err := tokens.Issue(Actor{ID: "dr", Role: RoleStaff}, time.Hour)
	require.NoError(t, err)

	_, err = NewTokens("other", "clinic").Parse(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewTokens("secret", "elsewhere").Parse(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = tokens.FromBearer("Basic " + raw)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := NewTokens("secret", "clinic")
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, err := expired.Issue(Actor{ID: "dr", Role: RoleStaff}, time.Hour)
	require.NoError(t, err)
	_, err = tokens.Parse(old)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestUnaryServerInterceptor(t *testing.T) {
	tokens := NewTokens("secret", "")
	info := &grpc.UnaryServerInfo{FullMethod: "/clinic.scheduling.v1.Scheduling/Confirm"}
	var seen Actor
	handler := func(ctx context.Context, req any) (any, error) {
		seen = FromContext(ctx)
		return "ok", nil
	}

	strict := UnaryServerInterceptor(tokens, false, zerolog.Nop())
	_, err := strict(context.Background(), nil, info, handler)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	raw, err := tokens.Issue(Actor{ID: "admin-1", Role: RoleAdmin}, time.Minute)
	require.NoError(t, err)
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer "+raw))
	_, err = strict(ctx, nil, info, handler)
	require.NoError(t, err)
	assert.Equal(t, "admin-1", seen.ID)

	bad := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer nope"))
	_, err = strict(bad, nil, info, handler)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	lenient := UnaryServerInterceptor(tokens, true, zerolog.Nop())
	_, err = lenient(context.Background(), nil, info, handler)
	require.NoError(t, err)
	assert.Equal(t, System, seen)
}
