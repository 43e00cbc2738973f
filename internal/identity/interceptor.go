package identity

import (
	"context"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// UnaryServerInterceptor кладёт субъекта из metadata "authorization" в контекст.
// Без заголовка запрос выполняется от имени System, если allowAnonymous.
func UnaryServerInterceptor(tokens *Tokens, allowAnonymous bool, log zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		values := md.Get("authorization")
		if len(values) == 0 {
			if allowAnonymous {
				return handler(WithActor(ctx, System), req)
			}
			return nil, status.Error(codes.Unauthenticated, "missing authorization metadata")
		}

		actor, err := tokens.FromBearer(values[0])
		if err != nil {
			log.Warn().Err(err).Str("method", info.FullMethod).Msg("rejected bearer token")
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}
		return handler(WithActor(ctx, actor), req)
	}
}
