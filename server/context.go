package server

import "context"

type contextKey int

const ctxKeyIdentity contextKey = 0

// identity is the authenticated caller carried through request context.
type identity struct {
	Subject string
	Role    string
}

func contextWithIdentity(ctx context.Context, id identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity, id)
}

func identityFromContext(ctx context.Context) identity {
	id, _ := ctx.Value(ctxKeyIdentity).(identity)
	return id
}
