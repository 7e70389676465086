package api

import "context"

// contextWithBody stashes the already-consumed request body so downstream
// handlers can read it without a second (now-empty) body read (spec §4.J
// step 6).
func contextWithBody(ctx context.Context, body []byte) context.Context {
	return context.WithValue(ctx, bodyKey{}, body)
}
