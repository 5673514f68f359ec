package session

import "context"

// Identity resolves the authenticated principal that owns persisted sessions.
type Identity interface {
	CurrentUser(ctx context.Context) (string, bool)
}

// StaticIdentity always resolves to the same user. The empty value means
// nobody is signed in.
type StaticIdentity string

func (s StaticIdentity) CurrentUser(context.Context) (string, bool) {
	return string(s), s != ""
}
