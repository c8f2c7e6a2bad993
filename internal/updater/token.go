package updater

import (
	"sync/atomic"
)

// Token is the cooperative flow-control token. The download producer polls
// it between chunks; it cannot interrupt an in-flight network read, only
// prevent the next push.
type Token struct {
	aborted atomic.Bool
}

// NewToken creates an unsignalled Token.
func NewToken() *Token {
	return &Token{}
}

// Abort signals the token. Safe to call from any goroutine, any number of
// times.
func (t *Token) Abort() {
	t.aborted.Store(true)
}

// Aborted reports whether the token has been signalled. A nil token never
// aborts.
func (t *Token) Aborted() bool {
	return t != nil && t.aborted.Load()
}
