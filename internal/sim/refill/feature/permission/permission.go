package permission

import "autorefill/internal/sim/host"

// Gate memoizes authorization per actor for the duration of one tick. Reset must be
// called at the start of every tick so revocations apply on the next pass.
type Gate struct {
	auth host.Authorizer
	perm string
	memo map[host.ActorID]bool

	queries uint64
}

func New(auth host.Authorizer, perm string) *Gate {
	return &Gate{auth: auth, perm: perm, memo: map[host.ActorID]bool{}}
}

func (g *Gate) Reset() {
	clear(g.memo)
}

// SetPermission changes the checked permission name and drops memoized results.
func (g *Gate) SetPermission(perm string) {
	g.perm = perm
	g.Reset()
}

func (g *Gate) IsAuthorized(actor host.ActorID) bool {
	if ok, cached := g.memo[actor]; cached {
		return ok
	}
	ok := false
	if g.auth != nil && g.perm != "" {
		g.queries++
		ok = g.auth.HasPermission(actor, g.perm)
	}
	g.memo[actor] = ok
	return ok
}

// Queries reports how many times the external authorizer has been consulted.
func (g *Gate) Queries() uint64 { return g.queries }
