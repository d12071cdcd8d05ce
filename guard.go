package authkit

// Guard is an authorization predicate over verified claims.
// Guards compose with And, Or and Not.
type Guard func(c *Claims) bool

// Check evaluates the guard. Nil claims never pass.
func (g Guard) Check(c *Claims) bool {
	if c == nil {
		return false
	}
	return g(c)
}

// Allow passes any authenticated claims.
func Allow() Guard {
	return func(*Claims) bool { return true }
}

// RequireGroup passes claims that include group.
func RequireGroup(group string) Guard {
	return func(c *Claims) bool { return c.HasGroup(group) }
}

// RequireAnyGroup passes claims that include at least one of groups.
func RequireAnyGroup(groups ...string) Guard {
	return func(c *Claims) bool { return c.HasAnyGroup(groups...) }
}

// RequireAllGroups passes claims that include every one of groups.
func RequireAllGroups(groups ...string) Guard {
	return func(c *Claims) bool { return c.HasAllGroups(groups...) }
}

// And passes when every guard passes.
func And(guards ...Guard) Guard {
	return func(c *Claims) bool {
		for _, g := range guards {
			if !g.Check(c) {
				return false
			}
		}
		return true
	}
}

// Or passes when at least one guard passes.
func Or(guards ...Guard) Guard {
	return func(c *Claims) bool {
		for _, g := range guards {
			if g.Check(c) {
				return true
			}
		}
		return false
	}
}

// Not inverts g.
func Not(g Guard) Guard {
	return func(c *Claims) bool { return !g.Check(c) }
}
