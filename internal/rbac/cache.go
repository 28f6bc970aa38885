package rbac

// Cache memoizes team role lookups for the duration of one request.
// It is an explicit map owned by the request, never shared across requests,
// so stale roles cannot leak between callers. Not safe for concurrent use;
// a request resolves roles sequentially.
type Cache struct {
	roles map[string]Role
}

func NewCache() *Cache {
	return &Cache{roles: make(map[string]Role)}
}

// Get returns the cached role for teamID. The second result reports whether
// a lookup was already performed; a cached RoleNone is a remembered miss.
func (c *Cache) Get(teamID string) (Role, bool) {
	role, ok := c.roles[teamID]
	return role, ok
}

func (c *Cache) Put(teamID string, role Role) {
	c.roles[teamID] = role
}

// Invalidate drops a cached entry. Called after membership mutations so a
// later check within the same request sees the new role.
func (c *Cache) Invalidate(teamID string) {
	delete(c.roles, teamID)
}
