package domain

// Role is an assignable or detectable bundle of entitlements.
type Role struct {
	ID   string
	Name string
	Type string

	// ApplicationNames are the applications the role's profiles
	// reference. Used to filter role diffs to one application.
	ApplicationNames []string
}

// ReferencesApplication reports whether the role grants anything on
// the named application.
func (r *Role) ReferencesApplication(app string) bool {
	for _, a := range r.ApplicationNames {
		if a == app {
			return true
		}
	}
	return false
}
