package dispatch

// Authority is the authority tag carried alongside every dispatch and
// required by every registered handler.
type Authority int

const (
	// AuthorityNone means the handler requires no authority at all.
	AuthorityNone Authority = iota
	// AuthorityUser means the handler requires a user-signed dispatch.
	AuthorityUser
	// AuthorityInternal means the handler requires an internally-signed dispatch.
	AuthorityInternal
	// AuthorityUserOrInternal means either a user or internal sign satisfies the handler.
	AuthorityUserOrInternal
)

func (a Authority) String() string {
	switch a {
	case AuthorityNone:
		return "none"
	case AuthorityUser:
		return "user"
	case AuthorityInternal:
		return "internal"
	case AuthorityUserOrInternal:
		return "user_or_internal"
	default:
		return "unknown"
	}
}

// allowed[required][presented] answers: does a handler that requires
// `required` accept a dispatch presenting `presented`? This 4x4 table is
// the single source of truth for authority admissibility; no handler
// sprinkles its own conditional sign checks.
var allowed = [4][4]bool{
	AuthorityNone:           {AuthorityNone: true, AuthorityUser: true, AuthorityInternal: true, AuthorityUserOrInternal: true},
	AuthorityUser:           {AuthorityUser: true},
	AuthorityInternal:       {AuthorityInternal: true},
	AuthorityUserOrInternal: {AuthorityUser: true, AuthorityInternal: true},
}

// Admits reports whether a handler requiring `required` authority accepts
// a dispatch presenting `presented` authority.
func Admits(required, presented Authority) bool {
	return allowed[required][presented]
}
