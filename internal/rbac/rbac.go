// Package rbac decides what a community role may do.
package rbac

type Role string
type Action string

const (
	RoleVisitor    Role = "visitor"
	RoleMember     Role = "member"
	RoleAmbassador Role = "ambassador"
)

const (
	ActionRead     Action = "read"
	ActionPost     Action = "post"
	ActionModerate Action = "moderate"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAmbassador:
		return action == ActionRead || action == ActionPost || action == ActionModerate
	case RoleMember:
		return action == ActionRead || action == ActionPost
	case RoleVisitor:
		return action == ActionRead
	default:
		return false
	}
}

// Normalize maps a stored membership role to a Role. Non-members and unknown
// values are visitors.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleMember, RoleAmbassador:
		return Role(role)
	default:
		return RoleVisitor
	}
}

// CanDeletePost reports whether role may remove a post. Authors may always
// remove their own posts.
func CanDeletePost(role Role, isAuthor bool) bool {
	return isAuthor || Can(role, ActionModerate)
}
