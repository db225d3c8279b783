package domain

// Link is an account on an application, owned by at most one
// identity.
type Link struct {
	ID         string
	IdentityID string

	Application    string
	Instance       *string
	NativeIdentity string
	UUID           *string
	DisplayName    *string

	// Attributes holds aggregated account attributes. Multi-valued
	// attributes are []string.
	Attributes map[string]any

	// Key1..Key4 are the indexed copies of schema attributes flagged
	// as correlation keys.
	Key1, Key2, Key3, Key4 *string

	DirectPermissions []Permission
	TargetPermissions []Permission
}

// Attribute returns an account attribute, nil when unset.
func (l *Link) Attribute(name string) any {
	if l.Attributes == nil {
		return nil
	}
	return l.Attributes[name]
}

// KeyColumn returns the key column name for a correlation key index
// (1 through 4), empty string otherwise.
func KeyColumn(index int) string {
	switch index {
	case 1:
		return "key1"
	case 2:
		return "key2"
	case 3:
		return "key3"
	case 4:
		return "key4"
	default:
		return ""
	}
}

// Link field names used by predicates.
const (
	LinkFieldIdentityID     = "identity_id"
	LinkFieldApplication    = "application"
	LinkFieldInstance       = "instance"
	LinkFieldNativeIdentity = "native_identity"
	LinkFieldDisplayName    = "display_name"
	LinkFieldUUID           = "uuid"
)

// LinkField resolves predicate field names for the memory link store.
func LinkField(l *Link, name string) any {
	switch name {
	case "id":
		return l.ID
	case LinkFieldIdentityID:
		return l.IdentityID
	case LinkFieldApplication:
		return l.Application
	case LinkFieldInstance:
		return strPtrValue(l.Instance)
	case LinkFieldNativeIdentity:
		return l.NativeIdentity
	case LinkFieldDisplayName:
		return strPtrValue(l.DisplayName)
	case LinkFieldUUID:
		return strPtrValue(l.UUID)
	case "key1":
		return strPtrValue(l.Key1)
	case "key2":
		return strPtrValue(l.Key2)
	case "key3":
		return strPtrValue(l.Key3)
	case "key4":
		return strPtrValue(l.Key4)
	default:
		// Fall through to aggregated attributes so correlation
		// conditions can reference schema attribute names directly.
		return l.Attribute(name)
	}
}
