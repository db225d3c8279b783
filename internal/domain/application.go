package domain

// Application is a connected system accounts are aggregated from.
type Application struct {
	ID   string
	Name string

	AccountSchema Schema

	// NoRandomAccess marks connectors that cannot serve targeted
	// reads; catalog promotion still works, explanation refresh
	// queries do not.
	NoRandomAccess bool
}

// Schema describes the account attributes an application exposes.
type Schema struct {
	Attributes []SchemaAttribute
}

// SchemaAttribute is one attribute definition on an account schema.
type SchemaAttribute struct {
	Name        string
	MultiValued bool
	// Managed attributes are promoted into the catalog.
	Managed bool
	// Entitlement attributes are requestable once promoted.
	Entitlement bool
	// CorrelationKey > 0 maps the attribute to the numbered key
	// column on the account row.
	CorrelationKey int
}

// Attribute finds a schema attribute by name, nil when absent.
func (s Schema) Attribute(name string) *SchemaAttribute {
	for i := range s.Attributes {
		if s.Attributes[i].Name == name {
			return &s.Attributes[i]
		}
	}
	return nil
}

// ManagedAttributes lists the attributes flagged for catalog
// promotion.
func (s Schema) ManagedAttributes() []SchemaAttribute {
	var out []SchemaAttribute
	for _, a := range s.Attributes {
		if a.Managed {
			out = append(out, a)
		}
	}
	return out
}
