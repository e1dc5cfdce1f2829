package models

import "sort"

// Role is a database role as seen by the role-category audit. Roles are
// created while the snapshot is under construction and are immutable once
// the snapshot is frozen.
type Role struct {
	Name          string   `json:"name"`
	IsSuperuser   bool     `json:"is_superuser"`
	CanLogin      bool     `json:"can_login"`
	CanCreateDB   bool     `json:"can_create_db"`
	CanCreateRole bool     `json:"can_create_role"`
	MemberOf      []string `json:"member_of,omitempty"`
}

// GrantSet maps a grantee to the set of privileges it holds on one object.
// Privileges are kept sorted and deduplicated.
type GrantSet map[string][]string

// Add records a privilege for a grantee, keeping the list sorted and unique.
func (g GrantSet) Add(grantee, privilege string) {
	privs := g[grantee]
	for _, p := range privs {
		if p == privilege {
			return
		}
	}
	privs = append(privs, privilege)
	sort.Strings(privs)
	g[grantee] = privs
}

// Grantees returns the grantee names in sorted order.
func (g GrantSet) Grantees() []string {
	names := make([]string, 0, len(g))
	for name := range g {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SchemaEntity is a schema with its ownership and grants.
type SchemaEntity struct {
	Name   string   `json:"name"`
	Owner  string   `json:"owner"`
	Grants GrantSet `json:"grants,omitempty"`
}

// NewSchemaEntity creates a schema entity with an empty grant set.
func NewSchemaEntity(name, owner string) *SchemaEntity {
	return &SchemaEntity{Name: name, Owner: owner, Grants: make(GrantSet)}
}

// TableEntity is a table with its ownership, grants, and sensitivity flag.
// IsSensitive is derived from a name-pattern match at audit time.
type TableEntity struct {
	Schema      string   `json:"schema"`
	Name        string   `json:"name"`
	Owner       string   `json:"owner"`
	Grants      GrantSet `json:"grants,omitempty"`
	IsSensitive bool     `json:"is_sensitive"`
}

// NewTableEntity creates a table entity with an empty grant set.
func NewTableEntity(schema, name, owner string) *TableEntity {
	return &TableEntity{Schema: schema, Name: name, Owner: owner, Grants: make(GrantSet)}
}

// FullName returns the schema-qualified table name.
func (t *TableEntity) FullName() string {
	return t.Schema + "." + t.Name
}
