package models

import (
	"database/sql/driver"
	"slices"
	"strings"

	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// ContactRoles is the set of contact roles a campaign calls, stored as a text array
type ContactRoles []string

// Value implements the driver.Valuer interface for ContactRoles
func (r ContactRoles) Value() (driver.Value, error) {
	if r == nil {
		return "{}", nil
	}
	return pq.StringArray(r).Value()
}

// Scan implements the sql.Scanner interface for ContactRoles
func (r *ContactRoles) Scan(value any) error {
	var arr pq.StringArray
	if err := arr.Scan(value); err != nil {
		return err
	}
	*r = ContactRoles(arr)
	return nil
}

// GormDBDataType picks a native array on PostgreSQL and a plain text column elsewhere
func (ContactRoles) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "text[]"
	}
	return "text"
}

// Has reports whether role is part of the set, ignoring case
func (r ContactRoles) Has(role string) bool {
	role = strings.ToLower(strings.TrimSpace(role))
	return slices.ContainsFunc(r, func(s string) bool {
		return strings.ToLower(s) == role
	})
}

// Normalized returns lower-cased, de-duplicated roles
func (r ContactRoles) Normalized() ContactRoles {
	out := make(ContactRoles, 0, len(r))
	for _, role := range r {
		role = strings.ToLower(strings.TrimSpace(role))
		if role == "" || slices.Contains(out, role) {
			continue
		}
		out = append(out, role)
	}
	return out
}
