package models

// Contact is a person attached to a property. The table is owned by the CRM; this
// service only reads it.
type Contact struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	PropertyID  uint   `gorm:"not null;index:idx_contacts_property_id" json:"property_id"`
	Role        string `gorm:"size:50;not null" json:"role"`
	FullName    string `gorm:"size:255" json:"full_name"`
	PhoneNumber string `gorm:"size:32" json:"phone_number"`
}

// TableName returns the table name for the model
func (Contact) TableName() string {
	return "contacts"
}
