package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/amirphl/yamata-dialer/models"
	"gorm.io/gorm"
)

// ContactRepositoryImpl implements ContactRepository interface
type ContactRepositoryImpl struct {
	DB *gorm.DB
}

// NewContactRepository creates a new contact repository
func NewContactRepository(db *gorm.DB) ContactRepository {
	return &ContactRepositoryImpl{DB: db}
}

// ListByPropertyAndRoles returns the property's contacts whose role is one of roles (case-insensitive).
// An empty roles list matches every contact of the property.
func (r *ContactRepositoryImpl) ListByPropertyAndRoles(ctx context.Context, propertyID uint, roles []string) ([]*models.Contact, error) {
	db := r.DB.WithContext(ctx)
	if tx, ok := ctx.Value(TxContextKey).(*gorm.DB); ok && tx != nil {
		db = tx.WithContext(ctx)
	}

	query := db.Model(&models.Contact{}).Where("property_id = ?", propertyID)
	if len(roles) > 0 {
		lowered := make([]string, 0, len(roles))
		for _, role := range roles {
			lowered = append(lowered, strings.ToLower(role))
		}
		query = query.Where("LOWER(role) IN ?", lowered)
	}

	var contacts []*models.Contact
	if err := query.Order("id ASC").Find(&contacts).Error; err != nil {
		return nil, fmt.Errorf("failed to list contacts of property %d: %w", propertyID, err)
	}
	return contacts, nil
}
