package utils

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// ErrEmptyPhoneNumber is returned for blank input
var ErrEmptyPhoneNumber = errors.New("phone number cannot be empty")

// NormalizePhone parses phone in the context of defaultRegion and returns it in E.164 form.
// Numbers already carrying a leading + ignore the region.
func NormalizePhone(phone, defaultRegion string) (string, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "", ErrEmptyPhoneNumber
	}
	if defaultRegion == "" {
		defaultRegion = "US"
	}

	parsed, err := phonenumbers.Parse(phone, strings.ToUpper(defaultRegion))
	if err != nil {
		return "", fmt.Errorf("failed to parse phone number: %w", err)
	}
	if !phonenumbers.IsValidNumber(parsed) {
		return "", fmt.Errorf("invalid phone number %q", phone)
	}

	return phonenumbers.Format(parsed, phonenumbers.E164), nil
}
