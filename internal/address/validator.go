package address

import (
	"strings"
	"unicode/utf8"

	"marketplace-be/internal/apperr"
)

const (
	maxLineLength  = 255
	maxShortLength = 100
)

// Validator checks the shape of an address before it is snapshotted.
type Validator interface {
	Validate(field string, s Snapshot) (Snapshot, error)
}

type DefaultValidator struct{}

func NewValidator() Validator {
	return DefaultValidator{}
}

// Validate trims every field and requires a primary address line.
func (DefaultValidator) Validate(field string, s Snapshot) (Snapshot, error) {
	s = normalize(s)

	if s.AddressLine1 == "" {
		return s, apperr.Validation(field+".address_line1", "address line 1 is required")
	}

	fields := []struct {
		name  string
		value string
		max   int
	}{
		{"address_line1", s.AddressLine1, maxLineLength},
		{"address_line2", s.AddressLine2, maxLineLength},
		{"name", s.Name, maxShortLength},
		{"phone", s.Phone, maxShortLength},
		{"city", s.City, maxShortLength},
		{"province", s.Province, maxShortLength},
		{"postal_code", s.PostalCode, maxShortLength},
		{"country", s.Country, maxShortLength},
	}
	for _, f := range fields {
		if utf8.RuneCountInString(f.value) > f.max {
			return s, apperr.Validation(field+"."+f.name, "too long")
		}
	}

	return s, nil
}

func normalize(s Snapshot) Snapshot {
	return Snapshot{
		Name:         strings.TrimSpace(s.Name),
		Phone:        strings.TrimSpace(s.Phone),
		AddressLine1: strings.TrimSpace(s.AddressLine1),
		AddressLine2: strings.TrimSpace(s.AddressLine2),
		City:         strings.TrimSpace(s.City),
		Province:     strings.TrimSpace(s.Province),
		PostalCode:   strings.TrimSpace(s.PostalCode),
		Country:      strings.ToUpper(strings.TrimSpace(s.Country)),
	}
}
