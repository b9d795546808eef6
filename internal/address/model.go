package address

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// Snapshot is an address captured by value at order creation. Orders keep
// their own copy; later edits to a customer's address book never reach it.
type Snapshot struct {
	Name         string `json:"name,omitempty"`
	Phone        string `json:"phone,omitempty"`
	AddressLine1 string `json:"address_line1"`
	AddressLine2 string `json:"address_line2,omitempty"`
	City         string `json:"city,omitempty"`
	Province     string `json:"province,omitempty"`
	PostalCode   string `json:"postal_code,omitempty"`
	Country      string `json:"country,omitempty"`
}

func (s Snapshot) IsZero() bool {
	return s == Snapshot{}
}

// Value stores the snapshot as JSONB.
func (s Snapshot) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *Snapshot) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*s = Snapshot{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("address: cannot scan %T into Snapshot", src)
	}

	if len(raw) == 0 {
		*s = Snapshot{}
		return nil
	}

	if err := json.Unmarshal(raw, s); err != nil {
		return errors.Join(errors.New("address: invalid snapshot json"), err)
	}
	return nil
}
