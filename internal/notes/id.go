package notes

import (
	"fmt"

	"github.com/google/uuid"
)

// IDProvider issues change journal identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// IDProviderFunc adapts a function to IDProvider.
type IDProviderFunc func() (string, error)

func (f IDProviderFunc) NewID() (string, error) {
	return f()
}

// NewUUIDProvider returns an IDProvider issuing UUIDv7 change ids, which sort
// by creation time within the journal.
func NewUUIDProvider() IDProvider {
	return IDProviderFunc(func() (string, error) {
		changeID, err := uuid.NewV7()
		if err != nil {
			return "", fmt.Errorf("change id: %w", err)
		}
		return changeID.String(), nil
	})
}
