package service

import "carpihogar-assistant/internal/models"

// MissingData lists the inputs still required before a temp order can be created
type MissingData struct {
	NeedQuantity bool `json:"needQuantity,omitempty"`
	NeedAddress  bool `json:"needAddress,omitempty"`
}

// Complete reports whether nothing is missing
func (m MissingData) Complete() bool {
	return !m.NeedQuantity && !m.NeedAddress
}

// DetectMissing is pure: quantity is the representative quantity of the cart
// and addressID the resolved address, empty when none.
func DetectMissing(items []models.CartItem, addressID string, quantity int) MissingData {
	return MissingData{
		NeedQuantity: len(items) == 0 || quantity <= 0,
		NeedAddress:  addressID == "",
	}
}
