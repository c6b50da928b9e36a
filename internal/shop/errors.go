package shop

import "errors"

var (
	// ErrInsufficientFunds is returned when a purchase costs more than the
	// balance at transaction time.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrItemNotOwned is returned when activating an item with no remaining
	// quantity.
	ErrItemNotOwned = errors.New("item not owned")

	// ErrUnknownItem is returned for ids not present in the catalog.
	ErrUnknownItem = errors.New("unknown shop item")
)
