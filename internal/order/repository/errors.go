package repository

import "errors"

// ErrOrderNotFound is returned by writes that target an order id with no row.
var ErrOrderNotFound = errors.New("order not found")
