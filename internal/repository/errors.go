package repository

import (
	"errors"
	"fmt"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountExists   = errors.New("account already exists")
)

// InsufficientBalanceError carries the numbers the caller needs to build a
// useful rejection message.
type InsufficientBalanceError struct {
	Balance int64
	Cost    int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient points: have %d, need %d", e.Balance, e.Cost)
}
