package common

import (
	"github.com/google/uuid"
)

// NewRunID generates a unique run owner id with the "run_" prefix.
// Used as the owner identity on run locks so a crash-recovered run
// can be told apart from the process that originally held the lock.
func NewRunID() string {
	return "run_" + uuid.New().String()
}
