package domain

import "errors"

var (
	// ErrBankNotFound indicates the question bank could not be loaded.
	ErrBankNotFound = errors.New("question bank not found")
	// ErrEmptyBank indicates a bank with no questions was loaded.
	ErrEmptyBank = errors.New("question bank has no questions")
)
