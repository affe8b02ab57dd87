package project

import "errors"

var (
	ErrDuplicateClip = errors.New("clip already exists")
	ErrClipNotFound  = errors.New("clip not found")
	ErrClipLimit     = errors.New("clip limit reached for tier")
)
