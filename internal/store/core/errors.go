package core

import "errors"

var (
	// ErrNotFound: la entidad no existe.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict: violación de unicidad (ej: (userId, roleId) duplicado).
	ErrConflict = errors.New("store: conflict")

	// ErrAlreadyCompleted: el CAS sobre is_completed falló porque la
	// AuthSession ya fue canjeada. Garantiza at-most-once exchange por código.
	ErrAlreadyCompleted = errors.New("store: auth session already completed")
)

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
