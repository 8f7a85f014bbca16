package service

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/straye-as/pipeline-engine/internal/domain"
	"gorm.io/gorm"
)

// notFoundOr converts a missing-row error into a NotFoundError with the given code,
// and wraps anything else as an infrastructure failure.
func notFoundOr(err error, code domain.ErrorCode, entity string, id uuid.UUID) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.NewNotFoundError(code, entity, id)
	}
	return fmt.Errorf("failed to load %s: %w", entity, err)
}

// isNotFound reports whether err is a missing-row error from the store
func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
