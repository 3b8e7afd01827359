package repository

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/charlesng35/campusync/internal/models"
	apperrors "github.com/charlesng35/campusync/pkg/errors"
)

// immutableFields are managed by the repository and ignored in patches.
var immutableFields = []string{"id", "createdAt", "updatedAt"}

// applyPatch decodes changes onto a copy of current, keyed by json field names.
func applyPatch[T any, P interface {
	*T
	models.Entity
}](current T, changes map[string]any, now time.Time) (T, error) {
	next := current
	base := P(&next).Base()
	id, createdAt := base.ID, base.CreatedAt

	patch := make(map[string]any, len(changes))
	for key, value := range changes {
		patch[key] = value
	}
	for _, key := range immutableFields {
		delete(patch, key)
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:     &next,
		TagName:    "json",
		Squash:     true,
		ZeroFields: true,
		DecodeHook: mapstructure.StringToTimeHookFunc(time.RFC3339),
	})
	if err != nil {
		return current, fmt.Errorf("repository: patch decoder: %w", err)
	}
	if err := decoder.Decode(patch); err != nil {
		return current, apperrors.NewValidation(err.Error(), nil)
	}

	base = P(&next).Base()
	base.ID = id
	base.CreatedAt = createdAt
	base.Touch(now)
	return next, nil
}
