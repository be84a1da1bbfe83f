package conf

import (
	"github.com/classtrack/classtrack-go/internal/errors"
)

// ValidateSettings checks the loaded settings for values the application
// cannot run with.
func ValidateSettings(settings *Settings) error {
	if settings.Recognition.Mode != ModeDistance && settings.Recognition.Mode != ModeSimilarity {
		return errors.Newf("recognition.mode must be %q or %q, got %q",
			ModeDistance, ModeSimilarity, settings.Recognition.Mode).
			Component("conf").
			Category(errors.CategoryValidation).
			Build()
	}

	if settings.Recognition.DistanceThreshold <= 0 {
		return errors.Newf("recognition.distancethreshold must be positive").
			Component("conf").
			Category(errors.CategoryValidation).
			Build()
	}

	if settings.Recognition.SimilarityThreshold <= 0 || settings.Recognition.SimilarityThreshold > 1 {
		return errors.Newf("recognition.similaritythreshold must be in (0, 1]").
			Component("conf").
			Category(errors.CategoryValidation).
			Build()
	}

	if settings.Recognition.FrameStride < 1 {
		settings.Recognition.FrameStride = 1
	}

	if !settings.Output.SQLite.Enabled && !settings.Output.MySQL.Enabled {
		return errors.Newf("no datastore enabled, enable output.sqlite or output.mysql").
			Component("conf").
			Category(errors.CategoryValidation).
			Build()
	}

	if settings.HTTP.Port < 1 || settings.HTTP.Port > 65535 {
		return errors.Newf("http.port %d is out of range", settings.HTTP.Port).
			Component("conf").
			Category(errors.CategoryValidation).
			Build()
	}

	return nil
}
