package ai

import "github.com/kiranshivaraju/casefile/pkg/models"

// Provider errors. They alias the models sentinels so provider packages can
// return them without importing this package.
var (
	ErrProviderUnavailable = models.ErrProviderUnavailable
	ErrInferenceTimeout    = models.ErrInferenceTimeout
	ErrInvalidResponse     = models.ErrInvalidResponse
	ErrRefused             = models.ErrRefused
)
