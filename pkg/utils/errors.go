package utils

import (
	"errors"

	pkgError "github.com/AzielCF/az-crm/pkg/error"
	"gorm.io/gorm"
)

// PanicIfNeeded hands err to the Recovery middleware. Typed errors keep their
// status code; everything else renders as a 500.
func PanicIfNeeded(err error) {
	if err == nil {
		return
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		panic(pkgError.NotFoundError(err.Error()))
	}
	var generic pkgError.GenericError
	if errors.As(err, &generic) {
		panic(generic)
	}
	panic(pkgError.InternalServerError(err.Error()))
}
