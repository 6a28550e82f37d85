package api

import (
	"errors"
	"net/http"

	"github.com/Mindburn-Labs/roseglass/pkg/apierror"
	"github.com/Mindburn-Labs/roseglass/pkg/cocreate"
	"github.com/Mindburn-Labs/roseglass/pkg/policy"
	"github.com/Mindburn-Labs/roseglass/pkg/reflection"
	"github.com/Mindburn-Labs/roseglass/pkg/store"
)

// writeServiceError maps workflow errors onto problem responses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr   *reflection.ValidationError
		credit *cocreate.InsufficientCreditsError
		denial *policy.Denial
		gen    *cocreate.GenerationError
	)
	switch {
	case errors.As(err, &verr):
		apierror.WriteValidation(w, r, verr.Error(), verr.Fields())
	case errors.Is(err, reflection.ErrReflectionRequired):
		apierror.WriteReflectionRequired(w, r, err.Error(), reflection.StructuredPrompts())
	case errors.Is(err, reflection.ErrReflectionAlreadyRecorded):
		apierror.WriteConflict(w, r, err.Error())
	case errors.As(err, &credit):
		apierror.WritePaymentRequired(w, r, credit.Error(), credit.Required.String())
	case errors.As(err, &denial):
		apierror.WriteBadRequest(w, r, denial.Reason)
	case errors.Is(err, store.ErrNotFound):
		apierror.WriteNotFound(w, r, "Not found")
	case errors.As(err, &gen):
		apierror.WriteBadGateway(w, r, err)
	case errors.Is(err, cocreate.ErrInvalidPayment):
		apierror.WriteBadRequest(w, r, err.Error())
	default:
		apierror.WriteInternal(w, r, err)
	}
}
