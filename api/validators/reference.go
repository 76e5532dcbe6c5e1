package validators

import (
	"strings"

	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
)

// referenceRule accepts the references this service issues (SF-<date>-<suffix>)
// as well as gateway-generated ones, while keeping path separators and query
// characters out.
const referenceRule = "required,max=64,printascii,excludesall= /?#%"

// PaymentReference trims a reference taken from the URL and rejects values
// that could not have been issued as a payment reference.
func PaymentReference(raw string) (string, error) {
	ref := strings.TrimSpace(raw)
	if err := validate.Var(ref, referenceRule); err != nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "invalid payment reference").
			WithDetails(map[string]string{"reference": "must be 1-64 printable characters without spaces or path separators"})
	}
	return ref, nil
}
