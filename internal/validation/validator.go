package validation

import (
	"fmt"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-product-relay/internal/product"
)

// New returns a configured validator with custom struct-level validation registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// register struct-level validation for product payloads so a title made
	// of whitespace or an image without an http(s) source is rejected at intake.
	v.RegisterStructValidation(payloadStructValidation, product.Payload{})

	return v
}

// payloadStructValidation checks the fields tags cannot express.
func payloadStructValidation(sl validatorv10.StructLevel) {
	p := sl.Current().Interface().(product.Payload)

	if strings.TrimSpace(p.Title) == "" {
		sl.ReportError(p.Title, "title", "Title", "not_blank", "")
	}

	for i, img := range p.Images {
		src := strings.TrimSpace(img.Src)
		if src == "" {
			// empty sources are skipped by the normalizer
			continue
		}
		if !strings.HasPrefix(src, "https://") && !strings.HasPrefix(src, "http://") {
			sl.ReportError(img.Src, fmt.Sprintf("images[%d].src", i), "Src", "http_url", src)
		}
	}
}
