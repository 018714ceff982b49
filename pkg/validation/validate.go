package validation

import (
	"regexp"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate *validator.Validate
	once     sync.Once
)

// giftCardCodeRegex matches dash-separated groups of four symbols from the
// unambiguous code alphabet (no 0/O or 1/I)
var giftCardCodeRegex = regexp.MustCompile(`^[2-9A-HJ-NP-Z]{4}(-[2-9A-HJ-NP-Z]{4}){2}$`)

// Validator returns the shared validator instance with custom rules registered
func Validator() *validator.Validate {
	once.Do(func() {
		validate = validator.New()
		_ = validate.RegisterValidation("gift_card_code", validateGiftCardCode)
	})
	return validate
}

// ValidateStruct validates a struct and converts failures to a ValidationError
func ValidateStruct(s interface{}) error {
	if err := Validator().Struct(s); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			return NewValidationError(verrs)
		}
		return err
	}
	return nil
}

func validateGiftCardCode(fl validator.FieldLevel) bool {
	return giftCardCodeRegex.MatchString(fl.Field().String())
}
