package buffs

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate rejects bookings whose title, region, source or requester name
// fall outside the accepted sets. It runs before any store access so that
// invalid input never reaches persistence.
func Validate(b Booking) error {
	err := validate.Struct(b)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	for _, fe := range verrs {
		switch fe.Field() {
		case "Title":
			return ErrInvalidTitle
		case "Region":
			return ErrInvalidRegion
		case "RequesterName":
			return ErrInvalidRequester
		case "Source":
			return ErrInvalidSource
		}
	}
	return err
}

// SanitizeName trims the requester name and strips markdown control
// characters, mirroring what the chat front ends do before display.
func SanitizeName(name string) string {
	name = strings.TrimSpace(name)
	repl := strings.NewReplacer("*", "", "_", "", "`", "", "~", "", "|", "")
	return repl.Replace(name)
}
