package validate_test

import (
	"strings"
	"testing"

	"github.com/carvexyz/carve/business/sys/validate"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func TestCheck(t *testing.T) {
	type lookup struct {
		Email string `json:"email" validate:"required,email"`
	}

	t.Log("Given the need to validate request models.")
	{
		err := validate.Check(lookup{Email: "bill@example.com"})
		if err != nil {
			t.Fatalf("\t%s\tShould accept a valid model: %s", failed, err)
		}
		t.Logf("\t%s\tShould accept a valid model.", success)

		err = validate.Check(lookup{Email: "not-an-email"})
		if !validate.IsFieldErrors(err) {
			t.Fatalf("\t%s\tShould return field errors: %v", failed, err)
		}
		fields := validate.GetFieldErrors(err).Fields()
		if _, exists := fields["email"]; !exists {
			t.Fatalf("\t%s\tShould name the field by its json tag: %v", failed, fields)
		}
		t.Logf("\t%s\tShould name the field by its json tag.", success)
	}
}

func TestCheckID(t *testing.T) {
	t.Log("Given the need to validate carving ids.")
	{
		good := strings.Repeat("a1", 32)

		if err := validate.CheckID(good); err != nil {
			t.Fatalf("\t%s\tShould accept a bare id: %s", failed, err)
		}
		if err := validate.CheckID("0x" + good); err != nil {
			t.Fatalf("\t%s\tShould accept a prefixed id: %s", failed, err)
		}
		t.Logf("\t%s\tShould accept well formed ids.", success)

		for _, bad := range []string{"", "0x1234", strings.Repeat("g", 64)} {
			if err := validate.CheckID(bad); err == nil {
				t.Fatalf("\t%s\tShould reject %q.", failed, bad)
			}
		}
		t.Logf("\t%s\tShould reject malformed ids.", success)
	}
}
