package gitvcs

import (
	"strings"
	"time"

	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/kilupskalvis/vcsmine/internal/models"
)

// validText replaces invalid UTF-8 sequences with U+FFFD.
func validText(s string) string {
	return strings.ToValidUTF8(s, "\uFFFD")
}

func person(sig object.Signature) models.Person {
	return models.Person{Name: validText(sig.Name), Email: validText(sig.Email)}
}

// offsetMinutes returns the offset of t's zone in minutes east of UTC.
func offsetMinutes(t time.Time) int {
	_, off := t.Zone()
	return off / 60
}
