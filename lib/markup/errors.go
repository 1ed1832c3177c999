package markup

import (
	"errors"
	"fmt"
	"strings"
)

// ErrTemplate is the sentinel every TemplateError unwraps to.
var ErrTemplate = errors.New("panel: invalid template")

// TemplateError reports a template that cannot be compiled.
//
// Message is written for the component author and says how to fix the
// problem. Fragment is the offending markup (an opening tag or a control
// statement). Name and Attr identify the property or method and the
// attribute involved, when there is one.
type TemplateError struct {
	Message  string
	Fragment string
	Name     string
	Attr     string
}

func (e *TemplateError) Error() string {
	if e.Fragment == "" {
		return "panel: template: " + e.Message
	}
	return fmt.Sprintf("panel: template: %s\n\n    %s", e.Message, strings.TrimSpace(e.Fragment))
}

func (e *TemplateError) Unwrap() error { return ErrTemplate }

func errorf(fragment, format string, args ...any) *TemplateError {
	return &TemplateError{Message: fmt.Sprintf(format, args...), Fragment: fragment}
}
