package resource

import (
	"errors"
	"fmt"
)

// Step is one independent teardown action.
type Step struct {
	Name string
	Run  func() error
}

// Teardown runs every step in order. A failing or panicking step does not
// prevent the remaining ones; their errors are joined.
func Teardown(steps ...Step) error {
	var errs []error
	for _, step := range steps {
		if err := runStep(step); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func runStep(step Step) (err error) {
	if step.Run == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", step.Name, r)
		}
	}()
	if e := step.Run(); e != nil {
		return fmt.Errorf("%s: %w", step.Name, e)
	}
	return nil
}
