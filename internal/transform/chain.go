package transform

import (
	"fmt"
	"strings"

	"github.com/ironsheep/image-loader-mcp/internal/bitmap"
	"github.com/ironsheep/image-loader-mcp/internal/failure"
	"github.com/ironsheep/image-loader-mcp/internal/request"
)

// FatalFunc receives transformation contract violations. It is called on its
// own goroutine so the hunter that found the violation can finish and report
// a failed outcome first.
type FatalFunc func(err error)

// PanicFatal is the default FatalFunc: it crashes the process.
func PanicFatal(err error) {
	panic(err)
}

// Apply runs ts over bmp in order and returns the final bitmap.
//
// After each step the result is checked: a nil bitmap, the input handed back
// after being released, or a new bitmap while the input is still live are all
// violations. On a violation report is invoked asynchronously with the
// ContractViolation error, which Apply also returns in place of a bitmap.
func Apply(ts []request.Transformation, bmp *bitmap.Bitmap, report FatalFunc) (*bitmap.Bitmap, error) {
	if report == nil {
		report = PanicFatal
	}

	fail := func(i int, what string) (*bitmap.Bitmap, error) {
		err := violation(ts, i, what)
		go report(err)
		return nil, err
	}

	result := bmp
	for i, t := range ts {
		next, panicked := run(t, result)
		if panicked != nil {
			return fail(i, fmt.Sprintf("crashed with exception: %v", panicked))
		}

		switch {
		case next == nil:
			return fail(i, fmt.Sprintf("returned nil after %d previous transformation(s)", i))
		case next == result && result.IsReleased():
			return fail(i, "returned input bitmap but released it")
		case next != result && !result.IsReleased():
			return fail(i, "mutated input bitmap but failed to release the original")
		}
		result = next
	}
	return result, nil
}

func run(t request.Transformation, in *bitmap.Bitmap) (out *bitmap.Bitmap, panicked any) {
	defer func() {
		if r := recover(); r != nil {
			panicked = r
		}
	}()
	return t.Transform(in), nil
}

func violation(ts []request.Transformation, i int, what string) error {
	keys := make([]string, len(ts))
	for j, t := range ts {
		keys[j] = t.Key()
	}
	err := fmt.Errorf("transformation %s (index %d) %s; transformation list: [%s]",
		ts[i].Key(), i, what, strings.Join(keys, ", "))
	return failure.New(failure.ContractViolation, "transform", err)
}
