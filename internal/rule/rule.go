// Package rule defines the rule execution boundary. The engine never
// interprets rule source itself; it hands a rule name and inputs to a
// Runner and works with whatever comes back.
package rule

import "context"

// Runner executes a named rule with the given inputs. A nil result
// with a nil error means the rule declined to answer.
type Runner interface {
	Run(ctx context.Context, name string, inputs map[string]any) (any, error)
}

// Func adapts a function to Runner.
type Func func(ctx context.Context, name string, inputs map[string]any) (any, error)

// Run implements Runner.
func (f Func) Run(ctx context.Context, name string, inputs map[string]any) (any, error) {
	return f(ctx, name, inputs)
}

// Fake is a canned-result runner for tests. Results are keyed by rule
// name; unknown names return nil.
type Fake struct {
	Results map[string]any
	Errs    map[string]error
	Calls   []string
}

// Run implements Runner.
func (f *Fake) Run(ctx context.Context, name string, inputs map[string]any) (any, error) {
	f.Calls = append(f.Calls, name)
	if err, ok := f.Errs[name]; ok {
		return nil, err
	}
	return f.Results[name], nil
}
