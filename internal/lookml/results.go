package lookml

import "github.com/leapstack-labs/lookcheck/pkg/core"

// Results serializes the tree for a validator run. Only explores matched by
// sel are reported; a nil sel reports everything.
func (p *Project) Results(validator string, failFast bool, sel Selectors) core.Result {
	res := core.Result{
		Validator: validator,
		Tested:    []core.TestResult{},
		Errors:    []core.ErrorResult{},
	}

	for _, m := range p.Models {
		// model-level errors reference explores outside the tree
		var distinct []string
		seen := make(map[string]bool)
		for _, e := range m.Errors {
			if !sel.Match(m.Name, e.Explore) {
				continue
			}
			if !seen[e.Explore] {
				seen[e.Explore] = true
				distinct = append(distinct, e.Explore)
			}
			res.Errors = append(res.Errors, e.Result())
		}
		for _, name := range distinct {
			res.Tested = append(res.Tested, core.TestResult{Model: m.Name, Explore: name, Status: core.StatusFailed})
		}

		for _, e := range m.Explores {
			if !sel.Match(m.Name, e.Name) {
				continue
			}
			test := core.TestResult{Model: m.Name, Explore: e.Name, Status: core.StatusPassed}
			errored := e.Errored() == core.OutcomeErrored

			switch {
			case e.Skipped != "":
				test.Status = core.StatusSkipped
				test.SkipReason = e.Skipped
			case errored && validator != core.ValidatorSQL:
				test.Status = core.StatusFailed
				for _, err := range e.Errors {
					res.Errors = append(res.Errors, err.Result())
				}
			case errored && failFast:
				test.Status = core.StatusFailed
				if len(e.Errors) > 0 {
					res.Errors = append(res.Errors, e.Errors[0].Result())
				} else if fields := e.ErroredFields(); len(fields) > 0 {
					res.Errors = append(res.Errors, fields[0].Errors[0].Result())
				}
			case errored:
				var relevant []core.ErrorResult
				for _, f := range e.Fields {
					for _, err := range f.Errors {
						if !err.Ignore {
							relevant = append(relevant, err.Result())
						}
					}
				}
				for _, err := range e.Errors {
					if !err.Ignore {
						relevant = append(relevant, err.Result())
					}
				}
				if len(relevant) > 0 {
					test.Status = core.StatusFailed
					res.Errors = append(res.Errors, relevant...)
				}
			}

			res.Successes = append(res.Successes, e.Successes...)
			res.Tested = append(res.Tested, test)
		}
	}

	res.Status = core.StatusOf(res.Tested)
	return res
}
