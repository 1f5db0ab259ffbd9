package replay

import "errors"

// ErrInvalidOrdering is returned when ticks are not strictly increasing in time.
var ErrInvalidOrdering = errors.New("ticks are not in strictly increasing time order")

// ErrEmptyScenario is returned when a scenario has no agents or no ticks.
var ErrEmptyScenario = errors.New("scenario has no agents or no ticks")
