package runtime

import (
	"fmt"
	"strings"
)

// CycleError reports a scenario invoking itself, directly or transitively.
type CycleError struct {
	Chain []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("scenario invocation cycle: %s", strings.Join(e.Chain, " -> "))
}

// InvocationStack tracks the chain of test IDs currently being invoked so
// that recursive invoke_scenario steps cannot loop forever.
type InvocationStack struct {
	ids []string
}

// Push adds a test ID to the chain, failing with a CycleError when the ID
// is already active.
func (s *InvocationStack) Push(testID string) error {
	for _, id := range s.ids {
		if id == testID {
			return &CycleError{Chain: append(append([]string{}, s.ids...), testID)}
		}
	}
	s.ids = append(s.ids, testID)
	return nil
}

// Pop removes the most recently pushed ID. Callers defer this immediately
// after a successful Push so the chain unwinds on every exit path.
func (s *InvocationStack) Pop() {
	if len(s.ids) > 0 {
		s.ids = s.ids[:len(s.ids)-1]
	}
}

// Depth is the number of active invocations.
func (s *InvocationStack) Depth() int {
	return len(s.ids)
}
