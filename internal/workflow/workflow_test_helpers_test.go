package workflow

import (
	"go.temporal.io/sdk/testsuite"

	"github.com/edvin/fleet/internal/activity"
)

// registerActivities registers the activity structs with the test workflow
// environment. Activities are mocked via OnActivity in unit tests, but the
// framework still needs their signatures to decode parameters and results.
func registerActivities(env *testsuite.TestWorkflowEnvironment) {
	env.RegisterActivity(&activity.CoreDB{})
}
