package storage_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/browserpilot/engine/session"
	"github.com/browserpilot/engine/storage"
)

// Property: Session Persistence Round-Trip Consistency
// Grounded on the teacher's checkpoint round-trip property test
// (agent/checkpoint_property_test.go): saving a serialized session to the
// store and loading it back must reproduce the exact same serialization,
// per spec.md §8's "serialize(session) -> deserialize -> serialize" bound.
func TestProperty_SessionRoundTripConsistency(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("save then load a session blob reproduces the original serialization", prop.ForAll(
		func(id, instruction string, maxSteps int, state session.LifecycleState) bool {
			ctx := context.Background()
			store := storage.NewMemoryStore()

			sess := session.NewSession(session.Config{MaxSteps: maxSteps, MaxFailures: 3, PlanningInterval: 5})
			sess.ID = id
			sess.State = state
			sess.NewTask(instruction)
			sess.CreatedAt = time.Unix(0, 0).UTC()
			sess.UpdatedAt = time.Unix(0, 0).UTC()
			sess.Tasks[0].CreatedAt = time.Unix(0, 0).UTC()
			sess.Tasks[0].UpdatedAt = time.Unix(0, 0).UTC()

			original, err := json.Marshal(sess)
			if err != nil {
				t.Logf("marshal failed: %v", err)
				return false
			}

			if err := store.SaveSession(ctx, id, original); err != nil {
				t.Logf("save failed: %v", err)
				return false
			}

			loaded, err := store.LoadSession(ctx, id)
			if err != nil {
				t.Logf("load failed: %v", err)
				return false
			}

			var roundTripped session.Session
			if err := json.Unmarshal(loaded, &roundTripped); err != nil {
				t.Logf("unmarshal failed: %v", err)
				return false
			}
			reserialized, err := json.Marshal(&roundTripped)
			if err != nil {
				t.Logf("reserialize failed: %v", err)
				return false
			}

			if string(reserialized) != string(original) {
				t.Logf("round trip mismatch:\n  original: %s\n  got:      %s", original, reserialized)
				return false
			}
			return true
		},
		gen.Identifier(),
		gen.AlphaString(),
		gen.IntRange(1, 100),
		gen.OneConstOf(session.StateIdle, session.StatePlanning, session.StateWaitingForBrowser, session.StatePaused, session.StateCompleted, session.StateError),
	))

	properties.TestingRun(t)
}
