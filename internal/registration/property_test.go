package registration_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"pgregory.net/rapid"

	"confhub.org/internal/conference"
	"confhub.org/internal/notify"
	"confhub.org/internal/registration"
	"confhub.org/internal/store/memory"
)

// TestWorkflowInvariants drives random operation sequences and checks that
// seats never exceed capacity and that decided registrations never change.
func TestWorkflowInvariants(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		capacity := rapid.IntRange(1, 6).Draw(rt, "capacity")
		store := memory.New()
		if _, err := store.CreateConference(ctx, conference.Conference{ID: "conf-1", Capacity: capacity, Status: conference.StatusPublished}); err != nil {
			rt.Fatalf("create conference: %v", err)
		}
		wf := registration.NewWorkflow(store, store, notify.DispatcherFunc(func(context.Context, notify.Message) error { return nil }))

		var created []string
		final := map[string]registration.Registration{}
		steps := rapid.IntRange(1, 40).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			op := rapid.SampledFrom([]string{"attendee", "team", "approve", "reject", "cancel"}).Draw(rt, "op")
			switch op {
			case "attendee", "team":
				sub := attendee("conf-1", fmt.Sprintf("u%d@example.org", i))
				if op == "team" {
					sub = team("conf-1", fmt.Sprintf("u%d@example.org", i))
				}
				res, err := wf.Submit(ctx, sub)
				if err != nil {
					if !errors.Is(err, registration.ErrConferenceFull) {
						rt.Fatalf("submit: %v", err)
					}
					continue
				}
				created = append(created, res.Registration.ID)
				if res.Registration.Status.Terminal() {
					final[res.Registration.ID] = res.Registration
				}
			default:
				if len(created) == 0 {
					continue
				}
				id := rapid.SampledFrom(created).Draw(rt, "id")
				before, err := store.Get(ctx, id)
				if err != nil {
					rt.Fatalf("get: %v", err)
				}
				var res registration.Result
				switch op {
				case "approve":
					res, err = wf.Approve(ctx, supervisor, id, "")
				case "reject":
					res, err = wf.Reject(ctx, admin, id, "no")
				case "cancel":
					res, err = wf.Cancel(ctx, admin, id)
				}
				allowed := before.Status == registration.StatusPendingApproval
				if allowed && err != nil {
					rt.Fatalf("%s on pending %s: %v", op, id, err)
				}
				if !allowed && !errors.Is(err, registration.ErrInvalidStateTransition) {
					rt.Fatalf("%s on %s %s: want invalid transition, got %v", op, before.Status, id, err)
				}
				if err == nil {
					final[id] = res.Registration
				}
			}

			counted, err := store.CountedRegistrations(ctx, "conf-1")
			if err != nil {
				rt.Fatalf("count: %v", err)
			}
			if counted > capacity {
				rt.Fatalf("counted %d exceeds capacity %d", counted, capacity)
			}
		}

		for id, want := range final {
			got, err := store.Get(ctx, id)
			if err != nil {
				rt.Fatalf("get %s: %v", id, err)
			}
			if got.Status != want.Status || !got.UpdatedAt.Equal(want.UpdatedAt) {
				rt.Fatalf("terminal registration %s changed from %s to %s", id, want.Status, got.Status)
			}
		}
	})
}

func TestTransitionTable(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		from := rapid.SampledFrom(registration.Statuses).Draw(rt, "from")
		to := rapid.SampledFrom(registration.Statuses).Draw(rt, "to")
		ok := registration.CanTransition(from, to)
		if from.Terminal() && ok {
			rt.Fatalf("terminal status %s allows transition to %s", from, to)
		}
		if ok && to == registration.StatusPendingApproval {
			rt.Fatalf("transition back to pending from %s", from)
		}
	})
}
