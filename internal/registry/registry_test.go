package registry

import (
	"sync"
	"testing"
)

func TestBeginUpdateEnd(t *testing.T) {
	r := New()

	r.Begin("team-1", "F-1", "implement")
	r.Update("team-1", "verify")

	active := r.Active()
	if len(active) != 1 {
		t.Fatalf("Active() = %d entries, want 1", len(active))
	}
	if active[0].FeatureID != "F-1" || active[0].Phase != "verify" {
		t.Fatalf("entry = %+v, want F-1 in verify", active[0])
	}

	r.End("team-1")
	if len(r.Active()) != 0 {
		t.Fatal("Active() not empty after End")
	}

	// End and Update for unknown teams are no-ops.
	r.End("team-9")
	r.Update("team-9", "verify")
}

func TestConcurrentAccess(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			teamID := "team"
			r.Begin(teamID, "F-1", "implement")
			r.Update(teamID, "verify")
			r.Active()
			r.End(teamID)
		}(i)
	}
	wg.Wait()
	if len(r.Active()) != 0 {
		t.Fatal("registry not empty after concurrent churn")
	}
}
