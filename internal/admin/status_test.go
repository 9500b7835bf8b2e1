package admin_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nullmetric/protocore/internal/admin"
)

type fakeLRCP struct{ sessions int }

func (f fakeLRCP) Sessions() int { return f.sessions }

type fakeJobCentre struct {
	jobs   int
	queues map[string]int
}

func (f fakeJobCentre) JobCount() int               { return f.jobs }
func (f fakeJobCentre) QueueDepths() map[string]int { return f.queues }

func TestStatusHandlerReportsLiveCounts(t *testing.T) {
	t.Parallel()

	lrcp := fakeLRCP{sessions: 3}
	jc := fakeJobCentre{jobs: 7, queues: map[string]int{"a": 2, "b": 5}}

	handler := admin.StatusHandler(lrcp, jc)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var body struct {
		LRCPSessions       int            `json:"lrcp_sessions"`
		JobCentreQueues    map[string]int `json:"jobcentre_queues"`
		JobCentreJobsTotal int            `json:"jobcentre_jobs_total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Unmarshal(%s): %v", rec.Body.String(), err)
	}

	if body.LRCPSessions != 3 {
		t.Errorf("lrcp_sessions = %d, want 3", body.LRCPSessions)
	}
	if body.JobCentreJobsTotal != 7 {
		t.Errorf("jobcentre_jobs_total = %d, want 7", body.JobCentreJobsTotal)
	}
	if body.JobCentreQueues["a"] != 2 || body.JobCentreQueues["b"] != 5 {
		t.Errorf("jobcentre_queues = %v, want a=2 b=5", body.JobCentreQueues)
	}
}

func TestStatusHandlerRejectsNonGet(t *testing.T) {
	t.Parallel()

	handler := admin.StatusHandler(fakeLRCP{}, fakeJobCentre{queues: map[string]int{}})

	req := httptest.NewRequest(http.MethodPost, "/status", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status code = %d, want 405", rec.Code)
	}
}
