// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

// newTestServer serves the registry endpoints for releases and any package
// bodies in files, keyed by URL path suffix. The returned counter tracks
// every request the server handled.
func newTestServer(t *testing.T, releases []registryRelease, files map[string][]byte) (*httptest.Server, *atomic.Int64) {
	t.Helper()

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)

		if strings.HasSuffix(r.URL.Path, "/releases") {
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(releases); err != nil {
				t.Errorf("encoding releases: %v", err)
			}
			return
		}

		if strings.Contains(r.URL.Path, "/releases/") {
			version := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
			for _, rel := range releases {
				if rel.Version == version {
					w.Header().Set("Content-Type", "application/json")
					if err := json.NewEncoder(w).Encode(rel); err != nil {
						t.Errorf("encoding release: %v", err)
					}
					return
				}
			}
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"message":"Not Found"}`)
			return
		}

		for path, data := range files {
			if strings.HasSuffix(r.URL.Path, path) {
				w.Header().Set("Content-Type", "application/octet-stream")
				if _, err := w.Write(data); err != nil {
					t.Errorf("writing file response: %v", err)
				}
				return
			}
		}

		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, `{"message":"Not Found","path":%q}`, r.URL.Path)
	}))
	t.Cleanup(srv.Close)

	return srv, &hits
}

// assertProgressInvariants checks the observable progress contract of one
// attempt: non-empty messages, percentages within 0..100 that never drop
// inside a stage, and a terminal event preceded by a 100% event.
func assertProgressInvariants(t *testing.T, events []ProgressEvent) {
	t.Helper()

	if len(events) < 2 {
		t.Fatalf("expected at least 2 progress events, got %d", len(events))
	}
	for i, ev := range events {
		if ev.Message == "" {
			t.Errorf("event %d (%s) has an empty message", i, ev.Stage)
		}
		if ev.Progress < 0 || ev.Progress > 100 {
			t.Errorf("event %d (%s) has progress %d outside 0..100", i, ev.Stage, ev.Progress)
		}
		if i > 0 && events[i-1].Stage == ev.Stage && ev.Progress < events[i-1].Progress {
			t.Errorf("event %d: progress in %s dropped from %d to %d", i, ev.Stage, events[i-1].Progress, ev.Progress)
		}
	}

	last := events[len(events)-1]
	if !last.Stage.IsTerminal() || last.Progress != 100 {
		t.Errorf("expected terminal event at 100%%, got %s at %d", last.Stage, last.Progress)
	}
	if prev := events[len(events)-2]; prev.Progress != 100 {
		t.Errorf("expected %s to reach 100%% before %s, got %d", prev.Stage, last.Stage, prev.Progress)
	}
}

// drain unsubscribes and returns everything buffered on ch.
func drain(ch <-chan ProgressEvent, unsubscribe func()) []ProgressEvent {
	unsubscribe()
	var events []ProgressEvent
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}
