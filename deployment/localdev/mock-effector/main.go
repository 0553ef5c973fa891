package main

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"
)

// mock-effector stands in for the platform's remediation API during local
// development. Every verb succeeds after a short delay and is logged, so the
// heal engine's full execute/rollback cycle can be exercised end to end.

type remediationRequest struct {
	Component string `json:"component"`
	Dimension string `json:"dimension,omitempty"`
}

type state struct {
	mu       sync.Mutex
	restarts map[string]int
	scales   map[string]string
}

func main() {
	st := &state{
		restarts: make(map[string]int),
		scales:   make(map[string]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/v1/remediate/restart", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decode(w, r)
		if !ok {
			return
		}
		time.Sleep(150 * time.Millisecond)
		st.mu.Lock()
		st.restarts[req.Component]++
		count := st.restarts[req.Component]
		st.mu.Unlock()
		log.Printf("restarted %s (restart #%d)", req.Component, count)
		writeJSON(w, map[string]any{"component": req.Component, "restarts": count})
	})

	mux.HandleFunc("/api/v1/remediate/health", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decode(w, r)
		if !ok {
			return
		}
		log.Printf("health check for %s: healthy", req.Component)
		writeJSON(w, map[string]any{"component": req.Component, "healthy": true})
	})

	mux.HandleFunc("/api/v1/remediate/clear-cache", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decode(w, r)
		if !ok {
			return
		}
		log.Printf("cleared cache for %s", req.Component)
		writeJSON(w, map[string]any{"component": req.Component, "cleared": true})
	})

	mux.HandleFunc("/api/v1/remediate/warm-cache", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decode(w, r)
		if !ok {
			return
		}
		log.Printf("warmed cache for %s", req.Component)
		writeJSON(w, map[string]any{"component": req.Component, "warmed": true})
	})

	mux.HandleFunc("/api/v1/remediate/scale", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decode(w, r)
		if !ok {
			return
		}
		st.mu.Lock()
		st.scales[req.Component] = req.Dimension
		st.mu.Unlock()
		log.Printf("scaled %s along %s", req.Component, req.Dimension)
		writeJSON(w, map[string]any{"component": req.Component, "dimension": req.Dimension})
	})

	mux.HandleFunc("/api/v1/remediate/revert-scale", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decode(w, r)
		if !ok {
			return
		}
		st.mu.Lock()
		delete(st.scales, req.Component)
		st.mu.Unlock()
		log.Printf("reverted scaling for %s", req.Component)
		writeJSON(w, map[string]any{"component": req.Component, "reverted": true})
	})

	addr := ":8081"
	log.Printf("mock effector listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal(err)
	}
}

func decode(w http.ResponseWriter, r *http.Request) (remediationRequest, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return remediationRequest{}, false
	}
	var req remediationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return remediationRequest{}, false
	}
	if req.Component == "" {
		http.Error(w, "component is required", http.StatusBadRequest)
		return remediationRequest{}, false
	}
	return req, true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
