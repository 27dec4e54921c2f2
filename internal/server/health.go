package server

import (
	"encoding/json"
	"net/http"
)

func liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}

// readiness reports whether every configured layer opened successfully.
func readiness(e *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		type layerState struct {
			Name string `json:"name"`
			Open bool   `json:"open"`
			Err  string `json:"error,omitempty"`
		}
		type resp struct {
			Status string       `json:"status"`
			Layers []layerState `json:"layers"`
		}

		out := resp{Status: "ready"}
		for _, l := range e.Stack.Layers() {
			st := layerState{Name: l.Name(), Open: l.IsOpen()}
			if err := l.OpenStatus(); err != nil {
				st.Err = err.Error()
				out.Status = "not_ready"
			}
			out.Layers = append(out.Layers, st)
		}
		for _, l := range e.Images {
			st := layerState{Name: l.Name(), Open: l.IsOpen()}
			if err := l.OpenStatus(); err != nil {
				st.Err = err.Error()
				out.Status = "not_ready"
			}
			out.Layers = append(out.Layers, st)
		}

		w.Header().Set("Content-Type", "application/json")
		if out.Status != "ready" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
