package main

import (
	"encoding/json"
	"fmt"
	"image/png"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/HybridzDynamics/yahmi-security-rover/rover"
)

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(grid *rover.Grid, nav *rover.Navigator, store *rover.EventStore, queue *rover.CommandQueue, hub *wsHub) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		session := ""
		if store != nil {
			session = store.Session()
		}
		status := struct {
			Status    string    `json:"status"`
			Timestamp time.Time `json:"timestamp"`
			NavState  string    `json:"navState"`
			Session   string    `json:"session,omitempty"`
			Clients   int       `json:"wsClients"`
		}{
			Status:    "ok",
			Timestamp: time.Now(),
			NavState:  nav.State().String(),
			Session:   session,
			Clients:   hub.ClientCount(),
		}
		if err := json.NewEncoder(w).Encode(status); err != nil {
			log.Printf("Error encoding health status: %v", err)
		}
	})

	// Full map document (sparse cell list, waypoints, car position)
	mux.HandleFunc("/api/map", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		if err := json.NewEncoder(w).Encode(grid.Snapshot()); err != nil {
			log.Printf("Error encoding map document: %v", err)
		}
	})

	// Raster map endpoint
	mux.HandleFunc("/api/map.png", func(w http.ResponseWriter, r *http.Request) {
		renderer := rover.NewMapRenderer(grid.Snapshot())
		if scale, err := strconv.Atoi(r.URL.Query().Get("scale")); err == nil && scale > 0 && scale <= 32 {
			renderer.Scale = scale
		}
		renderer.Labels = r.URL.Query().Get("labels") == "1"

		img := renderer.Render()
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		if err := png.Encode(w, img); err != nil {
			log.Printf("Error encoding map PNG: %v", err)
		}
	})

	// Vector map endpoint
	mux.HandleFunc("/api/map.svg", func(w http.ResponseWriter, r *http.Request) {
		renderer := rover.NewVectorRenderer(grid.Snapshot())
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "no-cache")
		if err := renderer.RenderToSVG(w); err != nil {
			log.Printf("Error encoding map SVG: %v", err)
		}
	})

	// GeoJSON export: obstacle hulls, waypoints, car position
	mux.HandleFunc("/api/map.geojson", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/geo+json")
		w.Header().Set("Cache-Control", "no-cache")
		if err := rover.WriteGeoJSON(w, grid.Snapshot()); err != nil {
			log.Printf("Error encoding map GeoJSON: %v", err)
		}
	})

	// Coverage statistics
	mux.HandleFunc("/api/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(grid.Stats()); err != nil {
			log.Printf("Error encoding stats: %v", err)
		}
	})

	// Current car position
	mux.HandleFunc("/api/position", func(w http.ResponseWriter, r *http.Request) {
		pose := grid.Pose()
		w.Header().Set("Content-Type", "application/json")
		payload := struct {
			rover.Pose
			Timestamp int64 `json:"timestamp"`
		}{pose, time.Now().Unix()}
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			log.Printf("Error encoding position: %v", err)
		}
	})

	// Waypoint management
	mux.HandleFunc("/api/waypoints", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(grid.Waypoints()); err != nil {
				log.Printf("Error encoding waypoints: %v", err)
			}

		case http.MethodPost:
			var req struct {
				X    float64 `json:"x"`
				Y    float64 `json:"y"`
				Name string  `json:"name"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "Invalid waypoint payload", http.StatusBadRequest)
				return
			}
			wp, err := grid.AddWaypoint(req.X, req.Y, req.Name)
			if err != nil {
				http.Error(w, err.Error(), http.StatusConflict)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			if err := json.NewEncoder(w).Encode(wp); err != nil {
				log.Printf("Error encoding waypoint: %v", err)
			}

		case http.MethodDelete:
			id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
			if err != nil {
				http.Error(w, "Missing or invalid waypoint id", http.StatusBadRequest)
				return
			}
			if !grid.RemoveWaypoint(id) {
				http.Error(w, fmt.Sprintf("Waypoint %d not found", id), http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusNoContent)

		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	// Navigator status
	mux.HandleFunc("/api/navigation", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(nav.Status()); err != nil {
			log.Printf("Error encoding navigation status: %v", err)
		}
	})

	// Control endpoint: commands are queued and applied on the next tick
	mux.HandleFunc("/api/control", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, 4096))
		if err != nil {
			http.Error(w, "Error reading request body", http.StatusBadRequest)
			return
		}

		cmd, err := rover.ParseCommand(payload)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		queue.Push(cmd)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		resp := struct {
			Queued string `json:"queued"`
		}{cmd.Type.String()}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			log.Printf("Error encoding control response: %v", err)
		}
	})

	// Recent state transitions and alerts from the event store
	mux.HandleFunc("/api/events", func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 && n <= 500 {
			limit = n
		}

		events := []rover.NavEvent{}
		alerts := []rover.AlertEvent{}
		if store != nil {
			var err error
			if events, err = store.RecentEvents(limit); err != nil {
				log.Printf("[STORE] Error reading events: %v", err)
				http.Error(w, "Event store unavailable", http.StatusInternalServerError)
				return
			}
			if alerts, err = store.RecentAlerts(limit); err != nil {
				log.Printf("[STORE] Error reading alerts: %v", err)
				http.Error(w, "Event store unavailable", http.StatusInternalServerError)
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		payload := struct {
			Events []rover.NavEvent   `json:"events"`
			Alerts []rover.AlertEvent `json:"alerts"`
		}{events, alerts}
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			log.Printf("Error encoding events: %v", err)
		}
	})

	// Live telemetry stream
	mux.HandleFunc("/ws", hub.handleWS)

	// Default route serves HTML page embedding the SVG map
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = fmt.Fprint(w, `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>yahmi rover</title>
<style>
*{margin:0;padding:0;box-sizing:border-box}
html,body{width:100%;height:100%;overflow:hidden;background:#1a1a1a}
img{display:block;width:100vw;height:100vh;object-fit:contain}
</style>
</head>
<body>
<img src="/api/map.svg" alt="Occupancy Map">
</body>
</html>`)
	})

	// Wrap mux with logging middleware
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		mux.ServeHTTP(w, r)
	})
}
