package api

import (
	"net/http"
)

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Health and metrics
	mux.HandleFunc("GET /health", s.healthChecker.HTTPHandler())
	mux.HandleFunc("GET /health/live", s.healthChecker.LivenessHandler())
	mux.HandleFunc("GET /health/ready", s.healthChecker.ReadinessHandler())
	mux.Handle("GET /metrics", s.metricsHandler())

	// Simulation control
	mux.HandleFunc("GET /api/networks", s.handleNetworks)
	mux.HandleFunc("GET /api/parameters", s.handleGetParameters)
	mux.HandleFunc("POST /api/set_parameters", s.handleSetParameters)
	mux.HandleFunc("POST /api/start_simulation", s.handleStartSimulation)
	mux.HandleFunc("POST /api/stop_simulation", s.handleStopSimulation)
	mux.HandleFunc("GET /api/status", s.handleStatus)

	// Streaming and results
	mux.HandleFunc("GET /api/simulation_updates", s.handleSimulationUpdates)
	mux.HandleFunc("GET /api/results", s.handleResults)
	mux.HandleFunc("GET /api/results/{id}", s.handleArchivedResult)
	mux.HandleFunc("GET /api/runs", s.handleRuns)

	return mux
}
