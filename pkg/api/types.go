package api

import (
	"github.com/dd0wney/cluso-gridsim/pkg/history"
	"github.com/dd0wney/cluso-gridsim/pkg/params"
)

// Response status values of the simulation endpoints
const (
	statusSuccess = "success"
	statusError   = "error"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// StatusResponse is the reply shape of the simulation control endpoints
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	RunID   string `json:"run_id,omitempty"`
}

// ParametersResponse is returned by set_parameters
type ParametersResponse struct {
	Status     string             `json:"status"`
	Parameters *params.Parameters `json:"parameters"`
}

// NetworksResponse lists the runnable network templates
type NetworksResponse struct {
	Networks []string `json:"networks"`
}

// RunsResponse lists recorded runs, newest first
type RunsResponse struct {
	Runs  []history.Run `json:"runs"`
	Count int           `json:"count"`
}
