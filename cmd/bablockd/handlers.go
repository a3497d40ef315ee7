// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/jontk/torus-allocator/core"
	"github.com/jontk/torus-allocator/internal/allocator"
	"github.com/jontk/torus-allocator/internal/persistence"
	"github.com/jontk/torus-allocator/internal/placement"
	"github.com/jontk/torus-allocator/internal/state"
	"github.com/jontk/torus-allocator/pkg/logging"
)

// server exposes a *core.Core's plugin surface (spec.md §6) as JSON/HTTP
// endpoints, grounded on the teacher's REST-adapter handler idiom
// (decode request, call the domain method, encode outcome) generalized
// from a SLURM REST resource to the block-lifecycle plugin surface.
type server struct {
	core *core.Core
	log  logging.Logger
	dims int
}

func newServer(c *core.Core, log logging.Logger) *server {
	return &server{core: c, log: log, dims: c.Config.Dimensions}
}

func (s *server) routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/v1/blocks", s.handleListBlocks).Methods(http.MethodGet)
	r.HandleFunc("/v1/blocks/{id}", s.handleRemoveBlock).Methods(http.MethodDelete)
	r.HandleFunc("/v1/blocks/{id}/update", s.handleUpdateBlock).Methods(http.MethodPost)
	r.HandleFunc("/v1/blocks/init", s.handleBlockInit).Methods(http.MethodPost)
	r.HandleFunc("/v1/nodes/init", s.handleNodeInit).Methods(http.MethodPost)
	r.HandleFunc("/v1/jobs/test", s.handleJobTest).Methods(http.MethodPost)
	r.HandleFunc("/v1/jobs/{id}/begin", s.handleJobBegin).Methods(http.MethodPost)
	r.HandleFunc("/v1/jobs/{id}/ready", s.handleJobReady).Methods(http.MethodGet)
	r.HandleFunc("/v1/jobs/{id}/fini", s.handleJobFini).Methods(http.MethodPost)
	r.HandleFunc("/v1/steps/pick", s.handleStepPickNodes).Methods(http.MethodPost)
	r.HandleFunc("/v1/steps/finish", s.handleStepFinish).Methods(http.MethodPost)
	r.HandleFunc("/v1/reservations/test", s.handleReservationTest).Methods(http.MethodPost)
	r.HandleFunc("/v1/cnodes/fail", s.handleFailCnode).Methods(http.MethodPost)
	r.HandleFunc("/v1/state/save", s.handleStateSave).Methods(http.MethodPost)
	r.HandleFunc("/v1/state/restore", s.handleStateRestore).Methods(http.MethodPost)
	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleListBlocks(w http.ResponseWriter, r *http.Request) {
	all := s.core.Main.All()
	out := make([]wireBlock, 0, len(all))
	for _, b := range all {
		out = append(out, toWireBlock(b))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) handleRemoveBlock(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	reason := r.URL.Query().Get("reason")
	outcome, err := s.core.RemoveBlock(r.Context(), id, reason)
	s.writeOutcome(w, outcome, err, nil)
}

func (s *server) handleUpdateBlock(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body struct {
		Field string `json:"field"`
		Value string `json:"value"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	outcome, err := s.core.UpdateBlock(r.Context(), id, body.Field, body.Value)
	s.writeOutcome(w, outcome, err, nil)
}

func (s *server) handleBlockInit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Layout []wireLayoutEntry `json:"layout"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	layout := make([]persistence.LayoutEntry, 0, len(body.Layout))
	for _, entryWire := range body.Layout {
		entry, err := entryWire.toLayoutEntry(s.dims)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		layout = append(layout, entry)
	}
	outcome, err := s.core.BlockInit(r.Context(), layout)
	s.writeOutcome(w, outcome, err, nil)
}

func (s *server) handleNodeInit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Down []string `json:"down"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	coords, err := parseCoords(body.Down, s.dims)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.core.NodeInit(coords)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleJobTest(w http.ResponseWriter, r *http.Request) {
	var body wirePlaceRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	req, err := body.toRequest(s.dims)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	outcome, res, err := s.core.JobTest(req)
	s.writeOutcome(w, outcome, err, toWireResult(outcome.String(), res))
}

func (s *server) handleJobBegin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Job     wireJob `json:"job"`
		BlockID string  `json:"block_id"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	job, err := body.Job.toJob(s.dims)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	outcome, err := s.core.JobBegin(r.Context(), job, body.BlockID)
	s.writeOutcome(w, outcome, err, nil)
}

func (s *server) handleJobReady(w http.ResponseWriter, r *http.Request) {
	blockID := r.URL.Query().Get("block_id")
	result, err := s.core.JobReady(blockID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": jobReadyResultString(result)})
}

func (s *server) handleJobFini(w http.ResponseWriter, r *http.Request) {
	var body struct {
		BlockID string `json:"block_id"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	outcome, err := s.core.JobFini(r.Context(), body.BlockID)
	s.writeOutcome(w, outcome, err, nil)
}

type wireBitmap struct {
	Shape []int  `json:"shape"`
	Bits  []bool `json:"bits"`
}

func (w wireBitmap) toBitmap() *allocator.CNodeBitmap {
	return &allocator.CNodeBitmap{Shape: w.Shape, Bits: append([]bool(nil), w.Bits...)}
}

func fromBitmap(b *allocator.CNodeBitmap) wireBitmap {
	return wireBitmap{Shape: b.Shape, Bits: b.Bits}
}

type wireSubBlockResult struct {
	Start    []int   `json:"start"`
	Geometry []int   `json:"geometry"`
	Box      [][]int `json:"box"`
}

func toWireSubBlockResult(r *allocator.SubBlockResult) wireSubBlockResult {
	return wireSubBlockResult{Start: r.Start, Geometry: r.Geometry, Box: r.Box}
}

func (w wireSubBlockResult) toResult() *allocator.SubBlockResult {
	return &allocator.SubBlockResult{Start: w.Start, Geometry: w.Geometry, Box: w.Box}
}

func (s *server) handleStepPickNodes(w http.ResponseWriter, r *http.Request) {
	var body struct {
		BlockID string     `json:"block_id"`
		JobID   string     `json:"job_id"`
		StepID  string     `json:"step_id"`
		Count   int        `json:"count"`
		Avail   wireBitmap `json:"avail"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	step := core.Step{JobID: body.JobID, StepID: body.StepID}
	avail := body.Avail.toBitmap()
	res, err := s.core.StepPickNodes(body.BlockID, step, body.Count, avail)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Result wireSubBlockResult `json:"result"`
		Avail  wireBitmap         `json:"avail"`
	}{toWireSubBlockResult(res), fromBitmap(avail)})
}

func (s *server) handleStepFinish(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Avail wireBitmap         `json:"avail"`
		Pick  wireSubBlockResult `json:"pick"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	avail := body.Avail.toBitmap()
	s.core.StepFinish(avail, body.Pick.toResult())
	writeJSON(w, http.StatusOK, fromBitmap(avail))
}

func (s *server) handleReservationTest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Count int        `json:"count"`
		Avail wireBitmap `json:"avail"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	avail := body.Avail.toBitmap()
	res, err := s.core.ReservationTest(body.Count, avail)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toWireSubBlockResult(res))
}

func (s *server) handleFailCnode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		BlockID   string `json:"block_id"`
		CNodeIdxs []int  `json:"cnode_idxs"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	outcome, err := s.core.FailCnode(body.BlockID, body.CNodeIdxs)
	s.writeOutcome(w, outcome, err, nil)
}

func (s *server) handleStateSave(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Dir string `json:"dir"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if err := s.core.StateSave(body.Dir); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleStateRestore(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Dir     string `json:"dir"`
		Recover bool   `json:"recover"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	mode := persistence.Strict
	if body.Recover {
		mode = persistence.Recover
	}
	if err := s.core.StateRestore(r.Context(), body.Dir, mode); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleJobInit is not wired as a route: job_init's JobFailer/
// ConfiguringClearer callbacks are meaningful only to a controller
// holding the job queue in-process (spec.md §6), which this daemon does
// not. runJobInit below is invoked directly from main at startup against
// the restart list read from the BABLOCKD_RESTART_JOBS environment
// variable, logging rather than acting on each reconciliation outcome.
func runJobInit(c *core.Core, log logging.Logger, running []state.RunningJob) {
	failJob := func(jobID, code string) {
		log.Warn("job_init: failing unreattachable job", "job_id", jobID, "code", code)
	}
	clearConfiguring := func(jobID string) {
		log.Info("job_init: clearing configuring flag", "job_id", jobID)
	}
	c.JobInit(context.Background(), running, failJob, clearConfiguring)
}

// jobReadyResultString names core.JobReadyResult's three values; the
// type itself carries no String method since it exists only to give
// job_ready a narrower return type than the general Outcome enum.
func jobReadyResultString(r core.JobReadyResult) string {
	switch r {
	case core.JobReady:
		return "ready"
	case core.JobReadyRetry:
		return "retry"
	default:
		return "fatal"
	}
}

func (s *server) writeOutcome(w http.ResponseWriter, outcome core.Outcome, err error, extra interface{}) {
	if err != nil {
		writeJSON(w, statusForOutcome(outcome), struct {
			Outcome string      `json:"outcome"`
			Error   string      `json:"error"`
			Result  interface{} `json:"result,omitempty"`
		}{outcome.String(), err.Error(), extra})
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Outcome string      `json:"outcome"`
		Result  interface{} `json:"result,omitempty"`
	}{outcome.String(), extra})
}

func statusForOutcome(outcome core.Outcome) int {
	switch outcome {
	case core.OutcomeSuccess:
		return http.StatusOK
	case core.OutcomeRetry:
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnprocessableEntity
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	if r.Body == nil {
		return true
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil && err.Error() != "EOF" {
		writeError(w, http.StatusBadRequest, "decode request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
