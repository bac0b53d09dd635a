// Package monitor holds the bookkeeping state shared by all outer search
// strategies: an append-only trace of per-iteration metrics and the
// warm-start record carrying solver state between calls.
package monitor

import (
	"encoding/gob"
	"errors"
	"io"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
)

// Record is one outer-iteration measurement. Optional fields left at their
// zero value are stored with an absent sentinel: NaN for ValObjective and
// Aux set explicitly via the struct, nil for LogAlpha and Grad.
type Record struct {
	Objective    float64
	ValObjective float64
	LogAlpha     []float64
	Grad         []float64
	Aux          float64
}

// Monitor accumulates one Record per outer iteration or evaluated
// candidate. It only ever appends; repeated calls never fail. The
// accumulated slices are exposed directly for post-hoc analysis.
type Monitor struct {
	t0 time.Time

	Objs     []float64
	ObjsVal  []float64
	Times    []float64
	LogAlpha [][]float64
	Grads    [][]float64
	Aux      []float64
}

// New returns a Monitor whose elapsed times are measured from now.
func New() *Monitor {
	return &Monitor{t0: time.Now()}
}

// Append records one measurement, stamping it with the elapsed wall-clock
// time since the Monitor was created. The log-alpha and gradient slices are
// copied so later mutation by the caller cannot corrupt the trace.
func (m *Monitor) Append(r Record) {
	m.Objs = append(m.Objs, r.Objective)
	m.ObjsVal = append(m.ObjsVal, r.ValObjective)
	m.Times = append(m.Times, time.Since(m.t0).Seconds())
	m.LogAlpha = append(m.LogAlpha, cloneSlice(r.LogAlpha))
	m.Grads = append(m.Grads, cloneSlice(r.Grad))
	m.Aux = append(m.Aux, r.Aux)
}

// Len returns the number of recorded iterations.
func (m *Monitor) Len() int { return len(m.Objs) }

// Absent is the sentinel for optional scalar fields that were not measured.
func Absent() float64 { return math.NaN() }

func cloneSlice(s []float64) []float64 {
	if s == nil {
		return nil
	}
	out := make([]float64, len(s))
	copy(out, s)
	return out
}

// monitorState is the versioned gob image of a Monitor.
type monitorState struct {
	Version  int
	Objs     []float64
	ObjsVal  []float64
	Times    []float64
	LogAlpha [][]float64
	Grads    [][]float64
	Aux      []float64
}

// Save serializes the accumulated trace to gob format.
func (m *Monitor) Save(w io.Writer) error {
	state := monitorState{
		Version:  1,
		Objs:     m.Objs,
		ObjsVal:  m.ObjsVal,
		Times:    m.Times,
		LogAlpha: m.LogAlpha,
		Grads:    m.Grads,
		Aux:      m.Aux,
	}
	return gob.NewEncoder(w).Encode(state)
}

// Load deserializes a Monitor trace from gob format.
func Load(r io.Reader) (*Monitor, error) {
	var state monitorState
	if err := gob.NewDecoder(r).Decode(&state); err != nil {
		return nil, err
	}
	if state.Version != 1 {
		return nil, errors.New("unsupported gob version")
	}
	return &Monitor{
		t0:       time.Now(),
		Objs:     state.Objs,
		ObjsVal:  state.ObjsVal,
		Times:    state.Times,
		LogAlpha: state.LogAlpha,
		Grads:    state.Grads,
		Aux:      state.Aux,
	}, nil
}

// WarmStart stores the most recent solver state between outer iterations.
// It performs no computation. Two tuples are kept because SURE-type
// criteria solve two coupled subproblems per candidate; single-problem
// criteria only ever touch the first.
type WarmStart struct {
	Mask  []bool
	Dense []float64
	Jac   *mat.Dense

	Mask2  []bool
	Dense2 []float64
	Jac2   *mat.Dense

	// SolLinSys is the last linear-system solution, reused by
	// implicit-differentiation collaborators to warm start their conjugate
	// gradient solves.
	SolLinSys  []float64
	SolLinSys2 []float64
}

// Set overwrites the primary warm-start tuple.
func (w *WarmStart) Set(mask []bool, dense []float64, jac *mat.Dense) {
	w.Mask = mask
	w.Dense = dense
	w.Jac = jac
}

// Set2 overwrites the secondary tuple used by coupled subproblems.
func (w *WarmStart) Set2(mask []bool, dense []float64, jac *mat.Dense) {
	w.Mask2 = mask
	w.Dense2 = dense
	w.Jac2 = jac
}

// SetSolLinSys stores the auxiliary linear-system solutions.
func (w *WarmStart) SetSolLinSys(sol, sol2 []float64) {
	w.SolLinSys = sol
	w.SolLinSys2 = sol2
}
