// Package optimize provides scalar model parameters and optimizers
// (L-BFGS-B and a single evaluation) acting on them.
package optimize

import (
	"encoding/json"
	"math"
	"strconv"

	"github.com/pkg/errors"
)

// FloatParameter is a bounded scalar model parameter, e.g. the
// transition/transversion ratio or the gamma shape.
type FloatParameter interface {
	Name() string
	Get() float64
	Set(float64)
	GetMin() float64
	GetMax() float64
	SetMin(float64)
	SetMax(float64)
	SetOnChange(func())
	SetPriorFunc(func(float64) float64)
	SetProposalFunc(func(float64) float64)
	// Prior returns log prior density of the current value.
	Prior() float64
	// OldPrior returns log prior density of the value before the
	// last proposal.
	OldPrior() float64
	Propose()
	Accept()
	Reject()
	InRange() bool
	ValueInRange(float64) bool
	String() string
}

// FloatParameters is a list of parameters.
type FloatParameters []FloatParameter

// Append adds a parameter to the list.
func (p *FloatParameters) Append(par FloatParameter) {
	*p = append(*p, par)
}

// Names returns parameter names, reusing is if it is not nil.
func (p FloatParameters) Names(is []string) (s []string) {
	if is == nil {
		s = make([]string, len(p))
	} else {
		s = is
	}
	for i, par := range p {
		s[i] = par.Name()
	}
	return
}

// Values returns parameter values, reusing iv if it is not nil.
func (p FloatParameters) Values(iv []float64) (v []float64) {
	if iv == nil {
		v = make([]float64, len(p))
	} else {
		v = iv
	}
	for i, par := range p {
		v[i] = par.Get()
	}
	return
}

// ValuesInRange checks whether all the values are within parameter
// bounds.
func (p FloatParameters) ValuesInRange(vals []float64) bool {
	if len(vals) != len(p) {
		panic("incorrect number of parameters")
	}
	for i, par := range p {
		if !par.ValueInRange(vals[i]) {
			return false
		}
	}
	return true
}

// SetValues sets all the parameter values.
func (p FloatParameters) SetValues(v []float64) error {
	if len(v) != len(p) {
		return errors.Errorf("incorrect number of parameters: %d, expected %d", len(v), len(p))
	}
	for i, par := range p {
		par.Set(v[i])
	}
	return nil
}

// InRange returns true if all the parameters are within bounds.
func (p FloatParameters) InRange() bool {
	for _, par := range p {
		if !par.InRange() {
			return false
		}
	}
	return true
}

// Map returns parameter values by name.
func (p FloatParameters) Map() map[string]float64 {
	m := make(map[string]float64, len(p))
	for _, par := range p {
		m[par.Name()] = par.Get()
	}
	return m
}

// SetMap sets parameter values by name. Unknown names result in an
// error, missing names are left untouched.
func (p FloatParameters) SetMap(m map[string]float64) error {
	byName := make(map[string]FloatParameter, len(p))
	for _, par := range p {
		byName[par.Name()] = par
	}
	for name, v := range m {
		par, ok := byName[name]
		if !ok {
			return errors.Errorf("unknown parameter %s", name)
		}
		par.Set(v)
	}
	return nil
}

// NamesString returns tab-separated parameter names.
func (p FloatParameters) NamesString() (s string) {
	for i, par := range p {
		if i != 0 {
			s += "\t"
		}
		s += par.Name()
	}
	return
}

// ValuesString returns tab-separated parameter values.
func (p FloatParameters) ValuesString() (s string) {
	for i, par := range p {
		if i != 0 {
			s += "\t"
		}
		s += par.String()
	}
	return
}

// MarshalJSON encodes parameters as an object preserving the order.
func (p FloatParameters) MarshalJSON() ([]byte, error) {
	b := []byte{'{'}
	for i, par := range p {
		if i != 0 {
			b = append(b, ',')
		}
		name, err := json.Marshal(par.Name())
		if err != nil {
			return nil, err
		}
		b = append(b, name...)
		b = append(b, ':')
		b = strconv.AppendFloat(b, par.Get(), 'g', -1, 64)
	}
	b = append(b, '}')
	return b, nil
}

// UnmarshalJSON sets values of the existing parameters.
func (p *FloatParameters) UnmarshalJSON(b []byte) error {
	var m map[string]float64
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	return p.SetMap(m)
}

// BasicFloatParameter is a FloatParameter backed by a pointer to the
// model field.
type BasicFloatParameter struct {
	*float64
	old          float64
	name         string
	priorFunc    func(float64) float64
	proposalFunc func(float64) float64
	min          float64
	max          float64
	onChange     func()
}

// NewBasicFloatParameter creates an unbounded parameter with a flat
// prior and a normal proposal.
func NewBasicFloatParameter(par *float64, name string) *BasicFloatParameter {
	return &BasicFloatParameter{
		float64:      par,
		name:         name,
		priorFunc:    func(float64) float64 { return 0 },
		proposalFunc: NormalProposal(0.1),
		min:          math.Inf(-1),
		max:          math.Inf(+1),
	}
}

func (p *BasicFloatParameter) SetMin(min float64) {
	p.min = min
}

func (p *BasicFloatParameter) SetMax(max float64) {
	p.max = max
}

func (p *BasicFloatParameter) SetPriorFunc(f func(float64) float64) {
	p.priorFunc = f
}

func (p *BasicFloatParameter) SetProposalFunc(f func(float64) float64) {
	p.proposalFunc = f
}

// SetOnChange sets a function called after every value change. The
// model uses it to mark the likelihood dirty.
func (p *BasicFloatParameter) SetOnChange(f func()) {
	p.onChange = f
}

func (p *BasicFloatParameter) Get() float64 {
	return *p.float64
}

func (p *BasicFloatParameter) Set(v float64) {
	if *p.float64 == v {
		return
	}
	*p.float64 = v
	if p.onChange != nil {
		p.onChange()
	}
}

func (p *BasicFloatParameter) GetMin() float64 {
	return p.min
}

func (p *BasicFloatParameter) GetMax() float64 {
	return p.max
}

func (p *BasicFloatParameter) ValueInRange(v float64) bool {
	return v >= p.min && v <= p.max
}

func (p *BasicFloatParameter) InRange() bool {
	return p.ValueInRange(*p.float64)
}

func (p *BasicFloatParameter) Name() string {
	return p.name
}

func (p *BasicFloatParameter) Prior() float64 {
	return p.priorFunc(*p.float64)
}

func (p *BasicFloatParameter) OldPrior() float64 {
	return p.priorFunc(p.old)
}

// reflect moves the value back into the bounds.
func (p *BasicFloatParameter) reflect() {
	for *p.float64 < p.min || *p.float64 > p.max {
		if *p.float64 < p.min {
			*p.float64 = p.min + (p.min - *p.float64)
		}
		if *p.float64 > p.max {
			*p.float64 = p.max - (*p.float64 - p.max)
		}
	}
}

// Propose draws a new value from the proposal function. Values
// outside the bounds are reflected.
func (p *BasicFloatParameter) Propose() {
	p.old, *p.float64 = *p.float64, p.proposalFunc(*p.float64)
	p.reflect()
	if p.onChange != nil {
		p.onChange()
	}
}

// Reject brings back the value before the last proposal.
func (p *BasicFloatParameter) Reject() {
	*p.float64, p.old = p.old, *p.float64
	if p.onChange != nil {
		p.onChange()
	}
}

func (p *BasicFloatParameter) Accept() {
	p.old = *p.float64
}

func (p *BasicFloatParameter) String() string {
	return strconv.FormatFloat(*p.float64, 'f', 6, 64)
}
