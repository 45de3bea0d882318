package train

import (
	"math"

	"github.com/23skdu/longbow-sketch/internal/nn"
)

// Optimizer consumes model parameters and their accumulated gradients.
type Optimizer interface {
	Step()
	ZeroGrad()
}

// SGD with classical momentum and optional weight decay.
type SGD struct {
	params      []*nn.Param
	lr          float64
	momentum    float64
	weightDecay float64
	velocity    [][]float32
}

func NewSGD(params []*nn.Param, lr, momentum, weightDecay float64) *SGD {
	vel := make([][]float32, len(params))
	for i, p := range params {
		vel[i] = make([]float32, p.Data.NumElements())
	}
	return &SGD{params: params, lr: lr, momentum: momentum, weightDecay: weightDecay, velocity: vel}
}

func (o *SGD) Step() {
	for i, p := range o.params {
		data := p.Data.Data()
		grad := p.Grad.Data()
		vel := o.velocity[i]
		for k := range data {
			g := float64(grad[k]) + o.weightDecay*float64(data[k])
			v := o.momentum*float64(vel[k]) + g
			vel[k] = float32(v)
			data[k] -= float32(o.lr * v)
		}
	}
}

func (o *SGD) ZeroGrad() {
	for _, p := range o.params {
		p.ZeroGrad()
	}
}

// Adam with the usual bias correction.
type Adam struct {
	params []*nn.Param
	lr     float64
	beta1  float64
	beta2  float64
	eps    float64
	m      [][]float32
	v      [][]float32
	t      int
}

func NewAdam(params []*nn.Param, lr float64) *Adam {
	m := make([][]float32, len(params))
	v := make([][]float32, len(params))
	for i, p := range params {
		m[i] = make([]float32, p.Data.NumElements())
		v[i] = make([]float32, p.Data.NumElements())
	}
	return &Adam{params: params, lr: lr, beta1: 0.9, beta2: 0.999, eps: 1e-8, m: m, v: v}
}

func (o *Adam) Step() {
	o.t++
	bc1 := 1 - math.Pow(o.beta1, float64(o.t))
	bc2 := 1 - math.Pow(o.beta2, float64(o.t))
	for i, p := range o.params {
		data := p.Data.Data()
		grad := p.Grad.Data()
		m := o.m[i]
		v := o.v[i]
		for k := range data {
			g := float64(grad[k])
			mk := o.beta1*float64(m[k]) + (1-o.beta1)*g
			vk := o.beta2*float64(v[k]) + (1-o.beta2)*g*g
			m[k] = float32(mk)
			v[k] = float32(vk)
			update := o.lr * (mk / bc1) / (math.Sqrt(vk/bc2) + o.eps)
			data[k] -= float32(update)
		}
	}
}

func (o *Adam) ZeroGrad() {
	for _, p := range o.params {
		p.ZeroGrad()
	}
}
