package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/harun/steerd/pkg/frame"
)

type activation func(float64) float64

var activations = map[string]activation{
	"":       func(v float64) float64 { return v },
	"linear": func(v float64) float64 { return v },
	"relu":   func(v float64) float64 { return math.Max(0, v) },
	"elu": func(v float64) float64 {
		if v > 0 {
			return v
		}
		return math.Expm1(v)
	},
	"tanh": math.Tanh,
}

type denseArtifact struct {
	Format string `json:"format"`
	Input  struct {
		Height   int     `json:"height"`
		Width    int     `json:"width"`
		Channels int     `json:"channels"`
		Scale    float64 `json:"scale"`
		Offset   float64 `json:"offset"`
	} `json:"input"`
	Layers []struct {
		In         int       `json:"in"`
		Out        int       `json:"out"`
		Weights    []float64 `json:"weights"`
		Bias       []float64 `json:"bias"`
		Activation string    `json:"activation"`
	} `json:"layers"`
}

type denseLayer struct {
	weights *mat.Dense
	bias    *mat.VecDense
	act     activation
}

// DenseModel is a fully connected regressor evaluated in process. The input
// tensor is normalized as x*scale + offset before the first layer.
type DenseModel struct {
	height   int
	width    int
	channels int
	scale    float64
	offset   float64
	layers   []denseLayer
}

// ParseDense validates and loads a dense artifact.
func ParseDense(data []byte) (*DenseModel, error) {
	if err := validateDenseSchema(data); err != nil {
		return nil, err
	}

	var a denseArtifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to parse artifact: %w", err)
	}

	m := &DenseModel{
		height:   a.Input.Height,
		width:    a.Input.Width,
		channels: a.Input.Channels,
		scale:    a.Input.Scale,
		offset:   a.Input.Offset,
		layers:   make([]denseLayer, 0, len(a.Layers)),
	}

	prev := m.height * m.width * m.channels
	for i, l := range a.Layers {
		if l.In != prev {
			return nil, fmt.Errorf("layer %d: input size %d does not match previous output %d", i, l.In, prev)
		}
		if len(l.Weights) != l.In*l.Out {
			return nil, fmt.Errorf("layer %d: expected %d weights, got %d", i, l.In*l.Out, len(l.Weights))
		}
		if len(l.Bias) != l.Out {
			return nil, fmt.Errorf("layer %d: expected %d biases, got %d", i, l.Out, len(l.Bias))
		}
		m.layers = append(m.layers, denseLayer{
			weights: mat.NewDense(l.Out, l.In, l.Weights),
			bias:    mat.NewVecDense(l.Out, l.Bias),
			act:     activations[l.Activation],
		})
		prev = l.Out
	}
	if prev != 1 {
		return nil, fmt.Errorf("model must have a single output, got %d", prev)
	}

	return m, nil
}

// InputShape returns the tensor shape the model expects.
func (m *DenseModel) InputShape() (height, width, channels int) {
	return m.height, m.width, m.channels
}

// Predict evaluates the network.
func (m *DenseModel) Predict(ctx context.Context, t frame.Tensor) (float64, error) {
	if t.Height != m.height || t.Width != m.width || t.Channels != m.channels {
		return 0, &InferenceError{
			Op:  "predict",
			Err: fmt.Errorf("tensor shape %dx%dx%d, model expects %dx%dx%d", t.Height, t.Width, t.Channels, m.height, m.width, m.channels),
		}
	}

	in := make([]float64, len(t.Data))
	for i, v := range t.Data {
		in[i] = v*m.scale + m.offset
	}
	x := mat.NewVecDense(len(in), in)

	for _, l := range m.layers {
		if err := ctx.Err(); err != nil {
			return 0, &InferenceError{Op: "predict", Err: err}
		}
		rows, _ := l.weights.Dims()
		y := mat.NewVecDense(rows, nil)
		y.MulVec(l.weights, x)
		y.AddVec(y, l.bias)
		for i := 0; i < rows; i++ {
			y.SetVec(i, l.act(y.AtVec(i)))
		}
		x = y
	}

	return x.AtVec(0), nil
}
