package nn

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/hupe1980/localagg/distance"
	"github.com/hupe1980/localagg/internal/math32"
	"github.com/hupe1980/localagg/lagerr"
)

// minNorm is the smallest merged code norm that can be projected onto the sphere.
const minNorm = 1e-12

type encoderOptions struct {
	patches int
	merger  Merger
	seed    int64
}

// EncoderOption configures a LinearEncoder.
type EncoderOption func(*encoderOptions)

// WithPatches splits every input into p equally sized patches that share the
// projection. The patch codes are merged into one code per sample.
func WithPatches(p int) EncoderOption {
	return func(o *encoderOptions) { o.patches = p }
}

// WithMerger sets how patch codes are combined.
func WithMerger(m Merger) EncoderOption {
	return func(o *encoderOptions) { o.merger = m }
}

// WithEncoderSeed seeds the weight initialization.
func WithEncoderSeed(seed int64) EncoderOption {
	return func(o *encoderOptions) { o.seed = seed }
}

// LinearEncoder projects each patch of an input with a shared affine map,
// merges the patch codes and L2-normalizes the result:
//
//	z_p = W x_p + b,  h = merge(z_1..z_P),  e = h / ||h||
//
// It keeps the activations of the last Forward for Backward and is not safe
// for concurrent use.
type LinearEncoder struct {
	inDim    int
	outDim   int
	patches  int
	patchDim int
	merger   Merger

	weight *Param // outDim x patchDim
	bias   *Param // outDim

	// activations of the last Forward
	batch  int
	x      []float32 // (batch*patches) x patchDim
	out    []float32 // batch x outDim, unit rows
	norms  []float32 // batch
	argmax []int     // batch x outDim, patch index (MergeMax only)
}

// NewLinearEncoder creates an encoder mapping inDim inputs to outDim unit codes.
func NewLinearEncoder(inDim, outDim int, optFns ...EncoderOption) (*LinearEncoder, error) {
	opts := encoderOptions{patches: 1, merger: MergeMean, seed: 1}
	for _, fn := range optFns {
		fn(&opts)
	}

	if inDim <= 0 || outDim <= 0 {
		return nil, lagerr.Configf("encoder dimensions must be positive, got in=%d out=%d", inDim, outDim)
	}
	if opts.patches <= 0 || inDim%opts.patches != 0 {
		return nil, lagerr.Configf("input dimension %d is not divisible into %d patches", inDim, opts.patches)
	}
	if opts.merger != MergeMean && opts.merger != MergeMax {
		return nil, lagerr.Configf("unknown code merger %v", opts.merger)
	}

	e := &LinearEncoder{
		inDim:    inDim,
		outDim:   outDim,
		patches:  opts.patches,
		patchDim: inDim / opts.patches,
		merger:   opts.merger,
		weight:   NewParam("weight", outDim, inDim/opts.patches),
		bias:     NewParam("bias", outDim),
	}

	rng := rand.New(rand.NewSource(opts.seed)) // nolint gosec
	scale := 1 / math.Sqrt(float64(e.patchDim))
	for i := range e.weight.Value.Data {
		e.weight.Value.Data[i] = float32(rng.NormFloat64() * scale)
	}
	for i := range e.bias.Value.Data {
		e.bias.Value.Data[i] = float32(rng.NormFloat64() * 0.01)
	}
	return e, nil
}

// Dim returns the embedding dimensionality.
func (e *LinearEncoder) Dim() int { return e.outDim }

// InDim returns the expected input length.
func (e *LinearEncoder) InDim() int { return e.inDim }

// Merger returns the configured code merger.
func (e *LinearEncoder) Merger() Merger { return e.merger }

// Params returns the trainable parameters.
func (e *LinearEncoder) Params() []*Param { return []*Param{e.weight, e.bias} }

// StateDict returns a copy of the weights.
func (e *LinearEncoder) StateDict() StateDict {
	return StateDict{
		e.weight.Name: e.weight.Value.Clone(),
		e.bias.Name:   e.bias.Value.Clone(),
	}
}

// LoadStateDict replaces the weights. Every parameter must be present with
// a matching shape; extra keys are rejected.
func (e *LinearEncoder) LoadStateDict(sd StateDict) error {
	if len(sd) != 2 {
		return lagerr.Valuef("encoder state has %d entries %v, want [bias weight]", len(sd), sd.Keys())
	}
	for _, p := range e.Params() {
		t, ok := sd[p.Name]
		if !ok {
			return lagerr.Valuef("encoder state is missing %q", p.Name)
		}
		if err := p.Check(t); err != nil {
			return err
		}
	}
	for _, p := range e.Params() {
		copy(p.Value.Data, sd[p.Name].Data)
	}
	return nil
}

// Forward encodes a batch and returns one unit-norm code per input.
func (e *LinearEncoder) Forward(batch [][]float32) ([][]float32, error) {
	b := len(batch)
	if b == 0 {
		return nil, lagerr.Valuef("empty batch")
	}

	rows := b * e.patches
	x := make([]float32, 0, b*e.inDim)
	for i, in := range batch {
		if len(in) != e.inDim {
			return nil, &lagerr.DimensionMismatchError{Expected: e.inDim, Actual: len(in)}
		}
		if !distance.IsFinite(in) {
			return nil, lagerr.Valuef("input %d has non-finite values", i)
		}
		x = append(x, in...)
	}

	// Z = X W^T + b
	z := make([]float32, rows*e.outDim)
	blas32.Gemm(blas.NoTrans, blas.Trans, 1,
		blas32.General{Rows: rows, Cols: e.patchDim, Stride: e.patchDim, Data: x},
		blas32.General{Rows: e.outDim, Cols: e.patchDim, Stride: e.patchDim, Data: e.weight.Value.Data},
		0,
		blas32.General{Rows: rows, Cols: e.outDim, Stride: e.outDim, Data: z},
	)
	for r := 0; r < rows; r++ {
		math32.Axpy(1, e.bias.Value.Data, z[r*e.outDim:(r+1)*e.outDim])
	}

	out := make([]float32, b*e.outDim)
	norms := make([]float32, b)
	var argmax []int
	if e.merger == MergeMax {
		argmax = make([]int, b*e.outDim)
	}

	for i := 0; i < b; i++ {
		h := out[i*e.outDim : (i+1)*e.outDim]
		switch e.merger {
		case MergeMax:
			copy(h, z[i*e.patches*e.outDim:])
			for p := 1; p < e.patches; p++ {
				row := z[(i*e.patches+p)*e.outDim : (i*e.patches+p+1)*e.outDim]
				for d, v := range row {
					if v > h[d] {
						h[d] = v
						argmax[i*e.outDim+d] = p
					}
				}
			}
		default:
			for p := 0; p < e.patches; p++ {
				math32.Axpy(1, z[(i*e.patches+p)*e.outDim:(i*e.patches+p+1)*e.outDim], h)
			}
			math32.ScaleInPlace(h, 1/float32(e.patches))
		}

		n := math32.Norm(h)
		if n < minNorm {
			return nil, lagerr.Valuef("input %d encodes to a zero vector", i)
		}
		norms[i] = n
		math32.ScaleInPlace(h, 1/n)
	}

	e.batch = b
	e.x = x
	e.out = out
	e.norms = norms
	e.argmax = argmax

	codes := make([][]float32, b)
	for i := range codes {
		codes[i] = append([]float32(nil), out[i*e.outDim:(i+1)*e.outDim]...)
	}
	return codes, nil
}

// Backward accumulates parameter gradients for the gradient of the loss with
// respect to the codes returned by the last Forward.
func (e *LinearEncoder) Backward(gradOut [][]float32) error {
	if e.x == nil {
		return lagerr.Statef("backward called before forward")
	}
	if len(gradOut) != e.batch {
		return lagerr.Valuef("gradient batch %d does not match forward batch %d", len(gradOut), e.batch)
	}

	rows := e.batch * e.patches
	gz := make([]float32, rows*e.outDim)
	gh := make([]float32, e.outDim)

	for i, g := range gradOut {
		if len(g) != e.outDim {
			return &lagerr.DimensionMismatchError{Expected: e.outDim, Actual: len(g)}
		}

		// Through the normalization: (g - e <e,g>) / ||h||
		out := e.out[i*e.outDim : (i+1)*e.outDim]
		copy(gh, g)
		math32.Axpy(-math32.Dot(out, g), out, gh)
		math32.ScaleInPlace(gh, 1/e.norms[i])

		switch e.merger {
		case MergeMax:
			for d, v := range gh {
				p := e.argmax[i*e.outDim+d]
				gz[(i*e.patches+p)*e.outDim+d] += v
			}
		default:
			for p := 0; p < e.patches; p++ {
				math32.Axpy(1/float32(e.patches), gh, gz[(i*e.patches+p)*e.outDim:(i*e.patches+p+1)*e.outDim])
			}
		}
	}

	for r := 0; r < rows; r++ {
		math32.Axpy(1, gz[r*e.outDim:(r+1)*e.outDim], e.bias.Grad)
	}

	// dW += gZ^T X
	blas32.Gemm(blas.Trans, blas.NoTrans, 1,
		blas32.General{Rows: rows, Cols: e.outDim, Stride: e.outDim, Data: gz},
		blas32.General{Rows: rows, Cols: e.patchDim, Stride: e.patchDim, Data: e.x},
		1,
		blas32.General{Rows: e.outDim, Cols: e.patchDim, Stride: e.patchDim, Data: e.weight.Grad},
	)
	return nil
}
