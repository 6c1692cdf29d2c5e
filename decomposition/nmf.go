// Package decomposition implements non-negative matrix factorization for
// the collaborative-filtering recommender.
package decomposition

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/aicrm/mlservice/core/model"
	"github.com/aicrm/mlservice/pkg/errors"
)

// NMF approximates a non-negative matrix V (n×m) as W·H with
// W (n×k) and H (k×m), using multiplicative updates.
type NMF struct {
	model.BaseEstimator

	// NComponents is the latent dimensionality k. The documented default
	// is 50; it is clamped to min(n, m) at fit time because a wider
	// factorization than the matrix is undefined.
	NComponents int

	// MaxIter is the number of multiplicative update rounds.
	MaxIter int

	// RandomState seeds the factor initialization.
	RandomState int

	W *mat.Dense
	H *mat.Dense
}

// NewNMF creates a factorization model with the service defaults
// (50 components, 200 iterations, seed 42).
func NewNMF() *NMF {
	return &NMF{
		NComponents: 50,
		MaxIter:     200,
		RandomState: 42,
	}
}

// WithNComponents sets the latent dimensionality.
func (n *NMF) WithNComponents(k int) *NMF {
	n.NComponents = k
	return n
}

// WithMaxIter sets the number of update rounds.
func (n *NMF) WithMaxIter(iters int) *NMF {
	n.MaxIter = iters
	return n
}

// Fit factorizes V. All entries of V must be non-negative.
func (n *NMF) Fit(V mat.Matrix) (err error) {
	defer errors.Recover(&err, "NMF.Fit")

	r, c := V.Dims()
	if r == 0 || c == 0 {
		return errors.NewEmptyInputError("NMF.Fit")
	}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if V.At(i, j) < 0 {
				return errors.NewValueError("NMF.Fit", "matrix entries must be non-negative")
			}
		}
	}

	k := n.NComponents
	if k < 1 {
		return errors.NewValueError("NMF.Fit", "NComponents must be positive")
	}
	if k > r {
		k = r
	}
	if k > c {
		k = c
	}

	rng := rand.New(rand.NewSource(int64(n.RandomState)))
	W := randomFactor(r, k, rng)
	H := randomFactor(k, c, rng)

	const eps = 1e-10
	var (
		wtv, wtw, wtwh mat.Dense
		vht, wh, whht  mat.Dense
	)

	for iter := 0; iter < n.MaxIter; iter++ {
		// H <- H * (WᵀV) / (WᵀW·H)
		wtv.Mul(W.T(), V)
		wtw.Mul(W.T(), W)
		wtwh.Mul(&wtw, H)
		applyUpdate(H, &wtv, &wtwh, eps)

		// W <- W * (V·Hᵀ) / (W·H·Hᵀ)
		vht.Mul(V, H.T())
		wh.Mul(W, H)
		whht.Mul(&wh, H.T())
		applyUpdate(W, &vht, &whht, eps)
	}

	n.W = W
	n.H = H
	n.SetFitted()
	return nil
}

// ReconstructionMSE returns the mean squared error between V and W·H.
func (n *NMF) ReconstructionMSE(V mat.Matrix) (float64, error) {
	if !n.IsFitted() {
		return 0, errors.NewNotTrainedError("NMF", "ReconstructionMSE")
	}
	r, c := V.Dims()

	var wh mat.Dense
	wh.Mul(n.W, n.H)

	var sum float64
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			diff := V.At(i, j) - wh.At(i, j)
			sum += diff * diff
		}
	}
	return sum / float64(r*c), nil
}

func randomFactor(r, c int, rng *rand.Rand) *mat.Dense {
	data := make([]float64, r*c)
	for i := range data {
		data[i] = rng.Float64() + 0.01
	}
	return mat.NewDense(r, c, data)
}

// applyUpdate performs the elementwise multiplicative step
// target *= numer / (denom + eps).
func applyUpdate(target, numer, denom *mat.Dense, eps float64) {
	r, c := target.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			target.Set(i, j, target.At(i, j)*numer.At(i, j)/(denom.At(i, j)+eps))
		}
	}
}
