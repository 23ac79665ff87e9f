package market

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	// psdTolerance - допуск на отрицательные собственные значения из-за округления
	psdTolerance = 1e-9

	// choleskyJitter добавляется к диагонали вырожденной (но PSD) ковариации
	choleskyJitter = 1e-10

	symmetryTolerance = 1e-12
)

// Ошибки корреляционной матрицы (ошибки конфигурации, фатальны на старте)
var (
	ErrCorrelationShape    = errors.New("correlation matrix has wrong shape")
	ErrCorrelationInvalid  = errors.New("correlation matrix is invalid")
	ErrCorrelationNotPSD   = errors.New("correlation matrix is not positive semi-definite")
	ErrCovarianceFactorize = errors.New("covariance matrix cannot be factorized")
)

// ValidateCorrelation проверяет матрицу корреляций C размера n×n
//
// Требования: симметрия, единичная диагональ, элементы в [-1, 1],
// положительная полуопределенность (минимальное собственное значение >= -1e-9).
func ValidateCorrelation(c [][]float64, n int) error {
	if len(c) != n {
		return fmt.Errorf("%w: %d rows, want %d", ErrCorrelationShape, len(c), n)
	}
	for i, row := range c {
		if len(row) != n {
			return fmt.Errorf("%w: row %d has %d columns, want %d", ErrCorrelationShape, i, len(row), n)
		}
	}

	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		if math.Abs(c[i][i]-1) > symmetryTolerance {
			return fmt.Errorf("%w: diagonal [%d][%d]=%v, want 1", ErrCorrelationInvalid, i, i, c[i][i])
		}
		for j := i; j < n; j++ {
			v := c[i][j]
			if math.IsNaN(v) || v < -1 || v > 1 {
				return fmt.Errorf("%w: [%d][%d]=%v out of [-1, 1]", ErrCorrelationInvalid, i, j, v)
			}
			if math.Abs(v-c[j][i]) > symmetryTolerance {
				return fmt.Errorf("%w: [%d][%d]=%v != [%d][%d]=%v", ErrCorrelationInvalid, i, j, v, j, i, c[j][i])
			}
			sym.SetSym(i, j, v)
		}
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(sym, false); !ok {
		return fmt.Errorf("%w: eigen decomposition failed", ErrCorrelationNotPSD)
	}
	for _, v := range eig.Values(nil) {
		if v < -psdTolerance {
			return fmt.Errorf("%w: eigenvalue %v", ErrCorrelationNotPSD, v)
		}
	}
	return nil
}

// IdentityCorrelation возвращает матрицу без корреляций
func IdentityCorrelation(n int) [][]float64 {
	c := make([][]float64, n)
	for i := range c {
		c[i] = make([]float64, n)
		c[i][i] = 1
	}
	return c
}

// covarianceFactor возвращает нижнетреугольный фактор Холецкого L для C ⊙ (σσᵗ)
//
// Ковариация считается на единицу времени: для шага dt фактор масштабируется на √dt.
func covarianceFactor(c [][]float64, vols []float64) (*mat.TriDense, error) {
	n := len(vols)
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, c[i][j]*vols[i]*vols[j])
		}
		// Нулевая вола дает нулевую строку: ставим 1 на диагональ,
		// после разложения обнуляем - шок такого инструмента ровно 0
		if vols[i] == 0 {
			sym.SetSym(i, i, 1)
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(sym); !ok {
		// Полуопределенная матрица (|ρ|=1) - добавляем jitter
		for i := 0; i < n; i++ {
			sym.SetSym(i, i, sym.At(i, i)+choleskyJitter)
		}
		if ok := chol.Factorize(sym); !ok {
			return nil, ErrCovarianceFactorize
		}
	}

	var l mat.TriDense
	chol.LTo(&l)
	for i := 0; i < n; i++ {
		if vols[i] == 0 {
			l.SetTri(i, i, 0)
		}
	}
	return &l, nil
}
