package shape

// ceilDiv returns ceil(a/b) for positive b.
func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}

// WindowOutput returns the output length of a convolution or pooling window
// of size k and stride s over n elements.
//
//	same:  ceil(n/s)
//	valid: floor((n-k)/s) + 1, or <= 0 when the window does not fit
func WindowOutput(n, k, s int64, p Padding) int64 {
	if p == Same {
		return ceilDiv(n, s)
	}
	if n < k {
		return 0
	}
	return (n-k)/s + 1
}

// TransposeOutput returns the output length of a transposed convolution of
// kernel k and stride s over n elements.
//
//	same:  n*s
//	valid: (n-1)*s + k
func TransposeOutput(n, k, s int64, p Padding) int64 {
	if p == Same {
		return n * s
	}
	return (n-1)*s + k
}

// Window applies WindowOutput on every spatial axis.
func Window(in, kernel, stride Triple, p Padding) Triple {
	var out Triple
	for i := range in {
		out[i] = WindowOutput(in[i], kernel[i], stride[i], p)
	}
	return out
}

// Transpose applies TransposeOutput on every spatial axis.
func Transpose(in, kernel, stride Triple, p Padding) Triple {
	var out Triple
	for i := range in {
		out[i] = TransposeOutput(in[i], kernel[i], stride[i], p)
	}
	return out
}

// SamePad returns the symmetric padding that keeps a stride-1 window of odd
// size k shape-preserving. ok is false for even k, which needs asymmetric
// padding.
func SamePad(k int64) (pad int64, ok bool) {
	if k%2 == 0 {
		return 0, false
	}
	return k / 2, true
}

// TransposeSamePad returns the padding and output padding that make a
// transposed convolution of kernel k and stride s produce exactly n*s
// elements under the libtorch size rule
// (n-1)*s - 2*pad + k + outPad. ok is false when no such pair exists.
func TransposeSamePad(k, s int64) (pad, outPad int64, ok bool) {
	if k < s {
		return 0, s - k, true
	}
	d := k - s
	pad = (d + 1) / 2
	outPad = 2*pad - d
	if outPad >= s {
		return 0, 0, false
	}
	return pad, outPad, true
}

// Divisible reports whether every axis of t is divisible by the matching
// axis of f.
func Divisible(t, f Triple) bool {
	for i := range t {
		if f[i] == 0 || t[i]%f[i] != 0 {
			return false
		}
	}
	return true
}

// Mul multiplies two triples axis by axis.
func Mul(a, b Triple) Triple {
	return Triple{a[0] * b[0], a[1] * b[1], a[2] * b[2]}
}
