package safetensors

import "strings"

// Dtype strings as they appear in shard headers.
const (
	DTypeF8E4M3  = "F8_E4M3"
	DTypeBF16    = "BF16"
	DTypeF16     = "F16"
	DTypeF32     = "F32"
	DTypeFloat32 = "float32"
)

// IsF32 reports whether dt names a 32-bit float in either spelling used by
// exporters.
func IsF32(dt string) bool {
	return dt == DTypeF32 || dt == DTypeFloat32
}

// ElementSize returns the byte width of one element of dt. ok is false for
// dtypes the converter treats as opaque.
func ElementSize(dt string) (size int, ok bool) {
	switch {
	case dt == DTypeF8E4M3:
		return 1, true
	case dt == DTypeBF16:
		return 2, true
	case IsF32(dt):
		return 4, true
	default:
		return 0, false
	}
}

// ExtensionMatch reports whether filename carries ext, ignoring case.
func ExtensionMatch(filename, ext string) bool {
	return strings.HasSuffix(strings.ToLower(filename), strings.ToLower(ext))
}
