package common

const (
	KiB = uint64(1) << 10
	MiB = uint64(1) << 20
	GiB = uint64(1) << 30
	TiB = uint64(1) << 40
)

// ToPtr returns a pointer to the given value. Useful for filling optional
// fields in descriptor literals.
func ToPtr[T any](v T) *T {
	return &v
}
