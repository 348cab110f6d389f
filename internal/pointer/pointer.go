package pointer

// String returns a pointer to a copy of s.
func String(s string) *string {
	return &s
}
