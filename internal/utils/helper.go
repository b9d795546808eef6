package utils

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Paginate normalises a limit/page pair and returns the matching offset.
func Paginate(limit, page int) (int, int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if page <= 0 {
		page = 1
	}
	return limit, page, (page - 1) * limit
}

func StrPtr(s string) *string {
	return &s
}

func PtrString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
