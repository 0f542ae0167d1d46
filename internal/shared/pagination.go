package shared

// Page bounds a listing query.
type Page struct {
	Limit  int
	Offset int
}

const (
	defaultPageLimit = 100
	maxPageLimit     = 1000
)

// Normalize applies default and maximum limits.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = defaultPageLimit
	}
	if p.Limit > maxPageLimit {
		p.Limit = maxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// Slice applies the page to an in-memory result.
func Slice[T any](items []T, p Page) []T {
	p = p.Normalize()
	if p.Offset >= len(items) {
		return []T{}
	}
	end := p.Offset + p.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[p.Offset:end]
}
