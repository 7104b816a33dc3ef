package table

// Set is a registry of tables keyed by a value discovered in the data,
// such as a record type. Keys keep their first-seen order.
type Set struct {
	order  []string
	tables map[string]*Table
}

// NewSet creates an empty registry.
func NewSet() *Set {
	return &Set{tables: make(map[string]*Table)}
}

// Get returns the table for key, creating it on first use.
func (s *Set) Get(key string) *Table {
	if t, ok := s.tables[key]; ok {
		return t
	}
	t := New(key)
	s.tables[key] = t
	s.order = append(s.order, key)
	return t
}

// Lookup returns the table for key if it exists.
func (s *Set) Lookup(key string) (*Table, bool) {
	t, ok := s.tables[key]
	return t, ok
}

// Keys returns the registered keys in first-seen order.
func (s *Set) Keys() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Len returns the number of tables.
func (s *Set) Len() int {
	return len(s.order)
}

// Rows returns the total row count across all tables.
func (s *Set) Rows() int {
	n := 0
	for _, t := range s.tables {
		n += t.Len()
	}
	return n
}
