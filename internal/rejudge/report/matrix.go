// Package report computes the read-only views of finished rejudgings:
// the verdict diff matrix and the statistics of repeated rejudging groups.
package report

// UnknownVerdict labels a finished judging that carries no result.
const UnknownVerdict = "unknown"

// VerdictSet is an ordered set of verdict labels. Labels only ever get appended,
// so an index, once handed out, stays valid.
type VerdictSet struct {
	labels []string
	index  map[string]int
}

// NewVerdictSet creates a set in the given order, dropping duplicates.
func NewVerdictSet(labels []string) *VerdictSet {
	v := &VerdictSet{index: make(map[string]int, len(labels))}
	for _, label := range labels {
		v.add(label)
	}
	return v
}

// Index returns the position of label.
func (v *VerdictSet) Index(label string) (int, bool) {
	i, ok := v.index[label]
	return i, ok
}

// Len returns the number of labels.
func (v *VerdictSet) Len() int {
	return len(v.labels)
}

// Labels returns a copy of the labels in order.
func (v *VerdictSet) Labels() []string {
	return append([]string(nil), v.labels...)
}

func (v *VerdictSet) add(label string) (int, bool) {
	if i, ok := v.index[label]; ok {
		return i, false
	}
	v.index[label] = len(v.labels)
	v.labels = append(v.labels, label)
	return len(v.labels) - 1, true
}

// Matrix is a square histogram of submissions keyed by (original verdict, new verdict).
type Matrix struct {
	verdicts *VerdictSet
	cells    [][][]int64
	used     map[string]bool
	total    int
}

// NewMatrix creates an empty matrix whose rows and columns follow known.
func NewMatrix(known []string) *Matrix {
	verdicts := NewVerdictSet(known)
	cells := make([][][]int64, verdicts.Len())
	for i := range cells {
		cells[i] = make([][]int64, verdicts.Len())
	}
	return &Matrix{verdicts: verdicts, cells: cells, used: make(map[string]bool)}
}

// Add records that a submission went from the original verdict to the new one.
func (m *Matrix) Add(original, next string, submissionID int64) {
	if original == "" {
		original = UnknownVerdict
	}
	if next == "" {
		next = UnknownVerdict
	}
	row := m.extend(original)
	col := m.extend(next)
	m.cells[row][col] = append(m.cells[row][col], submissionID)
	m.used[original] = true
	m.used[next] = true
	m.total++
}

// extend makes sure label has a row and a column before any cell refers to it.
func (m *Matrix) extend(label string) int {
	i, added := m.verdicts.add(label)
	if !added {
		return i
	}
	for r := range m.cells {
		m.cells[r] = append(m.cells[r], nil)
	}
	m.cells = append(m.cells, make([][]int64, m.verdicts.Len()))
	return i
}

// Cell returns the submissions that moved from original to next.
func (m *Matrix) Cell(original, next string) []int64 {
	row, ok := m.verdicts.Index(original)
	if !ok {
		return nil
	}
	col, ok := m.verdicts.Index(next)
	if !ok {
		return nil
	}
	return m.cells[row][col]
}

// Verdicts returns every row/column label in order.
func (m *Matrix) Verdicts() []string {
	return m.verdicts.Labels()
}

// UsedLabels returns the labels that appear in at least one cell, in matrix order.
func (m *Matrix) UsedLabels() []string {
	var used []string
	for _, label := range m.verdicts.labels {
		if m.used[label] {
			used = append(used, label)
		}
	}
	return used
}

// Total returns the number of recorded submissions.
func (m *Matrix) Total() int {
	return m.total
}

// Changed returns the number of submissions whose verdict changed.
func (m *Matrix) Changed() int {
	changed := 0
	for r := range m.cells {
		for c := range m.cells[r] {
			if r != c {
				changed += len(m.cells[r][c])
			}
		}
	}
	return changed
}

// MatrixView is the serialized form of a Matrix.
type MatrixView struct {
	Verdicts []string                      `json:"verdicts"`
	Used     []string                      `json:"used"`
	Cells    map[string]map[string][]int64 `json:"matrix"`
	Total    int                           `json:"total"`
	Changed  int                           `json:"changed"`
}

// View renders the matrix with every cell present.
func (m *Matrix) View() *MatrixView {
	view := &MatrixView{
		Verdicts: m.Verdicts(),
		Used:     m.UsedLabels(),
		Cells:    make(map[string]map[string][]int64, m.verdicts.Len()),
		Total:    m.total,
		Changed:  m.Changed(),
	}
	for r, original := range m.verdicts.labels {
		row := make(map[string][]int64, m.verdicts.Len())
		for c, next := range m.verdicts.labels {
			ids := m.cells[r][c]
			if ids == nil {
				ids = []int64{}
			}
			row[next] = ids
		}
		view.Cells[original] = row
	}
	return view
}
