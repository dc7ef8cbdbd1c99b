package orientation

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

// Direction tells whether a source axis is walked forwards or backwards.
type Direction int

const (
	Forward Direction = iota
	Reversed
)

// Entry selects one source axis for one output axis.
type Entry struct {
	Axis int
	Dir  Direction
}

// Reversed reports whether the axis is traversed backwards.
func (e Entry) Reversed() bool { return e.Dir == Reversed }

// Table maps each output axis (columns, rows, slices) to a source axis.
type Table [3]Entry

func fwd(axis int) Entry { return Entry{Axis: axis, Dir: Forward} }
func rev(axis int) Entry { return Entry{Axis: axis, Dir: Reversed} }

// resliceTable[from][to]. Every table keeps the output frame right-handed,
// so the resliced normal always points along increasing slice index.
var resliceTable = map[Plane]map[Plane]Table{
	Axial: {
		Coronal:  {fwd(0), rev(2), fwd(1)},
		Sagittal: {rev(2), fwd(1), fwd(0)},
	},
	Coronal: {
		Axial:    {fwd(0), fwd(2), rev(1)},
		Sagittal: {fwd(1), fwd(2), fwd(0)},
	},
	Sagittal: {
		Axial:   {fwd(2), fwd(1), rev(0)},
		Coronal: {fwd(2), fwd(0), fwd(1)},
	},
}

// Lookup returns the table reslicing a stack acquired in plane from into
// plane to.
func Lookup(from, to Plane) (Table, error) {
	if from == to {
		return Table{}, fmt.Errorf("cannot reslice %s onto itself", from)
	}
	row, ok := resliceTable[from]
	if !ok {
		return Table{}, fmt.Errorf("no reslice table from %s", from)
	}
	t, ok := row[to]
	if !ok {
		return Table{}, fmt.Errorf("no reslice table from %s to %s", from, to)
	}
	return t, nil
}

// Pairs lists every supported (from, to) combination.
func Pairs() [][2]Plane {
	var pairs [][2]Plane
	for _, from := range []Plane{Axial, Coronal, Sagittal} {
		for _, to := range []Plane{Axial, Coronal, Sagittal} {
			if _, ok := resliceTable[from][to]; ok {
				pairs = append(pairs, [2]Plane{from, to})
			}
		}
	}
	return pairs
}

// Axes returns the absolute source axis of each entry.
func (t Table) Axes() [3]int {
	return [3]int{t[0].Axis, t[1].Axis, t[2].Axis}
}

// Valid reports whether the table axes form a permutation of {0,1,2}.
func (t Table) Valid() bool {
	var seen [3]bool
	for _, e := range t {
		if e.Axis < 0 || e.Axis > 2 || seen[e.Axis] {
			return false
		}
		seen[e.Axis] = true
	}
	return true
}

// Inverse returns the table that undoes t.
func (t Table) Inverse() Table {
	var inv Table
	for out, e := range t {
		inv[e.Axis] = Entry{Axis: out, Dir: e.Dir}
	}
	return inv
}

// String renders the table with a leading '-' on reversed entries, "-0" included.
func (t Table) String() string {
	parts := make([]string, 3)
	for i, e := range t {
		sign := ""
		if e.Reversed() {
			sign = "-"
		}
		parts[i] = fmt.Sprintf("%s%d", sign, e.Axis)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Permute returns out[i] = values[t[i].Axis].
func Permute(t Table, values [3]float64) [3]float64 {
	return [3]float64{values[t[0].Axis], values[t[1].Axis], values[t[2].Axis]}
}

// PermuteInts is Permute for integer triples such as sizes.
func PermuteInts(t Table, values [3]int) [3]int {
	return [3]int{values[t[0].Axis], values[t[1].Axis], values[t[2].Axis]}
}

// PermuteSigned selects vectors like Permute and negates those whose entry is
// reversed.
func PermuteSigned(t Table, vectors [3]r3.Vec) [3]r3.Vec {
	var out [3]r3.Vec
	for i, e := range t {
		v := vectors[e.Axis]
		if e.Reversed() {
			v = r3.Scale(-1, v)
		}
		out[i] = v
	}
	return out
}
