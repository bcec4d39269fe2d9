package models

import (
	"fmt"
	"strings"

	"github.com/mgutz/ansi"
)

// NamedReg is one register of a dump.
type NamedReg struct {
	Name string
	Val  uint64
}

var chSame = ansi.ColorCode("default:default")
var chNew = ansi.ColorCode("default+bu:default")

func colorPad(s, color string, pad int) string {
	length := len(s)
	s = color + s + ansi.Reset
	if length < pad {
		s = strings.Repeat(" ", pad-length) + s
	}
	return s
}

type ChangeMask struct {
	Old, New string
	Changed  bool
}

type Change struct {
	Old, New uint64
	Name     string
}

func (c *Change) Changed() bool {
	return c.Old != c.New
}

// Mask splits the hex rendering of New into runs that match or differ from
// Old, so only the changed digits get highlighted.
func (c *Change) Mask(bsz int) []ChangeMask {
	hexFmt := fmt.Sprintf("%%0%dx", bsz)
	s1, s2 := fmt.Sprintf(hexFmt, c.New), fmt.Sprintf(hexFmt, c.Old)
	pos := 0
	matching := true
	var masks []ChangeMask
	for i := range s1 {
		if (s1[i] == s2[i]) != matching {
			if i > pos {
				masks = append(masks, ChangeMask{New: s1[pos:i], Old: s2[pos:i], Changed: !matching})
				pos = i
			}
			matching = !matching
		}
	}
	if pos < len(s1) {
		masks = append(masks, ChangeMask{New: s1[pos:], Old: s2[pos:], Changed: !matching})
	}
	return masks
}

func (c *Change) String(bsz int, color bool) string {
	hexFmt := fmt.Sprintf("%%0%dx", bsz)
	if !c.Changed() {
		return fmt.Sprintf("  %4s 0x"+hexFmt, c.Name, c.New)
	}
	if !color {
		return fmt.Sprintf("+ %4s 0x"+hexFmt, c.Name, c.New)
	}
	var out strings.Builder
	fmt.Fprintf(&out, "  %s 0x", colorPad(c.Name, chNew, 4))
	for _, mask := range c.Mask(bsz) {
		col := chSame
		if mask.Changed {
			col = chNew
		}
		out.WriteString(col + mask.New)
	}
	out.WriteString(ansi.Reset)
	return out.String()
}

// Changes renders a register set column-wise, four to a row.
type Changes struct {
	Bsz     int
	Changes []*Change
}

func (cs *Changes) String(color bool) string {
	var out []string
	printRow := func(changes []*Change) {
		for _, c := range changes {
			out = append(out, c.String(cs.Bsz, color), " ")
		}
		if len(changes) > 0 {
			out = append(out, "\n")
		}
	}
	const cols = 4
	changes := cs.Changes
	rows := len(changes) / cols
	row := make([]*Change, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			row[j] = changes[j*rows+i]
		}
		printRow(row)
	}
	printRow(changes[rows*cols:])
	return strings.Join(out, "")
}

func (cs *Changes) Count() int {
	n := 0
	for _, c := range cs.Changes {
		if c.Changed() {
			n++
		}
	}
	return n
}

// FrameDump formats regs, marking every register whose value differs from
// prev. A nil prev marks nothing.
func FrameDump(regs []NamedReg, prev []uint64, color bool) string {
	cs := &Changes{Bsz: 8, Changes: make([]*Change, len(regs))}
	for i, r := range regs {
		old := r.Val
		if i < len(prev) {
			old = prev[i]
		}
		cs.Changes[i] = &Change{Old: old, New: r.Val, Name: r.Name}
	}
	return cs.String(color)
}
