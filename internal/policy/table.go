package policy

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"text/template"

	"github.com/san-kum/rwpend/internal/discretize"
	"github.com/san-kum/rwpend/internal/dynamo"
)

var ErrFormat = errors.New("policy: bad table file")

var magic = [4]byte{'R', 'W', 'P', 'T'}

const formatVersion = 1

// Table maps every discretized state to a discretized action.
type Table struct {
	Grid    discretize.Grid
	Actions []uint16
}

// ActionIndex returns the discretized action for x.
func (t *Table) ActionIndex(x dynamo.State) int {
	return int(t.Actions[t.Grid.Index(t.Grid.Cell(x))])
}

// Lookup returns the continuous command for x.
func (t *Table) Lookup(x dynamo.State) float64 {
	return t.Grid.Action.Undiscretize(t.ActionIndex(x))
}

// At returns the action index stored for cell c.
func (t *Table) At(c discretize.Cell) int {
	return int(t.Actions[t.Grid.Index(c)])
}

type axisHeader struct {
	Min, Max float64
	Count    uint32
}

func (t *Table) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	bw := bufio.NewWriter(cw)

	hdr := []any{magic, uint16(formatVersion)}
	for _, d := range []discretize.Discretizer{t.Grid.Wheel, t.Grid.Angle, t.Grid.Rate, t.Grid.Action} {
		hdr = append(hdr, axisHeader{Min: d.Min, Max: d.Max, Count: uint32(d.Count)})
	}
	for _, v := range hdr {
		if err := binary.Write(bw, binary.LittleEndian, v); err != nil {
			return cw.n, err
		}
	}
	if err := binary.Write(bw, binary.LittleEndian, t.Actions); err != nil {
		return cw.n, err
	}
	err := bw.Flush()
	return cw.n, err
}

// Read decodes a table written by WriteTo.
func Read(r io.Reader) (*Table, error) {
	br := bufio.NewReader(r)

	var m [4]byte
	var version uint16
	if err := binary.Read(br, binary.LittleEndian, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if m != magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrFormat, m[:])
	}
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if version != formatVersion {
		return nil, fmt.Errorf("%w: version %d", ErrFormat, version)
	}

	var axes [4]axisHeader
	if err := binary.Read(br, binary.LittleEndian, &axes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	var ds [4]discretize.Discretizer
	for i, a := range axes {
		if a.Count > math.MaxUint16 {
			return nil, fmt.Errorf("%w: axis %d: %w", ErrFormat, i, ErrTooLarge)
		}
		d, err := discretize.New(a.Min, a.Max, int(a.Count))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFormat, err)
		}
		ds[i] = d
	}
	t := &Table{Grid: discretize.Grid{Wheel: ds[0], Angle: ds[1], Rate: ds[2], Action: ds[3]}}

	actions, err := readActions(br, t.Grid.States())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	t.Actions = actions
	for i, a := range t.Actions {
		if int(a) >= t.Grid.Actions() {
			return nil, fmt.Errorf("%w: action %d at cell %d out of range", ErrFormat, a, i)
		}
	}
	return t, nil
}

// readActions reads n values in chunks so that a header claiming more
// cells than the file holds fails on the missing bytes instead of
// allocating for the claim.
func readActions(r io.Reader, n int) ([]uint16, error) {
	const chunk = 1 << 16
	out := make([]uint16, 0, min(n, chunk))
	buf := make([]uint16, min(n, chunk))
	for len(out) < n {
		part := buf[:min(n-len(out), chunk)]
		if err := binary.Read(r, binary.LittleEndian, part); err != nil {
			return nil, fmt.Errorf("after %d of %d actions: %w", len(out), n, err)
		}
		out = append(out, part...)
	}
	return out, nil
}

func (t *Table) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := t.WriteTo(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

var goSource = template.Must(template.New("table").Funcs(template.FuncMap{
	"mod": func(a, b int) int { return a % b },
}).Parse(`// Code generated by rwpend synth. DO NOT EDIT.

package {{.Package}}

import "github.com/san-kum/rwpend/internal/discretize"

var {{.Name}}Grid = discretize.Grid{
{{- range .Axes}}
	{{.Field}}: discretize.Discretizer{Min: {{printf "%v" .D.Min}}, Max: {{printf "%v" .D.Max}}, Count: {{.D.Count}}},
{{- end}}
}

var {{.Name}}Actions = [{{len .Actions}}]uint16{
{{- range $i, $a := .Actions}}{{if eq (mod $i 24) 0}}
	{{else}} {{end}}{{$a}},{{end}}
}
`))

// WriteGo emits the table as Go source declaring <name>Grid and
// <name>Actions, so the runtime grid is compiled from the same constants
// the table was solved with.
func (t *Table) WriteGo(w io.Writer, pkg, name string) error {
	type axis struct {
		Field string
		D     discretize.Discretizer
	}
	data := struct {
		Package string
		Name    string
		Axes    []axis
		Actions []uint16
	}{
		Package: pkg,
		Name:    name,
		Axes: []axis{
			{"Wheel", t.Grid.Wheel},
			{"Angle", t.Grid.Angle},
			{"Rate", t.Grid.Rate},
			{"Action", t.Grid.Action},
		},
		Actions: t.Actions,
	}
	return goSource.Execute(w, data)
}
