package control

import (
	"github.com/san-kum/rwpend/internal/discretize"
	"github.com/san-kum/rwpend/internal/dynamo"
	"github.com/san-kum/rwpend/internal/policy"
)

// TableController commands the action a synthesized policy table stores
// for the cell containing the estimate.
type TableController struct {
	table *policy.Table
}

// NewTableController refuses tables solved on a grid other than grid.
func NewTableController(table *policy.Table, grid discretize.Grid) (*TableController, error) {
	if err := grid.Check(table.Grid); err != nil {
		return nil, err
	}
	return &TableController{table: table}, nil
}

func (c *TableController) Compute(x dynamo.State, t float64) dynamo.Control {
	return dynamo.Control{c.table.Lookup(x)}
}
