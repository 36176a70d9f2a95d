package app

import "fmt"

// TotalMsg sets how many units the run has. Profile runs only learn it after page 0.
type TotalMsg struct {
	Total int
}

// UnitDoneMsg reports one finished chunk or page.
type UnitDoneMsg struct {
	Label      string // e.g. "2024-01-01..2024-01-07" or "page 3"
	Rows       int
	Cumulative int
	Success    bool
	ErrMsg     string
}

// FinishedMsg ends the view.
type FinishedMsg struct {
	Summary string
	Err     error
}

func NewUnitDone(label string, rows, cumulative int, success bool, errMsg string) UnitDoneMsg {
	return UnitDoneMsg{Label: label, Rows: rows, Cumulative: cumulative, Success: success, ErrMsg: errMsg}
}

func (u UnitDoneMsg) String() string {
	if u.Success {
		return fmt.Sprintf("UnitDone %s: %d rows", u.Label, u.Rows)
	}
	return fmt.Sprintf("UnitDone %s: error %s", u.Label, u.ErrMsg)
}

func (f FinishedMsg) String() string { return fmt.Sprintf("Finished: %s", f.Summary) }
