// Package tui renders a finished (or still-streaming) scan result as an
// interactive terminal browser: Found/Ambiguous/NotFound panes and a
// filterable Symbols table. Purely presentational -- it holds no scanning
// logic of its own and reads only what internal/coordinator and
// internal/namelist already computed.
package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/kbrandt/stencilscan/internal/coordinator"
	"github.com/kbrandt/stencilscan/internal/namelist"
)

// TUI is the interactive result browser.
type TUI struct {
	App   *tview.Application
	Pages *tview.Pages

	FoundList     *tview.List
	AmbiguousList *tview.List
	NotFoundList  *tview.List
	SymbolsTable  *tview.Table
	FilterInput   *tview.InputField

	allSymbols []coordinator.Symbol
}

// New builds a TUI over result, bound to the real terminal screen.
func New(result coordinator.Result, names namelist.Lists) *TUI {
	return newWithScreen(nil, result, names)
}

// NewWithScreen builds a TUI bound to an explicit tcell.Screen (a
// tcell.SimulationScreen in tests), for headless testing.
func NewWithScreen(screen tcell.Screen, result coordinator.Result, names namelist.Lists) *TUI {
	return newWithScreen(screen, result, names)
}

func newWithScreen(screen tcell.Screen, result coordinator.Result, names namelist.Lists) *TUI {
	t := &TUI{
		App:        tview.NewApplication(),
		allSymbols: result.Symbols,
	}
	if screen != nil {
		t.App.SetScreen(screen)
	}

	t.initializeViews(result, names)
	t.buildLayout()
	t.setupKeyBindings()

	return t
}

func (t *TUI) initializeViews(result coordinator.Result, names namelist.Lists) {
	t.FoundList = tview.NewList().ShowSecondaryText(false)
	t.FoundList.SetBorder(true).SetTitle(" Found ")
	found := append([]coordinator.FoundFile(nil), result.Found...)
	sort.Slice(found, func(i, j int) bool { return found[i].TextStart < found[j].TextStart })
	for _, f := range found {
		kind := names.Classify(f.Stem)
		t.FoundList.AddItem(fmt.Sprintf("0x%08X  %-5s  %s", f.TextStart, kind, f.Stem), "", 0, nil)
	}

	t.AmbiguousList = tview.NewList().ShowSecondaryText(false)
	t.AmbiguousList.SetBorder(true).SetTitle(" Ambiguous ")
	for _, a := range result.Ambiguous {
		offsets := make([]string, len(a.Candidates))
		for i, c := range a.Candidates {
			offsets[i] = fmt.Sprintf("0x%X", c)
		}
		t.AmbiguousList.AddItem(fmt.Sprintf("%-20s  %s", a.Stem, strings.Join(offsets, ", ")), "", 0, nil)
	}

	t.NotFoundList = tview.NewList().ShowSecondaryText(false)
	t.NotFoundList.SetBorder(true).SetTitle(" Not Found ")
	for _, n := range result.NotFound {
		t.NotFoundList.AddItem(n, "", 0, nil)
	}

	t.SymbolsTable = tview.NewTable().SetFixed(1, 0).SetSelectable(true, false)
	t.SymbolsTable.SetBorder(true).SetTitle(" Symbols ")
	t.populateSymbolsTable(t.allSymbols)

	t.FilterInput = tview.NewInputField().SetLabel("/ ")
	t.FilterInput.SetBorder(true).SetTitle(" Filter ")
	t.FilterInput.SetChangedFunc(func(text string) {
		t.populateSymbolsTable(filterSymbols(t.allSymbols, text))
	})
}

func (t *TUI) populateSymbolsTable(symbols []coordinator.Symbol) {
	t.SymbolsTable.Clear()
	headers := []string{"Name", "Address", "Size", "Origin", "Defined"}
	for col, h := range headers {
		t.SymbolsTable.SetCell(0, col, tview.NewTableCell(h).SetSelectable(false).SetTextColor(tcell.ColorYellow))
	}
	for row, s := range symbols {
		t.SymbolsTable.SetCell(row+1, 0, tview.NewTableCell(s.Name))
		t.SymbolsTable.SetCell(row+1, 1, tview.NewTableCell(fmt.Sprintf("0x%08X", s.Address)))
		t.SymbolsTable.SetCell(row+1, 2, tview.NewTableCell(fmt.Sprintf("0x%X", s.Size)))
		t.SymbolsTable.SetCell(row+1, 3, tview.NewTableCell(s.Origin))
		t.SymbolsTable.SetCell(row+1, 4, tview.NewTableCell(fmt.Sprintf("%t", s.Defined)))
	}
}

// filterSymbols returns the symbols whose name contains query, case
// insensitively. An empty query matches everything.
func filterSymbols(symbols []coordinator.Symbol, query string) []coordinator.Symbol {
	if query == "" {
		return symbols
	}
	query = strings.ToLower(query)
	var out []coordinator.Symbol
	for _, s := range symbols {
		if strings.Contains(strings.ToLower(s.Name), query) {
			out = append(out, s)
		}
	}
	return out
}

func (t *TUI) buildLayout() {
	left := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(t.FoundList, 0, 2, true).
		AddItem(t.AmbiguousList, 0, 1, false).
		AddItem(t.NotFoundList, 0, 1, false)

	right := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(t.SymbolsTable, 0, 1, false).
		AddItem(t.FilterInput, 3, 0, false)

	main := tview.NewFlex().
		SetDirection(tview.FlexColumn).
		AddItem(left, 0, 1, true).
		AddItem(right, 0, 1, false)

	t.Pages = tview.NewPages().AddPage("main", main, true, true)
}

func (t *TUI) setupKeyBindings() {
	t.App.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch {
		case event.Key() == tcell.KeyCtrlC:
			t.App.Stop()
			return nil
		case event.Rune() == '/':
			t.App.SetFocus(t.FilterInput)
			return nil
		case event.Key() == tcell.KeyTab:
			t.cycleFocus()
			return nil
		}
		return event
	})
}

func (t *TUI) cycleFocus() {
	order := []tview.Primitive{t.FoundList, t.AmbiguousList, t.NotFoundList, t.SymbolsTable}
	current := t.App.GetFocus()
	for i, p := range order {
		if p == current {
			t.App.SetFocus(order[(i+1)%len(order)])
			return
		}
	}
	t.App.SetFocus(t.FoundList)
}

// Run starts the event loop. Blocks until the user quits.
func (t *TUI) Run() error {
	return t.App.SetRoot(t.Pages, true).Run()
}
