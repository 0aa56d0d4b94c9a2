package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/rustyeddy/tradeguard/breaker"
	"github.com/rustyeddy/tradeguard/execution"
	"github.com/rustyeddy/tradeguard/journal"
)

var (
	primaryColor = lipgloss.Color("#0077cc")
	errorColor   = lipgloss.Color("#cc3300")
	successColor = lipgloss.Color("#33cc33")
	mutedColor   = lipgloss.Color("#999999")

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(primaryColor).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	trippedRow  = cellStyle.Foreground(errorColor)
	armedRow    = cellStyle.Foreground(successColor)
	footerStyle = lipgloss.NewStyle().Foreground(mutedColor)
)

const timeLayout = "2006-01-02 15:04"

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(primaryColor)).
		Headers(headers...)
}

func breakerStatus(s breaker.State, now time.Time) string {
	switch {
	case s.Active(now):
		return "TRIPPED"
	case s.Tripped:
		return "expired"
	default:
		return "armed"
	}
}

// renderBreakers draws one row per breaker; running lockouts are red.
func renderBreakers(states []breaker.State, now time.Time) string {
	if len(states) == 0 {
		return footerStyle.Render("no breaker has ever tripped")
	}

	rows := make([][]string, 0, len(states))
	for _, s := range states {
		until, remaining := "-", "-"
		if !s.LockoutUntil.IsZero() {
			until = s.LockoutUntil.UTC().Format(timeLayout)
		}
		if r := s.Remaining(now); r > 0 {
			remaining = r.Round(time.Minute).String()
		}
		rows = append(rows, []string{
			string(s.Kind), s.Scope, breakerStatus(s, now), until, remaining, strconv.Itoa(s.Count), s.Reason,
		})
	}

	t := newTable("KIND", "SCOPE", "STATUS", "LOCKOUT UNTIL", "REMAINING", "COUNT", "REASON").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if row >= 0 && row < len(states) && states[row].Active(now) {
				return trippedRow
			}
			return armedRow
		})
	return t.String()
}

func renderOrders(orders []execution.Order) string {
	if len(orders) == 0 {
		return footerStyle.Render("no orders in flight")
	}

	rows := make([][]string, 0, len(orders))
	for _, o := range orders {
		rows = append(rows, []string{
			o.ClientOrderID, o.Symbol, string(o.Intent), string(o.Side),
			strconv.FormatFloat(o.Quantity, 'f', -1, 64), string(o.State),
			strconv.Itoa(o.Attempts), o.CreatedAt.UTC().Format(timeLayout), o.LastError,
		})
	}
	t := newTable("KEY", "SYMBOL", "INTENT", "SIDE", "QTY", "STATE", "ATTEMPTS", "CREATED", "LAST ERROR").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	return t.String()
}

func renderStats(s journal.TradeStats) string {
	pf := "-"
	if s.GrossLoss > 0 {
		pf = fmt.Sprintf("%.2f", s.ProfitFactor)
	}
	t := newTable("TRADES", "WINS", "WIN RATE", "GROSS PROFIT", "GROSS LOSS", "PROFIT FACTOR").
		Row(
			strconv.Itoa(s.Trades), strconv.Itoa(s.Wins), fmt.Sprintf("%.1f%%", s.WinRate*100),
			fmt.Sprintf("%.2f", s.GrossProfit), fmt.Sprintf("%.2f", s.GrossLoss), pf,
		).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	return t.String()
}
