package journal

import (
	"fmt"
	"strings"
	"time"

	"github.com/rustyeddy/tradeguard/portfolio"
)

// FormatTradeOrg renders a closed trade as an org-mode entry with a
// properties drawer and empty review headings.
func FormatTradeOrg(t portfolio.TradeOutcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "** Trade: %s %s (%s)\n", t.Symbol, t.Side, shortID(t.ID))
	b.WriteString(":PROPERTIES:\n")
	fmt.Fprintf(&b, ":ID: %s\n", t.ID)
	fmt.Fprintf(&b, ":SYMBOL: %s\n", t.Symbol)
	fmt.Fprintf(&b, ":STRATEGY: %s\n", t.Strategy)
	fmt.Fprintf(&b, ":SIDE: %s\n", t.Side)
	fmt.Fprintf(&b, ":QUANTITY: %s\n", f(t.Quantity))
	fmt.Fprintf(&b, ":ENTRY_PRICE: %s\n", f(t.EntryPrice))
	fmt.Fprintf(&b, ":EXIT_PRICE: %s\n", f(t.ExitPrice))
	fmt.Fprintf(&b, ":OPEN_TIME: %s\n", t.OpenedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, ":CLOSE_TIME: %s\n", t.ClosedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, ":FEES: %.2f\n", t.Fees)
	fmt.Fprintf(&b, ":PNL: %.2f\n", t.PnL)
	fmt.Fprintf(&b, ":REASON: %s\n", t.Reason)
	b.WriteString(":END:\n\n")
	b.WriteString("*** Thesis\n- \n\n")
	b.WriteString("*** Execution\n- \n\n")
	b.WriteString("*** Review\n- \n")
	return b.String()
}

// FormatTradesOrg renders multiple trades separated by blank lines.
func FormatTradesOrg(trades []portfolio.TradeOutcome) string {
	var b strings.Builder
	for i, t := range trades {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(FormatTradeOrg(t))
	}
	return b.String()
}

// shortID keeps the random tail of a ULID; the leading characters encode
// the timestamp and repeat across trades closed together.
func shortID(full string) string {
	if len(full) <= 8 {
		return full
	}
	return full[len(full)-8:]
}
