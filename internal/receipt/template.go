package receipt

import (
	"fmt"
	"strings"
	"time"

	"github.com/qbong1010/printer-server/internal/domain"
)

// Variant selects which receipt layout Render produces.
type Variant int

const (
	// VariantFull is the customer receipt with prices, totals and tax.
	VariantFull Variant = iota
	// VariantKitchenSummary is the kitchen ticket: quantities and options
	// only, no prices.
	VariantKitchenSummary
)

const timeLayout = "2006-01-02 15:04:05"

// Renderer turns an order into receipt text. Rendering is deterministic for
// a given order except for the trailing print-time line, which uses Now.
type Renderer struct {
	Now func() time.Time
}

func NewRenderer() *Renderer {
	return &Renderer{Now: time.Now}
}

func (r *Renderer) Render(order domain.Order, variant Variant) string {
	if variant == VariantKitchenSummary {
		return r.renderKitchen(order)
	}
	return r.renderFull(order)
}

func (r *Renderer) renderFull(order domain.Order) string {
	var b strings.Builder

	writeLine(&b, "*** 손님 영수증 ***")
	writeLine(&b, order.CompanyName)
	writeLine(&b, "")

	writeLine(&b, fmt.Sprintf("주문번호: %d", order.ID))
	writeLine(&b, fmt.Sprintf("주문일시: %s", order.CreatedAt.Format(timeLayout)))
	writeLine(&b, fmt.Sprintf("주문유형:  %s", orderTypeLabel(order.DineIn, true)))
	writeLine(&b, "")

	writeLine(&b, strings.Repeat("-", 45))

	for _, item := range order.Items {
		writeLine(&b, item.Name)
		for _, opt := range item.Options {
			if opt.Price > 0 {
				writeLine(&b, fmt.Sprintf("- %s (+%s원)", opt.Name, formatWon(opt.Price)))
			} else {
				writeLine(&b, fmt.Sprintf("- %s", opt.Name))
			}
		}
		writeLine(&b, fmt.Sprintf("수량: %d개 x %s원 = %s원",
			item.Quantity, formatWon(item.LinePrice()), formatWon(item.LineTotal())))
		writeLine(&b, "")
	}

	total := order.Total()
	tax := total / 10

	writeLine(&b, strings.Repeat("-", 32))
	writeLine(&b, fmt.Sprintf("소계: %s원", formatWon(total)))
	writeLine(&b, fmt.Sprintf("총 금액: %s원", formatWon(total)))
	writeLine(&b, fmt.Sprintf("부가세(10%%): %s원", formatWon(tax)))
	writeLine(&b, "")
	writeLine(&b, "감사합니다!")
	writeLine(&b, "")

	writeLine(&b, fmt.Sprintf("출력시간: %s", r.Now().Format(timeLayout)))
	writeLine(&b, "")

	return b.String()
}

func (r *Renderer) renderKitchen(order domain.Order) string {
	var b strings.Builder

	writeLine(&b, "=== 주방 주문서 ===")
	writeLine(&b, "")

	writeLine(&b, fmt.Sprintf("주문번호: %d", order.ID))
	writeLine(&b, fmt.Sprintf("주문시간: %s", order.CreatedAt.Format(timeLayout)))
	writeLine(&b, fmt.Sprintf("주문유형: %s", orderTypeLabel(order.DineIn, false)))
	writeLine(&b, "")
	writeLine(&b, strings.Repeat("-", 30))

	for _, item := range order.Items {
		writeLine(&b, fmt.Sprintf("[%d개] %s", item.Quantity, item.Name))
		for _, opt := range item.Options {
			writeLine(&b, fmt.Sprintf("  + %s", opt.Name))
		}
		writeLine(&b, "")
	}

	writeLine(&b, strings.Repeat("-", 30))
	writeLine(&b, "주방에서 확인 완료")
	writeLine(&b, "")

	writeLine(&b, fmt.Sprintf("출력시간: %s", r.Now().Format(timeLayout)))
	writeLine(&b, "")

	return b.String()
}

func orderTypeLabel(dineIn, spaced bool) string {
	if dineIn {
		if spaced {
			return "매장 식사"
		}
		return "매장식사"
	}
	return "포장"
}

func writeLine(b *strings.Builder, line string) {
	b.WriteString(line)
	b.WriteByte('\n')
}

// formatWon renders minor currency units with thousands separators and no
// decimal places.
func formatWon(v int64) string {
	s := fmt.Sprintf("%d", v)
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	var parts []string
	for len(s) > 3 {
		parts = append([]string{s[len(s)-3:]}, parts...)
		s = s[:len(s)-3]
	}
	parts = append([]string{s}, parts...)
	out := strings.Join(parts, ",")
	if neg {
		return "-" + out
	}
	return out
}
