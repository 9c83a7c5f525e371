package purchases

import (
	"fmt"
	"html"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"nft-sales-monitor/internal/clients_api/ledger"
)

// NanoScale is the number of fractional digits between nanotons and TON.
const NanoScale = 9

const priceDigits = 4

// FormatOptions carries the display settings taken from config.
type FormatOptions struct {
	Title       string // fallback NFT name
	TokenSymbol string
	ExplorerURL string // buyer link prefix
	MarketURL   string // NFT link prefix
}

func (o FormatOptions) withDefaults() FormatOptions {
	if o.Title == "" {
		o.Title = "Precious Peach"
	}
	if o.TokenSymbol == "" {
		o.TokenSymbol = "TON"
	}
	if o.ExplorerURL == "" {
		o.ExplorerURL = "https://tonviewer.com/"
	}
	if o.MarketURL == "" {
		o.MarketURL = "https://getgems.io/nft/"
	}
	return o
}

// FormatPrice renders nanotons with exactly four fractional digits, truncated.
func FormatPrice(nano uint64) string {
	d := decimal.NewFromBigInt(new(big.Int).SetUint64(nano), -NanoScale)
	return d.Truncate(priceDigits).StringFixed(priceDigits)
}

// FormatPriceString is FormatPrice for raw API text; anything that is not a
// uint64 renders as "0.0".
func FormatPriceString(raw string) string {
	nano, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return "0.0"
	}
	return FormatPrice(nano)
}

// ShortAddress keeps the first 6 and last 4 characters of long addresses.
func ShortAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-4:]
}

// FormatMessage builds the HTML notification for r. item may be nil.
func FormatMessage(r Record, item *ledger.NFTItem, opts FormatOptions) string {
	opts = opts.withDefaults()

	name := opts.Title
	if item != nil && strings.TrimSpace(item.Name) != "" {
		name = item.Name
	}
	timeStr := time.Unix(r.Timestamp, 0).UTC().Format("02/01/2006 15:04 UTC")

	nftLink := opts.MarketURL + r.NFTAddress
	buyerLink := opts.ExplorerURL + r.Buyer

	var b strings.Builder
	fmt.Fprintf(&b, "🍑 <b>%s purchased!</b>\n", html.EscapeString(opts.Title))
	b.WriteString("━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(&b, "🏷️ <b>NFT:</b> <a href=\"%s\">%s</a>\n", html.EscapeString(nftLink), html.EscapeString(name))
	fmt.Fprintf(&b, "💰 <b>Price:</b> %s %s\n", FormatPrice(r.Price), html.EscapeString(opts.TokenSymbol))
	fmt.Fprintf(&b, "🛒 <b>Buyer:</b> <a href=\"%s\">%s</a>\n", html.EscapeString(buyerLink), html.EscapeString(ShortAddress(r.Buyer)))
	fmt.Fprintf(&b, "🕐 <b>Time:</b> %s\n", timeStr)
	b.WriteString("━━━━━━━━━━━━━━━━━━━━")
	return b.String()
}

// SampleRecord is the fixed purchase sent by the /test command.
func SampleRecord(now time.Time) Record {
	return Record{
		Position:   1,
		Timestamp:  now.Unix(),
		Buyer:      "EQBuyerSampleAddress000000000000000000000000000000",
		NFTAddress: "EQNftSampleAddress00000000000000000000000000000000",
		Price:      12_500_000_000,
	}
}
