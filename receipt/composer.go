package receipt

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nixxel-company-limited/thermal-receipt-server/escpos"
)

const (
	// Item names longer than this are split across two lines
	itemNameLimit = 20
	// Runes of a long item name kept on the first line
	itemNameKeep = 17
)

// Composer turns print jobs into ordered ESC/POS command lists. Each entry
// is sent to the printer as one write.
type Composer struct {
	profile Profile
	opts    Options
	text    *escpos.TextEncoder
}

// NewComposer validates the options and builds a composer
func NewComposer(profile Profile, opts Options) (*Composer, error) {
	text, err := escpos.NewTextEncoder(opts.CodePage)
	if err != nil {
		return nil, err
	}
	if opts.Width <= 0 {
		opts.Width = escpos.DefaultWidth
	}
	if opts.FeedLines < 0 || opts.FeedLines > 255 {
		return nil, fmt.Errorf("feed lines must be between 0 and 255, got %d", opts.FeedLines)
	}
	if opts.TimeFormat == "" {
		opts.TimeFormat = DefaultOptions().TimeFormat
	}
	return &Composer{profile: profile, opts: opts, text: text}, nil
}

// Options returns the effective layout options
func (c *Composer) Options() Options {
	return c.opts
}

type commands struct {
	text *escpos.TextEncoder
	out  [][]byte
}

func (c *commands) cmd(b []byte) {
	if b != nil {
		c.out = append(c.out, b)
	}
}

func (c *commands) line(s string) {
	c.out = append(c.out, c.text.Encode(s+"\n"))
}

func (c *Composer) start() *commands {
	cmds := &commands{text: c.text}
	cmds.cmd(escpos.Init())
	cmds.cmd(c.text.Setup())
	return cmds
}

func (c *Composer) finish(cmds *commands) {
	cmds.cmd(escpos.FeedLines(byte(c.opts.FeedLines)))
	if c.opts.CutPaper {
		cmds.cmd(escpos.Cut())
	}
}

func (c *Composer) money(amount int) string {
	return c.opts.Currency + strconv.Itoa(amount)
}

// Compose lays out the full customer receipt
func (c *Composer) Compose(job PrintJob) [][]byte {
	w := c.opts.Width
	rule := escpos.Rule(w)
	p := c.profile
	cmds := c.start()

	// Header
	cmds.cmd(escpos.Align(escpos.AlignCenter))
	cmds.cmd(escpos.SetSize(escpos.SizeLarge))
	cmds.cmd(escpos.Bold(true))
	cmds.line(p.BillName)
	cmds.cmd(escpos.Bold(false))
	cmds.cmd(escpos.SetSize(escpos.SizeNormal))

	cmds.line(p.Address)
	cmds.line(fmt.Sprintf("%s: %s", p.LicenseLabel, p.License))
	cmds.line(rule)

	// Order details
	cmds.cmd(escpos.Bold(true))
	cmds.line("Order: " + job.OrderNumber)
	cmds.cmd(escpos.Bold(false))
	cmds.line("Date: " + job.Timestamp.Format(c.opts.TimeFormat))
	if job.CustomerName != "" {
		cmds.line("Customer: " + job.CustomerName)
	}
	cmds.line("Source: " + strings.ToUpper(job.OrderSource))
	cmds.line(rule)

	// Items
	cmds.cmd(escpos.Align(escpos.AlignLeft))
	cmds.cmd(escpos.Bold(true))
	cmds.line(escpos.Justify("Item", "Qty  Total", w))
	cmds.cmd(escpos.Bold(false))
	cmds.line(rule)

	for _, item := range job.Items {
		// The continuation line is not column aligned; kept as printed today
		name, rest, split := escpos.Truncate(item.Name, itemNameLimit, itemNameKeep)
		qtyTotal := fmt.Sprintf("%d  %s", item.Quantity, c.money(item.LineTotal()))
		cmds.line(escpos.Justify(name, qtyTotal, w))
		if split {
			cmds.line(rest)
		}
	}

	cmds.line(rule)

	// Total
	cmds.cmd(escpos.Bold(true))
	cmds.cmd(escpos.SetSize(escpos.SizeDouble))
	cmds.line(escpos.Justify("TOTAL:", c.money(job.TotalAmount), w))
	cmds.cmd(escpos.SetSize(escpos.SizeNormal))
	cmds.cmd(escpos.Bold(false))

	cmds.cmd(escpos.Align(escpos.AlignCenter))
	cmds.line("(Tax Included in Price)")
	cmds.line(rule)

	// Coupon
	if c.opts.PrintCoupon {
		cmds.line(p.CouponLabel)
		cmds.cmd(escpos.Bold(true))
		cmds.cmd(escpos.SetSize(escpos.SizeLarge))
		cmds.line(p.CouponCode)
		cmds.cmd(escpos.SetSize(escpos.SizeNormal))
		cmds.cmd(escpos.Bold(false))
		cmds.line(p.CouponMessage)
		cmds.line(rule)
	}

	// Footer
	cmds.cmd(escpos.Bold(true))
	cmds.line("Thank you for your order!")
	cmds.cmd(escpos.Bold(false))
	cmds.line("Please collect your order from the counter")
	cmds.line("")
	cmds.line("Powered by " + p.SystemName)

	c.finish(cmds)
	if c.opts.OpenDrawer {
		cmds.cmd(escpos.DrawerKick())
	}
	return cmds.out
}

// ComposeTest lays out the diagnostic test page
func (c *Composer) ComposeTest(now time.Time) [][]byte {
	rule := escpos.Rule(c.opts.Width)
	cmds := c.start()

	cmds.cmd(escpos.Align(escpos.AlignCenter))
	cmds.cmd(escpos.SetSize(escpos.SizeLarge))
	cmds.cmd(escpos.Bold(true))
	cmds.line("TEST PRINT")
	cmds.cmd(escpos.Bold(false))
	cmds.cmd(escpos.SetSize(escpos.SizeNormal))
	cmds.line(rule)
	cmds.line(c.profile.SystemName + " System")
	cmds.line("Thermal Printer Connected")
	cmds.line(now.Format(c.opts.TimeFormat))
	cmds.line(rule)
	cmds.line("Print test successful!")

	c.finish(cmds)
	return cmds.out
}

// ComposeDrawer returns only the cash drawer kick
func (c *Composer) ComposeDrawer() [][]byte {
	return [][]byte{escpos.DrawerKick()}
}
