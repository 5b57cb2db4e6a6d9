// Package receipt lays out restaurant receipts as ESC/POS command streams and
// sends them through the active printer session.
package receipt

import "time"

// Item is one receipt line
type Item struct {
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int    `json:"price"`
}

// LineTotal is the unit price multiplied by quantity
func (i Item) LineTotal() int {
	return i.UnitPrice * i.Quantity
}

// PrintJob is the content of one printed receipt
type PrintJob struct {
	OrderNumber  string    `json:"orderNumber"`
	Items        []Item    `json:"items"`
	TotalAmount  int       `json:"total"`
	CustomerName string    `json:"customerName,omitempty"`
	OrderSource  string    `json:"orderSource"`
	Timestamp    time.Time `json:"timestamp"`
}

// Profile holds the business details printed on every receipt
type Profile struct {
	BillName      string `mapstructure:"bill_name"`
	Address       string `mapstructure:"address"`
	LicenseLabel  string `mapstructure:"license_label"`
	License       string `mapstructure:"license"`
	SystemName    string `mapstructure:"system_name"`
	CouponLabel   string `mapstructure:"coupon_label"`
	CouponCode    string `mapstructure:"coupon_code"`
	CouponMessage string `mapstructure:"coupon_message"`
}

// DefaultProfile returns the stock restaurant profile
func DefaultProfile() Profile {
	return Profile{
		BillName:      "Chiryani",
		Address:       "20, Ground Floor, Padmavati Colony, Near St Paul School, Geeta Bhavan, Indore",
		LicenseLabel:  "FSSAI License",
		License:       "21425850010639",
		SystemName:    "Chiryani POS",
		CouponLabel:   "SPECIAL OFFER FOR YOU",
		CouponCode:    "OLDUSER",
		CouponMessage: "Get additional offer on your next bill on Zomato/Swiggy or Call us!",
	}
}

// Options controls layout and the trailing paper handling
type Options struct {
	Width       int    `mapstructure:"width"`
	FeedLines   int    `mapstructure:"feed_lines"`
	CutPaper    bool   `mapstructure:"cut_paper"`
	PrintCoupon bool   `mapstructure:"print_coupon"`
	OpenDrawer  bool   `mapstructure:"open_drawer"`
	Currency    string `mapstructure:"currency"`
	TimeFormat  string `mapstructure:"time_format"`
	CodePage    string `mapstructure:"code_page"`
}

// DefaultOptions returns the layout used by a 32 column roll
func DefaultOptions() Options {
	return Options{
		Width:       32,
		FeedLines:   3,
		CutPaper:    true,
		PrintCoupon: true,
		Currency:    "₹",
		TimeFormat:  "1/2/2006, 3:04:05 PM",
	}
}
