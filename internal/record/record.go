// Package record 定義採購紀錄與其儲存。
//
// 四種紀錄（supply、demand、bill、sanction-code）都以會計年度分區，
// 同一年度內依 serial_no 排序。資料庫是唯一的真相來源，
// 快取與廣播只影響即時性。
package record

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	apperrors "github.com/koopa0/system-design/14-procurement-hub/pkg/errors"
)

// Kind 紀錄種類
type Kind string

const (
	KindSupply       Kind = "supply"
	KindDemand       Kind = "demand"
	KindBill         Kind = "bill"
	KindSanctionCode Kind = "sanction-code"
)

// Kinds 所有紀錄種類
var Kinds = []Kind{KindSupply, KindDemand, KindBill, KindSanctionCode}

// ParseKind 解析紀錄種類
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", apperrors.Invalid("unknown record kind: %s", s)
}

// table 對應的資料表
func (k Kind) table() string {
	switch k {
	case KindSupply:
		return "supply_orders"
	case KindDemand:
		return "demand_orders"
	case KindBill:
		return "bill_orders"
	default:
		return "sanction_codes"
	}
}

var fyPattern = regexp.MustCompile(`^\d{4}(-\d{2})?$`)

// ValidateFinancialYear 會計年度格式：2024 或 2024-25
func ValidateFinancialYear(fy string) error {
	if !fyPattern.MatchString(fy) {
		return apperrors.Invalid("invalid financial year: %q", fy)
	}
	return nil
}

// FinancialYearOf 四月制會計年度，例如 2024-05-01 → 2024-25
func FinancialYearOf(t time.Time) string {
	start := t.Year()
	if t.Month() < time.April {
		start--
	}
	return fmt.Sprintf("%d-%02d", start, (start+1)%100)
}

// Base 所有紀錄共用的欄位
type Base struct {
	ID            int64     `json:"id"`
	SerialNo      int       `json:"serial_no"`
	FinancialYear string    `json:"financial_year"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (b *Base) base() *Base { return b }

// column 欄位名稱與對應的指標（scan 與 insert 共用）
type column struct {
	name string
	ptr  any
}

// Record 一筆採購紀錄
type Record interface {
	Kind() Kind
	base() *Base
	columns() []column
	validate() error
	clone() Record
}

// New 建立空紀錄，供解碼與 scan 使用
func New(kind Kind) Record {
	switch kind {
	case KindSupply:
		return &SupplyOrder{}
	case KindDemand:
		return &DemandOrder{}
	case KindBill:
		return &BillOrder{}
	default:
		return &SanctionCode{}
	}
}

// Header 取得共用欄位
func Header(r Record) *Base { return r.base() }

// Columns 該種類的專屬欄位名稱（依固定順序）
func Columns(kind Kind) []string {
	cols := New(kind).columns()
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.name
	}
	return names
}

// Values 專屬欄位的值，順序與 Columns 相同
func Values(r Record) []any {
	cols := r.columns()
	out := make([]any, len(cols))
	for i, c := range cols {
		switch p := c.ptr.(type) {
		case *string:
			out[i] = *p
		case *int:
			out[i] = *p
		case *float64:
			out[i] = *p
		case *time.Time:
			out[i] = *p
		}
	}
	return out
}

// Validate 檢查共用與專屬欄位
func Validate(r Record) error {
	b := r.base()
	if err := ValidateFinancialYear(b.FinancialYear); err != nil {
		return err
	}
	if b.SerialNo < 0 {
		return apperrors.Invalid("serial_no must not be negative")
	}
	return r.validate()
}

func required(fields map[string]string) error {
	var missing []string
	for name, v := range fields {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return apperrors.Invalid("missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// SupplyOrder 供應訂單
type SupplyOrder struct {
	Base
	SupplyOrderNo   string    `json:"supply_order_no"`
	SupplierName    string    `json:"supplier_name"`
	ItemDescription string    `json:"item_description"`
	Quantity        int       `json:"quantity"`
	UnitPrice       float64   `json:"unit_price"`
	OrderDate       time.Time `json:"order_date"`
	DeliveryStatus  string    `json:"delivery_status"`
}

func (*SupplyOrder) Kind() Kind { return KindSupply }

func (s *SupplyOrder) columns() []column {
	return []column{
		{"supply_order_no", &s.SupplyOrderNo},
		{"supplier_name", &s.SupplierName},
		{"item_description", &s.ItemDescription},
		{"quantity", &s.Quantity},
		{"unit_price", &s.UnitPrice},
		{"order_date", &s.OrderDate},
		{"delivery_status", &s.DeliveryStatus},
	}
}

func (s *SupplyOrder) validate() error {
	if err := required(map[string]string{
		"supply_order_no": s.SupplyOrderNo,
		"supplier_name":   s.SupplierName,
	}); err != nil {
		return err
	}
	if s.Quantity < 0 || s.UnitPrice < 0 {
		return apperrors.Invalid("quantity and unit_price must not be negative")
	}
	return nil
}

func (s *SupplyOrder) clone() Record { c := *s; return &c }

// DemandOrder 需求單
type DemandOrder struct {
	Base
	DemandNo        string    `json:"demand_no"`
	Department      string    `json:"department"`
	ItemDescription string    `json:"item_description"`
	Quantity        int       `json:"quantity"`
	EstimatedCost   float64   `json:"estimated_cost"`
	DemandDate      time.Time `json:"demand_date"`
}

func (*DemandOrder) Kind() Kind { return KindDemand }

func (d *DemandOrder) columns() []column {
	return []column{
		{"demand_no", &d.DemandNo},
		{"department", &d.Department},
		{"item_description", &d.ItemDescription},
		{"quantity", &d.Quantity},
		{"estimated_cost", &d.EstimatedCost},
		{"demand_date", &d.DemandDate},
	}
}

func (d *DemandOrder) validate() error {
	if err := required(map[string]string{
		"demand_no":  d.DemandNo,
		"department": d.Department,
	}); err != nil {
		return err
	}
	if d.Quantity < 0 || d.EstimatedCost < 0 {
		return apperrors.Invalid("quantity and estimated_cost must not be negative")
	}
	return nil
}

func (d *DemandOrder) clone() Record { c := *d; return &c }

// BillOrder 帳單
type BillOrder struct {
	Base
	BillNo        string    `json:"bill_no"`
	SupplyOrderNo string    `json:"supply_order_no"`
	Amount        float64   `json:"amount"`
	BillDate      time.Time `json:"bill_date"`
	PaymentStatus string    `json:"payment_status"`
}

func (*BillOrder) Kind() Kind { return KindBill }

func (b *BillOrder) columns() []column {
	return []column{
		{"bill_no", &b.BillNo},
		{"supply_order_no", &b.SupplyOrderNo},
		{"amount", &b.Amount},
		{"bill_date", &b.BillDate},
		{"payment_status", &b.PaymentStatus},
	}
}

func (b *BillOrder) validate() error {
	if err := required(map[string]string{"bill_no": b.BillNo}); err != nil {
		return err
	}
	if b.Amount < 0 {
		return apperrors.Invalid("amount must not be negative")
	}
	return nil
}

func (b *BillOrder) clone() Record { c := *b; return &c }

// SanctionCode 預算科目
type SanctionCode struct {
	Base
	Code            string  `json:"code"`
	Description     string  `json:"description"`
	BudgetHead      string  `json:"budget_head"`
	AllocatedAmount float64 `json:"allocated_amount"`
}

func (*SanctionCode) Kind() Kind { return KindSanctionCode }

func (s *SanctionCode) columns() []column {
	return []column{
		{"code", &s.Code},
		{"description", &s.Description},
		{"budget_head", &s.BudgetHead},
		{"allocated_amount", &s.AllocatedAmount},
	}
}

func (s *SanctionCode) validate() error {
	if err := required(map[string]string{"code": s.Code}); err != nil {
		return err
	}
	if s.AllocatedAmount < 0 {
		return apperrors.Invalid("allocated_amount must not be negative")
	}
	return nil
}

func (s *SanctionCode) clone() Record { c := *s; return &c }
