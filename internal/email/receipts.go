package email

import (
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const defaultReceiptHTML = `<h2>Payment received</h2>
<p>Hello{{if .Name}}, {{.Name}}{{end}}!</p>
<p>We have received your payment of <b>{{.Amount}} {{.Currency}}</b> for order {{.OrderID}}.</p>
{{if .PlanName}}<p>Plan: {{.PlanName}} ({{.BillingCycle}}), active until {{.ValidUntil}}.</p>{{end}}
{{if .Addons}}<p>Addons: {{range $i, $a := .Addons}}{{if $i}}, {{end}}{{$a}}{{end}}</p>{{end}}
<p>Payment id: {{.PaymentID}}</p>`

type Receipt struct {
	To           string
	Name         string
	OrderID      string
	PaymentID    string
	Amount       decimal.Decimal
	Currency     string
	PlanName     string
	BillingCycle string
	ValidUntil   time.Time
	Addons       []string
}

// receiptView - то, что видит шаблон: деньги и даты уже отформатированы
type receiptView struct {
	Name         string
	OrderID      string
	PaymentID    string
	Amount       string
	Currency     string
	PlanName     string
	BillingCycle string
	ValidUntil   string
	Addons       []string
}

// ReceiptSender - чек после успешной оплаты. Ошибка отправки не влияет на платеж.
type ReceiptSender struct {
	provider Provider
	tpl      *template.Template
}

func NewReceiptSender(provider Provider) (*ReceiptSender, error) {
	tpl, err := template.New("payment_receipt").Parse(defaultReceiptHTML)
	if err != nil {
		return nil, fmt.Errorf("failed to parse receipt template: %w", err)
	}
	return &ReceiptSender{provider: provider, tpl: tpl}, nil
}

func (s *ReceiptSender) SendReceipt(ctx context.Context, r Receipt) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.To == "" {
		return fmt.Errorf("receipt recipient is empty")
	}

	view := receiptView{
		Name:         r.Name,
		OrderID:      r.OrderID,
		PaymentID:    r.PaymentID,
		Amount:       r.Amount.StringFixed(2),
		Currency:     r.Currency,
		PlanName:     r.PlanName,
		BillingCycle: r.BillingCycle,
		Addons:       r.Addons,
	}
	if !r.ValidUntil.IsZero() {
		view.ValidUntil = r.ValidUntil.Format("2006-01-02")
	}

	var html strings.Builder
	if err := s.tpl.Execute(&html, view); err != nil {
		return fmt.Errorf("failed to render receipt: %w", err)
	}

	return s.provider.Send(&Email{
		To:       []string{r.To},
		Subject:  fmt.Sprintf("Payment receipt for order %s", r.OrderID),
		HTMLBody: html.String(),
	})
}
