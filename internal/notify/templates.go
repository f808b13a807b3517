package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"medsupply/internal/model"
)

var emailFuncs = template.FuncMap{
	"money": func(v int64) string { return fmt.Sprintf("₹%d", v) },
	"date":  func(t time.Time) string { return t.Format("2006-01-02 15:04") },
}

var emailTemplates = template.Must(template.New("email").Funcs(emailFuncs).Parse(`
{{define "totals"}}
<p><b>Order Total:</b> {{money .TotalPrice}}</p>
{{if .DiscountPercentage}}<p style="color: #4CAF50;"><b>Discount ({{.DiscountPercentage}}%):</b> -{{money .DiscountAmount}}</p>{{end}}
<p><b>Final Amount:</b> {{money .FinalAmount}}</p>
{{end}}

{{define "order_placed"}}
<h2>{{if .Reorder}}New Re-Order Placed{{else}}New Order Placed{{end}}</h2>
<p>Order ID: <b>{{.Order.OrderNo}}</b></p>
<p>Placed by: <b>{{.Owner.Name}}</b> ({{.Owner.Email}})</p>
<ul>{{range .Order.Items}}<li>{{.Name}} x{{.Quantity}} - {{money .Subtotal}}</li>{{end}}</ul>
<p>Address: {{.Order.Address}}</p>
<hr>
{{template "totals" .Order}}
{{end}}

{{define "order_accepted"}}
<h2>Order Accepted</h2>
<p>Your order <b>{{.OrderNo}}</b> has been accepted by admin.</p>
<p>Current status: <b>{{.Status}}</b></p>
<hr>
{{template "totals" .}}
{{end}}

{{define "order_cancelled"}}
<h2>Order Cancelled</h2>
<p>Your order <b>{{.Order.OrderNo}}</b> was cancelled.</p>
<p>Reason: {{.Reason}}</p>
{{end}}

{{define "order_delivered"}}
<h2 style="color: #4CAF50;">Order Delivered Successfully!</h2>
<p>Dear <b>{{.Owner.Name}}</b>,</p>
<h3>Order Invoice</h3>
<p><b>Order ID:</b> {{.Order.OrderNo}}</p>
<p><b>Delivery Date:</b> {{date .At}}</p>
<table style="width: 100%; border-collapse: collapse;">
<tr><th>Product</th><th>Qty</th><th>Price</th><th>Subtotal</th></tr>
{{range .Order.Items}}<tr><td>{{.Name}}</td><td>{{.Quantity}}</td><td>{{money .Price}}</td><td>{{money .Subtotal}}</td></tr>{{end}}
</table>
{{template "totals" .Order}}
<p>Delivery Address: <b>{{.Order.Address}}</b></p>
<p>Payment: {{.Order.PaymentMode}}</p>
{{end}}

{{define "order_edited"}}
<h2 style="color: #2196F3;">Order Updated</h2>
<p>Order <b>#{{.Order.OrderNo}}</b> from <b>{{.Owner.Name}}</b> has been edited.</p>
<p><b>Status:</b> {{.Order.Status}}</p>
<ul>{{range .Order.Items}}<li>{{.Name}} x{{.Quantity}} - {{money .Subtotal}}</li>{{end}}</ul>
<p><b>Delivery Address:</b> {{.Order.Address}}</p>
<p><b>Phone:</b> {{.Order.Phone}}</p>
{{if .Order.Notes}}<p><b>Special Instructions:</b> {{.Order.Notes}}</p>{{end}}
{{template "totals" .Order}}
{{end}}

{{define "low_stock"}}
<h2>Low Stock Alert</h2>
<p>Product: <b>{{.Name}}</b></p>
<p>Remaining quantity: <b>{{.Quantity}}</b></p>
{{end}}

{{define "reorder_suggestion"}}
<h2>Reorder Suggestion</h2>
<p>Product: <b>{{.Product.Name}}</b></p>
<p>Suggested quantity to reorder: <b>{{.Suggested}}</b></p>
<p>Based on the last 30 days of orders and current stock.</p>
{{end}}

{{define "pending_reminder"}}
<h2 style="color: #FF9800;">Pending Order Reminder</h2>
<p>You have <b>{{len .Orders}}</b> order(s) pending for more than <b>{{.Minutes}} minutes</b>.</p>
<table style="width: 100%; border-collapse: collapse;">
<tr><th>Order ID</th><th>Customer</th><th>Placed At</th><th>Amount</th></tr>
{{range .Orders}}<tr><td><b>#{{.Order.OrderNo}}</b></td><td>{{if .Owner.Name}}{{.Owner.Name}}{{else}}N/A{{end}}</td><td>{{date .Order.CreatedAt}}</td><td>{{money .Order.FinalAmount}}</td></tr>{{end}}
</table>
<p><b>Action Required:</b> please review and accept or cancel these orders.</p>
{{end}}
`))

type pendingRow struct {
	Order model.Order
	Owner model.User
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := emailTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}
