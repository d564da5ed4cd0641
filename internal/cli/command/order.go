package command

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/tokvault-go/internal/cli/connection"
	"github.com/yndnr/tokvault-go/internal/cli/output"
	"github.com/yndnr/tokvault-go/internal/core/domain"
	"github.com/yndnr/tokvault-go/internal/server/httpserver/handler"
)

// OrderCommand returns the order subcommand group.
func OrderCommand() *cli.Command {
	return &cli.Command{
		Name:  "order",
		Usage: "Create orders and manage their delivery",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create a pending order",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "Customer user ID", Required: true},
					&cli.StringFlag{Name: "email", Usage: "Customer email for notifications"},
					&cli.StringFlag{Name: "currency", Usage: "ISO currency code"},
					&cli.StringSliceFlag{
						Name:     "item",
						Aliases:  []string{"i"},
						Usage:    "Line item as product[:name[:quantity[:unit_price]]], repeatable",
						Required: true,
					},
					&cli.DurationFlag{Name: "ttl", Usage: "Token lifetime override for this order"},
					&cli.IntFlag{Name: "max-uses", Usage: "Download limit override for this order"},
				},
				Action: orderCreate,
			},
			{
				Name:      "get",
				Usage:     "Show an order",
				ArgsUsage: "ORDER_ID",
				Action:    orderGet,
			},
			{
				Name:      "list",
				Usage:     "List a user's orders",
				ArgsUsage: "USER_ID",
				Action:    orderList,
			},
			{
				Name:      "status",
				Usage:     "Change order status; completing an order delivers its products",
				ArgsUsage: "ORDER_ID STATUS",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "payment-id", Usage: "Payment reference to record"},
				},
				Action: orderStatus,
			},
			{
				Name:      "deliver",
				Usage:     "Retry delivery of lines that are not ready",
				ArgsUsage: "ORDER_ID",
				Action:    orderDeliver,
			},
			{
				Name:      "notify",
				Usage:     "Resend download notifications for an order",
				ArgsUsage: "ORDER_ID",
				Action:    orderNotify,
			},
		},
	}
}

// parseItem parses product[:name[:quantity[:unit_price]]].
func parseItem(s string) (domain.LineItem, error) {
	parts := strings.SplitN(s, ":", 4)
	item := domain.LineItem{ProductID: strings.TrimSpace(parts[0]), Quantity: 1}
	if item.ProductID == "" {
		return item, fmt.Errorf("item %q: product is required", s)
	}
	if len(parts) > 1 {
		item.ProductName = parts[1]
	}
	if len(parts) > 2 && parts[2] != "" {
		n, err := strconv.Atoi(parts[2])
		if err != nil || n <= 0 {
			return item, fmt.Errorf("item %q: invalid quantity", s)
		}
		item.Quantity = n
	}
	if len(parts) > 3 && parts[3] != "" {
		p, err := strconv.ParseInt(parts[3], 10, 64)
		if err != nil || p < 0 {
			return item, fmt.Errorf("item %q: invalid unit price", s)
		}
		item.UnitPrice = p
	}
	return item, nil
}

func orderCreate(c *cli.Context) error {
	req := handler.CreateOrderRequest{
		UserID:        c.String("user"),
		CustomerEmail: c.String("email"),
		Currency:      c.String("currency"),
	}
	for _, raw := range c.StringSlice("item") {
		item, err := parseItem(raw)
		if err != nil {
			return err
		}
		req.Items = append(req.Items, item)
	}
	if c.IsSet("ttl") || c.IsSet("max-uses") {
		req.Policy = &domain.PolicyOverride{
			TTLSeconds: int64(c.Duration("ttl") / time.Second),
			MaxUses:    c.Int("max-uses"),
		}
	}

	var result handler.OrderResponse
	if err := call(c, "POST", "/orders", req, &result); err != nil {
		return err
	}
	return renderOrder(c, &result)
}

func orderGet(c *cli.Context) error {
	id, err := requireArg(c, 0, "ORDER_ID")
	if err != nil {
		return err
	}
	var result handler.OrderResponse
	if err := call(c, "GET", "/orders/"+url.PathEscape(id), nil, &result); err != nil {
		return err
	}
	return renderOrder(c, &result)
}

func orderList(c *cli.Context) error {
	userID, err := requireArg(c, 0, "USER_ID")
	if err != nil {
		return err
	}
	var result handler.ListOrdersResponse
	if err := call(c, "GET", "/users/"+url.PathEscape(userID)+"/orders", nil, &result); err != nil {
		return err
	}
	return render(c, result, func() *output.Table {
		t := &output.Table{Headers: []string{"ID", "STATUS", "ITEMS", "AMOUNT", "CREATED"}}
		for _, o := range result.Orders {
			t.AddRow(o.ID, string(o.Status), strconv.Itoa(len(o.Items)),
				formatAmount(o.Amount, o.Currency), formatMillis(o.CreatedAt))
		}
		return t
	})
}

func orderStatus(c *cli.Context) error {
	id, err := requireArg(c, 0, "ORDER_ID")
	if err != nil {
		return err
	}
	status, err := requireArg(c, 1, "STATUS")
	if err != nil {
		return err
	}
	body := handler.UpdateStatusRequest{Status: status, PaymentID: c.String("payment-id")}

	var result handler.OrderResponse
	if err := call(c, "PUT", "/orders/"+url.PathEscape(id)+"/status", body, &result); err != nil {
		return err
	}
	return renderOrder(c, &result)
}

func orderDeliver(c *cli.Context) error {
	id, err := requireArg(c, 0, "ORDER_ID")
	if err != nil {
		return err
	}
	var result handler.OrderResponse
	if err := call(c, "POST", "/orders/"+url.PathEscape(id)+"/deliver", nil, &result); err != nil {
		return err
	}
	return renderOrder(c, &result)
}

func orderNotify(c *cli.Context) error {
	id, err := requireArg(c, 0, "ORDER_ID")
	if err != nil {
		return err
	}
	var result handler.RenotifyResponse
	if err := call(c, "POST", "/orders/"+url.PathEscape(id)+"/notify", nil, &result); err != nil {
		return err
	}
	return render(c, result, func() *output.Table {
		t := &output.Table{Headers: []string{"ORDER", "NOTIFIED"}}
		t.AddRow(id, strconv.Itoa(result.Notified))
		return t
	})
}

func renderOrder(c *cli.Context, result *handler.OrderResponse) error {
	return render(c, result, func() *output.Table {
		o := result.Order
		t := &output.Table{Headers: []string{"PRODUCT", "NAME", "DELIVERY", "DOWNLOAD URL", "EXPIRES", "MAX"}}
		if o == nil {
			return t
		}
		fmt.Fprintf(stdout(c), "Order %s  status=%s  amount=%s\n\n", o.ID, o.Status, formatAmount(o.Amount, o.Currency))
		lines := o.Deliveries
		if result.Delivery != nil {
			lines = result.Delivery.Lines
		}
		for _, l := range lines {
			t.AddRow(l.ProductID, dash(l.ProductName), string(l.Status), dash(l.DownloadURL),
				formatMillis(l.ExpiresAt), strconv.Itoa(l.MaxDownloads))
		}
		return t
	})
}

// call sends a request and decodes the envelope data into target.
func call(c *cli.Context, method, path string, body, target any) error {
	client, err := NewClient(c)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Context, ParseGlobalFlags(c).Timeout)
	defer cancel()

	resp, err := client.Do(ctx, method, path, body)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	return connection.ParseResponse(resp, target)
}

func requireArg(c *cli.Context, i int, name string) (string, error) {
	v := strings.TrimSpace(c.Args().Get(i))
	if v == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	return v, nil
}

func formatAmount(minor int64, currency string) string {
	s := fmt.Sprintf("%d.%02d", minor/100, minor%100)
	if currency != "" {
		s += " " + currency
	}
	return s
}

func formatMillis(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
