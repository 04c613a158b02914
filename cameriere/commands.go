package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"github.com/taldoflemis/pizzabox/pacchetto/pizzaclient"
	"github.com/urfave/cli/v2"
)

const defaultURL = "http://127.0.0.1:8080"

var validStatuses = []string{"pending", "preparing", "ready_for_delivery", "delivered", "cancelled"}

var errItemsFormat = errors.New("invalid items format, use 'pizza_id:quantity,pizza_id:quantity'")

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:      "cameriere",
		Usage:     "Pizza ordering client for paddock-gateway",
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "url",
				Usage:   "base URL of the paddock-gateway API",
				Value:   defaultURL,
				EnvVars: []string{"CAMERIERE_URL"},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "log requests to stderr",
			},
		},
		Before: func(c *cli.Context) error {
			level := slog.LevelWarn
			if c.Bool("verbose") {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(c.App.ErrWriter, &slog.HandlerOptions{Level: level})))
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "menu",
				Usage:  "List the available pizzas on the menu",
				Action: menuAction,
			},
			{
				Name:  "order",
				Usage: "Manage customer orders",
				Subcommands: []*cli.Command{
					{
						Name:      "create",
						Usage:     "Create a new order",
						ArgsUsage: "<pizza_id:quantity,...>",
						Action:    createOrderAction,
					},
					{
						Name:      "status",
						Usage:     "Check the status of an order",
						ArgsUsage: "<order_id>",
						Action:    orderStatusAction,
					},
					{
						Name:      "cancel",
						Usage:     "Cancel an order (customer)",
						ArgsUsage: "<order_id>",
						Action:    cancelOrderAction,
					},
				},
			},
			{
				Name:  "admin",
				Usage: "Admin operations (requires --token)",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "token",
						Usage:    "admin authentication token",
						EnvVars:  []string{"CAMERIERE_ADMIN_TOKEN"},
						Required: true,
					},
					&cli.StringFlag{
						Name:    "admin-header",
						Usage:   "header carrying the admin token",
						Value:   pizzaclient.DefaultAdminHeader,
						EnvVars: []string{"CAMERIERE_ADMIN_HEADER"},
					},
				},
				Subcommands: []*cli.Command{
					{
						Name:  "add-pizza",
						Usage: "Add a new pizza to the menu",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "name", Usage: "name of the pizza", Required: true},
							&cli.StringFlag{Name: "description", Usage: "description of the pizza", Required: true},
							&cli.Float64Flag{Name: "price", Usage: "price of the pizza", Required: true},
						},
						Action: addPizzaAction,
					},
					{
						Name:      "delete-pizza",
						Usage:     "Delete a pizza from the menu",
						ArgsUsage: "<pizza_id>",
						Action:    deletePizzaAction,
					},
					{
						Name:      "cancel-order",
						Usage:     "Cancel an order regardless of its status",
						ArgsUsage: "<order_id>",
						Action:    adminCancelOrderAction,
					},
					{
						Name:   "list-orders",
						Usage:  "List all orders",
						Action: listOrdersAction,
					},
					{
						Name:      "update-status",
						Usage:     "Update an order's status",
						ArgsUsage: "<order_id> <" + strings.Join(validStatuses, "|") + ">",
						Action:    updateStatusAction,
					},
				},
			},
		},
	}
}

func newClient(c *cli.Context) *pizzaclient.Client {
	var opts []pizzaclient.Option
	if token := c.String("token"); token != "" {
		header := c.String("admin-header")
		if header == "" {
			header = pizzaclient.DefaultAdminHeader
		}
		opts = append(opts, pizzaclient.WithAdminToken(header, token))
	}
	return pizzaclient.New(c.String("url"), opts...)
}

// args returns exactly the named positional arguments or a usage error.
func args(c *cli.Context, names ...string) ([]string, error) {
	if c.NArg() != len(names) {
		return nil, fmt.Errorf("%s expects %d argument(s): %s", c.Command.Name, len(names), strings.Join(names, " "))
	}
	return c.Args().Slice(), nil
}

func printResult(c *cli.Context, data json.RawMessage, err error) error {
	if err != nil {
		return err
	}

	var out bytes.Buffer
	if len(data) == 0 {
		out.WriteString("null")
	} else if err := json.Indent(&out, data, "", "  "); err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, "Success:")
	fmt.Fprintln(c.App.Writer, out.String())
	return nil
}

// parseItems reads "pizza_id:quantity,pizza_id:quantity".
func parseItems(raw string) ([]pizzaclient.OrderItem, error) {
	var items []pizzaclient.OrderItem
	for pair := range strings.SplitSeq(raw, ",") {
		id, qty, ok := strings.Cut(pair, ":")
		if !ok || strings.Contains(qty, ":") {
			return nil, errItemsFormat
		}
		quantity, err := strconv.Atoi(strings.TrimSpace(qty))
		if err != nil {
			return nil, errItemsFormat
		}
		items = append(items, pizzaclient.OrderItem{PizzaID: strings.TrimSpace(id), Quantity: quantity})
	}
	return items, nil
}

func menuAction(c *cli.Context) error {
	fmt.Fprintln(c.App.Writer, "Fetching menu...")
	data, err := newClient(c).Menu(c.Context)
	return printResult(c, data, err)
}

func createOrderAction(c *cli.Context) error {
	a, err := args(c, "<pizza_id:quantity,...>")
	if err != nil {
		return err
	}
	items, err := parseItems(a[0])
	if err != nil {
		return err
	}

	fmt.Fprintln(c.App.Writer, "Creating order...")
	data, err := newClient(c).CreateOrder(c.Context, items)
	return printResult(c, data, err)
}

func orderStatusAction(c *cli.Context) error {
	a, err := args(c, "<order_id>")
	if err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "Checking status for order ID: %s...\n", a[0])
	data, err := newClient(c).GetOrder(c.Context, a[0])
	return printResult(c, data, err)
}

func cancelOrderAction(c *cli.Context) error {
	a, err := args(c, "<order_id>")
	if err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "Attempting to cancel customer order ID: %s...\n", a[0])
	data, err := newClient(c).CancelOrder(c.Context, a[0])
	return printResult(c, data, err)
}

func addPizzaAction(c *cli.Context) error {
	name := c.String("name")
	fmt.Fprintf(c.App.Writer, "Adding pizza '%s' (admin action)...\n", name)
	data, err := newClient(c).AddPizza(c.Context, name, c.String("description"), c.Float64("price"))
	return printResult(c, data, err)
}

func deletePizzaAction(c *cli.Context) error {
	a, err := args(c, "<pizza_id>")
	if err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "Deleting pizza ID: %s (admin action)...\n", a[0])
	data, err := newClient(c).DeletePizza(c.Context, a[0])
	return printResult(c, data, err)
}

func adminCancelOrderAction(c *cli.Context) error {
	a, err := args(c, "<order_id>")
	if err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "Attempting to cancel order ID: %s (admin action)...\n", a[0])
	data, err := newClient(c).AdminCancelOrder(c.Context, a[0])
	return printResult(c, data, err)
}

func listOrdersAction(c *cli.Context) error {
	fmt.Fprintln(c.App.Writer, "Listing all orders (admin action)...")
	data, err := newClient(c).ListOrders(c.Context)
	return printResult(c, data, err)
}

func updateStatusAction(c *cli.Context) error {
	a, err := args(c, "<order_id>", "<status>")
	if err != nil {
		return err
	}
	orderID, status := a[0], a[1]
	if !lo.Contains(validStatuses, status) {
		return fmt.Errorf("invalid status %q (choose from %s)", status, strings.Join(validStatuses, ", "))
	}

	fmt.Fprintf(c.App.Writer, "Updating status for order ID: %s to '%s' (admin action)...\n", orderID, status)
	data, err := newClient(c).UpdateOrderStatus(c.Context, orderID, status)
	return printResult(c, data, err)
}
