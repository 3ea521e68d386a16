// Command paystream browses, publishes and unlocks paid content on a
// PayStream server from the terminal.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"text/tabwriter"
	"time"

	x402 "github.com/Rampop01/streamit"
	"github.com/Rampop01/streamit/client"
)

const usage = `usage: paystream [flags] <command> [args]

commands:
  list                 show the catalog
  show <id>            show the preview of one item
  unlock <id>          pay for an item and print it
  create [flags]       publish an item
  verify <id> <txId>   verify an existing transaction
`

func main() {
	defaultAPI := os.Getenv("PAYSTREAM_API")
	if defaultAPI == "" {
		defaultAPI = "http://localhost:3000/api"
	}

	api := flag.String("api", defaultAPI, "server API base URL")
	address := flag.String("address", os.Getenv("PAYSTREAM_ADDRESS"), "your STX address")
	network := flag.String("network", string(x402.NetworkTestnet), "Stacks network")
	receipts := flag.String("receipts", defaultReceiptsPath(), "file remembering receipts of unlocked items")
	verbose := flag.Bool("v", false, "log state transitions")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	c := client.New(*api)
	session := client.Session{Address: *address, Network: *network}

	var err error
	args := flag.Args()[1:]
	switch flag.Arg(0) {
	case "list":
		err = list(ctx, c)
	case "show":
		err = show(ctx, c, args)
	case "unlock":
		err = unlock(ctx, c, session, *receipts, args, *verbose)
	case "create":
		err = create(ctx, c, *address, args)
	case "verify":
		err = verify(ctx, c, *address, args)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func list(ctx context.Context, c *client.Client) error {
	items, err := c.List(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tPRICE\tVIEWS\tTITLE")
	for _, item := range items {
		fmt.Fprintf(w, "%s\t%s\t%g STX\t%d\t%s\n", item.ID, item.ContentType, item.PriceInSTX, item.Views, item.Title)
	}
	return w.Flush()
}

func show(ctx context.Context, c *client.Client, args []string) error {
	if len(args) != 1 {
		return errors.New("show needs a content id")
	}
	item, err := c.Preview(ctx, args[0])
	if err != nil {
		return err
	}
	printContent(item, nil)
	return nil
}

func unlock(ctx context.Context, c *client.Client, session client.Session, receiptsPath string, args []string, verbose bool) error {
	if len(args) != 1 {
		return errors.New("unlock needs a content id")
	}
	if session.Address == "" {
		return errors.New("set -address or PAYSTREAM_ADDRESS to pay")
	}

	item, err := c.Preview(ctx, args[0])
	if err != nil {
		return err
	}

	o := client.NewOrchestrator(c, client.NewPromptSigner(os.Stdin, os.Stdout), session)
	if verbose {
		o.OnTransition = func(from, to client.State) {
			fmt.Fprintf(os.Stderr, "%s -> %s\n", from, to)
		}
	}

	book := loadReceipts(receiptsPath)
	result, err := o.Unlock(ctx, client.ContentRef{
		ID:             item.ID,
		PriceInSTX:     item.PriceInSTX,
		CreatorAddress: item.CreatorAddress,
		Receipt:        book[item.ID],
	})
	if err != nil {
		if errors.Is(err, x402.ErrSignerCancelled) {
			fmt.Fprintln(os.Stderr, "payment cancelled")
			return nil
		}
		return err
	}

	if result.Message != "" {
		fmt.Println(result.Message)
	}
	if result.Content == nil {
		fmt.Println("transaction:", result.TxID)
		return nil
	}
	if receipt := result.Content.Receipt; receipt != "" {
		book[item.ID] = receipt
		if err := saveReceipts(receiptsPath, book); err != nil {
			slog.Warn("could not save receipt", "path", receiptsPath, "error", err)
		}
	}
	printContent(&result.Content.Content, result.Content)
	return nil
}

func create(ctx context.Context, c *client.Client, address string, args []string) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	var input x402.ContentInput
	var contentType string
	fs.StringVar(&input.Title, "title", "", "title")
	fs.StringVar(&input.Description, "description", "", "description")
	fs.StringVar(&contentType, "type", string(x402.ContentTypeVideo), "video or article")
	fs.StringVar(&input.EmbedURL, "embed-url", "", "video embed URL")
	fs.StringVar(&input.ArticleBody, "body", "", "article body")
	fs.StringVar(&input.ThumbnailURL, "thumbnail", "", "thumbnail URL")
	fs.Float64Var(&input.PriceInSTX, "price", 0, "price in STX")
	fs.StringVar(&input.CreatorAddress, "creator", address, "creator STX address")
	fs.StringVar(&input.CreatorName, "creator-name", "", "creator display name")
	fs.StringVar(&input.Category, "category", "", "category")
	if err := fs.Parse(args); err != nil {
		return err
	}
	input.ContentType = x402.ContentType(contentType)

	created, err := c.Create(ctx, input)
	if err != nil {
		return err
	}
	fmt.Println("created", created.ID)
	return nil
}

func verify(ctx context.Context, c *client.Client, address string, args []string) error {
	if len(args) != 2 {
		return errors.New("verify needs a content id and a transaction id")
	}
	unlocked, err := c.Verify(ctx, args[0], x402.PaymentClaim{TxID: args[1], PayerAddress: address})
	if err != nil {
		return err
	}
	if unlocked.Message != "" {
		fmt.Println(unlocked.Message)
	}
	printContent(&unlocked.Content, unlocked)
	return nil
}

func printContent(item *x402.Content, unlocked *x402.UnlockedContent) {
	fmt.Printf("%s\n%s\n\n", item.Title, item.Description)
	fmt.Printf("price:    %g STX\n", item.PriceInSTX)
	fmt.Printf("creator:  %s (%s)\n", item.CreatorName, item.CreatorAddress)
	fmt.Printf("created:  %s\n", time.UnixMilli(item.CreatedAt).Format(time.RFC1123))
	if unlocked == nil {
		return
	}
	fmt.Printf("paid by:  %s\n", unlocked.PaidBy)
	fmt.Printf("tx:       %s (verified: %t)\n", unlocked.TxID, unlocked.Verified)
	if item.EmbedURL != "" {
		fmt.Printf("\nwatch: %s\n", item.EmbedURL)
	}
	if item.ArticleBody != "" {
		fmt.Printf("\n%s\n", item.ArticleBody)
	}
}

func defaultReceiptsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".paystream-receipts.json"
	}
	return filepath.Join(dir, "paystream", "receipts.json")
}

// loadReceipts reads the content id to receipt map. A missing or unreadable
// file is an empty book.
func loadReceipts(path string) map[string]string {
	book := map[string]string{}
	data, err := os.ReadFile(path)
	if err != nil {
		return book
	}
	if err := json.Unmarshal(data, &book); err != nil {
		slog.Warn("ignoring unreadable receipts file", "path", path, "error", err)
		return map[string]string{}
	}
	return book
}

func saveReceipts(path string, book map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(book, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
