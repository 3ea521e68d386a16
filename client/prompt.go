package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	x402 "github.com/Rampop01/streamit"
)

// PromptSigner asks a human to broadcast the transfer from their own wallet
// and type back the transaction id. A blank answer or "cancel" cancels.
//
// One goroutine reads in for the signer's lifetime. A line typed after a
// cancelled prompt answers the next prompt.
type PromptSigner struct {
	in   io.Reader
	out  io.Writer
	once sync.Once
	// lines is closed when in is exhausted.
	lines chan string
}

func NewPromptSigner(in io.Reader, out io.Writer) *PromptSigner {
	return &PromptSigner{in: in, out: out, lines: make(chan string)}
}

func (p *PromptSigner) read() {
	scanner := bufio.NewScanner(p.in)
	for scanner.Scan() {
		p.lines <- scanner.Text()
	}
	close(p.lines)
}

func (p *PromptSigner) SignTransfer(ctx context.Context, req TransferRequest) (string, error) {
	display := req.Amount + " micro-STX"
	if micro, err := x402.ParseMicroSTX(req.Amount); err == nil {
		display = micro.Shift(-6).String() + " STX"
	}

	fmt.Fprintf(p.out, "Send %s to %s (%s)\n", display, req.Recipient, req.Network)
	fmt.Fprintf(p.out, "Memo: %s\n", req.Memo)
	fmt.Fprint(p.out, "Transaction id (blank or \"cancel\" to abort): ")

	p.once.Do(func() { go p.read() })

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-p.lines:
		txID := strings.TrimSpace(line)
		if !ok || txID == "" || strings.EqualFold(txID, "cancel") {
			return "", x402.ErrSignerCancelled
		}
		return txID, nil
	}
}
