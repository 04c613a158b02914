package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/taldoflemis/pizzabox/pacchetto/pizzaclient"
)

func main() {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()
	retcode := 0
	defer func() {
		os.Exit(retcode)
	}()

	app := newApp(os.Stdout, os.Stderr)
	err := app.RunContext(ctx, os.Args)
	if err != nil {
		reportError(app.ErrWriter, err)
		retcode = 1
	}
}

// reportError prints err the way the gateway's users expect to read it.
func reportError(w io.Writer, err error) {
	var (
		apiErr  *pizzaclient.APIError
		connErr *pizzaclient.ConnectionError
	)
	switch {
	case errors.As(err, &apiErr):
		fmt.Fprintln(w, apiErr.Error())
	case errors.As(err, &connErr):
		fmt.Fprintf(w, "Error: Could not connect to the server at %s. Is paddock-gateway running?\n", connErr.URL)
	default:
		fmt.Fprintf(w, "Error: %v\n", err)
	}
}
