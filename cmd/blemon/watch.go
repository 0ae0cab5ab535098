package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/srg/blemon/ingest"
	"github.com/srg/blemon/internal/bledb"
	"github.com/srg/blemon/internal/sensor"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print sensor advertisements as they arrive",
	Long: `Run the ingestion engine and print every advertisement of the configured
sensors with its decoded reading. Nothing is sent to the webhooks.

With --all every advertising device is shown, not only configured sensors.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

var watchAll bool

func init() {
	watchCmd.Flags().BoolVarP(&watchAll, "all", "a", false, "Show advertisements of every device")
}

func runWatch(cmd *cobra.Command, _ []string) error {
	_, _, engine, err := setup(cmd, func(o *ingest.Options) {
		if watchAll {
			o.AllowList = nil
		}
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := newReadingPrinter(cmd.OutOrStdout())
	sub := engine.Subscribe(p.print)
	defer sub.Unsubscribe()

	return engine.Run(ctx)
}

// readingPrinter serializes output of concurrent deliveries.
type readingPrinter struct {
	mu  sync.Mutex
	out io.Writer

	addr  *color.Color
	value *color.Color
	dim   *color.Color
}

func newReadingPrinter(out io.Writer) *readingPrinter {
	return &readingPrinter{
		out:   out,
		addr:  color.New(color.FgCyan, color.Bold),
		value: color.New(color.FgGreen),
		dim:   color.New(color.Faint),
	}
}

func (p *readingPrinter) print(_ context.Context, adv ingest.Advertisement) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	reading := p.dim.Sprint("-")
	if v, err := sensor.DecodeReading(adv.Payload()); err == nil {
		reading = p.value.Sprintf("%.3f", v)
	}

	_, err := fmt.Fprintf(p.out, "%s  %s  %s  %s  %s\n",
		time.Now().Format(time.TimeOnly),
		p.addr.Sprint(adv.DeviceAddress()),
		p.service(adv.ServiceID()),
		adv.Hex(),
		reading,
	)
	return err
}

func (p *readingPrinter) service(id uuid.UUID) string {
	short := bledb.ShortForm(id)
	if name, ok := bledb.LookupService(id); ok {
		return short + " " + p.dim.Sprintf("(%s)", name)
	}
	return short
}
