package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nicebartender/keepalive-server/agentclient"
)

var errSimulatedFailure = errors.New("simulated send failure")

type runOptions struct {
	phone    string
	room     string
	password string
	count    int
	failRate float64
	latency  time.Duration
}

func newRunCmd(opts *globalOptions) *cobra.Command {
	ro := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Join a room with simulated agents until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if ro.room == "" {
				return errors.New("--room is required")
			}
			if ro.count < 1 {
				return errors.New("--count must be at least 1")
			}
			if ro.failRate < 0 || ro.failRate > 1 {
				return errors.New("--fail-rate must be between 0 and 1")
			}
			phones, err := phonesFrom(ro.phone, ro.count)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runAgents(ctx, cmd, opts, ro, phones)
		},
	}
	cmd.Flags().StringVarP(&ro.phone, "phone", "p", "5491100000001", "First phone number; further agents count up from it")
	cmd.Flags().StringVarP(&ro.room, "room", "r", "", "Room id to join")
	cmd.Flags().StringVar(&ro.password, "password", "", "Room password")
	cmd.Flags().IntVarP(&ro.count, "count", "n", 1, "Number of agents")
	cmd.Flags().Float64Var(&ro.failRate, "fail-rate", 0, "Fraction of sends reported as failed")
	cmd.Flags().DurationVar(&ro.latency, "latency", 500*time.Millisecond, "Simulated time per send")
	return cmd
}

func runAgents(ctx context.Context, cmd *cobra.Command, opts *globalOptions, ro *runOptions, phones []string) error {
	out := &consoleOutput{w: cmd.OutOrStdout()}
	pool := agentclient.NewPool(opts.server, opts.logger())
	defer pool.Close()

	for _, phone := range phones {
		joinCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		c, err := pool.Join(joinCtx, phone, ro.room, ro.password, simulatedSender(phone, ro.failRate, ro.latency, out))
		cancel()
		if err != nil {
			return fmt.Errorf("agent %s: %w", phone, err)
		}
		out.joined(phone, ro.room)
		go out.watch(ctx, phone, c)
	}

	<-ctx.Done()
	out.info("shutting down %d agents", pool.Len())
	return nil
}

// simulatedSender pretends to type and send the message, failing a fraction
// of the time.
func simulatedSender(phone string, failRate float64, latency time.Duration, out *consoleOutput) agentclient.DeliverFunc {
	return func(ctx context.Context, target, message string) error {
		if latency > 0 {
			t := time.NewTimer(latency)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if failRate > 0 && rand.Float64() < failRate {
			out.failed(phone, target)
			return errSimulatedFailure
		}
		out.sent(phone, target, message)
		return nil
	}
}

// phonesFrom returns count consecutive phone numbers starting at first.
func phonesFrom(first string, count int) ([]string, error) {
	n, err := strconv.ParseUint(first, 10, 64)
	if err != nil || len(first) < 7 || len(first) > 15 {
		return nil, fmt.Errorf("invalid phone %q: want 7 to 15 digits", first)
	}
	phones := make([]string, count)
	for i := range phones {
		p := strconv.FormatUint(n+uint64(i), 10)
		if len(p) > 15 {
			return nil, fmt.Errorf("phone range overflows at %s", p)
		}
		for len(p) < len(first) {
			p = "0" + p
		}
		phones[i] = p
	}
	return phones, nil
}

type consoleOutput struct {
	mu sync.Mutex
	w  io.Writer
}

func (o *consoleOutput) printf(c *color.Color, format string, args ...any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ts := time.Now().Format("15:04:05")
	fmt.Fprintf(o.w, "%s %s\n", ts, c.Sprintf(format, args...))
}

func (o *consoleOutput) joined(phone, room string) {
	o.printf(color.New(color.FgGreen), "%s joined %s", phone, room)
}

func (o *consoleOutput) sent(phone, target, message string) {
	o.printf(color.New(color.FgCyan), "%s -> %s: %s", phone, target, message)
}

func (o *consoleOutput) failed(phone, target string) {
	o.printf(color.New(color.FgRed), "%s -> %s: send failed", phone, target)
}

func (o *consoleOutput) info(format string, args ...any) {
	o.printf(color.New(color.FgYellow), format, args...)
}

// watch reports occupancy changes and the end of the connection.
func (o *consoleOutput) watch(ctx context.Context, phone string, c *agentclient.Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case count := <-c.Counts():
			o.info("%s sees %d agents in %s", phone, count.Count, count.RoomID)
		case <-c.Done():
			o.printf(color.New(color.FgRed), "%s disconnected", phone)
			return
		}
	}
}
