package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/danmuck/tickerctl/internal/config"
	"github.com/danmuck/tickerctl/internal/logging"
	"github.com/danmuck/tickerctl/internal/observability"
	"github.com/danmuck/tickerctl/internal/protocol"
	"github.com/danmuck/tickerctl/internal/protocol/codec"
	"github.com/danmuck/tickerctl/internal/socket"
	"github.com/rs/zerolog"
	segjson "github.com/segmentio/encoding/json"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var errStreamStopped = errors.New("tickerctl: stream stopped")

type streamOptions struct {
	configPath    string
	exchange      []string
	summary       bool
	lite          bool
	querySummary  bool
	queryExchange []string
	auth          bool
	adminListen   string
}

// newStreamCmd builds the stream command. extra is appended to the socket
// options, which lets tests swap the transport.
func newStreamCmd(extra []socket.Option) *cobra.Command {
	var opts streamOptions
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Subscribe and print every message as one JSON line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveStreamConfig(opts, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			release := logging.Setup(cfg.Log)
			defer release()
			return runStream(cmd.Context(), cfg, opts.auth, cmd.OutOrStdout(), extra...)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", defaultConfigPath, "config file; skipped when the default path does not exist")
	flags.StringSliceVarP(&opts.exchange, "exchange", "e", nil, "subscribe to exchange deltas for a market (repeatable)")
	flags.BoolVar(&opts.summary, "summary", false, "subscribe to summary deltas")
	flags.BoolVar(&opts.lite, "lite", false, "subscribe to lite summary deltas")
	flags.BoolVar(&opts.querySummary, "query-summary", false, "query the summary state once")
	flags.StringSliceVar(&opts.queryExchange, "query-exchange", nil, "query the order book of a market once (repeatable)")
	flags.BoolVar(&opts.auth, "auth", false, "authenticate and print private balance and order deltas")
	flags.StringVar(&opts.adminListen, "admin-listen", "", "serve /health, /status and /metrics on this address")
	return cmd
}

// resolveStreamConfig loads the file when one was asked for or the default
// exists, then lays the flags over it.
func resolveStreamConfig(opts streamOptions, explicit bool) (config.Config, error) {
	cfg := config.Default()
	if explicit || fileExists(opts.configPath) {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	} else {
		config.ApplyEnv(&cfg)
	}
	logging.ApplyEnv(&cfg.Log)

	subs := &cfg.Subscriptions
	subs.Exchange = config.NormalizeTickers(append(subs.Exchange, opts.exchange...))
	subs.QueryExchange = config.NormalizeTickers(append(subs.QueryExchange, opts.queryExchange...))
	subs.Summary = subs.Summary || opts.summary
	subs.SummaryLite = subs.SummaryLite || opts.lite
	subs.QuerySummary = subs.QuerySummary || opts.querySummary
	if opts.adminListen != "" {
		cfg.AdminListen = opts.adminListen
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	if opts.auth && !cfg.HasCredentials() {
		return config.Config{}, fmt.Errorf("%w: --auth needs [auth] in the config or %s/%s",
			config.ErrInvalid, config.EnvAPIKey, config.EnvAPISecret)
	}
	if subs.Empty() && !opts.auth {
		return config.Config{}, fmt.Errorf("%w: nothing to subscribe to", config.ErrInvalid)
	}
	return cfg, nil
}

// runStream blocks until ctx ends or the socket gives up.
func runStream(ctx context.Context, cfg config.Config, withAuth bool, out io.Writer, extra ...socket.Option) error {
	logger := observability.Logger("tickerctl")
	printer := &linePrinter{out: out, log: logger}

	opts := append([]socket.Option{socket.WithLogger(observability.Logger("socket"))}, extra...)
	sock, err := socket.New(cfg.Session, socket.Handlers{
		OnPublic:  printer.message,
		OnPrivate: printer.message,
		OnError: func(err error) {
			logger.Warn().Err(err).Msg("tickerctl.stream.error")
		},
	}, opts...)
	if err != nil {
		return err
	}
	if err := subscribe(sock, cfg, withAuth); err != nil {
		_ = sock.Disconnect()
		<-sock.Done()
		return err
	}
	logger.Info().Str("url", cfg.Session.URL).Str("hub", cfg.Session.Hub).Bool("auth", withAuth).Msg("tickerctl.stream.started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-gctx.Done():
			_ = sock.Disconnect()
			<-sock.Done()
			return nil
		case <-sock.Done():
			if err := sock.Err(); err != nil {
				return err
			}
			return errStreamStopped
		}
	})
	if cfg.AdminListen != "" {
		router := observability.NewAdminRouter("tickerctl", logger, func() any { return sock.Status() })
		srv := &http.Server{Addr: cfg.AdminListen, Handler: router, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logger.Info().Str("addr", cfg.AdminListen).Msg("tickerctl.admin.listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	logger.Info().Err(err).Msg("tickerctl.stream.stopped")
	return err
}

func subscribe(sock *socket.Socket, cfg config.Config, withAuth bool) error {
	subs := cfg.Subscriptions
	if withAuth {
		if err := sock.Authenticate(cfg.Credentials.Key, cfg.Credentials.Secret); err != nil {
			return err
		}
	}
	if len(subs.Exchange) > 0 {
		if err := sock.SubscribeToExchangeDeltas(subs.Exchange); err != nil {
			return err
		}
	}
	if subs.Summary {
		if err := sock.SubscribeToSummaryDeltas(); err != nil {
			return err
		}
	}
	if subs.SummaryLite {
		if err := sock.SubscribeToSummaryLiteDeltas(); err != nil {
			return err
		}
	}
	if subs.QuerySummary {
		if err := sock.QuerySummaryState(); err != nil {
			return err
		}
	}
	if len(subs.QueryExchange) > 0 {
		if err := sock.QueryExchangeState(subs.QueryExchange); err != nil {
			return err
		}
	}
	return nil
}

type printedLine struct {
	Feed    string                 `json:"feed"`
	Kind    string                 `json:"kind"`
	Channel string                 `json:"channel,omitempty"`
	Invoke  *protocol.InvokeRecord `json:"invoke,omitempty"`
	Data    any                    `json:"data"`
	At      time.Time              `json:"at"`
}

// linePrinter serializes messages from both handler lanes onto out.
type linePrinter struct {
	mu  sync.Mutex
	out io.Writer
	log zerolog.Logger
}

func (p *linePrinter) message(msg codec.Message) {
	feed := "public"
	if msg.Private() {
		feed = "private"
	}
	line, err := segjson.Marshal(printedLine{
		Feed:    feed,
		Kind:    msg.Kind.String(),
		Channel: msg.Channel,
		Invoke:  msg.Invoke,
		Data:    msg.Data,
		At:      time.Now().UTC(),
	})
	if err != nil {
		p.log.Warn().Err(err).Str("kind", msg.Kind.String()).Msg("tickerctl.stream.encode_failed")
		return
	}
	line = append(line, '\n')

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.out.Write(line); err != nil {
		p.log.Warn().Err(err).Msg("tickerctl.stream.write_failed")
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
