package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/oldagecoder1/nifty-options-bot/internal/backtest"
	"github.com/oldagecoder1/nifty-options-bot/internal/broker"
	"github.com/oldagecoder1/nifty-options-bot/internal/config"
	"github.com/oldagecoder1/nifty-options-bot/internal/feed"
	"github.com/oldagecoder1/nifty-options-bot/internal/histdata"
	"github.com/oldagecoder1/nifty-options-bot/internal/instrument"
	"github.com/oldagecoder1/nifty-options-bot/internal/journal"
	"github.com/oldagecoder1/nifty-options-bot/internal/livetrading"
	"github.com/oldagecoder1/nifty-options-bot/internal/logging"
	"github.com/oldagecoder1/nifty-options-bot/internal/notifier"
	"github.com/oldagecoder1/nifty-options-bot/internal/strategy"
)

const mockIndexBasePrice = 25000

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "nifty-options-bot",
		Short:         "Intraday Nifty options trading engine",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	root.AddCommand(liveCmd(&configPath))
	root.AddCommand(backtestCmd(&configPath))
	return root
}

// loadConfig parses configuration and applies the logging setup before
// anything else can emit.
func loadConfig(configPath string) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := logging.Setup(cfg.LogLevel, cfg.LogFilePath); err != nil {
		return nil, err
	}
	return cfg, nil
}

func liveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "live",
		Short: "Run the live trading session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			cfg.PrintBanner()
			return runLive(cfg)
		},
	}
}

func runLive(cfg *config.Config) error {
	contracts, err := instrument.LoadCSV(cfg.InstrumentsCSVPath)
	if err != nil {
		return err
	}
	indexToken, err := contracts.IndexToken()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Market data: real broker feed from phase 2, random-walk mock in
	// phase 1.
	var mktFeed feed.Feed
	var hist histdata.Provider
	if cfg.IsUsingRealData() {
		mktFeed = feed.NewWebsocketFeed(cfg.KiteWSURL, cfg.KiteAccessToken)
		hist = histdata.NewHTTPProvider(cfg.KiteAPIBaseURL, cfg.KiteAPIKey, cfg.KiteAccessToken, cfg.Location())
	} else {
		seed := time.Now().UnixNano()
		mktFeed = feed.NewMockFeed(time.Second, map[int64]float64{indexToken: mockIndexBasePrice}, seed)
		hist = histdata.NewMockProvider(map[int64]float64{indexToken: mockIndexBasePrice}, seed)
	}
	defer mktFeed.Close()

	// Order execution: real signals API only in phase 3, otherwise a CSV
	// paper journal.
	var sink broker.OrderSink
	if cfg.IsLiveTrading() {
		sink = broker.NewRESTSink(cfg.AlgoTestBaseURL, cfg.AlgoTestAPIKey)
	} else {
		sink, err = broker.NewPaperSink(cfg.TradesDir, cfg.Location())
		if err != nil {
			return err
		}
	}

	var store journal.Store
	if cfg.DBConnStr != "" {
		pg, err := journal.NewPostgresStore(cfg.DBConnStr)
		if err != nil {
			return err
		}
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		store = pg
	} else {
		store = journal.NewMemoryStore()
	}
	defer store.Close()

	writer := journal.NewAsyncWriter(store, 0)
	go writer.Run(ctx)
	defer writer.Close()

	var notif notifier.Notifier = notifier.Nop{}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		notif = notifier.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID)
	}

	ctrl, err := livetrading.New(livetrading.Deps{
		Cfg:       cfg,
		Contracts: contracts,
		Feed:      mktFeed,
		Hist:      hist,
		Sink:      sink,
		Journal:   writer,
		Notifier:  notif,
	})
	if err != nil {
		return err
	}
	return ctrl.Run(ctx)
}

func backtestCmd(configPath *string) *cobra.Command {
	var dataPath, fromStr, toStr, outPath string

	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay the strategy over a historical dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			return runBacktest(cfg, dataPath, fromStr, toStr, outPath)
		},
	}
	cmd.Flags().StringVar(&dataPath, "data", "", "path to the combined index/call/put candle CSV")
	cmd.Flags().StringVar(&fromStr, "from", "", "first date to replay (YYYY-MM-DD)")
	cmd.Flags().StringVar(&toStr, "to", "", "last date to replay (YYYY-MM-DD)")
	cmd.Flags().StringVar(&outPath, "out", "", "write the trade log CSV to this path")
	cmd.MarkFlagRequired("data")
	return cmd
}

func runBacktest(cfg *config.Config, dataPath, fromStr, toStr, outPath string) error {
	rows, err := backtest.LoadRows(dataPath)
	if err != nil {
		return err
	}

	start, err := parseDate(fromStr, cfg.Location())
	if err != nil {
		return fmt.Errorf("invalid --from: %w", err)
	}
	end, err := parseDate(toStr, cfg.Location())
	if err != nil {
		return fmt.Errorf("invalid --to: %w", err)
	}

	driver := backtest.NewDriver(backtest.Options{
		Start:          start,
		End:            end,
		RefStartHour:   cfg.Times.RefWindowStart.Hour,
		RefStartMinute: cfg.Times.RefWindowStart.Minute,
		RefEndHour:     cfg.Times.RefWindowEnd.Hour,
		RefEndMinute:   cfg.Times.RefWindowEnd.Minute,
		HardExitHour:   cfg.Times.HardExit.Hour,
		HardExitMinute: cfg.Times.HardExit.Minute,
		LotSize:        cfg.LotSize,
		Engine: strategy.Params{
			StartHour:         cfg.Times.StrikeSelection.Hour,
			StartMinute:       cfg.Times.StrikeSelection.Minute,
			Location:          cfg.Location(),
			RSIPeriod:         cfg.RSIPeriod,
			RSIExitDrop:       cfg.RSIExitDrop,
			TrailingIncrement: cfg.TrailingIncrement,
			DailyLossLimit:    cfg.DailyLossLimit,
		},
	})

	res, err := driver.Run(rows)
	if err != nil {
		return err
	}

	backtest.Summarize(res).Render(os.Stdout)
	if outPath != "" {
		if err := backtest.WriteTrades(outPath, res.Trades); err != nil {
			return err
		}
	}
	log.Infof("Backtest | done: %d trades over %d days", len(res.Trades), res.Days)
	return nil
}

func parseDate(s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation("2006-01-02", s, loc)
}
