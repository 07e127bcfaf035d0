package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"offerwatch/internal"
	"offerwatch/internal/app"
	"offerwatch/internal/config"
	"offerwatch/internal/logging"
	"offerwatch/internal/matcher"
	"offerwatch/internal/pipeline"
	"offerwatch/internal/storage"
)

func main() {
	cfg, err := config.Load()
	must(err)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	log := logging.Setup(cfg.Env)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := storage.Open(ctx, cfg.DBPath)
	must(err)
	defer db.Close()

	cmd := os.Args[1]
	switch cmd {
	case "listen":
		must(app.Listen(ctx, cfg, db, log))
	case "analyze":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		file := fs.String("file", "", "path to a saved .eml message")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*file) == "" {
			must(fmt.Errorf("--file is required"))
		}
		must(cfg.Require("GEMINI_API_KEY", cfg.GeminiAPIKey))
		out, err := pipeline.AnalyzeFile(ctx, app.NewProcessor(cfg, db, log), *file)
		must(err)
		printOutcome(out)
	case "criteria:import":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		kind := fs.String("type", "laptop", "laptop|monitor|desktop")
		file := fs.String("file", "", "criteria xlsx path")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*file) == "" {
			must(fmt.Errorf("--file is required"))
		}
		n, err := importCriteria(ctx, db, *kind, *file)
		must(err)
		fmt.Printf("imported %d %s criteria from %s\n", n, *kind, *file)
	case "threshold:get":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		kind := fs.String("type", "", "laptop|monitor|desktop (empty for the global value)")
		_ = fs.Parse(os.Args[2:])
		key, err := thresholdKey(*kind)
		must(err)
		value, ok, err := db.GetSetting(ctx, key)
		must(err)
		if !ok {
			fmt.Printf("%s is not set (default %d)\n", key, cfg.DefaultMatchThreshold)
			return
		}
		fmt.Printf("%s=%s\n", key, value)
	case "threshold:set":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		kind := fs.String("type", "", "laptop|monitor|desktop (empty for the global value)")
		value := fs.Int("value", -1, "percent 0-100")
		_ = fs.Parse(os.Args[2:])
		if *value < 0 || *value > 100 {
			must(fmt.Errorf("--value must be between 0 and 100"))
		}
		key, err := thresholdKey(*kind)
		must(err)
		must(db.SetSetting(ctx, key, strconv.Itoa(*value)))
		fmt.Printf("%s=%d\n", key, *value)
	case "stats":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		days := fs.Int("days", 7, "window in days")
		_ = fs.Parse(os.Args[2:])
		sum, err := db.StatsSummary(ctx, *days)
		must(err)
		fmt.Printf("last %d days: processed=%d accepted=%d rejected=%d\n", sum.Days, sum.Processed, sum.Accepted, sum.Rejected)
	case "stats:export":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		days := fs.Int("days", 7, "window in days")
		out := fs.String("out", "", "output xlsx path")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*out) == "" {
			must(fmt.Errorf("--out is required"))
		}
		recs, err := db.ListStats(ctx, *days)
		must(err)
		sum, err := db.StatsSummary(ctx, *days)
		must(err)
		must(pipeline.ExportStatsToXLSX(recs, sum, *out))
		fmt.Printf("exported %d records to %s\n", len(recs), *out)
	case "notify:test":
		if !app.NewNotifier(cfg, log).SendTest(ctx) {
			must(fmt.Errorf("test notification was not delivered"))
		}
		fmt.Println("test notification sent")
	default:
		usage()
		os.Exit(1)
	}
}

func importCriteria(ctx context.Context, db *storage.DB, kind, path string) (int, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pt, ok := internal.ParseProductType(strings.ToLower(strings.TrimSpace(kind)))
	if !ok {
		return 0, fmt.Errorf("unsupported criteria type: %s", kind)
	}
	switch pt {
	case internal.ProductMonitor:
		items, err := pipeline.ReadMonitorCriteria(content)
		if err != nil {
			return 0, err
		}
		return len(items), db.ReplaceMonitorCriteria(ctx, items)
	case internal.ProductDesktop:
		items, err := pipeline.ReadDesktopCriteria(content)
		if err != nil {
			return 0, err
		}
		return len(items), db.ReplaceDesktopCriteria(ctx, items)
	default:
		items, err := pipeline.ReadLaptopCriteria(content)
		if err != nil {
			return 0, err
		}
		return len(items), db.ReplaceLaptopCriteria(ctx, items)
	}
}

func thresholdKey(kind string) (string, error) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" {
		return matcher.ThresholdKey, nil
	}
	pt, ok := internal.ParseProductType(kind)
	if !ok {
		return "", fmt.Errorf("unsupported product type: %s", kind)
	}
	return matcher.ThresholdKeyFor(pt), nil
}

func printOutcome(out pipeline.Outcome) {
	fmt.Printf("trace=%s status=%s product=%s items=%d\n", out.TraceID, out.Status, out.ProductType, out.Items)
	if out.Reason != "" {
		fmt.Printf("reason: %s\n", out.Reason)
	}
	fmt.Printf("offer=%t confidence=%d%% category=%q\n", out.Analysis.IsOffer, out.Analysis.Confidence, out.Analysis.Category)
	if out.Result == nil {
		return
	}
	res := out.Result
	fmt.Printf("units=%d in_criteria=%d with_price=%d identity=%.1f%% price=%.1f%% threshold=%d%%\n",
		res.TotalUnits, res.MatchedInCriteriaUnits, res.MatchedWithPriceUnits, res.IdentityPct, res.PricePct, res.Threshold)
	for _, o := range res.Outcomes {
		mark := "-"
		if o.IsMatch {
			mark = "+"
		}
		fmt.Printf("  %s %s x%d: %s\n", mark, o.Item, internal.Units(o.Amount), o.Reason)
	}
}

func usage() {
	fmt.Println("usage: offerwatch <command>")
	fmt.Println("commands:")
	fmt.Println("  listen")
	fmt.Println("  analyze --file=./offer.eml")
	fmt.Println("  criteria:import --type=laptop|monitor|desktop --file=./criteria.xlsx")
	fmt.Println("  threshold:get [--type=laptop|monitor|desktop]")
	fmt.Println("  threshold:set [--type=laptop|monitor|desktop] --value=90")
	fmt.Println("  stats [--days=7]")
	fmt.Println("  stats:export [--days=7] --out=./out/stats.xlsx")
	fmt.Println("  notify:test")
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
