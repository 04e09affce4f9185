/*
main.go - Offline ledger verification and order repair

PURPOSE:
  Folds the whole ledger, reports snapshots that disagree with it and,
  with -fix, rebuilds them. Then recomputes every order's line counters
  from the ledger and re-resolves its status.

COMMAND-LINE FLAGS:
  -fix     Rebuild drifted snapshots (default: report only)
  -orders  Repair order counters (default: true)
  -db      SQLite database path (overrides SQLITE_PATH)

EXIT CODES:
  0  ledger clean (or fixed with -fix)
  1  configuration or database error
  2  drift found and not fixed

SEE ALSO:
  - inventory/reconcile.go: VerifyLedger, RebuildSnapshot, RepairOrder
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/warp/inventory-engine/config"
	"github.com/warp/inventory-engine/inventory"
	"github.com/warp/inventory-engine/notify"
	"github.com/warp/inventory-engine/store"
)

func main() {
	fix := flag.Bool("fix", false, "rebuild drifted snapshots")
	repairOrders := flag.Bool("orders", true, "repair order line counters")
	dbPath := flag.String("db", "", "SQLite database path (overrides SQLITE_PATH)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if *dbPath != "" {
		cfg.SQLitePath = *dbPath
	}
	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	backend, err := store.Open(cfg, logger)
	if err != nil {
		logger.WithError(err).Error("failed to initialize database")
		os.Exit(1)
	}

	svc := inventory.NewService(backend,
		inventory.WithLogger(logger),
		inventory.WithNotifier(notify.NewLog(logger)),
	)
	code := reconcile(context.Background(), svc, logger, *fix, *repairOrders)
	backend.Close()
	os.Exit(code)
}

func reconcile(ctx context.Context, svc *inventory.Service, logger *logrus.Logger, fix, repairOrders bool) int {
	log := logger.WithField("module", "reconcile")

	drifts, err := svc.VerifyLedger(ctx)
	if err != nil {
		log.WithError(err).Error("verification failed")
		return 1
	}

	code := 0
	for _, d := range drifts {
		entry := log.WithFields(logrus.Fields{
			"product_id":  string(d.Key.ProductID),
			"location_id": string(d.Key.LocationID),
			"missing":     d.Missing,
		})
		if d.Err != "" {
			entry.WithField("fold_error", d.Err).Error("ledger history does not fold; manual review required")
			code = 2
			continue
		}
		if !fix {
			entry.Warn("snapshot drift")
			code = 2
			continue
		}
		if _, err := svc.RebuildSnapshot(ctx, d.Key); err != nil {
			entry.WithError(err).Error("rebuild failed")
			code = 2
		}
	}

	if repairOrders {
		ids, err := svc.OrderIDs(ctx)
		if err != nil {
			log.WithError(err).Error("failed to list orders")
			return 1
		}
		repaired := 0
		for _, id := range ids {
			res, err := svc.RepairOrder(ctx, id, "")
			if err != nil {
				log.WithError(err).WithField("order_id", id).Error("repair failed")
				code = 1
				continue
			}
			if len(res.Changed) > 0 {
				repaired++
				log.WithFields(logrus.Fields{"order_id": id, "lines": len(res.Changed), "status": res.Status}).
					Info("order repaired")
			}
		}
		log.WithFields(logrus.Fields{"orders": len(ids), "repaired": repaired}).Info("order repair finished")
	}

	log.WithFields(logrus.Fields{"drifts": len(drifts), "fixed": fix}).Info("reconciliation finished")
	return code
}
