package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/clipforge/orchestrator/internal/batch"
	"github.com/clipforge/orchestrator/internal/checkpoint"
	"github.com/clipforge/orchestrator/internal/config"
	"github.com/clipforge/orchestrator/internal/domain"
	"github.com/clipforge/orchestrator/internal/executor"
	"github.com/clipforge/orchestrator/internal/notify"
	"github.com/clipforge/orchestrator/internal/progress"
	"github.com/clipforge/orchestrator/internal/quota"
	"github.com/clipforge/orchestrator/internal/stages"
	"github.com/clipforge/orchestrator/internal/watch"
	"github.com/clipforge/orchestrator/web/api"
)

var (
	batchManifest string
	servePort     int
)

func init() {
	runCmd := &cobra.Command{
		Use:   "run FILE",
		Short: "Run one text file through the full pipeline",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}
	rootCmd.AddCommand(runCmd)

	batchCmd := &cobra.Command{
		Use:   "batch",
		Short: "Manage batches",
	}
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create and run a batch from a manifest",
		RunE:  runBatchCreate,
	}
	createCmd.Flags().StringVarP(&batchManifest, "file", "f", "", "batch manifest YAML")
	createCmd.MarkFlagRequired("file")
	batchCmd.AddCommand(createCmd)

	batchCmd.AddCommand(&cobra.Command{
		Use:   "status [BATCH_ID]",
		Short: "Show batch status",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runBatchStatus,
	})
	batchCmd.AddCommand(&cobra.Command{
		Use:   "pause BATCH_ID",
		Short: "Pause a batch (in-flight stages finish, no new stages start)",
		Args:  cobra.ExactArgs(1),
		RunE:  runBatchPause,
	})
	batchCmd.AddCommand(&cobra.Command{
		Use:   "resume BATCH_ID",
		Short: "Resume a paused batch",
		Args:  cobra.ExactArgs(1),
		RunE:  runBatchResume,
	})
	rootCmd.AddCommand(batchCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator: web API, scheduler, inbox watcher",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "quota",
		Short: "Show quota usage per service",
		RunE:  runQuota,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "watch",
		Short: "Watch the inbox directory and run dropped files",
		RunE:  runWatch,
	})
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

// orchestrator bundles the long-lived pieces every command wires up
type orchestrator struct {
	cfg    *config.Config
	store  checkpoint.Store
	hub    *progress.Hub
	ledger *quota.Ledger
	coord  *batch.Coordinator
}

func openOrchestrator() (*orchestrator, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	for _, dir := range []string{
		filepath.Dir(cfg.General.DatabasePath),
		filepath.Dir(cfg.General.QuotaDatabasePath),
		cfg.General.WorkDir,
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	store, err := checkpoint.NewSQLite(cfg.General.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("opening checkpoint store: %w", err)
	}
	ledger, err := quota.NewLedger(cfg.General.QuotaDatabasePath, cfg.QuotaBudgets())
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("opening quota ledger: %w", err)
	}

	hub := progress.NewHub(cfg.Heartbeat())
	go hub.Run()

	exec := executor.New(store, hub, ledger)
	coord := batch.NewCoordinator(store, hub, exec, stages.Definitions(cfg.StageConfig()), cfg.General.Workers)
	coord.SetNotifier(notify.NewMultiNotifier(
		notify.NewSlackNotifier(cfg.Notifications.SlackWebhook),
		notify.NewDesktopNotifier(cfg.Notifications.Desktop),
	))

	return &orchestrator{cfg: cfg, store: store, hub: hub, ledger: ledger, coord: coord}, nil
}

func (o *orchestrator) close() {
	o.coord.Stop()
	o.hub.Stop()
	o.ledger.Close()
	o.store.Close()
}

func runRun(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return fmt.Errorf("%s is empty", args[0])
	}

	o, err := openOrchestrator()
	if err != nil {
		return err
	}
	defer o.close()

	name := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
	p := domain.NewProject(uuid.NewString(), name, content)

	fmt.Printf("Running project %s (%s)\n", p.ID, p.Name)
	if err := o.coord.RunProject(p); err != nil {
		return err
	}
	o.coord.Wait()

	cp, err := o.store.Get(p.ID)
	if err != nil {
		return err
	}
	switch cp.Stage {
	case domain.StageCompleted:
		fmt.Printf("Completed: %s\n", cp.Artifacts[domain.ArtifactUpload])
	case domain.StageFailed:
		if cp.LastError != nil {
			fmt.Printf("Failed at %s: %s\n", cp.LastError.Stage, cp.LastError.Message)
			for _, s := range cp.LastError.Solutions {
				fmt.Printf("  - %s\n", s)
			}
		}
		return fmt.Errorf("project failed")
	default:
		fmt.Printf("Stopped at %s\n", cp.Stage)
	}
	return nil
}

func runBatchCreate(cmd *cobra.Command, args []string) error {
	m, err := batch.LoadManifest(batchManifest)
	if err != nil {
		return err
	}

	o, err := openOrchestrator()
	if err != nil {
		return err
	}
	defer o.close()

	b, err := o.coord.CreateBatch(m.Name, m.Projects, m.Settings)
	if err != nil {
		return err
	}
	fmt.Printf("Batch %s created with %d projects\n", b.ID, b.TotalCount)

	o.coord.Wait()
	return printBatch(o.coord, b.ID)
}

func runBatchStatus(cmd *cobra.Command, args []string) error {
	o, err := openOrchestrator()
	if err != nil {
		return err
	}
	defer o.close()

	if len(args) == 1 {
		return printBatch(o.coord, args[0])
	}

	batches, err := o.coord.ListBatches()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tDONE\tFAILED\tTOTAL\tCREATED")
	for _, b := range batches {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			b.ID, b.Name, b.Status, b.CompletedCount, b.FailedCount, b.TotalCount,
			humanize.Time(b.CreatedAt))
	}
	return w.Flush()
}

func printBatch(coord *batch.Coordinator, id string) error {
	b, members, err := coord.Status(id)
	if err != nil {
		return err
	}

	fmt.Printf("Batch %s (%s): %s, %d/%d completed, %d failed\n",
		b.ID, b.Name, b.Status, b.CompletedCount, b.TotalCount, b.FailedCount)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROJECT\tSTATUS\tPROGRESS\tRESULT")
	for _, m := range members {
		result := m.VideoURL
		if m.Error != "" {
			result = m.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%d%%\t%s\n", m.Name, m.Status, m.Progress, result)
	}
	return w.Flush()
}

func runBatchPause(cmd *cobra.Command, args []string) error {
	o, err := openOrchestrator()
	if err != nil {
		return err
	}
	defer o.close()

	if err := o.coord.Pause(args[0]); err != nil {
		return err
	}
	fmt.Printf("Batch %s paused\n", args[0])
	return nil
}

func runBatchResume(cmd *cobra.Command, args []string) error {
	o, err := openOrchestrator()
	if err != nil {
		return err
	}
	defer o.close()

	if err := o.coord.Resume(args[0]); err != nil {
		return err
	}
	fmt.Printf("Batch %s resumed\n", args[0])
	o.coord.Wait()
	return printBatch(o.coord, args[0])
}

func runServe(cmd *cobra.Command, args []string) error {
	o, err := openOrchestrator()
	if err != nil {
		return err
	}
	defer o.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// re-admit work left over from a previous process
	if err := o.coord.Recover(); err != nil {
		return fmt.Errorf("recovery sweep: %w", err)
	}

	schedCfg, err := batch.LoadScheduleConfig(o.cfg.General.SchedulePath)
	if err != nil {
		return err
	}
	if len(schedCfg.Entries) > 0 {
		sched, err := batch.NewScheduler(o.coord, schedCfg.Entries)
		if err != nil {
			return err
		}
		go sched.Start()
		defer sched.Stop()
		fmt.Printf("Scheduler running with %d entries\n", len(schedCfg.Entries))
	}

	if o.cfg.Watch.InboxDir != "" {
		watcher, err := watch.New(o.cfg.Watch.InboxDir, o.coord.RunProject)
		if err != nil {
			return err
		}
		watcher.Start(ctx)
		defer watcher.Stop()
		fmt.Printf("Watching inbox %s\n", o.cfg.Watch.InboxDir)
	}

	port := servePort
	if port == 0 {
		port = o.cfg.Web.Port
	}
	addr := fmt.Sprintf("%s:%d", o.cfg.Web.Host, port)
	server := api.NewServer(o.coord, o.store, o.ledger, o.hub, addr)

	fmt.Printf("API listening on http://%s\n", addr)
	errc := make(chan error, 1)
	go func() { errc <- server.Start() }()

	select {
	case <-ctx.Done():
		fmt.Println("Shutting down")
		return nil
	case err := <-errc:
		return err
	}
}

func runQuota(cmd *cobra.Command, args []string) error {
	o, err := openOrchestrator()
	if err != nil {
		return err
	}
	defer o.close()

	services := o.ledger.Services()
	if len(services) == 0 {
		fmt.Println("No quota budgets configured")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SERVICE\tUSED\tREMAINING\tTOTAL\tUNIT\tRESETS")
	for _, svc := range services {
		u, err := o.ledger.Usage(svc)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			u.Service,
			humanize.Comma(u.Used),
			humanize.Comma(u.Remaining),
			humanize.Comma(u.Total),
			u.Unit,
			humanize.Time(u.ResetAt))
	}
	return w.Flush()
}

func runWatch(cmd *cobra.Command, args []string) error {
	o, err := openOrchestrator()
	if err != nil {
		return err
	}
	defer o.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher, err := watch.New(o.cfg.Watch.InboxDir, o.coord.RunProject)
	if err != nil {
		return err
	}
	watcher.Start(ctx)
	defer watcher.Stop()

	fmt.Printf("Watching %s, drop .txt files to start projects\n", o.cfg.Watch.InboxDir)
	<-ctx.Done()

	// let in-flight pipelines reach a stable checkpoint
	done := make(chan struct{})
	go func() {
		o.coord.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		fmt.Println("Timed out waiting for in-flight stages")
	}
	return nil
}
