package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"sahayata.org/internal/audit"
	"sahayata.org/internal/authz"
	"sahayata.org/internal/disburse"
	"sahayata.org/internal/httpapi"
	"sahayata.org/internal/notify"
	"sahayata.org/internal/obs"
	"sahayata.org/internal/region"
	"sahayata.org/internal/scheme"
	"sahayata.org/internal/store/pg"
	"sahayata.org/internal/workflow"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx := context.Background()

	var (
		authzStore  authz.Store
		regionStore region.Store
		appStore    workflow.Store
		schemeStore scheme.Store
		ledger      disburse.Service
		probe       httpapi.ReadyProbe
	)

	if dsn := os.Getenv("SAHAYATA_PG_DSN"); dsn != "" {
		store, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer store.Close()
		authzStore = store
		regionStore = store.Regions()
		appStore = store.Applications()
		schemeStore = store.Schemes()
		ledger = store.Ledger()
		probe = httpapi.ReadyProbe{DB: store.DB()}
	} else {
		log.Println("SAHAYATA_PG_DSN not set, using in-memory stores")
		authzStore = authz.NewInMemory()
		regionStore = region.NewInMemory()
		appStore = workflow.NewInMemory()
		schemeStore = scheme.NewInMemory()
		ledger = disburse.NewInMemory()
	}

	authzSvc, err := authz.NewService(authzStore)
	if err != nil {
		log.Fatalf("authz service: %v", err)
	}
	if err := authzSvc.EnsureBuiltins(ctx); err != nil {
		log.Fatalf("seed permissions: %v", err)
	}
	if err := seedSystemRoles(ctx, authzSvc); err != nil {
		log.Fatalf("seed roles: %v", err)
	}

	resolver, err := authz.NewResolver(authzStore, regionStore)
	if err != nil {
		log.Fatalf("resolver: %v", err)
	}
	schemeSvc, err := scheme.NewService(schemeStore)
	if err != nil {
		log.Fatalf("scheme service: %v", err)
	}

	dispatcher := notify.NewDispatcher()
	apps, err := workflow.NewService(appStore, resolver, schemeSvc, ledger, regionStore, audit.NewLogSink(),
		workflow.WithNotifier(dispatcher))
	if err != nil {
		log.Fatalf("workflow service: %v", err)
	}

	api := httpapi.New(probe, version, httpapi.Deps{
		Authz:        authzSvc,
		Resolver:     resolver,
		Applications: apps,
		Schemes:      schemeSvc,
		Ledger:       ledger,
		Regions:      regionStore,
		Stream:       dispatcher,
	})

	addr := os.Getenv("SAHAYATA_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting sahayata-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	log.Println("Stopped")
}

// seedSystemRoles creates the immutable roles every deployment starts
// with. Custom roles are layered on top through the API.
func seedSystemRoles(ctx context.Context, svc *authz.Service) error {
	allKeys := make([]string, 0, len(authz.BuiltinPermissions))
	for _, p := range authz.BuiltinPermissions {
		allKeys = append(allKeys, p.Key)
	}
	if _, err := svc.EnsureSystemRole(ctx, "administrator", 1, allKeys); err != nil {
		return err
	}
	if _, err := svc.EnsureSystemRole(ctx, "district-officer", 3, []string{
		authz.PermApplicationsView,
		authz.PermApplicationsReview,
		authz.PermApplicationsVerify,
		authz.PermApplicationsSchedule,
		authz.PermApplicationsReturn,
		authz.PermInterviewReschedule,
	}); err != nil {
		return err
	}
	if _, err := svc.EnsureSystemRole(ctx, "approver", 2, []string{
		authz.PermApplicationsView,
		authz.PermApplicationsApprove,
		authz.PermApplicationsReject,
		authz.PermApplicationsHold,
		authz.PermApplicationsDisburse,
		authz.PermApplicationsComplete,
		authz.PermBindingsManage,
	}); err != nil {
		return err
	}
	if _, err := svc.EnsureSystemRole(ctx, "beneficiary", 5, []string{
		authz.PermApplicationsSubmit,
		authz.PermApplicationsView,
	}); err != nil {
		return err
	}
	return nil
}
