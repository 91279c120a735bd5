// Command mealcore imports recipes built from external ingredients, searches the
// external food database and attaches images to stored ingredients.
//
// Usage:
//
//	mealcore [-env .env] [-metrics-addr :9090] import-recipe -f recipe.json
//	mealcore search -q "greek yogurt"
//	mealcore upload-image -id <ingredient-id> -f photo.jpg
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mealcore/internal/blob"
	"mealcore/internal/config"
	"mealcore/internal/core"
	"mealcore/internal/foodapi"
	"mealcore/internal/logging"
	"mealcore/pkg/domain"
)

const (
	defaultEnvFile         = ".env"
	metricsShutdownTimeout = 5 * time.Second
	totalsPrecision        = 2
)

var exitFunc = os.Exit

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	exitFunc(code)
}

func usage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: mealcore [-env file] [-metrics-addr addr] <import-recipe|search|upload-image> [flags]")
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("mealcore", flag.ContinueOnError)
	fs.SetOutput(stderr)
	envFile := fs.String("env", defaultEnvFile, "dotenv file overlaid by the process environment")
	metricsAddr := fs.String("metrics-addr", "", "serve Prometheus metrics on this address while the command runs")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	rest := fs.Args()
	if len(rest) == 0 {
		usage(stderr)
		return 2
	}

	cfg, err := config.Load(*envFile)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	logger, _, err := logging.New(cfg.LogLevel)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "init logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if cfg.MetricsAddr != "" {
		shutdown := serveMetrics(cfg.MetricsAddr, reg, logger)
		defer shutdown()
	}

	cmd, cmdArgs := rest[0], rest[1:]
	switch cmd {
	case "import-recipe":
		return withService(ctx, cfg, logger, reg, stderr, func(svc *core.Service) int {
			return importRecipe(ctx, svc, cmdArgs, stdout, stderr)
		})
	case "search":
		return search(ctx, cfg, logger, reg, cmdArgs, stdout, stderr)
	case "upload-image":
		return withService(ctx, cfg, logger, reg, stderr, func(svc *core.Service) int {
			return uploadImage(ctx, svc, cmdArgs, stdout, stderr)
		})
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n", cmd)
		usage(stderr)
		return 2
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *logging.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "addr", addr, "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func withService(ctx context.Context, cfg config.Config, logger *logging.Logger, reg prometheus.Registerer, stderr io.Writer, fn func(*core.Service) int) int {
	store, err := core.OpenPersistentStore(ctx, cfg.Storage)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "open store: %v\n", err)
		return 1
	}
	defer func() {
		if cerr := store.Close(ctx); cerr != nil {
			logger.Warn("close store", "error", cerr)
		}
	}()
	blobs, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "open blob store: %v\n", err)
		return 1
	}
	recorder, err := core.NewPrometheusMetricsRecorder(reg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "register metrics: %v\n", err)
		return 1
	}
	svc := core.NewService(store,
		core.WithLogger(logger.With("storage", cfg.Storage.Driver)),
		core.WithMetricsRecorder(recorder),
		core.WithBlobStore(blobs),
	)
	return fn(svc)
}

type totalsView struct {
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
}

type recipeView struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Name        string     `json:"name"`
	Ingredients int        `json:"ingredients"`
	Totals      totalsView `json:"totals"`
}

func importRecipe(ctx context.Context, svc *core.Service, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("import-recipe", flag.ContinueOnError)
	fs.SetOutput(stderr)
	file := fs.String("f", "", "recipe JSON file (- for stdin)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *file == "" {
		_, _ = fmt.Fprintln(stderr, "import-recipe: -f is required")
		return 2
	}
	input, err := readRecipeInput(*file)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "import-recipe: %v\n", err)
		return 1
	}
	recipe, err := svc.CreateRecipeWithExternalIngredients(ctx, input)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "import-recipe: %v\n", err)
		return exitCodeFor(err)
	}
	totals := recipe.Totals().Rounded(totalsPrecision)
	return writeJSON(stdout, stderr, recipeView{
		ID:          recipe.ID,
		UserID:      recipe.UserID,
		Name:        recipe.Name,
		Ingredients: len(recipe.Lines),
		Totals:      totalsView{Calories: totals.Calories, Protein: totals.Protein},
	})
}

func readRecipeInput(path string) (core.CreateRecipeInput, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(filepath.Clean(path))
		if err != nil {
			return core.CreateRecipeInput{}, fmt.Errorf("open %s: %w", path, err)
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	var input core.CreateRecipeInput
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&input); err != nil {
		return core.CreateRecipeInput{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return input, nil
}

func search(ctx context.Context, cfg config.Config, logger *logging.Logger, reg prometheus.Registerer, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	fs.SetOutput(stderr)
	query := fs.String("q", "", "search terms")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	client, err := foodapi.New(cfg.FoodAPI)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "search: %v\n", err)
		return 1
	}
	recorder, err := core.NewPrometheusMetricsRecorder(reg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "register metrics: %v\n", err)
		return 1
	}
	svc := core.NewInMemoryService(
		core.WithLogger(logger),
		core.WithMetricsRecorder(recorder),
		core.WithIngredientLookup(client),
	)
	results, err := svc.SearchExternalIngredients(ctx, *query)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "search: %v\n", err)
		return exitCodeFor(err)
	}
	if results == nil {
		results = []domain.ExternalIngredient{}
	}
	return writeJSON(stdout, stderr, results)
}

func uploadImage(ctx context.Context, svc *core.Service, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("upload-image", flag.ContinueOnError)
	fs.SetOutput(stderr)
	id := fs.String("id", "", "ingredient id")
	file := fs.String("f", "", "image file")
	contentType := fs.String("content-type", "", "content type (defaults to the file extension's type)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *id == "" || *file == "" {
		_, _ = fmt.Fprintln(stderr, "upload-image: -id and -f are required")
		return 2
	}
	f, err := os.Open(filepath.Clean(*file))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "upload-image: %v\n", err)
		return 1
	}
	defer func() { _ = f.Close() }()
	ct := *contentType
	if ct == "" {
		ct = mime.TypeByExtension(filepath.Ext(*file))
	}
	ing, err := svc.UploadIngredientImage(ctx, *id, filepath.Base(*file), ct, f)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "upload-image: %v\n", err)
		return exitCodeFor(err)
	}
	return writeJSON(stdout, stderr, ing)
}

// exitCodeFor maps caller mistakes to 2 and everything else to 1.
func exitCodeFor(err error) int {
	if domain.IsValidation(err) || domain.IsNotFound(err) || domain.IsAuth(err) {
		return 2
	}
	return 1
}

func writeJSON(stdout, stderr io.Writer, v any) int {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		_, _ = fmt.Fprintf(stderr, "write output: %v\n", err)
		return 1
	}
	return 0
}
