package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry is the dedicated Prometheus registry for the tuner.
	Registry = prometheus.NewRegistry()

	// SolverInvocations counts solver process runs by outcome
	// (ok, unavailable, timeout, error).
	SolverInvocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "vrptune_solver_invocations_total", Help: "Solver invocations by outcome."},
		[]string{"outcome"},
	)
	// SolverDuration records wall time per solver invocation in seconds.
	SolverDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "vrptune_solver_duration_seconds", Help: "Solver invocation duration in seconds.", Buckets: prometheus.ExponentialBuckets(0.01, 2, 14)},
	)
	// Retries counts retried solver evaluations.
	Retries = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "vrptune_evaluation_retries_total", Help: "Retried (genome, seed, test case) evaluations."},
	)
	// GenomesEvaluated counts genomes that received a fitness.
	GenomesEvaluated = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "vrptune_genomes_evaluated_total", Help: "Genomes evaluated."},
	)
	// Generations counts completed generations.
	Generations = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "vrptune_generations_total", Help: "Completed generations."},
	)
	// BestFitness is the best fitness found so far in the current run.
	BestFitness = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "vrptune_best_fitness", Help: "Best fitness found so far."},
	)
)

var regOnce sync.Once

// RegisterDefault registers the collectors on Registry once.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(SolverInvocations)
		Registry.MustRegister(SolverDuration)
		Registry.MustRegister(Retries)
		Registry.MustRegister(GenomesEvaluated)
		Registry.MustRegister(Generations)
		Registry.MustRegister(BestFitness)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

// Handler serves Registry in the Prometheus exposition format.
func Handler() http.Handler {
	RegisterDefault()
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Serve exposes Handler on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
