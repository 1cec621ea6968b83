package statusapi

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/parkingsync/pkg/parking"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Tracker keeps the most recent replication cycle for the status endpoint.
type Tracker struct {
	mu        sync.RWMutex
	last      *parking.CycleReport
	counts    map[string]int
	lastWrite time.Time
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{counts: map[string]int{}}
}

// Observe records a finished cycle. It is safe to pass as a cycle observer.
func (tracker *Tracker) Observe(report parking.CycleReport) {
	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	tracker.last = &report
	tracker.counts[report.Status]++
	if report.Succeeded() {
		tracker.lastWrite = report.FinishedAt
	}
}

type cycleResponse struct {
	CycleID     string    `json:"cycle_id"`
	Status      string    `json:"status"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	RowsRead    int       `json:"rows_read"`
	RowsWritten int       `json:"rows_written"`
	OpenRows    int       `json:"open_rows"`
	ClosedRows  int       `json:"closed_rows"`
	Attempts    int       `json:"attempts"`
	Error       string    `json:"error,omitempty"`
}

type statusResponse struct {
	LastCycle        *cycleResponse `json:"last_cycle"`
	Cycles           map[string]int `json:"cycles"`
	LastSuccessfulAt *time.Time     `json:"last_successful_at,omitempty"`
}

func (tracker *Tracker) snapshot() statusResponse {
	tracker.mu.RLock()
	defer tracker.mu.RUnlock()
	response := statusResponse{Cycles: make(map[string]int, len(tracker.counts))}
	for status, count := range tracker.counts {
		response.Cycles[status] = count
	}
	if !tracker.lastWrite.IsZero() {
		lastWrite := tracker.lastWrite
		response.LastSuccessfulAt = &lastWrite
	}
	if tracker.last == nil {
		return response
	}
	report := tracker.last
	response.LastCycle = &cycleResponse{
		CycleID:     report.CycleID,
		Status:      report.Status,
		StartedAt:   report.StartedAt,
		FinishedAt:  report.FinishedAt,
		RowsRead:    report.RowsRead,
		RowsWritten: report.RowsWritten,
		OpenRows:    report.OpenRows,
		ClosedRows:  report.ClosedRows,
		Attempts:    report.Attempts,
	}
	if report.Err != nil {
		response.LastCycle.Error = report.Err.Error()
	}
	return response
}

// NewRouter builds the status routes. /status is only mounted with a tracker; metricsHandler may be nil.
func NewRouter(tracker *Tracker, metricsHandler http.Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if tracker != nil {
		router.GET("/status", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, tracker.snapshot())
		})
	}
	if metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(metricsHandler))
	}
	return router
}

// Run serves handler on addr until ctx is cancelled.
func Run(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("status server listening", zap.String("addr", addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("status server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
