package analysis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"ticketlens/internal/cluster"
	"ticketlens/internal/config"
	"ticketlens/internal/domain"
	"ticketlens/internal/integrations/llm"
	"ticketlens/internal/sample"
)

// ErrBusy is returned when the same kind of analysis is already running.
var ErrBusy = &domain.ValidationError{Field: "operation", Msg: "an analysis of this type is already running"}

// Snapshotter is the read side of the ticket store. All must return one
// consistent snapshot.
type Snapshotter interface {
	All(ctx context.Context) ([]domain.Ticket, error)
}

type InsightRequester interface {
	RequestInsight(ctx context.Context, sample []domain.Ticket) (llm.InsightResult, error)
}

// Service runs analyses over store snapshots. It never writes to the store.
// Local and remote analyses may overlap each other and ingestion, but only
// one of each kind runs at a time.
type Service struct {
	Store     Snapshotter
	Requester InsightRequester // nil when remote insight is disabled
	Cfg       config.Config

	localMu   sync.Mutex
	insightMu sync.Mutex
	now       func() time.Time
}

func NewService(store Snapshotter, requester InsightRequester, cfg config.Config) *Service {
	return &Service{Store: store, Requester: requester, Cfg: cfg}
}

type LocalResult struct {
	RunID   string
	At      time.Time
	Total   int
	Counts  map[domain.Category]int
	Sampled int
	Cluster cluster.Result
}

type InsightRun struct {
	RunID  string
	At     time.Time
	Result llm.InsightResult
}

// Summary is the outcome of RunAll. A failed insight request is reported in
// InsightErr and does not discard the local result.
type Summary struct {
	RunID      string
	Local      LocalResult
	Insight    *InsightRun
	InsightErr error
}

// RunLocalAnalysis counts tickets per category and clusters a bounded sample
// of the current snapshot. k == 0 selects the configured default.
func (s *Service) RunLocalAnalysis(ctx context.Context, k int) (LocalResult, error) {
	if !s.localMu.TryLock() {
		return LocalResult{}, ErrBusy
	}
	defer s.localMu.Unlock()
	return s.runLocal(ctx, newRunID(), k)
}

func (s *Service) runLocal(ctx context.Context, runID string, k int) (LocalResult, error) {
	if k == 0 {
		k = s.Cfg.ClusterK
	}
	if k == 0 {
		k = cluster.DefaultK
	}
	start := time.Now()

	snapshot, err := s.Store.All(ctx)
	if err != nil {
		return LocalResult{}, fmt.Errorf("snapshot tickets: %w", err)
	}
	counts := countByCategory(snapshot)

	limit := s.Cfg.ClusterMaxRecords
	if limit < 1 {
		limit = 5000
	}
	picked, err := sample.Sample(snapshot, limit)
	if err != nil {
		return LocalResult{}, err
	}
	res, err := cluster.Run(sample.Texts(picked), cluster.Options{K: k, TopTerms: s.Cfg.ClusterTopTerms})
	if err != nil {
		return LocalResult{}, err
	}

	out := LocalResult{
		RunID:   runID,
		At:      s.clock(),
		Total:   len(snapshot),
		Counts:  counts,
		Sampled: len(picked),
		Cluster: res,
	}
	log.Printf("analysis local run=%s tickets=%d sampled=%d k=%d took=%s",
		runID, out.Total, out.Sampled, res.K, time.Since(start).Round(time.Millisecond))
	return out, nil
}

// RequestInsight sends a sample of the current snapshot to the remote
// correlation service.
func (s *Service) RequestInsight(ctx context.Context) (InsightRun, error) {
	if s.Requester == nil {
		return InsightRun{}, llm.ErrInsightDisabled
	}
	if !s.insightMu.TryLock() {
		return InsightRun{}, ErrBusy
	}
	defer s.insightMu.Unlock()
	return s.runInsight(ctx, newRunID())
}

func (s *Service) runInsight(ctx context.Context, runID string) (InsightRun, error) {
	snapshot, err := s.Store.All(ctx)
	if err != nil {
		return InsightRun{}, fmt.Errorf("snapshot tickets: %w", err)
	}
	size := s.Cfg.LLMSampleSize
	if size < 1 {
		size = 10
	}
	picked, err := sample.Sample(snapshot, size)
	if err != nil {
		return InsightRun{}, err
	}
	if len(picked) == 0 {
		return InsightRun{}, &domain.ValidationError{Field: "sample", Msg: "no tickets with a title or description to analyze"}
	}
	res, err := s.Requester.RequestInsight(ctx, picked)
	if err != nil {
		return InsightRun{}, err
	}
	log.Printf("analysis insight run=%s sampled=%d findings=%d", runID, len(picked), len(res.Findings))
	return InsightRun{RunID: runID, At: s.clock(), Result: res}, nil
}

// RunAll runs the local analysis and, when enabled, the insight request
// concurrently under one run id.
func (s *Service) RunAll(ctx context.Context, k int) (Summary, error) {
	runID := newRunID()
	sum := Summary{RunID: runID}

	if !s.localMu.TryLock() {
		return sum, ErrBusy
	}
	defer s.localMu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		local, err := s.runLocal(gctx, runID, k)
		if err != nil {
			return err
		}
		sum.Local = local
		return nil
	})
	if s.Requester != nil {
		if s.insightMu.TryLock() {
			g.Go(func() error {
				defer s.insightMu.Unlock()
				run, err := s.runInsight(gctx, runID)
				if err != nil {
					log.Printf("analysis insight run=%s error: %v", runID, err)
					sum.InsightErr = err
					return nil
				}
				sum.Insight = &run
				return nil
			})
		} else {
			sum.InsightErr = ErrBusy
		}
	} else {
		sum.InsightErr = llm.ErrInsightDisabled
	}

	if err := g.Wait(); err != nil {
		return sum, err
	}
	return sum, nil
}

// countByCategory counts snapshot tickets per category, zero-filled, so the
// counts always agree with the clustered sample.
func countByCategory(snapshot []domain.Ticket) map[domain.Category]int {
	out := make(map[domain.Category]int)
	for _, c := range domain.Categories() {
		out[c] = 0
	}
	for _, t := range snapshot {
		out[t.Category]++
	}
	return out
}

// InsightDisabled reports whether err only says remote insight is off.
func InsightDisabled(err error) bool {
	return errors.Is(err, llm.ErrInsightDisabled)
}

func (s *Service) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

func newRunID() string {
	return uuid.NewString()
}
