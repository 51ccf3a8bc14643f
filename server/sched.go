package server

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/jmorganca/ngram/api"
	"github.com/jmorganca/ngram/envconfig"
	"github.com/jmorganca/ngram/lm"
)

// languageModel is a loaded model as the server sees it.
type languageModel interface {
	lm.Model
	Format() string
	Backend() lm.Backend
}

type ModelRequest struct {
	ctx             context.Context //nolint:containedctx
	model           *Model
	sessionDuration *api.Duration
	successCh       chan *runnerRef
	errCh           chan error
}

type Scheduler struct {
	pendingReqCh  chan *ModelRequest
	finishedReqCh chan *ModelRequest
	expiredCh     chan *runnerRef
	unloadedCh    chan any

	loaded   map[string]*runnerRef
	loadedMu sync.Mutex

	loadFn     func(req *ModelRequest)
	newModelFn func(path string, cfg lm.Config) (languageModel, error)
}

var ErrMaxQueue = errors.New("server busy, please try again.  maximum pending requests exceeded")

func loadModel(path string, cfg lm.Config) (languageModel, error) {
	m, err := lm.Load(path, cfg)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func InitScheduler(ctx context.Context) *Scheduler {
	maxQueue := envconfig.MaxQueue()
	sched := &Scheduler{
		pendingReqCh:  make(chan *ModelRequest, maxQueue),
		finishedReqCh: make(chan *ModelRequest, maxQueue),
		expiredCh:     make(chan *runnerRef, maxQueue),
		unloadedCh:    make(chan any, maxQueue),
		loaded:        make(map[string]*runnerRef),
		newModelFn:    loadModel,
	}
	sched.loadFn = sched.load
	return sched
}

// context must be canceled to decrement ref count and release the runner
func (s *Scheduler) GetRunner(c context.Context, model *Model, sessionDuration *api.Duration) (chan *runnerRef, chan error) {
	req := &ModelRequest{
		ctx:             c,
		model:           model,
		sessionDuration: sessionDuration,
		successCh:       make(chan *runnerRef, 1),
		errCh:           make(chan error, 1),
	}

	select {
	case s.pendingReqCh <- req:
	default:
		req.errCh <- ErrMaxQueue
	}
	return req.successCh, req.errCh
}

// Returns immediately, spawns go routines for the scheduler which will shutdown when ctx is done
func (s *Scheduler) Run(ctx context.Context) {
	slog.Debug("starting model scheduler")
	go func() {
		s.processPending(ctx)
	}()

	go func() {
		s.processCompleted(ctx)
	}()
}

func (s *Scheduler) processPending(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			slog.Debug("shutting down scheduler pending loop")
			return
		case pending := <-s.pendingReqCh:
			if pending.ctx.Err() != nil {
				slog.Debug("pending request cancelled or timed out, skipping scheduling")
				continue
			}

			for {
				var runnerToExpire *runnerRef
				s.loadedMu.Lock()
				runner := s.loaded[pending.model.Path]
				loadedCount := len(s.loaded)
				s.loadedMu.Unlock()
				if runner != nil {
					if runner.needsReload(pending) {
						runnerToExpire = runner
					} else {
						pending.useLoadedRunner(runner, s.finishedReqCh)
						break
					}
				} else if maxLoaded := envconfig.MaxLoadedModels(); maxLoaded > 0 && loadedCount >= int(maxLoaded) {
					slog.Debug("max loaded models reached, unloading one to make room", "count", loadedCount)
					runnerToExpire = s.findRunnerToUnload()
				} else {
					s.loadFn(pending)
					break
				}

				if runnerToExpire == nil {
					slog.Error("runner to expire was nil")
					continue
				}

				// Trigger an expiration to unload once it's done
				runnerToExpire.refMu.Lock()
				slog.Debug("resetting model to expire immediately to make room", "model", runnerToExpire.modelPath, "refCount", runnerToExpire.refCount)
				if runnerToExpire.expireTimer != nil {
					runnerToExpire.expireTimer.Stop()
					runnerToExpire.expireTimer = nil
				}
				runnerToExpire.sessionDuration = 0
				if runnerToExpire.refCount <= 0 {
					s.expiredCh <- runnerToExpire
				}
				runnerToExpire.refMu.Unlock()

				slog.Debug("waiting for pending requests to complete and unload to occur", "model", runnerToExpire.modelPath)
				select {
				case <-ctx.Done():
					slog.Debug("shutting down scheduler pending loop")
					return
				case <-s.unloadedCh:
					slog.Debug("unload completed", "model", runnerToExpire.modelPath)
					continue
				}
			}
		case <-s.unloadedCh:
			// An unload request when there are no pending request can be ignored
			slog.Debug("ignoring unload event with no pending requests")
		}
	}
}

func (s *Scheduler) processCompleted(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			slog.Debug("shutting down scheduler completed loop")
			return
		case finished := <-s.finishedReqCh:
			s.loadedMu.Lock()
			runner := s.loaded[finished.model.Path]
			s.loadedMu.Unlock()
			if runner == nil {
				slog.Error("finished request signal received after model unloaded", "model", finished.model.Path)
				continue
			}

			runner.refMu.Lock()
			runner.refCount--
			if runner.refCount <= 0 {
				if runner.sessionDuration <= 0 {
					slog.Debug("runner with zero duration has gone idle, expiring to unload", "model", runner.modelPath)
					if runner.expireTimer != nil {
						runner.expireTimer.Stop()
						runner.expireTimer = nil
					}
					s.expiredCh <- runner
				} else if runner.expireTimer == nil {
					slog.Debug("runner with non-zero duration has gone idle, adding timer", "model", runner.modelPath, "duration", runner.sessionDuration)
					runner.expireTimer = time.AfterFunc(runner.sessionDuration, func() {
						slog.Debug("timer expired, expiring to unload", "model", runner.modelPath)
						runner.refMu.Lock()
						defer runner.refMu.Unlock()
						if runner.expireTimer != nil {
							runner.expireTimer.Stop()
							runner.expireTimer = nil
						}
						s.expiredCh <- runner
					})
					runner.expiresAt = time.Now().Add(runner.sessionDuration)
				} else {
					slog.Debug("runner with non-zero duration has gone idle, resetting timer", "model", runner.modelPath, "duration", runner.sessionDuration)
					runner.expireTimer.Reset(runner.sessionDuration)
					runner.expiresAt = time.Now().Add(runner.sessionDuration)
				}
			}
			slog.Debug("after processing request finished event", "model", runner.modelPath, "refCount", runner.refCount)
			runner.refMu.Unlock()
		case runner := <-s.expiredCh:
			slog.Debug("runner expired event received", "model", runner.modelPath)
			runner.refMu.Lock()
			if runner.refCount > 0 {
				slog.Debug("expired event with positive ref count, retrying", "model", runner.modelPath, "refCount", runner.refCount)
				go func(runner *runnerRef) {
					// unload as soon as the current requests complete
					time.Sleep(10 * time.Millisecond)
					s.expiredCh <- runner
				}(runner)
				runner.refMu.Unlock()
				continue
			}

			s.loadedMu.Lock()
			runner.unload()
			if s.loaded[runner.modelPath] == runner {
				delete(s.loaded, runner.modelPath)
			}
			s.loadedMu.Unlock()
			slog.Debug("runner released", "model", runner.modelPath)
			runner.refMu.Unlock()

			s.unloadedCh <- struct{}{}
		}
	}
}

// Complete the pending request and send the runner back to the requester
// Wires up a finished event after the request context is completed
// Updates session duration, and resets expiration timer
func (pending *ModelRequest) useLoadedRunner(runner *runnerRef, finished chan *ModelRequest) {
	runner.refMu.Lock()
	defer runner.refMu.Unlock()
	runner.refCount++
	if runner.expireTimer != nil {
		runner.expireTimer.Stop()
		runner.expireTimer = nil
	}
	if pending.sessionDuration != nil {
		runner.sessionDuration = pending.sessionDuration.Duration
	}
	pending.successCh <- runner
	go func() {
		<-pending.ctx.Done()
		slog.Debug("context for request finished")
		finished <- pending
	}()
}

func (s *Scheduler) load(req *ModelRequest) {
	numParallel := int64(envconfig.NumParallel())
	if numParallel < 1 {
		numParallel = 1
	}

	sessionDuration := envconfig.KeepAlive()
	if req.sessionDuration != nil {
		sessionDuration = req.sessionDuration.Duration
	}

	runner := &runnerRef{
		name:            req.model.Name,
		modelPath:       req.model.Path,
		size:            req.model.Size,
		modifiedAt:      req.model.ModifiedAt,
		sessionDuration: sessionDuration,
		sem:             semaphore.NewWeighted(numParallel),
		numParallel:     int(numParallel),
		loading:         true,
		refCount:        1,
	}
	runner.refMu.Lock()

	s.loadedMu.Lock()
	s.loaded[req.model.Path] = runner
	slog.Info("loaded models", "count", len(s.loaded))
	s.loadedMu.Unlock()

	go func() {
		defer runner.refMu.Unlock()
		start := time.Now()
		m, err := s.newModelFn(req.model.Path, envconfig.LoadConfig())
		if err != nil {
			slog.Error("error loading model", "model", req.model.Name, "error", err)
			runner.refCount--
			req.errCh <- err
			slog.Debug("triggering expiration for failed load", "model", runner.modelPath)
			s.expiredCh <- runner
			return
		}

		runner.model = m
		runner.loading = false
		slog.Info("model loaded", "model", req.model.Name, "order", runner.model.Order(), "duration", time.Since(start))
		go func() {
			<-req.ctx.Done()
			slog.Debug("context for request finished")
			s.finishedReqCh <- req
		}()
		req.successCh <- runner
	}()
}

type runnerRef struct {
	refMu    sync.Mutex
	refCount uint // prevent unloading if > 0

	model   languageModel
	loading bool // True only during initial load, then false forever

	// sem bounds the requests served by this model at once
	sem         *semaphore.Weighted
	numParallel int

	sessionDuration time.Duration
	expireTimer     *time.Timer
	expiresAt       time.Time

	name       string
	modelPath  string
	size       int64
	modifiedAt time.Time
}

// The refMu must already be held when calling unload
func (runner *runnerRef) unload() {
	if runner.expireTimer != nil {
		runner.expireTimer.Stop()
		runner.expireTimer = nil
	}
	if runner.model != nil {
		if err := runner.model.Close(); err != nil {
			slog.Warn("error closing model", "model", runner.modelPath, "error", err)
		}
	}
	runner.model = nil
}

// needsReload reports whether the file changed on disk or the previous load
// failed.
func (runner *runnerRef) needsReload(req *ModelRequest) bool {
	slog.Debug("evaluating already loaded", "model", req.model.Path)
	runner.refMu.Lock()
	defer runner.refMu.Unlock()

	if runner.model == nil {
		return true
	}

	fi, err := os.Stat(runner.modelPath)
	if err != nil {
		return true
	}

	return fi.Size() != runner.size || !fi.ModTime().Equal(runner.modifiedAt)
}

type ByDuration []*runnerRef

func (a ByDuration) Len() int      { return len(a) }
func (a ByDuration) Swap(i, j int) { a[i], a[j] = a[j], a[i] }
func (a ByDuration) Less(i, j int) bool {
	// uint64 to turn negative time (never unload) to largest
	return uint64(a[i].sessionDuration) < uint64(a[j].sessionDuration)
}

// findRunnerToUnload finds a runner to unload to make room for a new model
func (s *Scheduler) findRunnerToUnload() *runnerRef {
	s.loadedMu.Lock()
	runnerList := make([]*runnerRef, 0, len(s.loaded))
	for _, r := range s.loaded {
		runnerList = append(runnerList, r)
	}
	s.loadedMu.Unlock()
	if len(runnerList) == 0 {
		slog.Debug("no loaded runner to unload")
		return nil
	}

	sort.Sort(ByDuration(runnerList))

	// First try to find a runner that's already idle
	for _, runner := range runnerList {
		runner.refMu.Lock()
		rc := runner.refCount
		runner.refMu.Unlock()
		if rc == 0 {
			slog.Debug("found an idle runner to unload")
			return runner
		}
	}
	// None appear idle, just wait for the one with the shortest duration
	slog.Debug("no idle runners, picking the shortest duration", "count", len(runnerList))
	return runnerList[0]
}

// loadedModels returns a snapshot of the runners that finished loading.
func (s *Scheduler) loadedModels() []api.ProcessModelResponse {
	s.loadedMu.Lock()
	defer s.loadedMu.Unlock()

	models := []api.ProcessModelResponse{}
	for _, r := range s.loaded {
		if !r.refMu.TryLock() {
			// still loading
			continue
		}

		if r.model != nil {
			m := api.ProcessModelResponse{
				Name:      r.name,
				Format:    r.model.Format(),
				Backend:   r.model.Backend().String(),
				Order:     r.model.Order(),
				Size:      r.size,
				Refs:      int(r.refCount),
				ExpiresAt: r.expiresAt,
			}
			if r.refCount > 0 {
				m.ExpiresAt = time.Time{}
			}
			models = append(models, m)
		}
		r.refMu.Unlock()
	}

	return models
}

func (s *Scheduler) unloadAllRunners() {
	s.loadedMu.Lock()
	runners := make([]*runnerRef, 0, len(s.loaded))
	for path, runner := range s.loaded {
		runners = append(runners, runner)
		delete(s.loaded, path)
	}
	s.loadedMu.Unlock()

	for _, runner := range runners {
		runner.refMu.Lock()
		slog.Debug("shutting down runner", "model", runner.modelPath)
		runner.unload()
		runner.refMu.Unlock()
	}
}
