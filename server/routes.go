package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"

	"github.com/jmorganca/ngram/api"
	"github.com/jmorganca/ngram/decoder"
	"github.com/jmorganca/ngram/dict"
	"github.com/jmorganca/ngram/envconfig"
	"github.com/jmorganca/ngram/lm"
	"github.com/jmorganca/ngram/version"
)

type Server struct {
	addr  net.Addr
	sched *Scheduler
}

const requestIDHeader = "X-Request-Id"

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}

		c.Set("request_id", id)
		c.Header(requestIDHeader, id)

		start := time.Now()
		c.Next()
		slog.Debug("request", "id", id, "method", c.Request.Method, "path", c.Request.URL.Path, "status", c.Writer.Status(), "duration", time.Since(start))
	}
}

func (s *Server) GenerateRoutes() http.Handler {
	config := cors.DefaultConfig()
	config.AllowWildcard = true
	config.AllowBrowserExtensions = true
	config.AllowHeaders = []string{"Authorization", "Content-Type", "User-Agent", "Accept", "X-Requested-With", requestIDHeader}
	config.ExposeHeaders = []string{requestIDHeader}
	config.AllowOrigins = envconfig.Origins()

	r := gin.Default()
	r.Use(cors.New(config), requestIDMiddleware())

	for _, method := range []string{http.MethodGet, http.MethodHead} {
		r.Handle(method, "/", func(c *gin.Context) {
			c.String(http.StatusOK, "ngram is running")
		})

		r.Handle(method, "/api/version", func(c *gin.Context) {
			c.JSON(http.StatusOK, api.VersionResponse{Version: version.Version})
		})
	}

	r.GET("/api/tags", s.ListHandler)
	r.GET("/api/ps", s.PsHandler)
	r.POST("/api/show", s.ShowHandler)
	r.POST("/api/score", s.ScoreHandler)
	r.POST("/api/perplexity", s.PerplexityHandler)
	r.POST("/api/decode", s.DecodeHandler)

	return r
}

func Serve(ln net.Listener) error {
	slog.SetDefault(envconfig.NewLogger(os.Stderr))
	slog.Info("server config", "env", envconfig.Values())
	if f := envconfig.ConfigFile(); f != "" {
		slog.Info("using config file", "path", f)
	}

	ctx, done := context.WithCancel(context.Background())
	schedCtx, schedDone := context.WithCancel(ctx)
	sched := InitScheduler(schedCtx)
	s := &Server{addr: ln.Addr(), sched: sched}

	models, err := ListModels()
	if err != nil {
		slog.Warn("unable to list models", "dir", envconfig.Models(), "error", err)
	}
	slog.Info(fmt.Sprintf("Listening on %s (version %s)", ln.Addr(), version.Version), "models", len(models))

	srvr := &http.Server{
		Handler: s.GenerateRoutes(),
	}

	// listen for a ctrl+c and stop any loaded models before exiting
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		srvr.Close()
		schedDone()
		sched.unloadAllRunners()
		done()
	}()

	s.sched.Run(schedCtx)

	err = srvr.Serve(ln)
	// If server is closed from the signal handler, wait for the ctx to be done
	// otherwise error out quickly
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-ctx.Done()
	return nil
}

func handleScheduleError(c *gin.Context, name string, err error) {
	switch {
	case errors.Is(err, context.Canceled):
		c.JSON(499, gin.H{"error": "request canceled"})
	case errors.Is(err, ErrMaxQueue):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, ErrModelNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("model '%s' not found", name)})
	case errors.Is(err, ErrInvalidModelName):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// scheduleRunner returns a loaded model holding one of its parallel slots.
// The returned release func must be called once the request is done with
// the model.
func (s *Server) scheduleRunner(ctx context.Context, name string, keepAlive *api.Duration) (*runnerRef, func(), error) {
	if name == "" {
		return nil, nil, fmt.Errorf("%w: model is required", ErrInvalidModelName)
	}

	m, err := GetModel(name)
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	rCh, errCh := s.sched.GetRunner(ctx, m, keepAlive)

	var runner *runnerRef
	select {
	case runner = <-rCh:
	case err = <-errCh:
		cancel()
		return nil, nil, err
	case <-ctx.Done():
		cancel()
		return nil, nil, ctx.Err()
	}

	if err := runner.sem.Acquire(ctx, 1); err != nil {
		cancel()
		return nil, nil, err
	}

	return runner, func() {
		runner.sem.Release(1)
		cancel()
	}, nil
}

func (s *Server) ListHandler(c *gin.Context) {
	ms, err := ListModels()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	models := []api.ListModelResponse{}
	for _, m := range ms {
		models = append(models, api.ListModelResponse{
			Name:       m.Name,
			Size:       m.Size,
			ModifiedAt: m.ModifiedAt,
		})
	}

	slices.SortStableFunc(models, func(i, j api.ListModelResponse) int {
		// most recently modified first
		return j.ModifiedAt.Compare(i.ModifiedAt)
	})

	c.JSON(http.StatusOK, api.ListResponse{Models: models})
}

func (s *Server) PsHandler(c *gin.Context) {
	models := s.sched.loadedModels()
	slices.SortStableFunc(models, func(i, j api.ProcessModelResponse) int {
		return strings.Compare(i.Name, j.Name)
	})

	c.JSON(http.StatusOK, api.ProcessResponse{Models: models})
}

func bindJSON(c *gin.Context, v any) bool {
	err := c.ShouldBindJSON(v)
	switch {
	case errors.Is(err, io.EOF):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing request body"})
		return false
	case err != nil:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}

	return true
}

func (s *Server) ShowHandler(c *gin.Context) {
	var req api.ShowRequest
	if !bindJSON(c, &req) {
		return
	}

	runner, release, err := s.scheduleRunner(c.Request.Context(), req.Model, nil)
	if err != nil {
		handleScheduleError(c, req.Model, err)
		return
	}
	defer release()

	m := runner.model
	c.JSON(http.StatusOK, api.ShowResponse{
		Model:      runner.name,
		Format:     m.Format(),
		Backend:    m.Backend().String(),
		Order:      m.Order(),
		Counts:     m.Counts(),
		VocabSize:  m.Vocabulary().Size(),
		Size:       runner.size,
		ModifiedAt: runner.modifiedAt,
	})
}

func boolOr(b *bool, d bool) bool {
	if b == nil {
		return d
	}
	return *b
}

// finite maps NaN and infinities, which JSON cannot encode, to zero.
func finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func (s *Server) ScoreHandler(c *gin.Context) {
	var req api.ScoreRequest
	if !bindJSON(c, &req) {
		return
	}

	words := req.Words
	if len(words) == 0 {
		words = strings.Fields(req.Text)
	}

	runner, release, err := s.scheduleRunner(c.Request.Context(), req.Model, req.KeepAlive)
	if err != nil {
		handleScheduleError(c, req.Model, err)
		return
	}
	defer release()

	score, err := lm.ScoreSentence(runner.model, words, boolOr(req.BOS, true), boolOr(req.EOS, true))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := api.ScoreResponse{
		Model:   runner.name,
		Words:   make([]api.WordScore, len(score.Words)),
		LogProb: score.Total,
		OOVs:    score.OOVs,
	}

	for i, w := range score.Words {
		resp.Words[i] = api.WordScore{
			Word:        w.Word,
			Index:       uint32(w.Index),
			LogProb:     w.Prob,
			NgramLength: w.NgramLength,
			OOV:         w.OOV,
		}
	}

	var stats lm.PerplexityStats
	stats.Add(score)
	resp.Perplexity = finite(stats.Perplexity())

	c.JSON(http.StatusOK, resp)
}

func (s *Server) PerplexityHandler(c *gin.Context) {
	var req api.PerplexityRequest
	if !bindJSON(c, &req) {
		return
	}

	runner, release, err := s.scheduleRunner(c.Request.Context(), req.Model, req.KeepAlive)
	if err != nil {
		handleScheduleError(c, req.Model, err)
		return
	}
	defer release()

	bos, eos := boolOr(req.BOS, true), boolOr(req.EOS, true)

	var stats lm.PerplexityStats
	for _, sentence := range req.Sentences {
		if err := c.Request.Context().Err(); err != nil {
			handleScheduleError(c, req.Model, err)
			return
		}

		score, err := lm.ScoreSentence(runner.model, strings.Fields(sentence), bos, eos)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		stats.Add(score)
	}

	c.JSON(http.StatusOK, api.PerplexityResponse{
		Model:                   runner.name,
		Sentences:               stats.Sentences,
		Words:                   stats.Words,
		OOVs:                    stats.OOVs,
		LogProb:                 stats.LogProb,
		Perplexity:              finite(stats.Perplexity()),
		PerplexityExcludingOOVs: finite(stats.PerplexityExcludingOOVs()),
	})
}

func decodeOptions(in map[string]any) (decoder.BeamSearchOptions, error) {
	opts := decoder.DefaultBeamSearchOptions()
	if len(in) == 0 {
		return opts, nil
	}

	var md mapstructure.Metadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Metadata:         &md,
		Result:           &opts,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return opts, err
	}

	if err := dec.Decode(in); err != nil {
		return opts, err
	}

	if len(md.Unused) > 0 {
		slices.Sort(md.Unused)
		return opts, fmt.Errorf("invalid options: %s", strings.Join(md.Unused, ", "))
	}

	if opts.BeamSize < 1 || opts.BeamSizeToken < 1 {
		return opts, errors.New("beam_size and beam_size_token must be positive")
	}

	return opts, nil
}

func (s *Server) DecodeHandler(c *gin.Context) {
	var req api.DecodeRequest
	if !bindJSON(c, &req) {
		return
	}

	labels, err := dict.FromEntries(req.Labels...)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	blank, err := labels.Index(req.Blank)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("blank label %q is not in labels", req.Blank)})
		return
	}

	steps, tokens := len(req.Emissions), labels.Len()
	data := make([]float32, 0, steps*tokens)
	for i, row := range req.Emissions {
		if len(row) != tokens {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("emissions row %d has %d values, expected %d", i, len(row), tokens)})
			return
		}
		data = append(data, row...)
	}

	var d decoder.Decoder
	var name string
	switch req.Decoder {
	case "greedy":
		if req.Model != "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "greedy decoding does not use a model"})
			return
		}
		d = decoder.GreedyDecoder{}
	case "", "beam":
		opts, err := decodeOptions(req.Options)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if req.Model == "" {
			d = decoder.NewBeamSearchDecoder[struct{}](opts, decoder.ZeroLM{})
			break
		}

		runner, release, err := s.scheduleRunner(c.Request.Context(), req.Model, req.KeepAlive)
		if err != nil {
			handleScheduleError(c, req.Model, err)
			return
		}
		defer release()

		name = runner.name
		d = decoder.NewBeamSearchDecoder[decoder.NGramState](opts, decoder.NewNGramLM(runner.model, labels))
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown decoder %q", req.Decoder)})
		return
	}

	outputs, err := d.Decode(data, steps, tokens, blank)
	if errors.Is(err, decoder.ErrShape) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	} else if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := api.DecodeResponse{Model: name, Hypotheses: make([]api.Hypothesis, len(outputs))}
	for i, o := range outputs {
		var sb strings.Builder
		for _, t := range o.Tokens {
			entry, err := labels.Entry(t)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			sb.WriteString(entry)
		}

		resp.Hypotheses[i] = api.Hypothesis{
			Text:      sb.String(),
			Tokens:    o.Tokens,
			Score:     o.Score,
			Timesteps: o.Timesteps,
			AMScores:  o.AMScores,
			LMScores:  o.LMScores,
		}
	}

	c.JSON(http.StatusOK, resp)
}
