package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/cairn/artifact"
	"github.com/roach88/cairn/cache"
	"github.com/roach88/cairn/fingerprint"
	"github.com/roach88/cairn/store"
)

// Runner holds what sessions need to materialize artifacts.
type Runner struct {
	// Cache stores artifact values. Nil disables caching.
	Cache *cache.Store

	// Recorder persists lineage. Nil records nothing.
	Recorder Recorder

	Logger *zap.Logger

	// Clock times stage execution. Nil uses time.Now.
	Clock func() time.Time

	// RecomputeCorrupt recomputes an artifact whose cache entry is corrupt
	// instead of failing the run.
	RecomputeCorrupt bool
}

// Session is one run in progress. It is not safe for concurrent use.
type Session struct {
	runner   *Runner
	recorder Recorder
	logger   *zap.Logger
	now      func() time.Time
	run      store.Run
	finished bool

	stageIDs    map[*artifact.Stage]string
	artifactIDs map[*artifact.Artifact]string
	executed    map[*artifact.Stage]bool
	linked      map[*artifact.Stage]bool
}

// Start creates the run record and returns a session for it.
func (r *Runner) Start(ctx context.Context, nr store.NewRun) (*Session, error) {
	s := &Session{
		runner:      r,
		recorder:    r.Recorder,
		logger:      r.Logger,
		now:         r.Clock,
		stageIDs:    make(map[*artifact.Stage]string),
		artifactIDs: make(map[*artifact.Artifact]string),
		executed:    make(map[*artifact.Stage]bool),
		linked:      make(map[*artifact.Stage]bool),
	}
	if s.recorder == nil {
		s.recorder = NopRecorder{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}

	run, err := s.recorder.CreateRun(ctx, nr)
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}
	s.run = run
	s.logger = s.logger.With(
		zap.String("component", "pipeline"),
		zap.String("run", run.Reference))
	s.logger.Info("run started", zap.String("experiment", nr.ExperimentName))
	return s, nil
}

// Run starts a run, materializes targets in order, and finishes the run
// with the first error, if any. The returned run reflects the final status.
func (r *Runner) Run(ctx context.Context, nr store.NewRun, targets ...*artifact.Artifact) (store.Run, error) {
	s, err := r.Start(ctx, nr)
	if err != nil {
		return store.Run{}, err
	}

	var runErr error
	for _, t := range targets {
		if _, runErr = s.Get(ctx, t); runErr != nil {
			break
		}
	}

	if err := s.Finish(ctx, runErr); err != nil {
		return s.Run(), errors.Join(runErr, err)
	}
	return s.Run(), runErr
}

// Run returns the session's run record.
func (s *Session) Run() store.Run { return s.run }

// Get returns the value of a, in order of preference: the in-memory value,
// the cached value, or the value computed by running its stage. Upstream
// artifacts are resolved the same way, only when the stage has to run.
//
// A cache miss falls back to computing. A corrupt entry fails unless the
// runner's RecomputeCorrupt is set. Overwrite on a or anything upstream of
// it skips the cache and replaces the entry.
func (s *Session) Get(ctx context.Context, a *artifact.Artifact) (any, error) {
	if a == nil {
		return nil, fmt.Errorf("get: nil artifact")
	}
	if a.Materialized() {
		return a.Value(), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if a.IsList() {
		return s.getList(ctx, a)
	}

	st := a.Stage()
	if st == nil {
		return nil, fmt.Errorf("get %s: no producing stage", a.QualifiedName())
	}
	h, err := a.Hash()
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", a.QualifiedName(), err)
	}

	if !a.NeedsOverwrite() {
		v, ok, err := s.load(ctx, a, h)
		if err != nil {
			return nil, err
		}
		if ok {
			a.SetValue(v)
			stageID, err := s.recordProvenance(ctx, st)
			if err != nil {
				return nil, err
			}
			if err := s.recordArtifact(ctx, a, h, stageID); err != nil {
				return nil, err
			}
			return v, nil
		}
	}

	if err := s.execute(ctx, st); err != nil {
		return nil, err
	}
	return a.Value(), nil
}

// Finish marks the run success when runErr is nil, incomplete when it is a
// context cancellation, and error otherwise. It records even when ctx is
// already canceled.
func (s *Session) Finish(ctx context.Context, runErr error) error {
	if s.finished {
		return fmt.Errorf("finish run %s: already finished", s.run.Reference)
	}

	out := store.Outcome{Status: store.StatusSuccess}
	switch {
	case runErr == nil:
	case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
		out.Status = store.StatusIncomplete
	default:
		out.Status = store.StatusError
		out.Exception = runErr.Error()
		out.ExceptionStack = errorStack(runErr)
	}

	if err := s.recorder.FinishRun(context.WithoutCancel(ctx), s.run.ID, out); err != nil {
		return fmt.Errorf("finish run %s: %w", s.run.Reference, err)
	}
	s.finished = true
	s.run.Status = out.Status

	if runErr != nil {
		s.logger.Error("run failed", zap.String("status", string(out.Status)), zap.Error(runErr))
	} else {
		s.logger.Info("run finished")
	}
	return nil
}

func (s *Session) getList(ctx context.Context, a *artifact.Artifact) (any, error) {
	items := a.Items()
	values := make([]any, len(items))
	for i, item := range items {
		v, err := s.Get(ctx, item)
		if err != nil {
			return nil, fmt.Errorf("list %s item %d: %w", a.QualifiedName(), i, err)
		}
		values[i] = v
	}

	h, err := a.Hash()
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", a.QualifiedName(), err)
	}
	a.SetValue(values)
	if err := s.recordList(ctx, a, h); err != nil {
		return nil, err
	}
	return values, nil
}

// load reports whether a's value was found in the cache.
func (s *Session) load(ctx context.Context, a *artifact.Artifact, h fingerprint.Hash) (any, bool, error) {
	if s.runner.Cache == nil || a.Cacher == nil {
		return nil, false, nil
	}

	e := s.entry(a, h)
	ok, err := e.Check(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", a.QualifiedName(), err)
	}
	if !ok {
		return nil, false, nil
	}

	into := newInto(a)
	err = e.Load(ctx, into)
	switch {
	case err == nil:
		s.logger.Debug("cache hit",
			zap.String("artifact", a.QualifiedName()),
			zap.String("hash", h.Short()))
		return reflect.ValueOf(into).Elem().Interface(), true, nil
	case cache.IsCacheMiss(err):
		return nil, false, nil
	case cache.IsCacheCorruption(err) && s.runner.RecomputeCorrupt:
		s.logger.Warn("recomputing corrupt cache entry",
			zap.String("artifact", a.QualifiedName()),
			zap.Error(err))
		if err := e.Clear(ctx); err != nil {
			return nil, false, fmt.Errorf("get %s: %w", a.QualifiedName(), err)
		}
		return nil, false, nil
	}
	return nil, false, fmt.Errorf("get %s: %w", a.QualifiedName(), err)
}

// execute runs st once per session and materializes, saves and records all
// of its outputs.
func (s *Session) execute(ctx context.Context, st *artifact.Stage) error {
	if s.executed[st] {
		return nil
	}

	args := make(artifact.Args, len(st.Spec.Params))
	for _, r := range st.Resolved() {
		if in, ok := r.Value.(*artifact.Artifact); ok && in != nil {
			v, err := s.Get(ctx, in)
			if err != nil {
				return err
			}
			args[r.Param.Name] = v
			continue
		}
		args[r.Param.Name] = r.Value
	}

	stageID, err := s.recordStage(ctx, st)
	if err != nil {
		return err
	}
	if err := s.recordInputs(ctx, st, stageID); err != nil {
		return err
	}

	if err := s.clearOverwritten(ctx, st); err != nil {
		return err
	}
	if err := s.recorder.MarkStageStarted(ctx, stageID); err != nil {
		return fmt.Errorf("stage %s: %w", st.Name(), err)
	}
	start := s.now()
	outs, err := call(s.withOutputPaths(ctx, st), st, args)
	if err != nil {
		return err
	}
	if err := s.recorder.MarkStageCompleted(ctx, stageID); err != nil {
		return fmt.Errorf("stage %s: %w", st.Name(), err)
	}

	outputs := st.Outputs()
	if len(outs) != len(outputs) {
		return &StageError{
			Stage: st.Name(),
			Err:   fmt.Errorf("returned %d values for %d outputs", len(outs), len(outputs)),
		}
	}
	s.executed[st] = true

	for i, out := range outputs {
		out.SetValue(outs[i])
		h, err := out.Hash()
		if err != nil {
			return fmt.Errorf("stage %s output %s: %w", st.Name(), out.Name, err)
		}
		if err := s.save(ctx, out, h, outs[i]); err != nil {
			return err
		}
		if err := s.recordArtifact(ctx, out, h, stageID); err != nil {
			return err
		}
	}

	s.logger.Info("stage executed",
		zap.String("stage", st.Name()),
		zap.Int("outputs", len(outputs)),
		zap.Duration("took", s.now().Sub(start)))
	return nil
}

// call runs the stage function, turning a panic into a *StageError that
// carries the stack.
func call(ctx context.Context, st *artifact.Stage, args artifact.Args) (outs []any, err error) {
	if st.Func == nil {
		return nil, &StageError{Stage: st.Name(), Err: errors.New("no function")}
	}
	defer func() {
		if p := recover(); p != nil {
			err = &StageError{Stage: st.Name(), Err: fmt.Errorf("panic: %v", p), Stack: debug.Stack()}
		}
	}()

	outs, err = st.Func(ctx, args)
	if err != nil {
		return nil, &StageError{Stage: st.Name(), Err: err}
	}
	return outs, nil
}

func (s *Session) save(ctx context.Context, a *artifact.Artifact, h fingerprint.Hash, v any) error {
	if s.runner.Cache == nil || a.Cacher == nil {
		return nil
	}
	if err := s.entry(a, h).Save(ctx, v); err != nil {
		return fmt.Errorf("cache %s: %w", a.QualifiedName(), err)
	}
	return nil
}

// clearOverwritten removes the entries of st's outputs marked for
// overwrite before st runs, so the stage may write to their paths.
func (s *Session) clearOverwritten(ctx context.Context, st *artifact.Stage) error {
	if s.runner.Cache == nil {
		return nil
	}
	for _, a := range st.Outputs() {
		if a.Cacher == nil || !a.NeedsOverwrite() {
			continue
		}
		h, err := a.Hash()
		if err != nil {
			return fmt.Errorf("overwrite %s: %w", a.QualifiedName(), err)
		}
		if err := s.entry(a, h).Clear(ctx); err != nil {
			return fmt.Errorf("overwrite %s: %w", a.QualifiedName(), err)
		}
	}
	return nil
}

func (s *Session) entry(a *artifact.Artifact, h fingerprint.Hash) *cache.Entry {
	var opts []cache.EntryOption
	if a.PathOverride != "" {
		opts = append(opts, cache.WithPathOverride(a.PathOverride))
	}
	if len(a.ExtraMetadata) > 0 {
		opts = append(opts, cache.WithExtraMetadata(a.ExtraMetadata))
	}
	return s.runner.Cache.Entry(cache.Key{Hash: h, Name: a.Name}, a.Cacher, opts...)
}

func (s *Session) recordStage(ctx context.Context, st *artifact.Stage) (string, error) {
	if id, ok := s.stageIDs[st]; ok {
		return id, nil
	}
	res, err := st.Fingerprint()
	if err != nil {
		return "", fmt.Errorf("stage %s: %w", st.Name(), err)
	}

	rec, reused, err := s.recorder.RecordStage(ctx, s.run.ID, store.NewStage{
		FuncName:    st.Spec.Name,
		FuncModule:  st.Spec.Module,
		Params:      stageParams(st),
		Hash:        string(res.Hash),
		HashDetails: res.Details,
	})
	if err != nil {
		return "", fmt.Errorf("stage %s: %w", st.Name(), err)
	}
	s.logger.Debug("stage recorded",
		zap.String("stage", st.Name()),
		zap.String("hash", res.Hash.Short()),
		zap.Bool("reused", reused))
	s.stageIDs[st] = rec.ID
	return rec.ID, nil
}

// recordProvenance records st and everything upstream of it without
// loading any values, so a stage served from the cache keeps its lineage.
func (s *Session) recordProvenance(ctx context.Context, st *artifact.Stage) (string, error) {
	stageID, err := s.recordStage(ctx, st)
	if err != nil {
		return "", err
	}
	for _, in := range st.Inputs() {
		if err := s.recordUpstream(ctx, in.Artifact); err != nil {
			return "", err
		}
	}
	if err := s.recordInputs(ctx, st, stageID); err != nil {
		return "", err
	}
	return stageID, nil
}

func (s *Session) recordUpstream(ctx context.Context, a *artifact.Artifact) error {
	if _, ok := s.artifactIDs[a]; ok {
		return nil
	}
	if !a.IsList() && a.Stage() == nil {
		return nil
	}
	h, err := a.Hash()
	if err != nil {
		return fmt.Errorf("record %s: %w", a.QualifiedName(), err)
	}
	if a.IsList() {
		for _, item := range a.Items() {
			if err := s.recordUpstream(ctx, item); err != nil {
				return err
			}
		}
		return s.recordList(ctx, a, h)
	}
	stageID, err := s.recordProvenance(ctx, a.Stage())
	if err != nil {
		return err
	}
	return s.recordArtifact(ctx, a, h, stageID)
}

// recordInputs links st to the recorded artifacts it consumes, once per
// session.
func (s *Session) recordInputs(ctx context.Context, st *artifact.Stage, stageID string) error {
	if s.linked[st] {
		return nil
	}
	for _, in := range st.Inputs() {
		if err := s.recordInput(ctx, stageID, in); err != nil {
			return err
		}
	}
	s.linked[st] = true
	return nil
}

// recordList records a list artifact and links it to its recorded items.
func (s *Session) recordList(ctx context.Context, a *artifact.Artifact, h fingerprint.Hash) error {
	if _, ok := s.artifactIDs[a]; ok {
		return nil
	}
	if err := s.recordArtifact(ctx, a, h, ""); err != nil {
		return err
	}
	listID := s.artifactIDs[a]
	if listID == "" {
		return nil
	}
	for i, item := range a.Items() {
		itemID := s.artifactIDs[item]
		if itemID == "" {
			continue
		}
		if err := s.recorder.RecordListItem(ctx, store.ListItem{ListID: listID, ItemID: itemID, Position: i}); err != nil {
			return fmt.Errorf("record %s: %w", a.QualifiedName(), err)
		}
	}
	return nil
}

func (s *Session) recordInput(ctx context.Context, stageID string, in artifact.Input) error {
	artifactID := s.artifactIDs[in.Artifact]
	if stageID == "" || artifactID == "" {
		return nil
	}
	var dep *string
	if up := in.Artifact.Stage(); up != nil {
		if id := s.stageIDs[up]; id != "" {
			dep = &id
		}
	}
	return s.recorder.RecordStageInput(ctx, store.StageInput{
		StageID:           stageID,
		ArtifactID:        artifactID,
		ArgIndex:          in.Index,
		ArgName:           in.Name,
		StageDependencyID: dep,
	})
}

func (s *Session) recordArtifact(ctx context.Context, a *artifact.Artifact, h fingerprint.Hash, stageID string) error {
	if _, ok := s.artifactIDs[a]; ok {
		return nil
	}
	na := store.NewArtifact{
		StageID:       stageID,
		Name:          a.Name,
		Hash:          string(h),
		Reportable:    a.Reportable,
		ExtraMetadata: a.ExtraMetadata,
		IsList:        a.IsList(),
	}
	// Upstream artifacts recorded for a cache hit were never loaded.
	if a.Materialized() {
		v := a.Value()
		na.ArtifactType = fmt.Sprintf("%T", v)
		na.Repr = fmt.Sprintf("%v", v)
	}
	if a.Cacher != nil {
		na.CacherType = a.Cacher.Type()
		na.CacherModule = cache.CacherModule(a.Cacher)
		na.CacherParams = a.Cacher.Params()
	}

	rec, _, err := s.recorder.RecordArtifact(ctx, s.run.ID, na)
	if err != nil {
		return fmt.Errorf("record %s: %w", a.QualifiedName(), err)
	}
	s.artifactIDs[a] = rec.ID
	return nil
}

// stageParams is the argument snapshot stored with a stage: upstream
// artifacts by qualified name, JSON-encodable values as is, anything else
// formatted with %v.
func stageParams(st *artifact.Stage) map[string]any {
	params := make(map[string]any, len(st.Spec.Params))
	for _, r := range st.Resolved() {
		switch v := r.Value.(type) {
		case *artifact.Artifact:
			if v == nil {
				params[r.Param.Name] = nil
				continue
			}
			params[r.Param.Name] = "artifact:" + v.QualifiedName()
		default:
			if _, err := json.Marshal(v); err != nil {
				params[r.Param.Name] = fmt.Sprintf("%v", v)
				continue
			}
			params[r.Param.Name] = v
		}
	}
	return params
}

func newInto(a *artifact.Artifact) any {
	if a.Into != nil {
		return a.Into()
	}
	return new(any)
}
