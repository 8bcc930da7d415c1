package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"video_transcode_pipeline/internal/transcode/domain"
	"video_transcode_pipeline/pkg/logger"
	"video_transcode_pipeline/pkg/queue"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger.SetNewNop()
	os.Exit(m.Run())
}

// fakeEngine writes a one segment rendition per call
type fakeEngine struct {
	mu        sync.Mutex
	failOn    map[string]bool
	panicOn   string
	delay     time.Duration
	thumbErr  error
	calls     []string
	thumbs    int
	active    int
	peak      int
	totalRuns int
}

func (f *fakeEngine) Transcode(ctx context.Context, source, outputDir string, q domain.Quality) (*domain.RenditionOutput, error) {
	f.mu.Lock()
	delay := f.delay
	panicking := f.panicOn == q.Label
	f.calls = append(f.calls, q.Label)
	f.totalRuns++
	f.active++
	if f.active > f.peak {
		f.peak = f.active
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if panicking {
		panic("encoder exploded")
	}
	f.mu.Lock()
	fail := f.failOn[q.Label]
	f.mu.Unlock()
	if fail {
		return nil, &domain.EngineFailure{Quality: q.Label, Message: "exit status 1", Diagnostics: "Invalid data found when processing input"}
	}

	out := domain.NewRenditionOutput(q, outputDir)
	segment := filepath.Join(outputDir, q.Label+"_000.ts")
	if err := os.WriteFile(segment, []byte(source+q.Label), 0644); err != nil {
		return nil, err
	}
	playlist := fmt.Sprintf("#EXTM3U\n#EXT-X-TARGETDURATION:6\n#EXTINF:6.0,\n%s_000.ts\n#EXT-X-ENDLIST\n", q.Label)
	if err := os.WriteFile(out.Playlist, []byte(playlist), 0644); err != nil {
		return nil, err
	}
	out.Segments = []string{segment}
	return out, nil
}

func (f *fakeEngine) Thumbnail(ctx context.Context, source, dest, at string) error {
	f.mu.Lock()
	f.thumbs++
	err := f.thumbErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return os.WriteFile(dest, []byte("jpg"), 0644)
}

func (f *fakeEngine) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeEngine) SetFail(label string, fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOn[label] = fail
}

func (f *fakeEngine) ClearFailures() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOn = map[string]bool{}
}

func (f *fakeEngine) SetDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

func (f *fakeEngine) Peak() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak
}

// localSources resolves only local files
type localSources struct{}

func (localSources) Stat(ctx context.Context, location string) error {
	return NewStorageResolver(nil, "").Stat(ctx, location)
}

func (localSources) Resolve(ctx context.Context, location, videoID string) (string, func(), error) {
	return location, func() {}, nil
}

type publishedEvent struct {
	Subject string
	Key     string
	Event   interface{}
}

// recordingPublisher keeps every published event
type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (r *recordingPublisher) Publish(ctx context.Context, subject, key string, event interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, publishedEvent{Subject: subject, Key: key, Event: event})
	return r.err
}

func (r *recordingPublisher) BySubject(subject string) []publishedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []publishedEvent
	for _, e := range r.events {
		if e.Subject == subject {
			out = append(out, e)
		}
	}
	return out
}

// MockCallback mock of CallbackNotifier
type MockCallback struct {
	mock.Mock
}

func (m *MockCallback) Notify(ctx context.Context, url string, payload domain.CallbackPayload) error {
	args := m.Called(ctx, url, payload)
	return args.Error(0)
}

// MockStatusRepo mock of repository.StatusRepo
type MockStatusRepo struct {
	mock.Mock
}

func (m *MockStatusRepo) Save(ctx context.Context, s domain.JobStatus) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

// MockMinIOClient mock of database.MinIOClientRepo
type MockMinIOClient struct {
	mock.Mock
}

func (m *MockMinIOClient) UploadFile(ctx context.Context, objectName, filePath, contentType string) error {
	args := m.Called(ctx, objectName, filePath, contentType)
	return args.Error(0)
}

func (m *MockMinIOClient) UploadDir(ctx context.Context, prefix, dir string) ([]string, error) {
	args := m.Called(ctx, prefix, dir)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockMinIOClient) DownloadFile(ctx context.Context, objectName, destPath string) error {
	args := m.Called(ctx, objectName, destPath)
	return args.Error(0)
}

func (m *MockMinIOClient) StatObject(ctx context.Context, objectName string) (minio.ObjectInfo, error) {
	args := m.Called(ctx, objectName)
	return args.Get(0).(minio.ObjectInfo), args.Error(1)
}

func (m *MockMinIOClient) PresignGetURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	args := m.Called(ctx, objectName, expiry)
	return args.Get(0).(string), args.Error(1)
}

// pipeline worker wired to an in-process broker
type pipeline struct {
	broker   *queue.MemoryBroker
	engine   *fakeEngine
	events   *recordingPublisher
	worker   *Worker
	opts     queue.SubscribeOptions
	inDir    string
	outRoot  string
	producer *Producer
}

func newPipeline(t *testing.T, deps WorkerDeps) *pipeline {
	t.Helper()
	p := &pipeline{
		broker:  queue.NewMemoryBroker(),
		engine:  &fakeEngine{failOn: map[string]bool{}},
		events:  &recordingPublisher{},
		inDir:   t.TempDir(),
		outRoot: t.TempDir(),
		opts: queue.SubscribeOptions{
			Subject:        domain.SubjectProcess,
			Consumer:       "transcode-workers",
			RedeliveryWait: 10 * time.Millisecond,
			MaxDeliveries:  3,
			AckWait:        time.Minute,
		},
	}
	t.Cleanup(func() { p.broker.Close() })

	if deps.Engine == nil {
		deps.Engine = p.engine
	}
	if deps.Sources == nil {
		deps.Sources = localSources{}
	}
	if deps.Events == nil {
		deps.Events = p.events
	}
	p.worker = NewWorker(deps, 2)
	p.producer = NewProducer(p.broker)
	require.NoError(t, p.broker.DeclareConsumer(context.Background(), p.opts.ConsumerConfig(queue.Retention{})))
	return p
}

// job with an existing source file
func (p *pipeline) job(t *testing.T, id string, qualities ...string) domain.Job {
	t.Helper()
	source := filepath.Join(p.inDir, id+".mp4")
	require.NoError(t, os.WriteFile(source, []byte("video "+id), 0644))
	return domain.Job{
		VideoID:    id,
		SourcePath: source,
		OutputPath: filepath.Join(p.outRoot, id),
		UserID:     "u1",
		Quality:    qualities,
	}
}

// handleNext pulls one delivery and runs the worker on it
func (p *pipeline) handleNext(t *testing.T, deliveries <-chan *queue.Delivery) Outcome {
	t.Helper()
	select {
	case d := <-deliveries:
		return p.worker.Handle(context.Background(), d)
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery")
		return Outcome{}
	}
}

func (p *pipeline) subscribe(t *testing.T) <-chan *queue.Delivery {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	deliveries, err := p.broker.Subscribe(ctx, p.opts)
	require.NoError(t, err)
	return deliveries
}
