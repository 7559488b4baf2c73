package assemble

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ib-77/sarascript/pkg/fetch"
	"github.com/ib-77/sarascript/pkg/rop"
	"github.com/ib-77/sarascript/pkg/rop/core"
	"github.com/ib-77/sarascript/pkg/script"
	"github.com/ib-77/sarascript/pkg/wip"
)

type stubResponse struct {
	body  string
	err   error
	delay time.Duration
}

type stubFetcher struct {
	mu        sync.Mutex
	responses map[string]stubResponse
	calls     atomic.Int32
}

func (f *stubFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	f.calls.Add(1)
	f.mu.Lock()
	resp, ok := f.responses[uri]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no stub for %s", uri)
	}
	if resp.delay > 0 {
		select {
		case <-time.After(resp.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if resp.err != nil {
		return nil, resp.err
	}
	return []byte(resp.body), nil
}

type fetcherFunc func(ctx context.Context, uri string) ([]byte, error)

func (f fetcherFunc) Fetch(ctx context.Context, uri string) ([]byte, error) {
	return f(ctx, uri)
}

func sarascript(body string) string {
	return `<script type="sarascript">` + body + `</script>`
}

func TestAssemble_SingleFetch(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{responses: map[string]stubResponse{"http://h/p": {body: "R"}}}
	out, err := New(f).Assemble(context.Background(),
		[]byte(`<p>A<!--s--><script type=sarascript>get("http://h/p")</script>B</p>`))

	require.NoError(t, err)
	assert.Equal(t, "<p>A<!--s-->RB</p>", string(out))
}

func TestAssemble_NoDirectivesIsIdentity(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{}
	src := []byte("<html>\n<body><p>get(\"/not-a-directive\")</p></body></html>\n")

	out, err := New(f).Assemble(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, src, out)
	assert.Equal(t, int32(0), f.calls.Load())
}

func TestAssemble_ParseErrorBeforeAnyFetch(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{responses: map[string]stubResponse{"/a": {body: "A"}}}
	src := `<script type="sarascript">get("/a")</script><script>get("/a")</script>`

	out, err := New(f).Assemble(context.Background(), []byte(src))
	assert.Nil(t, out)
	var perr *script.ParseError
	require.True(t, errors.As(err, &perr), "got %v", err)
	assert.Equal(t, int32(0), f.calls.Load())
}

func TestAssemble_ShrinkAndGrowInEitherOrder(t *testing.T) {
	t.Parallel()

	shrinkCall := `get("/shrink")`
	growCall := `get("/grow")`
	shrunk := strings.Repeat("s", len(shrinkCall)-3)
	grown := strings.Repeat("g", len(growCall)+50)
	src := "head " + sarascript(shrinkCall) + " middle " + sarascript(growCall) + " tail"
	want := "head " + shrunk + " middle " + grown + " tail"

	for _, delays := range [][2]time.Duration{
		{0, 40 * time.Millisecond},
		{40 * time.Millisecond, 0},
	} {
		f := &stubFetcher{responses: map[string]stubResponse{
			"/shrink": {body: shrunk, delay: delays[0]},
			"/grow":   {body: grown, delay: delays[1]},
		}}
		out, err := New(f).Assemble(context.Background(), []byte(src))
		require.NoError(t, err)
		assert.Equal(t, want, string(out), "delays %v", delays)
	}
}

func TestAssemble_FailureNextToSuccess(t *testing.T) {
	t.Parallel()

	unresolvable := &fetch.ResolutionError{Host: "nowhere", Err: errors.New("no such host")}
	f := &stubFetcher{responses: map[string]stubResponse{
		"http://nowhere/x": {err: unresolvable},
		"/ok":              {body: "fine", delay: 10 * time.Millisecond},
	}}
	src := "[" + sarascript(`get("http://nowhere/x")get("/ok")`) + "]"

	doc, err := New(f).AssembleDocument(context.Background(), []byte(src))
	require.NoError(t, err)

	wantDiag := string(Diagnostic(unresolvable))
	assert.Equal(t, "["+wantDiag+"fine]", string(doc.Contents))

	require.Len(t, doc.Results, 4)
	assert.True(t, doc.Results[0].IsSuccess())
	assert.True(t, doc.Results[1].IsFailure())
	assert.Equal(t, fetch.KindResolution, fetch.Kind(doc.Results[1].Err()))
	assert.True(t, doc.Results[2].IsSuccess())
	assert.Equal(t, "fine", string(doc.Results[2].Result()))
	assert.True(t, doc.Results[3].IsSuccess())
}

func TestAssemble_ManyConcurrentDirectives(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(7))
	responses := map[string]stubResponse{}
	var src, want strings.Builder
	for i := 0; i < 100; i++ {
		uri := fmt.Sprintf("/frag/%d", i)
		body := strings.Repeat(string(rune('a'+i%26)), rng.Intn(40))
		responses[uri] = stubResponse{body: body, delay: time.Duration(rng.Intn(15)) * time.Millisecond}

		fmt.Fprintf(&src, "<li>%d:", i)
		fmt.Fprintf(&want, "<li>%d:", i)
		if i%3 == 0 {
			src.WriteString(sarascript(fmt.Sprintf(" get(%q) ", uri)))
			want.WriteString(" " + body + " ")
		} else {
			src.WriteString(sarascript(fmt.Sprintf("get(%s)", uri)))
			want.WriteString(body)
		}
		src.WriteString("</li>\n")
		want.WriteString("</li>\n")
	}

	f := &stubFetcher{responses: responses}
	out, err := New(f).Assemble(context.Background(), []byte(src.String()))
	require.NoError(t, err)
	assert.Equal(t, want.String(), string(out))
	assert.Equal(t, int32(100), f.calls.Load())
}

func TestAssemble_FetchesOverlap(t *testing.T) {
	t.Parallel()

	const n = 5
	var inflight atomic.Int32
	release := make(chan struct{})
	f := fetcherFunc(func(ctx context.Context, uri string) ([]byte, error) {
		inflight.Add(1)
		<-release
		return []byte("x"), nil
	})

	var src strings.Builder
	for i := 0; i < n; i++ {
		src.WriteString(sarascript(fmt.Sprintf("get(/%d)", i)))
	}
	ops, err := script.Parse([]byte(src.String()))
	require.NoError(t, err)

	p := New(f).Dispatch(context.Background(), []byte(src.String()), ops)
	assert.Equal(t, Dispatched, p.State())
	require.Eventually(t, func() bool { return inflight.Load() == n }, 2*time.Second, 5*time.Millisecond)
	close(release)

	doc, err := p.Join(context.Background())
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("x", n), string(doc.Contents))
	assert.Equal(t, Done, p.State())
	assert.Equal(t, int64(0), p.Remaining())
}

func TestAssemble_WorkerLimit(t *testing.T) {
	t.Parallel()

	var inflight, peak atomic.Int32
	f := fetcherFunc(func(ctx context.Context, uri string) ([]byte, error) {
		cur := inflight.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inflight.Add(-1)
		return []byte(uri), nil
	})

	ctx := core.WithWorkerOptions(context.Background(), 1)
	out, err := New(f).Assemble(ctx, []byte(sarascript("get(/a) get(/b) get(/c)")))
	require.NoError(t, err)
	assert.Equal(t, "/a /b /c", string(out))
	assert.Equal(t, int32(1), peak.Load())
}

func TestAssemble_PanicIsJoinFailure(t *testing.T) {
	t.Parallel()

	f := fetcherFunc(func(ctx context.Context, uri string) ([]byte, error) {
		if uri == "/bad" {
			panic("fetcher exploded")
		}
		return []byte("ok"), nil
	})

	out, err := New(f).Assemble(context.Background(), []byte(sarascript("get(/good) get(/bad)")))
	assert.Nil(t, out)

	var jf *JoinFailure
	require.True(t, errors.As(err, &jf), "got %v", err)
	assert.Equal(t, 2, jf.Op)
	assert.Equal(t, script.Fetch, jf.Opcode)
	assert.Equal(t, "fetcher exploded", jf.Panic)
}

func TestAssemble_EveryFailureIsReported(t *testing.T) {
	t.Parallel()

	f := fetcherFunc(func(ctx context.Context, uri string) ([]byte, error) {
		if strings.HasPrefix(uri, "/bad") {
			panic(uri)
		}
		return []byte("ok"), nil
	})

	_, err := New(f).Assemble(context.Background(), []byte(sarascript("get(/bad1) get(/good) get(/bad2)")))
	require.Error(t, err)

	errs := rop.GetErrors(err)
	require.Len(t, errs, 2)
	var ops []int
	for _, e := range errs {
		var jf *JoinFailure
		require.True(t, errors.As(e, &jf), "got %v", e)
		ops = append(ops, jf.Op)
	}
	assert.Equal(t, []int{1, 3}, ops)
}

func TestNew_NilFetcherPanics(t *testing.T) {
	t.Parallel()

	var client *fetch.Client
	assert.Panics(t, func() { New(nil) })
	assert.Panics(t, func() { New(client) })
}

func TestAssembleDocument_CancelledContextStillJoins(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{responses: map[string]stubResponse{
		"/slow": {body: "late", delay: time.Minute},
		"/fast": {body: "now"},
	}}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	doc, err := New(f).AssembleDocument(ctx, []byte(sarascript("get(/fast) get(/slow)")))
	require.NoError(t, err)
	assert.Equal(t, "now "+string(Diagnostic(context.Canceled)), string(doc.Contents))
	assert.True(t, doc.Results[1].IsSuccess())
	assert.True(t, doc.Results[2].IsCancel())
}

func TestAssemble_LedgerErrorIsJoinFailure(t *testing.T) {
	t.Parallel()

	src := []byte("abcdef")
	ops := []script.Operation{
		{Opcode: script.RemoveMarker, Span: wip.Range{Start: 1, End: 2}},
		{Opcode: script.RemoveMarker, Span: wip.Range{Start: 1, End: 3}},
	}
	_, err := New(&stubFetcher{}).Dispatch(context.Background(), src, ops).Join(context.Background())

	var jf *JoinFailure
	require.True(t, errors.As(err, &jf), "got %v", err)
	assert.ErrorIs(t, err, wip.ErrDuplicateEdit)
}

func TestAssemble_JoinDeadline(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	defer close(release)
	f := fetcherFunc(func(ctx context.Context, uri string) ([]byte, error) {
		<-release
		return nil, nil
	})

	src := []byte(sarascript("get(/stuck)"))
	ops, err := script.Parse(src)
	require.NoError(t, err)
	p := New(f).Dispatch(context.Background(), src, ops)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	doc, err := p.Join(ctx)
	assert.Nil(t, doc)

	var jf *JoinFailure
	require.True(t, errors.As(err, &jf), "got %v", err)
	assert.Equal(t, -1, jf.Op)
	assert.Equal(t, int64(1), jf.Pending)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, Failed, p.State())
}

func TestAssemble_CancelledFetchesBecomeDiagnostics(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{responses: map[string]stubResponse{"/slow": {body: "late", delay: time.Minute}}}
	src := []byte(sarascript("get(/slow)"))
	ops, err := script.Parse(src)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	p := New(f).Dispatch(ctx, src, ops)
	cancel()

	doc, err := p.Join(context.Background())
	require.NoError(t, err)
	assert.Equal(t, string(Diagnostic(context.Canceled)), string(doc.Contents))
	assert.True(t, doc.Results[1].IsCancel())
}

func TestAssemble_EndToEndOverHTTP(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/nav":
			w.Write([]byte("<nav>menu</nav>"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := &fetch.Client{DefaultAuthority: strings.TrimPrefix(srv.URL, "http://")}
	src := "<body>" + sarascript(`get("/nav")`) + "<main/>" + sarascript(`get("/gone")`) + "</body>"

	doc, err := New(fetch.Coalesce(client)).AssembleDocument(context.Background(), []byte(src))
	require.NoError(t, err)

	out := string(doc.Contents)
	assert.True(t, strings.HasPrefix(out, "<body><nav>menu</nav><main/>Could not load resource: "), out)
	assert.True(t, strings.HasSuffix(out, "</body>"), out)
	assert.Equal(t, fetch.KindProtocol, fetch.Kind(doc.Results[4].Err()))
}
