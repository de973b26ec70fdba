package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInitIdempotent(t *testing.T) {
	Init()
	Init()

	if crawlerPagesTotal == nil || crawlerRecordsTotal == nil || crawlerRunsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveCounters(t *testing.T) {
	Init()
	pagesBefore := testutil.ToFloat64(crawlerPagesTotal.WithLabelValues(PageConfirmed))
	recordsBefore := testutil.ToFloat64(crawlerRecordsTotal)
	challengesBefore := testutil.ToFloat64(crawlerChallengesTotal)

	ObservePage(PageConfirmed)
	ObserveRecords(30)
	ObserveRecords(0)
	ObserveChallenge()

	if got := testutil.ToFloat64(crawlerPagesTotal.WithLabelValues(PageConfirmed)) - pagesBefore; got != 1 {
		t.Errorf("expected 1 confirmed page, got %f", got)
	}
	if got := testutil.ToFloat64(crawlerRecordsTotal) - recordsBefore; got != 30 {
		t.Errorf("expected 30 records, got %f", got)
	}
	if got := testutil.ToFloat64(crawlerChallengesTotal) - challengesBefore; got != 1 {
		t.Errorf("expected 1 challenge, got %f", got)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	ObservePolitenessDelay(4 * time.Second)
	ObserveFetchDuration(time.Second)
	ObserveManualWait(30 * time.Second)
	ObserveRun("completed")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, name := range []string{
		"ershoufang_politeness_delay_seconds",
		"ershoufang_fetch_duration_seconds",
		"ershoufang_manual_resolution_seconds",
		"ershoufang_runs_total",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("expected %s in metrics output", name)
		}
	}
}

func TestMiddlewareLabelsRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/challenge/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	Init()
	counter := operatorRequestsTotal.WithLabelValues(http.MethodGet, "/v1/challenge/{id}", "409")
	before := testutil.ToFloat64(counter)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/challenge/abc", nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("expected 1 request for the route pattern, got %f", got)
	}
}
