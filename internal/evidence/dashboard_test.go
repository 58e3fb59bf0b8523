package evidence

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/rolewarden/internal/config"
)

func dashboardTarget(id, appID, kind string, minimum int64) config.Target {
	return config.Target{
		ID:           id,
		DisplayName:  "App " + id,
		RoleID:       "200000000000000002",
		Kind:         kind,
		MinimumCount: minimum,
		Address:      appID,
	}
}

func TestDashboardProvider(t *testing.T) {
	t.Run("derives count and eligibility per application", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/participants/"+testAddress, r.URL.Path)
			assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

			fmt.Fprint(w, `{
				"address": "`+testAddress+`",
				"applications": [
					{"id": "app-alpha", "entries": 4, "eligible": false},
					{"id": "app-beta", "entries": 0, "eligible": true}
				]
			}`)
		}))
		defer srv.Close()

		targets := []config.Target{
			dashboardTarget("quest-1", "app-alpha", config.TargetKindCount, 3),
			dashboardTarget("quest-2", "app-beta", config.TargetKindEligible, 0),
		}

		p := NewDashboardProvider(srv.URL, "test-key", testController(0), testLogger())

		results, err := p.FetchEvidenceBatch(context.Background(), testAddress, targets)
		require.NoError(t, err)
		require.Len(t, results, 2)

		assert.Equal(t, KindCount, results[0].Kind)
		assert.Equal(t, int64(4), results[0].Count)

		assert.Equal(t, KindEligible, results[1].Kind)
		assert.True(t, results[1].Eligible)
	})

	t.Run("entries imply eligibility", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"address":"`+testAddress+`","applications":[{"id":"app-alpha","entries":2,"eligible":false}]}`)
		}))
		defer srv.Close()

		p := NewDashboardProvider(srv.URL, "", testController(0), testLogger())

		results, err := p.FetchEvidenceBatch(context.Background(), testAddress,
			[]config.Target{dashboardTarget("quest-1", "app-alpha", config.TargetKindEligible, 0)})
		require.NoError(t, err)
		assert.True(t, results[0].Eligible)
	})

	t.Run("missing application is zero evidence", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"address":"`+testAddress+`","applications":[]}`)
		}))
		defer srv.Close()

		p := NewDashboardProvider(srv.URL, "", testController(0), testLogger())

		results, err := p.FetchEvidenceBatch(context.Background(), testAddress,
			[]config.Target{dashboardTarget("quest-1", "app-missing", config.TargetKindCount, 3)})
		require.NoError(t, err)
		assert.Equal(t, KindCount, results[0].Kind)
		assert.Equal(t, int64(0), results[0].Count)
	})

	t.Run("unknown participant is zero evidence not an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		p := NewDashboardProvider(srv.URL, "", testController(0), testLogger())

		results, err := p.FetchEvidenceBatch(context.Background(), testAddress,
			[]config.Target{dashboardTarget("quest-1", "app-alpha", config.TargetKindCount, 1)})
		require.NoError(t, err)
		assert.Equal(t, int64(0), results[0].Count)
	})

	t.Run("retries 502 then succeeds", func(t *testing.T) {
		attempts := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts++
			if attempts == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			fmt.Fprint(w, `{"address":"`+testAddress+`","applications":[]}`)
		}))
		defer srv.Close()

		p := NewDashboardProvider(srv.URL, "", testController(2), testLogger())

		_, err := p.FetchEvidenceBatch(context.Background(), testAddress,
			[]config.Target{dashboardTarget("quest-1", "app-alpha", config.TargetKindCount, 1)})
		require.NoError(t, err)
		assert.Equal(t, 2, attempts)
	})
}
