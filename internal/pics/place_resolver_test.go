package pics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func newTestNominatim(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func testNominatimOptions(endpoint string) NominatimOptions {
	opts := DefaultNominatimOptions()
	opts.Endpoint = endpoint
	opts.MinInterval = 0
	opts.UserAgent = "sortdate-test"
	return opts
}

func TestNominatimResolver_Resolve(t *testing.T) {
	server, calls := newTestNominatim(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/reverse" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if q.Get("lat") != "41.890242" || q.Get("lon") != "12.492258" {
			t.Errorf("coordinates = %s, %s", q.Get("lat"), q.Get("lon"))
		}
		if q.Get("format") != "jsonv2" || q.Get("accept-language") != "en" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if ua := r.Header.Get("User-Agent"); ua != "sortdate-test" {
			t.Errorf("User-Agent = %q", ua)
		}
		w.Write([]byte(`{"address": {"city": "Rome", "country": "Italy"}}`))
	})

	resolver := NewNominatimResolver(server.Client(), testNominatimOptions(server.URL))
	coord := GeoCoordinate{Latitude: 41.890242, Longitude: 12.492258}

	for i := 0; i < 3; i++ {
		if place := resolver.Resolve(context.Background(), coord); place != "Rome" {
			t.Errorf("Resolve() = %q, want Rome", place)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("service called %d times, want 1 (cached)", calls.Load())
	}
}

func TestNominatimResolver_NoCity(t *testing.T) {
	server, _ := newTestNominatim(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"address": {"village": "Colle", "country": "Italy"}}`))
	})

	resolver := NewNominatimResolver(server.Client(), testNominatimOptions(server.URL))
	if place := resolver.Resolve(context.Background(), GeoCoordinate{Latitude: 1, Longitude: 2}); place != "" {
		t.Errorf("Resolve() = %q, want empty", place)
	}
}

func TestNominatimResolver_AddressFields(t *testing.T) {
	server, _ := newTestNominatim(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"address": {"village": "Colle/Alto", "county": "Rieti"}}`))
	})

	opts := testNominatimOptions(server.URL)
	opts.AddressFields = []string{"city", "town", "village", "county"}
	resolver := NewNominatimResolver(server.Client(), opts)
	if place := resolver.Resolve(context.Background(), GeoCoordinate{Latitude: 1, Longitude: 2}); place != "Colle-Alto" {
		t.Errorf("Resolve() = %q, want Colle-Alto", place)
	}
}

func TestNominatimResolver_Failures(t *testing.T) {
	tests := map[string]http.HandlerFunc{
		"server error": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		},
		"service error": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"error": "Unable to geocode"}`))
		},
		"malformed body": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`<html>`))
		},
	}

	for name, handler := range tests {
		t.Run(name, func(t *testing.T) {
			server, calls := newTestNominatim(t, handler)
			resolver := NewNominatimResolver(server.Client(), testNominatimOptions(server.URL))
			coord := GeoCoordinate{Latitude: 1, Longitude: 2}

			if place := resolver.Resolve(context.Background(), coord); place != "" {
				t.Errorf("Resolve() = %q, want empty", place)
			}
			// Failures are not cached.
			resolver.Resolve(context.Background(), coord)
			if calls.Load() != 2 {
				t.Errorf("service called %d times, want 2", calls.Load())
			}
		})
	}
}

func TestNominatimResolver_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	endpoint := server.URL
	server.Close()

	resolver := NewNominatimResolver(nil, testNominatimOptions(endpoint))
	if place := resolver.Resolve(context.Background(), GeoCoordinate{Latitude: 1, Longitude: 2}); place != "" {
		t.Errorf("Resolve() = %q, want empty", place)
	}
}

func TestNoPlaceResolver(t *testing.T) {
	if place := NewNoPlaceResolver().Resolve(context.Background(), GeoCoordinate{Latitude: 1, Longitude: 2}); place != "" {
		t.Errorf("Resolve() = %q, want empty", place)
	}
}

func TestSanitisePlace(t *testing.T) {
	tests := map[string]string{
		"Rome":       "Rome",
		"  Rome ":    "Rome",
		"Rome/Lazio": "Rome-Lazio",
		`Rome\Lazio`: "Rome-Lazio",
		"":           "",
		"São Paulo":  "São Paulo",
	}
	for in, want := range tests {
		if got := sanitisePlace(in); got != want {
			t.Errorf("sanitisePlace(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewNominatimResolver_DefaultTimeout(t *testing.T) {
	opts := testNominatimOptions("http://localhost")
	opts.Timeout = 0

	r := NewNominatimResolver(nil, opts).(*nominatimResolver)
	want := DefaultNominatimOptions().Timeout
	if r.opts.Timeout != want {
		t.Errorf("request timeout = %v, want %v", r.opts.Timeout, want)
	}
	if r.client.Timeout != want {
		t.Errorf("client timeout = %v, want %v", r.client.Timeout, want)
	}
}
