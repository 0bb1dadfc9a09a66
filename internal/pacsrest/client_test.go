package pacsrest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(strings.TrimPrefix(srv.URL, "http://"), "HMD_IMPORTED")
}

func TestInstanceURL(t *testing.T) {
	t.Parallel()

	c := NewClient("192.168.1.70:8080", "HMD_IMPORTED")
	assert.Equal(t,
		"http://192.168.1.70:8080/dcm4chee-arc/aets/HMD_IMPORTED/rs/instances?SOPInstanceUID=1.2.3",
		c.InstanceURL("1.2.3"))
}

func TestLookupInstance_Found(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/dcm4chee-arc/aets/HMD_IMPORTED/rs/instances", r.URL.Path)
		assert.Equal(t, "1.2.3", r.URL.Query().Get("SOPInstanceUID"))

		w.Header().Set("Content-Type", "application/dicom+json")
		_, _ = w.Write([]byte(`[{"00100010":{"vr":"PN","Value":[{"Alphabetic":"DOE^JOHN"}]}}]`))
	})

	got := c.LookupInstance(context.Background(), "1.2.3")
	assert.True(t, got.Found)
	assert.Equal(t, "200", got.HTTPStatus)
	assert.Equal(t, "DOE^JOHN", got.Dataset.DicomText(TagPatientName))
}

func TestLookupInstance_EmptyListIsMiss(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})

	got := c.LookupInstance(context.Background(), "1.2.3")
	assert.False(t, got.Found)
	assert.Equal(t, "200", got.HTTPStatus)
}

func TestLookupInstance_EmptyBodyIsMiss(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	got := c.LookupInstance(context.Background(), "1.2.3")
	assert.False(t, got.Found)
}

func TestLookupInstance_HTTPError(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no such aet", http.StatusNotFound)
	})

	got := c.LookupInstance(context.Background(), "1.2.3")
	assert.False(t, got.Found)
	assert.Equal(t, "404", got.HTTPStatus)
	assert.NotEmpty(t, got.Detail)
}

func TestLookupInstance_TransportError(t *testing.T) {
	t.Parallel()

	// Closed server: connection refused.
	srv := httptest.NewServer(http.NotFoundHandler())
	host := strings.TrimPrefix(srv.URL, "http://")
	srv.Close()

	got := NewClient(host, "HMD_IMPORTED").LookupInstance(context.Background(), "1.2.3")
	assert.False(t, got.Found)
	assert.Equal(t, "ERR", got.HTTPStatus)
	assert.NotEmpty(t, got.Detail)
}

func TestDicomText_Shapes(t *testing.T) {
	t.Parallel()

	ds := Dataset{
		"00100010": map[string]any{"vr": "PN", "Value": []any{map[string]any{"Alphabetic": " DOE^JANE "}}},
		"00080050": map[string]any{"vr": "SH", "Value": []any{"ACC123"}},
		"00100040": map[string]any{"vr": "CS", "Value": []any{}},
		"0020000D": "not an element",
	}

	assert.Equal(t, "DOE^JANE", ds.DicomText("00100010"))
	assert.Equal(t, "ACC123", ds.DicomText("00080050"))
	assert.Empty(t, ds.DicomText("00100040"))
	assert.Empty(t, ds.DicomText("0020000D"))
	assert.Empty(t, ds.DicomText("00081030"))
}

func TestReportFields(t *testing.T) {
	t.Parallel()

	ds := Dataset{
		"00100010": map[string]any{"Value": []any{map[string]any{"Alphabetic": "DOE^JOHN"}}},
		"00100020": map[string]any{"Value": []any{"MRN-7"}},
		"0020000D": map[string]any{"Value": []any{"1.2.840.1.1"}},
	}

	fields := ds.ReportFields()
	require.Contains(t, fields, "nome_paciente")
	assert.Equal(t, "DOE^JOHN", fields["nome_paciente"])
	assert.Equal(t, "MRN-7", fields["prontuario"])
	assert.Equal(t, "1.2.840.1.1", fields["study_uid"])
	assert.Empty(t, fields["sexo"])
}
